package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/mrsingh-rishi/voice-analysis/model"
	"github.com/mrsingh-rishi/voice-analysis/voice"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps pipeline errors to a status and a public message. Flagged
// content always gets the same body so nothing about it leaks.
func statusFor(err error) (int, string) {
	var (
		fe          *fiber.Error
		unsupported *model.UnsupportedFormatError
		transcribe  *model.TranscriptionServiceError
		violation   *model.ContentPolicyViolation
	)
	switch {
	case errors.As(err, &violation):
		return fiber.StatusUnprocessableEntity, "content_policy_violation"
	case errors.As(err, &unsupported):
		return fiber.StatusUnsupportedMediaType, "unsupported audio format"
	case errors.As(err, &transcribe):
		return fiber.StatusBadGateway, "failed to transcribe"
	case errors.Is(err, model.ErrInsufficientData):
		return fiber.StatusUnprocessableEntity, "insufficient data"
	case errors.Is(err, model.ErrEmptyCompletion):
		return fiber.StatusBadGateway, "completion service returned no content"
	case errors.Is(err, voice.ErrEmptyText):
		return fiber.StatusBadRequest, "text is required"
	case errors.Is(err, voice.ErrSpeechUnavailable):
		return fiber.StatusNotImplemented, "speech synthesis is not configured"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "upstream timeout"
	case errors.As(err, &fe):
		return fe.Code, fe.Message
	default:
		return fiber.StatusInternalServerError, "internal error"
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status, msg := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Errorw("request failed",
			"requestID", model.RequestID(c.UserContext()),
			"path", c.Path(),
			"status", status,
			"error", err,
		)
	}
	return c.Status(status).JSON(errorResponse{Error: msg})
}
