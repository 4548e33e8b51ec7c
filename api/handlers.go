package api

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/mrsingh-rishi/voice-analysis/model"
)

const defaultListLimit = 50

type commandRequest struct {
	Text    string `json:"text"`
	Context string `json:"context"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

type profileRequest struct {
	Style string `json:"style"`
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

func (s *Server) processCommand(c *fiber.Ctx) error {
	var req commandRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON")
	}
	res, err := s.svc.ProcessCommand(c.UserContext(), principal(c), req.Text, req.Context)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// speakReply returns the synthesized reply as the body. The interpreted
// command and its confidence travel in headers.
func (s *Server) speakReply(c *fiber.Ctx) error {
	var req commandRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON")
	}
	reply, err := s.svc.SpeakReply(c.UserContext(), principal(c), req.Text, req.Context)
	if err != nil {
		return err
	}
	c.Set("X-Command-Confidence", strconv.FormatFloat(reply.Result.Confidence, 'f', 4, 64))
	c.Set(fiber.HeaderContentType, reply.MimeType)
	return c.Send(reply.Audio)
}

func (s *Server) analyzeReading(c *fiber.Ctx) error {
	buf, err := s.upload(c)
	if err != nil {
		return err
	}
	analysis, err := s.svc.AnalyzeReading(c.UserContext(), principal(c), buf)
	if err != nil {
		return err
	}
	return c.JSON(analysis)
}

func (s *Server) transcribe(c *fiber.Ctx) error {
	buf, err := s.upload(c)
	if err != nil {
		return err
	}
	text, err := s.svc.Transcribe(c.UserContext(), principal(c), buf)
	if err != nil {
		return err
	}
	return c.JSON(transcriptionResponse{Text: text})
}

func (s *Server) listRecords(c *fiber.Ctx) error {
	records, err := s.accounts.ListRecords(c.UserContext(), principal(c).UserID, limit(c))
	if err != nil {
		return err
	}
	return c.JSON(records)
}

func (s *Server) listAlerts(c *fiber.Ctx) error {
	alerts, err := s.accounts.ListAlerts(c.UserContext(), principal(c).UserID, limit(c))
	if err != nil {
		return err
	}
	return c.JSON(alerts)
}

func (s *Server) saveProfile(c *fiber.Ctx) error {
	var req profileRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Style) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "style is required")
	}
	profile := model.LearningProfile{UserID: principal(c).UserID, Style: strings.TrimSpace(req.Style)}
	if err := s.accounts.SaveLearningProfile(c.UserContext(), profile); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) saveGuardianPhone(c *fiber.Ctx) error {
	var req phoneRequest
	if err := c.BodyParser(&req); err != nil || !strings.HasPrefix(req.Phone, "+") {
		return fiber.NewError(fiber.StatusBadRequest, "phone must be in E.164 format")
	}
	if err := s.accounts.SaveGuardianPhone(c.UserContext(), principal(c).UserID, req.Phone); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// upload reads the "audio" multipart file.
func (s *Server) upload(c *fiber.Ctx) (model.AudioBuffer, error) {
	fh, err := c.FormFile("audio")
	if err != nil {
		return model.AudioBuffer{}, fiber.NewError(fiber.StatusBadRequest, "audio file is required")
	}
	if fh.Size > int64(s.cfg.MaxUploadBytes) {
		return model.AudioBuffer{}, fiber.NewError(fiber.StatusRequestEntityTooLarge, "audio file too large")
	}
	f, err := fh.Open()
	if err != nil {
		return model.AudioBuffer{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return model.AudioBuffer{}, fmt.Errorf("read upload: %w", err)
	}
	return model.AudioBuffer{
		Data:     data,
		MimeType: fh.Header.Get(fiber.HeaderContentType),
		Filename: fh.Filename,
	}, nil
}

func limit(c *fiber.Ctx) int {
	n := c.QueryInt("limit", defaultListLimit)
	if n <= 0 || n > 500 {
		return defaultListLimit
	}
	return n
}
