// Package api exposes the voice-analysis pipeline over HTTP and websockets.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-analysis/call"
	"github.com/mrsingh-rishi/voice-analysis/model"
	"github.com/mrsingh-rishi/voice-analysis/voice"
)

// VoiceService is the pipeline surface the handlers call. *voice.Service
// satisfies it.
type VoiceService interface {
	ProcessCommand(ctx context.Context, p model.Principal, text, promptContext string) (model.VoiceCommandResult, error)
	SpeakReply(ctx context.Context, p model.Principal, text, promptContext string) (voice.Reply, error)
	AnalyzeReading(ctx context.Context, p model.Principal, buf model.AudioBuffer) (model.ReadingAnalysis, error)
	Transcribe(ctx context.Context, p model.Principal, buf model.AudioBuffer) (string, error)
}

// Accounts serves history and account settings. *store.SQLiteStore
// satisfies it.
type Accounts interface {
	ListRecords(ctx context.Context, userID string, limit int) ([]model.Record, error)
	ListAlerts(ctx context.Context, parentID string, limit int) ([]model.GuardianAlert, error)
	SaveLearningProfile(ctx context.Context, profile model.LearningProfile) error
	SaveGuardianPhone(ctx context.Context, parentID, phone string) error
}

// Config configures the HTTP server.
type Config struct {
	Address        string
	JWTSecret      string
	ReadTimeout    time.Duration
	MaxUploadBytes int
}

func DefaultConfig() Config {
	return Config{
		Address:        ":3000",
		ReadTimeout:    30 * time.Second,
		MaxUploadBytes: call.DefaultMaxBytes,
	}
}

// Server owns the fiber app.
type Server struct {
	app      *fiber.App
	svc      VoiceService
	accounts Accounts
	auth     *Authenticator
	cfg      Config
	logger   *zap.SugaredLogger

	// streams derive from base so Shutdown can cancel them
	base   context.Context
	cancel context.CancelFunc
}

// NewServer builds the app and registers every route. gatherer backs
// /metrics; nil uses the default registry.
func NewServer(svc VoiceService, accounts Accounts, cfg Config, logger *zap.SugaredLogger, gatherer prometheus.Gatherer) (*Server, error) {
	auth, err := NewAuthenticator(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{svc: svc, accounts: accounts, auth: auth, cfg: cfg, logger: logger}
	s.base, s.cancel = context.WithCancel(context.Background())
	s.app = fiber.New(fiber.Config{
		AppName:               "voice-analysis",
		BodyLimit:             cfg.MaxUploadBytes + 1<<20, // multipart framing
		ReadTimeout:           cfg.ReadTimeout,
		ErrorHandler:          s.handleError,
		DisableStartupMessage: true,
	})

	s.app.Use(s.requestID)
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := s.app.Group("/v1", auth.middleware)
	v1.Post("/commands", s.processCommand)
	v1.Post("/replies", s.speakReply)
	v1.Post("/readings", s.analyzeReading)
	v1.Post("/transcriptions", s.transcribe)
	v1.Get("/records", s.listRecords)
	v1.Put("/profile", s.saveProfile)
	v1.Get("/alerts", s.requireGuardian, s.listAlerts)
	v1.Put("/guardian/phone", s.requireGuardian, s.saveGuardianPhone)

	// Middleware to require WebSocket upgrade on the stream route
	v1.Use("/readings/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/readings/stream", websocket.New(s.stream))

	return s, nil
}

// App exposes the fiber app, mostly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen() error {
	s.logger.Infow("http server listening", "address", s.cfg.Address)
	return s.app.Listen(s.cfg.Address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	defer s.cancel()
	return s.app.ShutdownWithContext(ctx)
}

// requestID tags the request context and response with a request ID and
// logs the request once it completes.
func (s *Server) requestID(c *fiber.Ctx) error {
	id := c.Get(fiber.HeaderXRequestID)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(fiber.HeaderXRequestID, id)
	c.SetUserContext(model.WithRequestID(c.UserContext(), id))
	c.Locals("requestID", id)

	started := time.Now()
	err := c.Next()
	if err != nil {
		// run the error handler now so the logged status is final
		if herr := s.handleError(c, err); herr != nil {
			return herr
		}
	}
	s.logger.Infow("request completed",
		"requestID", id,
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"elapsed", time.Since(started),
	)
	return nil
}

func (s *Server) requireGuardian(c *fiber.Ctx) error {
	switch principal(c).Role {
	case model.RoleGuardian, model.RoleAdmin:
		return c.Next()
	}
	return fiber.NewError(fiber.StatusForbidden, "guardian role required")
}

// stream runs a buffered upload session over the websocket. The session
// cancels its analysis when the socket closes; HTTP handlers get no such
// signal because fasthttp never cancels the request context.
func (s *Server) stream(ws *websocket.Conn) {
	defer ws.Close()

	p, _ := ws.Locals(principalKey).(model.Principal)
	ctx, cancel := context.WithCancel(s.base)
	defer cancel()
	if id, ok := ws.Locals("requestID").(string); ok {
		ctx = model.WithRequestID(ctx, id)
	}
	call.NewSession(ws, p, s.svc, s.cfg.MaxUploadBytes, s.logger).Run(ctx)
}
