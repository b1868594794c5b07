// Package server exposes the running pipeline over a small local HTTP API:
// status, a JPEG snapshot of the output, and framing controls.
package server

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"time"

	"github.com/andresmejia3/centerstage/internal/framing"
	"github.com/andresmejia3/centerstage/internal/logging"
	"github.com/andresmejia3/centerstage/internal/pipeline"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

// Backend is the part of the pipeline the API talks to.
type Backend interface {
	Status() pipeline.Status
	LastOutput() *image.RGBA
	Control(c pipeline.Control) bool
}

type Server struct {
	app       *fiber.App
	backend   Backend
	validator *validator.Validate
	log       *logrus.Entry
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type modeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=single all closest"`
}

type smoothingRequest struct {
	Smoothing float64 `json:"smoothing" validate:"gte=0.01,lte=0.5"`
}

type zoomRequest struct {
	Min float64 `json:"min" validate:"gte=1"`
	Max float64 `json:"max" validate:"gtefield=Min"`
}

func New(b Backend) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "centerstage",
		BodyLimit:             64 * 1024,
		StrictRouting:         true,
		CaseSensitive:         true,
		DisableStartupMessage: true,
		JSONEncoder:           jsoniter.Marshal,
		JSONDecoder:           jsoniter.Unmarshal,
		ErrorHandler:          errorHandler,
	})
	s := &Server{
		app:       app,
		backend:   b,
		validator: validator.New(),
		log:       logging.For("server"),
	}
	app.Use(s.requestLogger)
	s.Start(app)
	return s
}

// Start registers the routes on srv.
func (s *Server) Start(srv fiber.Router) {
	srv.Get("/status", s.GetStatus)
	srv.Get("/snapshot.jpg", s.GetSnapshot)

	ctl := srv.Group("/framing")
	ctl.Post("/enabled", s.SetEnabled)
	ctl.Post("/mode", s.SetMode)
	ctl.Post("/smoothing", s.SetSmoothing)
	ctl.Post("/zoom", s.SetZoom)
}

func (s *Server) App() *fiber.App { return s.app }

// Listen blocks until Shutdown is called or the listener fails.
func (s *Server) Listen(addr string) error {
	s.log.WithField("addr", addr).Info("Status server listening")
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(2 * time.Second)
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.log.WithFields(logging.Fields{
		"method":     c.Method(),
		"path":       c.Path(),
		"status":     c.Response().StatusCode(),
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("HTTP request")
	return err
}

func (s *Server) GetStatus(c *fiber.Ctx) error {
	return c.JSON(s.backend.Status())
}

func (s *Server) GetSnapshot(c *fiber.Ctx) error {
	img := s.backend.LastOutput()
	if img == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "no frame rendered yet")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		s.log.WithError(err).Error("Snapshot encode failed")
		return fiber.NewError(fiber.StatusInternalServerError, "encode failed")
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(buf.Bytes())
}

func (s *Server) SetEnabled(c *fiber.Ctx) error {
	var req enabledRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	return s.apply(c, pipeline.SetEnabled(*req.Enabled), fiber.Map{"enabled": *req.Enabled})
}

func (s *Server) SetMode(c *fiber.Ctx) error {
	var req modeRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	mode, err := framing.ParseMode(req.Mode)
	if err != nil {
		return badRequest(err.Error())
	}
	return s.apply(c, pipeline.SetMode(mode), fiber.Map{"mode": mode})
}

func (s *Server) SetSmoothing(c *fiber.Ctx) error {
	var req smoothingRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	return s.apply(c, pipeline.SetSmoothing(req.Smoothing), fiber.Map{"smoothing": req.Smoothing})
}

func (s *Server) SetZoom(c *fiber.Ctx) error {
	var req zoomRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	return s.apply(c, pipeline.SetZoomRange(req.Min, req.Max), fiber.Map{"min": req.Min, "max": req.Max})
}

// bind parses and validates the JSON body.
func (s *Server) bind(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return badRequest("invalid body")
	}
	if err := s.validator.Struct(v); err != nil {
		return badRequest(err.Error())
	}
	return nil
}

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) apply(c *fiber.Ctx, ctl pipeline.Control, body fiber.Map) error {
	if !s.backend.Control(ctl) {
		return fiber.NewError(fiber.StatusTooManyRequests, "control queue full")
	}
	s.log.WithFields(logging.Fields(body)).Info("Framing control queued")
	return c.Status(fiber.StatusAccepted).JSON(body)
}
