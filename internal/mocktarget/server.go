package mocktarget

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/webhook-dispatcher/internal/signer"
	"go.uber.org/zap"
)

var _ TokenVerifier = (*Verifier)(nil)

// TokenVerifier validates the Authorization header of an incoming delivery.
type TokenVerifier interface {
	Verify(ctx context.Context, authorization string) (*signer.Claims, error)
}

// Stats counts deliveries seen by the mock target.
type Stats struct {
	Total     int64 `json:"total_requests"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

type Server struct {
	verifier  TokenVerifier
	slowDelay time.Duration
	logger    *zap.Logger

	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// NewServer builds the mock receiver. A nil verifier accepts unsigned requests.
func NewServer(verifier TokenVerifier, slowDelay time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{verifier: verifier, slowDelay: slowDelay, logger: logger}
}

func (s *Server) Register(app *fiber.App) {
	app.Post("/webhook/success", s.deliver(fiber.StatusOK))
	app.Post("/webhook/fail", s.deliver(fiber.StatusInternalServerError))
	app.Post("/webhook/slow", s.slow, s.deliver(fiber.StatusOK))
	app.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(s.Stats())
	})
}

func (s *Server) Stats() Stats {
	return Stats{
		Total:     s.total.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Rejected:  s.rejected.Load(),
	}
}

func (s *Server) slow(c *fiber.Ctx) error {
	select {
	case <-time.After(s.slowDelay):
	case <-c.UserContext().Done():
		return nil
	}
	return c.Next()
}

func (s *Server) deliver(status int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		count := s.total.Add(1)

		webhookID := ""
		if s.verifier != nil {
			claims, err := s.verifier.Verify(c.UserContext(), c.Get(fiber.HeaderAuthorization))
			if err != nil {
				s.rejected.Add(1)
				s.logger.Warn("rejected delivery",
					zap.Int64("request", count),
					zap.String("path", c.Path()),
					zap.Error(err),
				)
				if errors.Is(err, ErrUnauthorized) {
					return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
				}
				return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "token verification unavailable"})
			}
			webhookID = claims.WebhookID
		}

		if status >= fiber.StatusBadRequest {
			s.failed.Add(1)
		} else {
			s.succeeded.Add(1)
		}

		s.logger.Info("delivery received",
			zap.Int64("request", count),
			zap.String("path", c.Path()),
			zap.String("webhookId", webhookID),
			zap.Int("bytes", len(c.Body())),
			zap.Int("status", status),
		)

		if status >= fiber.StatusBadRequest {
			return c.Status(status).JSON(fiber.Map{"error": "internal server error"})
		}
		return c.Status(status).JSON(fiber.Map{"status": "received"})
	}
}
