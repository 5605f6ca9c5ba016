package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"github.com/kursadbilgin/webhook-dispatcher/internal/observability"
)

type WebhookService interface {
	Create(ctx context.Context, input domain.CreateWebhookInput) (*domain.DispatcherState, error)
	Get(ctx context.Context, id string) (*domain.DispatcherState, error)
}

type WebhookHandler struct {
	service   WebhookService
	telemetry *observability.Telemetry
}

func NewWebhookHandler(service WebhookService, telemetry *observability.Telemetry) (*WebhookHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("webhook service is required")
	}
	return &WebhookHandler{service: service, telemetry: telemetry}, nil
}

func RegisterWebhookRoutes(router fiber.Router, service WebhookService, telemetry *observability.Telemetry) error {
	h, err := NewWebhookHandler(service, telemetry)
	if err != nil {
		return err
	}

	api := router.Group("/api")
	api.Post("/webhooks", h.CreateWebhook)
	api.Get("/webhooks/:id", h.GetWebhook)

	return nil
}

// RegisterFallback answers every unmatched route. It must be registered last.
func RegisterFallback(app *fiber.App) {
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "not found",
		})
	})
}

type createWebhookRequest struct {
	ID      string `json:"id"`
	Target  string `json:"target"`
	Payload string `json:"payload"`
}

func (h *WebhookHandler) CreateWebhook(c *fiber.Ctx) error {
	record := h.newRecord(c)
	defer func() { h.telemetry.Send(*record) }()

	var req createWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(record, fiber.NewError(fiber.StatusBadRequest, "invalid request body"))
	}
	record.WebhookID = req.ID

	input := domain.CreateWebhookInput{
		ID:      req.ID,
		Target:  req.Target,
		Payload: req.Payload,
	}
	if err := input.Validate(); err != nil {
		return h.fail(record, toHTTPError(err))
	}

	state, err := h.service.Create(requestContext(c), input)
	if err != nil {
		return h.fail(record, toHTTPError(err))
	}

	record.Status = fiber.StatusOK
	return c.Status(fiber.StatusOK).JSON(state)
}

func (h *WebhookHandler) GetWebhook(c *fiber.Ctx) error {
	record := h.newRecord(c)
	defer func() { h.telemetry.Send(*record) }()

	id := c.Params("id")
	record.WebhookID = id
	if err := domain.ValidateIdentity(id); err != nil {
		return h.fail(record, toHTTPError(err))
	}

	state, err := h.service.Get(requestContext(c), id)
	if err != nil {
		return h.fail(record, toHTTPError(err))
	}

	record.Status = fiber.StatusOK
	return c.Status(fiber.StatusOK).JSON(state)
}

// requestContext carries the id assigned by the requestid middleware, when present.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if id := c.GetRespHeader(fiber.HeaderXRequestID); id != "" {
		ctx = observability.WithRequestID(ctx, id)
	}
	return ctx
}

func (h *WebhookHandler) newRecord(c *fiber.Ctx) *observability.TelemetryRecord {
	return &observability.TelemetryRecord{
		Method: c.Method(),
		Event:  observability.EventFetch,
		Path:   c.Path(),
	}
}

func (h *WebhookHandler) fail(record *observability.TelemetryRecord, err error) error {
	record.Status = fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		record.Status = fiberErr.Code
	}
	return err
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "not found")
	default:
		return err
	}
}
