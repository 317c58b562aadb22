package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/predictive-dialer/internal/app"
	coordsvc "github.com/acme/predictive-dialer/internal/service/coordinator"
	dialersvc "github.com/acme/predictive-dialer/internal/service/dialer"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container   *app.Container
	dialer      *dialersvc.Service
	coordinator *coordsvc.Service
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	services := container.Services()
	return &HandlerSet{
		container:   container,
		dialer:      services.Dialer,
		coordinator: services.Coordinator,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	dialer := v1.Group("/dialer")
	dialer.Post("/start", h.startDialer)
	dialer.Post("/:campaignID/stop", h.stopDialer)
	dialer.Get("/:campaignID/status", h.dialerStatus)
	dialer.Post("/:campaignID/metrics", h.updateMetrics)

	campaigns := v1.Group("/campaigns")
	campaigns.Post("/:id/queue/generate", h.generateQueue)
	campaigns.Post("/:id/queue/next", h.nextContact)
	campaigns.Get("/:id/stats", h.campaignStats)
	campaigns.Get("/:id/attempts", h.listAttempts)
	campaigns.Post("/:id/contacts", h.importContacts)
	campaigns.Get("/:id/agents/available", h.availableAgents)

	queue := v1.Group("/queue")
	queue.Post("/:queueID/outcome", h.recordOutcome)

	agents := v1.Group("/agents")
	agents.Post("/heartbeat", h.agentHeartbeat)
	agents.Post("/busy", h.agentBusy)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
		errs["redis"] = err.Error()
	}

	if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
		errs["scylla"] = err.Error()
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
