package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/domain"
	dialersvc "github.com/acme/predictive-dialer/internal/service/dialer"
)

type startDialerRequest struct {
	CampaignID           uuid.UUID `json:"campaign_id"`
	DialMethod           string    `json:"dial_method"`
	DialSpeed            float64   `json:"dial_speed"`
	MaxConcurrentCalls   int       `json:"max_concurrent_calls"`
	AbandonRateThreshold float64   `json:"abandon_rate_threshold"`
	PacingMultiplier     float64   `json:"pacing_multiplier"`
	RetryDelay           string    `json:"retry_delay"`
}

type dialerConfigResponse struct {
	CampaignID           uuid.UUID `json:"campaign_id"`
	DialMethod           string    `json:"dial_method"`
	DialSpeed            float64   `json:"dial_speed"`
	MaxConcurrentCalls   int       `json:"max_concurrent_calls"`
	AbandonRateThreshold float64   `json:"abandon_rate_threshold"`
	PacingMultiplier     float64   `json:"pacing_multiplier"`
	IsActive             bool      `json:"is_active"`
	RetryDelay           string    `json:"retry_delay"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type metricsResponse struct {
	AvailableAgents int     `json:"available_agents"`
	ActiveCalls     int     `json:"active_calls"`
	AverageCallTime float64 `json:"average_call_time"`
	ConnectionRate  float64 `json:"connection_rate"`
	AbandonRate     float64 `json:"abandon_rate"`
}

type dialerStatusResponse struct {
	Config            dialerConfigResponse  `json:"config"`
	Metrics           metricsResponse       `json:"metrics"`
	Queue             campaignStatsResponse `json:"queue"`
	Multiplier        float64               `json:"pacing_multiplier"`
	CurrentPacing     float64               `json:"current_pacing"`
	CallsNextTick     int                   `json:"calls_next_tick"`
	EstimatedWaitTime float64               `json:"estimated_wait_time"`
}

func (h *HandlerSet) startDialer(ctx *fiber.Ctx) error {
	var req startDialerRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := dialersvc.StartInput{
		CampaignID:           req.CampaignID,
		DialMethod:           domain.DialMethod(req.DialMethod),
		DialSpeed:            req.DialSpeed,
		MaxConcurrentCalls:   req.MaxConcurrentCalls,
		AbandonRateThreshold: req.AbandonRateThreshold,
		PacingMultiplier:     req.PacingMultiplier,
	}
	if req.RetryDelay != "" {
		d, err := time.ParseDuration(req.RetryDelay)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid retry_delay")
		}
		input.RetryDelay = d
	}

	cfg, err := h.dialer.Start(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toDialerConfigResponse(cfg))
}

func (h *HandlerSet) stopDialer(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("campaignID"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	if err := h.dialer.Stop(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) dialerStatus(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("campaignID"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	status, err := h.dialer.Status(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(dialerStatusResponse{
		Config:            toDialerConfigResponse(status.Config),
		Metrics:           toMetricsResponse(status.Metrics),
		Queue:             toCampaignStatsResponse(status.Queue),
		Multiplier:        status.Multiplier,
		CurrentPacing:     status.CurrentPacing,
		CallsNextTick:     status.CallsNextTick,
		EstimatedWaitTime: status.EstimatedWaitTime,
	})
}

type updateMetricsRequest struct {
	AvailableAgents *int     `json:"available_agents"`
	ActiveCalls     *int     `json:"active_calls"`
	AverageCallTime *float64 `json:"average_call_time"`
	ConnectionRate  *float64 `json:"connection_rate"`
	AbandonRate     *float64 `json:"abandon_rate"`
}

func (h *HandlerSet) updateMetrics(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("campaignID"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req updateMetricsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	metrics, err := h.dialer.UpdateMetrics(ctx.Context(), id, domain.MetricsSample{
		AvailableAgents: req.AvailableAgents,
		ActiveCalls:     req.ActiveCalls,
		AverageCallTime: req.AverageCallTime,
		ConnectionRate:  req.ConnectionRate,
		AbandonRate:     req.AbandonRate,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toMetricsResponse(metrics))
}

func toDialerConfigResponse(cfg *domain.DialerConfig) dialerConfigResponse {
	return dialerConfigResponse{
		CampaignID:           cfg.CampaignID,
		DialMethod:           string(cfg.DialMethod),
		DialSpeed:            cfg.DialSpeed,
		MaxConcurrentCalls:   cfg.MaxConcurrentCalls,
		AbandonRateThreshold: cfg.AbandonRateThreshold,
		PacingMultiplier:     cfg.PacingMultiplier,
		IsActive:             cfg.IsActive,
		RetryDelay:           cfg.RetryDelay.String(),
		CreatedAt:            cfg.CreatedAt,
		UpdatedAt:            cfg.UpdatedAt,
	}
}

func toMetricsResponse(m domain.DialerMetrics) metricsResponse {
	return metricsResponse{
		AvailableAgents: m.AvailableAgents,
		ActiveCalls:     m.ActiveCalls,
		AverageCallTime: m.AverageCallTime,
		ConnectionRate:  m.ConnectionRate,
		AbandonRate:     m.AbandonRate,
	}
}
