package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type agentRequest struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	AgentID    string    `json:"agent_id"`
}

func (h *HandlerSet) agentHeartbeat(ctx *fiber.Ctx) error {
	var req agentRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.AgentID == "" || req.CampaignID == uuid.Nil {
		return fiber.NewError(http.StatusBadRequest, "campaign_id and agent_id are required")
	}

	presence := h.container.Repositories().Presence
	if err := presence.Heartbeat(ctx.Context(), req.CampaignID, req.AgentID, time.Now().UTC()); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) agentBusy(ctx *fiber.Ctx) error {
	var req agentRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.AgentID == "" || req.CampaignID == uuid.Nil {
		return fiber.NewError(http.StatusBadRequest, "campaign_id and agent_id are required")
	}

	presence := h.container.Repositories().Presence
	if err := presence.MarkBusy(ctx.Context(), req.CampaignID, req.AgentID); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) availableAgents(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	presence := h.container.Repositories().Presence
	count, err := presence.AvailableCount(ctx.Context(), id, time.Now().UTC())
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"available_agents": count})
}
