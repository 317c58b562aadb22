package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/domain"
	coordsvc "github.com/acme/predictive-dialer/internal/service/coordinator"
	apperrors "github.com/acme/predictive-dialer/pkg/errors"
)

type queueEntryResponse struct {
	ID              uuid.UUID  `json:"id"`
	CampaignID      uuid.UUID  `json:"campaign_id"`
	ContactID       uuid.UUID  `json:"contact_id"`
	Status          string     `json:"status"`
	AssignedAgentID *string    `json:"assigned_agent_id,omitempty"`
	Priority        int        `json:"priority"`
	QueuedAt        time.Time  `json:"queued_at"`
	DialedAt        *time.Time `json:"dialed_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Outcome         *string    `json:"outcome,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
}

type generateQueueRequest struct {
	MaxRecords int `json:"max_records"`
}

func (h *HandlerSet) generateQueue(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req generateQueueRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}

	entries, err := h.coordinator.GenerateQueue(ctx.Context(), id, req.MaxRecords)
	if err != nil {
		return translateError(err)
	}

	resp := make([]queueEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toQueueEntryResponse(e))
	}
	return ctx.Status(http.StatusCreated).JSON(fiber.Map{"entries": resp})
}

type nextContactRequest struct {
	AgentID string `json:"agent_id"`
}

type nextContactResponse struct {
	Entry   queueEntryResponse `json:"entry"`
	Contact contactResponse    `json:"contact"`
}

func (h *HandlerSet) nextContact(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req nextContactRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.AgentID == "" {
		return fiber.NewError(http.StatusBadRequest, "agent_id is required")
	}

	assignment, err := h.coordinator.NextContact(ctx.Context(), id, req.AgentID)
	if err != nil {
		// Nothing claimable is a valid outcome, not a failure.
		if apperrors.Is(err, apperrors.ErrNoEligibleContacts) {
			return ctx.SendStatus(http.StatusNoContent)
		}
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(nextContactResponse{
		Entry:   toQueueEntryResponse(assignment.Entry),
		Contact: toContactResponse(assignment.Contact),
	})
}

type recordOutcomeRequest struct {
	Status     string  `json:"status"`
	Outcome    string  `json:"outcome"`
	Notes      *string `json:"notes"`
	DurationMs int64   `json:"duration_ms"`
	Error      string  `json:"error"`
}

func (h *HandlerSet) recordOutcome(ctx *fiber.Ctx) error {
	queueID, err := uuid.Parse(ctx.Params("queueID"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid queue id")
	}

	var req recordOutcomeRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.Status == "" {
		return fiber.NewError(http.StatusBadRequest, "status is required")
	}

	entry, err := h.coordinator.RecordOutcome(ctx.Context(), coordsvc.RecordOutcomeInput{
		QueueID:  queueID,
		Status:   domain.QueueStatus(req.Status),
		Outcome:  domain.CallOutcome(req.Outcome),
		Notes:    req.Notes,
		Duration: time.Duration(req.DurationMs) * time.Millisecond,
		Error:    req.Error,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toQueueEntryResponse(entry))
}

type campaignStatsResponse struct {
	TotalQueued    int64   `json:"total_queued"`
	TotalDialing   int64   `json:"total_dialing"`
	TotalConnected int64   `json:"total_connected"`
	TotalCompleted int64   `json:"total_completed"`
	TotalFailed    int64   `json:"total_failed"`
	TotalAbandoned int64   `json:"total_abandoned"`
	SuccessRate    float64 `json:"success_rate"`
}

func (h *HandlerSet) campaignStats(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	stats, err := h.coordinator.CampaignStats(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCampaignStatsResponse(stats))
}

func toCampaignStatsResponse(stats *domain.QueueStats) campaignStatsResponse {
	return campaignStatsResponse{
		TotalQueued:    stats.TotalQueued,
		TotalDialing:   stats.TotalDialing,
		TotalConnected: stats.TotalConnected,
		TotalCompleted: stats.TotalCompleted,
		TotalFailed:    stats.TotalFailed,
		TotalAbandoned: stats.TotalAbandoned,
		SuccessRate:    stats.SuccessRate(),
	}
}

type attemptResponse struct {
	ID         uuid.UUID `json:"id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	ContactID  uuid.UUID `json:"contact_id"`
	QueueID    uuid.UUID `json:"queue_id"`
	AttemptNum int       `json:"attempt_num"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

type listAttemptsResponse struct {
	Attempts []attemptResponse `json:"attempts"`
	NextPage string            `json:"next_page_token,omitempty"`
}

func (h *HandlerSet) listAttempts(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))
	token := ctx.Query("page_token", "")
	paging, err := coordsvc.DecodePagingState(token)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid page token")
	}

	result, err := h.coordinator.ListAttempts(ctx.Context(), id, limit, paging)
	if err != nil {
		return translateError(err)
	}

	resp := listAttemptsResponse{Attempts: make([]attemptResponse, 0, len(result.Attempts))}
	for _, a := range result.Attempts {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			ID:         a.ID,
			CampaignID: a.CampaignID,
			ContactID:  a.ContactID,
			QueueID:    a.QueueID,
			AttemptNum: a.AttemptNum,
			Outcome:    string(a.Outcome),
			Error:      a.Error,
			DurationMs: int64(a.Duration / time.Millisecond),
			CreatedAt:  a.CreatedAt,
		})
	}
	resp.NextPage = coordsvc.EncodePagingState(result.PagingState)

	return ctx.Status(http.StatusOK).JSON(resp)
}

func toQueueEntryResponse(e *domain.DialQueueEntry) queueEntryResponse {
	resp := queueEntryResponse{
		ID:              e.ID,
		CampaignID:      e.CampaignID,
		ContactID:       e.ContactID,
		Status:          string(e.Status),
		AssignedAgentID: e.AssignedAgentID,
		Priority:        e.Priority,
		QueuedAt:        e.QueuedAt,
		DialedAt:        e.DialedAt,
		CompletedAt:     e.CompletedAt,
		Notes:           e.Notes,
	}
	if e.Outcome != nil {
		s := string(*e.Outcome)
		resp.Outcome = &s
	}
	return resp
}
