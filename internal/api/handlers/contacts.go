package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/predictive-dialer/internal/domain"
	coordsvc "github.com/acme/predictive-dialer/internal/service/coordinator"
)

type importContactsRequest struct {
	ListID   uuid.UUID        `json:"list_id"`
	Contacts []contactRequest `json:"contacts"`
}

type contactRequest struct {
	Phone       string `json:"phone"`
	MaxAttempts int    `json:"max_attempts"`
}

type contactResponse struct {
	ID            uuid.UUID  `json:"id"`
	CampaignID    uuid.UUID  `json:"campaign_id"`
	ListID        uuid.UUID  `json:"list_id"`
	Phone         string     `json:"phone"`
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	MaxAttempts   int        `json:"max_attempts"`
	Locked        bool       `json:"locked"`
	LockedBy      *string    `json:"locked_by,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (h *HandlerSet) importContacts(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	var req importContactsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Contacts) == 0 {
		return fiber.NewError(http.StatusBadRequest, "contacts are required")
	}

	inputs := make([]coordsvc.ContactInput, 0, len(req.Contacts))
	for _, c := range req.Contacts {
		inputs = append(inputs, coordsvc.ContactInput{
			Phone:       c.Phone,
			ListID:      req.ListID,
			MaxAttempts: c.MaxAttempts,
		})
	}

	contacts, err := h.coordinator.ImportContacts(ctx.Context(), id, inputs)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(fiber.Map{"imported": len(contacts)})
}

func toContactResponse(c *domain.Contact) contactResponse {
	return contactResponse{
		ID:            c.ID,
		CampaignID:    c.CampaignID,
		ListID:        c.ListID,
		Phone:         c.Phone,
		Status:        string(c.Status),
		AttemptCount:  c.AttemptCount,
		MaxAttempts:   c.MaxAttempts,
		Locked:        c.Locked,
		LockedBy:      c.LockedBy,
		LastAttemptAt: c.LastAttemptAt,
		NextRetryAt:   c.NextRetryAt,
		CreatedAt:     c.CreatedAt,
	}
}
