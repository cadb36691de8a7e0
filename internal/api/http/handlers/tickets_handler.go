package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/lifecycle"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// TicketsHandler serves ticket endpoints.
type TicketsHandler struct {
	service TicketUseCases
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService TicketUseCases) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.CreateTicket(c.UserContext(), user, service.TicketCreateInput{
		Title:       req.Title,
		Description: req.Description,
		SPOCUserID:  req.SPOCUserID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicket(c.UserContext(), user, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// ListTransitions GET /tickets/:id/transitions.
func (h *TicketsHandler) ListTransitions(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	ticket, statuses, err := h.service.ListTransitions(c.UserContext(), user, c.Params("id"))
	if err != nil {
		return err
	}
	relationships := []string{}
	for _, r := range lifecycle.Relationships(ticket, user.ID).Members() {
		relationships = append(relationships, r.String())
	}
	options := make([]dto.StatusOption, 0, len(statuses))
	for _, status := range statuses {
		options = append(options, statusOption(status))
	}
	return c.JSON(fiber.Map{"data": dto.TransitionsResponse{
		Current:       ticket.Status,
		Relationships: relationships,
		Available:     options,
	}})
}

// UpdateStatus PATCH /tickets/:id/status.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	target, err := lifecycle.ParseStatus(req.Status)
	if err != nil {
		return apperrors.NewValidationError(err.Error(), map[string]any{"allowed": lifecycle.AllStatuses()})
	}
	ticket, err := h.service.UpdateStatus(c.UserContext(), user, c.Params("id"), target, req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// Assign PUT /tickets/:id/assignment.
func (h *TicketsHandler) Assign(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.AssignmentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.Assign(c.UserContext(), user, c.Params("id"), service.AssignmentInput{
		AssignedTo: emptyToNil(req.AssignedTo),
		SPOCUserID: emptyToNil(req.SPOCUserID),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// ListHistory GET /tickets/:id/history.
func (h *TicketsHandler) ListHistory(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 50)
	entries, err := h.service.ListHistory(c.UserContext(), user, c.Params("id"), pageSize, (page-1)*pageSize)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": historyResponses(entries)})
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func emptyToNil(val *string) *string {
	if val == nil || *val == "" {
		return nil
	}
	return val
}

func statusOption(status domain.TicketStatus) dto.StatusOption {
	info, _ := lifecycle.Info(status)
	return dto.StatusOption{Status: status, Label: info.Label, Description: info.Description}
}

func ticketResponse(ticket *domain.Ticket) dto.TicketResponse {
	info, _ := lifecycle.Info(ticket.Status)
	return dto.TicketResponse{
		ID:             ticket.ID,
		ExternalKey:    ticket.ExternalKey,
		Title:          ticket.Title,
		Description:    ticket.Description,
		Status:         ticket.Status,
		StatusLabel:    info.Label,
		CreatedBy:      ticket.CreatedBy,
		AssignedTo:     ticket.AssignedTo,
		SPOCUserID:     ticket.SPOCUserID,
		HasAttachments: ticket.HasAttachments,
		CreatedAt:      ticket.CreatedAt,
		UpdatedAt:      ticket.UpdatedAt,
		ClosedAt:       ticket.ClosedAt,
	}
}

func historyResponses(entries []domain.TicketHistory) []dto.TicketHistoryResponse {
	resp := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.TicketHistoryResponse{
			ID:          entry.ID,
			ChangeType:  entry.ChangeType,
			ChangedByID: entry.ChangedByID,
			OldValue:    entry.OldValue,
			NewValue:    entry.NewValue,
			CreatedAt:   entry.CreatedAt,
		})
	}
	return resp
}
