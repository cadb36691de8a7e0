package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/lifecycle"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets    repository.TicketRepository
	users      repository.UserRepository
	history    repository.TicketHistoryRepository
	dispatcher events.Dispatcher
	now        func() time.Time
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	UserRepo    repository.UserRepository
	HistoryRepo repository.TicketHistoryRepository
	Dispatcher  events.Dispatcher
	Now         func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
	SPOCUserID  *string
}

// AssignmentInput replaces the assignee and SPOC of a ticket. Nil clears.
type AssignmentInput struct {
	AssignedTo *string
	SPOCUserID *string
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		users:      deps.UserRepo,
		history:    deps.HistoryRepo,
		dispatcher: deps.Dispatcher,
		now:        now,
	}
}

// CreateTicket opens a ticket with the caller as initiator.
func (s *TicketService) CreateTicket(ctx context.Context, caller *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	if caller == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("title required", nil)
	}
	if input.SPOCUserID != nil {
		if err := s.ensureUser(ctx, *input.SPOCUserID); err != nil {
			return nil, err
		}
	}

	ticket := &domain.Ticket{
		ExternalKey: generateTicketKey(),
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Status:      domain.TicketStatusOpen,
		CreatedBy:   caller.ID,
		SPOCUserID:  input.SPOCUserID,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    events.UserActor(caller),
		Payload: events.TicketCreatedPayload{
			ExternalKey: ticket.ExternalKey,
			Title:       ticket.Title,
		},
	})
	return ticket, nil
}

// GetTicket returns a ticket the caller may see.
func (s *TicketService) GetTicket(ctx context.Context, caller *domain.User, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canView(caller, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return ticket, nil
}

// ListTransitions returns the statuses the caller may request right now.
func (s *TicketService) ListTransitions(ctx context.Context, caller *domain.User, ticketID string) (*domain.Ticket, []domain.TicketStatus, error) {
	ticket, err := s.GetTicket(ctx, caller, ticketID)
	if err != nil {
		return nil, nil, err
	}
	return ticket, lifecycle.AvailableTransitions(ticket, caller.Role, caller.ID), nil
}

// UpdateStatus validates and applies a status change. The write is
// conditioned on the status that was validated, so two concurrent requests
// cannot both apply.
func (s *TicketService) UpdateStatus(ctx context.Context, caller *domain.User, ticketID string, target domain.TicketStatus, comment string) (*domain.Ticket, error) {
	if caller == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	if !lifecycle.IsValid(target) {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{
			"status":  string(target),
			"allowed": lifecycle.AllStatuses(),
		})
	}
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	decision := lifecycle.ValidateTransition(ticket, caller.Role, caller.ID, target)
	if !decision.Allowed() {
		return nil, NewTransitionDenied(decision)
	}

	oldStatus := ticket.Status
	var closedAt *time.Time
	if target == domain.TicketStatusClosed {
		now := s.now()
		closedAt = &now
	}
	if err := s.tickets.UpdateStatus(ctx, ticket.ID, oldStatus, target, closedAt); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, apperrors.NewConflict("ticket status changed, reload and retry", map[string]any{
				"ticket_id": ticket.ID,
				"expected":  string(oldStatus),
			})
		}
		return nil, apperrors.MapError(err)
	}
	ticket.Status = target
	ticket.ClosedAt = closedAt

	callerID := caller.ID
	s.recordHistory(ctx, &domain.TicketHistory{
		TicketID:    ticket.ID,
		ChangedByID: &callerID,
		ChangeType:  domain.ChangeTypeStatus,
		OldValue:    map[string]any{"status": oldStatus},
		NewValue:    map[string]any{"status": target, "comment": comment},
	})
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticket.ID,
		Actor:    events.UserActor(caller),
		Payload: events.TicketStatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: target,
			Comment:   comment,
		},
	})
	return ticket, nil
}

// Assign replaces the assignee and SPOC. Admins may assign anyone; the
// current assignee may hand the ticket off; an agent may take an unassigned
// ticket for themselves.
func (s *TicketService) Assign(ctx context.Context, caller *domain.User, ticketID string, input AssignmentInput) (*domain.Ticket, error) {
	if caller == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if lifecycle.IsTerminal(ticket.Status) {
		return nil, apperrors.NewConflict("ticket is deleted", map[string]any{"ticket_id": ticket.ID})
	}
	if !canAssign(caller, ticket, input) {
		return nil, apperrors.NewForbidden("not allowed to change assignment")
	}
	if input.AssignedTo != nil {
		assignee, err := s.users.GetByID(ctx, *input.AssignedTo)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, apperrors.NewNotFound("assignee", map[string]any{"user_id": *input.AssignedTo})
			}
			return nil, apperrors.MapError(err)
		}
		if assignee.Role == domain.RoleUser {
			return nil, apperrors.NewValidationError("assignee must be an agent or admin", map[string]any{"user_id": assignee.ID})
		}
	}
	if input.SPOCUserID != nil {
		if err := s.ensureUser(ctx, *input.SPOCUserID); err != nil {
			return nil, err
		}
	}

	oldValue := map[string]any{"assigned_to": ticket.AssignedTo, "spoc_user_id": ticket.SPOCUserID}
	if err := s.tickets.UpdateAssignment(ctx, ticket.ID, input.AssignedTo, input.SPOCUserID); err != nil {
		return nil, apperrors.MapError(err)
	}
	ticket.AssignedTo = input.AssignedTo
	ticket.SPOCUserID = input.SPOCUserID

	callerID := caller.ID
	s.recordHistory(ctx, &domain.TicketHistory{
		TicketID:    ticket.ID,
		ChangedByID: &callerID,
		ChangeType:  domain.ChangeTypeAssignment,
		OldValue:    oldValue,
		NewValue:    map[string]any{"assigned_to": ticket.AssignedTo, "spoc_user_id": ticket.SPOCUserID},
	})
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketAssigned,
		TicketID: ticket.ID,
		Actor:    events.UserActor(caller),
		Payload: events.TicketAssignedPayload{
			AssignedTo: ticket.AssignedTo,
			SPOCUserID: ticket.SPOCUserID,
		},
	})
	return ticket, nil
}

// ListHistory returns audit entries for a ticket the caller may see.
func (s *TicketService) ListHistory(ctx context.Context, caller *domain.User, ticketID string, limit, offset int) ([]domain.TicketHistory, error) {
	if _, err := s.GetTicket(ctx, caller, ticketID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []domain.TicketHistory{}, nil
	}
	entries, err := s.history.ListByTicket(ctx, ticketID, limit, offset)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

func (s *TicketService) loadTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

func (s *TicketService) ensureUser(ctx context.Context, userID string) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("user", map[string]any{"user_id": userID})
		}
		return apperrors.MapError(err)
	}
	return nil
}

func (s *TicketService) recordHistory(ctx context.Context, entry *domain.TicketHistory) {
	if s.history == nil {
		return
	}
	// history is best effort; the change itself is already committed
	_ = s.history.Create(ctx, entry)
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	publish(ctx, s.dispatcher, s.now, event)
}

// canView lets staff see every ticket and requesters see tickets they are
// linked to.
func canView(caller *domain.User, ticket *domain.Ticket) bool {
	if caller == nil {
		return false
	}
	if caller.Role == domain.RoleAdmin || caller.Role == domain.RoleAgent {
		return true
	}
	return !lifecycle.Relationships(ticket, caller.ID).Empty()
}

func canAssign(caller *domain.User, ticket *domain.Ticket, input AssignmentInput) bool {
	switch {
	case caller.Role == domain.RoleAdmin:
		return true
	case lifecycle.Relationships(ticket, caller.ID).Has(lifecycle.RelationshipAssignee):
		return true
	case caller.Role == domain.RoleAgent && ticket.AssignedTo == nil:
		return input.AssignedTo != nil && *input.AssignedTo == caller.ID && sameOptional(input.SPOCUserID, ticket.SPOCUserID)
	default:
		return false
	}
}

func sameOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func generateTicketKey() string {
	return "TCK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func publish(ctx context.Context, dispatcher events.Dispatcher, now func() time.Time, event events.Event) {
	if dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now()
	}
	_ = dispatcher.Publish(ctx, event)
}
