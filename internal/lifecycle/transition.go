package lifecycle

import (
	"errors"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Reason explains a denied transition.
type Reason string

const (
	ReasonInvalidTransition Reason = "InvalidTransition"
	ReasonUnauthorized      Reason = "Unauthorized"
)

var (
	ErrInvalidTransition = errors.New("status is not reachable from the current status")
	ErrUnauthorized      = errors.New("caller may not request this status")
)

// Decision is the outcome of ValidateTransition. The zero value allows.
type Decision struct {
	From   domain.TicketStatus
	To     domain.TicketStatus
	Reason Reason
}

// Allowed reports whether the transition may be applied.
func (d Decision) Allowed() bool {
	return d.Reason == ""
}

// Err returns the sentinel error for a denial, or nil.
func (d Decision) Err() error {
	switch d.Reason {
	case "":
		return nil
	case ReasonInvalidTransition:
		return ErrInvalidTransition
	default:
		return ErrUnauthorized
	}
}

// ValidateTransition checks the status graph first and then the caller's
// permission against the ticket's current relationships.
func ValidateTransition(ticket *domain.Ticket, role domain.Role, callerID string, target domain.TicketStatus) Decision {
	decision := Decision{To: target}
	if ticket == nil {
		decision.Reason = ReasonInvalidTransition
		return decision
	}
	decision.From = ticket.Status
	if !CanTransition(ticket.Status, target) {
		decision.Reason = ReasonInvalidTransition
		return decision
	}
	if !CanRequestStatus(role, callerID, ticket, target) {
		decision.Reason = ReasonUnauthorized
	}
	return decision
}

// AvailableTransitions lists the statuses the caller may move ticket to right
// now, in graph order.
func AvailableTransitions(ticket *domain.Ticket, role domain.Role, callerID string) []domain.TicketStatus {
	if ticket == nil {
		return nil
	}
	out := []domain.TicketStatus{}
	for _, next := range allowedTransitions[ticket.Status] {
		if CanRequestStatus(role, callerID, ticket, next) {
			out = append(out, next)
		}
	}
	return out
}
