package lifecycle

import "github.com/spec-kit/helpdesk-service/internal/domain"

// CanRequestStatus decides whether a caller may ask for target on ticket.
// Admins bypass relationship checks. Everyone else must currently hold at
// least one of the relationships the target status requires.
func CanRequestStatus(role domain.Role, callerID string, ticket *domain.Ticket, target domain.TicketStatus) bool {
	if role == domain.RoleAdmin {
		return true
	}
	required := RequiredRelationship(target)
	if required.Empty() {
		return false
	}
	held := Relationships(ticket, callerID)
	for _, rel := range required.Members() {
		if held.Has(rel) {
			return true
		}
	}
	return false
}
