// Package lifecycle holds the ticket status graph and the relationship based
// permission rules that decide who may move a ticket between statuses. All
// functions are pure lookups and safe for concurrent use.
package lifecycle

import (
	"fmt"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// StatusInfo is the human-readable metadata shown next to a status.
type StatusInfo struct {
	Label       string
	Description string
}

var allStatuses = []domain.TicketStatus{
	domain.TicketStatusOpen,
	domain.TicketStatusOnHold,
	domain.TicketStatusResolved,
	domain.TicketStatusClosed,
	domain.TicketStatusReturned,
	domain.TicketStatusDeleted,
}

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:     {domain.TicketStatusOnHold, domain.TicketStatusResolved, domain.TicketStatusReturned, domain.TicketStatusDeleted},
	domain.TicketStatusOnHold:   {domain.TicketStatusOpen, domain.TicketStatusResolved, domain.TicketStatusReturned, domain.TicketStatusDeleted},
	domain.TicketStatusResolved: {domain.TicketStatusOpen, domain.TicketStatusClosed, domain.TicketStatusReturned},
	domain.TicketStatusClosed:   {domain.TicketStatusOpen},
	domain.TicketStatusReturned: {domain.TicketStatusOpen, domain.TicketStatusOnHold, domain.TicketStatusResolved, domain.TicketStatusDeleted},
	domain.TicketStatusDeleted:  {},
}

var requiredRelationships = map[domain.TicketStatus]RelationshipSet{
	domain.TicketStatusOpen:     NewRelationshipSet(RelationshipSPOC, RelationshipAssignee),
	domain.TicketStatusOnHold:   NewRelationshipSet(RelationshipAssignee),
	domain.TicketStatusResolved: NewRelationshipSet(RelationshipAssignee),
	domain.TicketStatusClosed:   NewRelationshipSet(RelationshipInitiator),
	domain.TicketStatusReturned: NewRelationshipSet(RelationshipAssignee, RelationshipSPOC),
	domain.TicketStatusDeleted:  NewRelationshipSet(RelationshipInitiator),
}

var statusInfo = map[domain.TicketStatus]StatusInfo{
	domain.TicketStatusOpen:     {Label: "Open", Description: "Waiting for or under work by the assignee."},
	domain.TicketStatusOnHold:   {Label: "On hold", Description: "Work paused by the assignee."},
	domain.TicketStatusResolved: {Label: "Resolved", Description: "Assignee considers the request done; awaiting the requester."},
	domain.TicketStatusClosed:   {Label: "Closed", Description: "Requester accepted the resolution."},
	domain.TicketStatusReturned: {Label: "Returned", Description: "Sent back for more information or rework."},
	domain.TicketStatusDeleted:  {Label: "Deleted", Description: "Withdrawn by the requester. Terminal."},
}

// AllStatuses returns every status in catalog order.
func AllStatuses() []domain.TicketStatus {
	out := make([]domain.TicketStatus, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// IsValid reports whether status is one of the catalog values.
func IsValid(status domain.TicketStatus) bool {
	_, ok := allowedTransitions[status]
	return ok
}

// ParseStatus validates a raw value coming over the wire.
func ParseStatus(raw string) (domain.TicketStatus, error) {
	status := domain.TicketStatus(raw)
	if !IsValid(status) {
		return "", fmt.Errorf("invalid ticket status: %q", raw)
	}
	return status, nil
}

// AllowedNextStatuses returns the statuses reachable in one step from current.
// Unknown statuses have no outbound edges.
func AllowedNextStatuses(current domain.TicketStatus) []domain.TicketStatus {
	next := allowedTransitions[current]
	out := make([]domain.TicketStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether next is directly reachable from current.
func CanTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status has no outbound transitions.
func IsTerminal(status domain.TicketStatus) bool {
	return IsValid(status) && len(allowedTransitions[status]) == 0
}

// RequiredRelationship returns the relationships a non-admin caller must hold
// (any one of them) to request status.
func RequiredRelationship(status domain.TicketStatus) RelationshipSet {
	return requiredRelationships[status]
}

// Info returns display metadata for status.
func Info(status domain.TicketStatus) (StatusInfo, bool) {
	info, ok := statusInfo[status]
	return info, ok
}
