package domain

import "time"

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeStatus     TicketChangeType = "STATUS_CHANGE"
	ChangeTypeAssignment TicketChangeType = "ASSIGNMENT_CHANGE"
	ChangeTypeAttachment TicketChangeType = "ATTACHMENT_CHANGE"
)

// TicketHistory is an immutable audit trail entry. ChangedByID is nil for
// system changes such as retention sweeps.
type TicketHistory struct {
	ID          string
	TicketID    string
	ChangedByID *string
	ChangeType  TicketChangeType
	OldValue    map[string]any
	NewValue    map[string]any
	CreatedAt   time.Time
}
