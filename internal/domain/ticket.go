package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets. The string values are
// the only valid wire and storage representation.
type TicketStatus string

const (
	TicketStatusOpen     TicketStatus = "open"
	TicketStatusOnHold   TicketStatus = "on-hold"
	TicketStatusResolved TicketStatus = "resolved"
	TicketStatusClosed   TicketStatus = "closed"
	TicketStatusReturned TicketStatus = "returned"
	TicketStatusDeleted  TicketStatus = "deleted"
)

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID             string
	ExternalKey    string
	Title          string
	Description    string
	Status         TicketStatus
	CreatedBy      string
	AssignedTo     *string
	SPOCUserID     *string
	HasAttachments bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClosedAt       *time.Time
}
