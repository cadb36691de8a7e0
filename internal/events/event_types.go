package events

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketAssigned      EventType = "ticket_assigned"
	EventAttachmentAdded     EventType = "attachment_added"
	EventAttachmentRemoved   EventType = "attachment_removed"
	EventAttachmentsPurged   EventType = "attachments_purged"
)

// Actor encapsulates actor metadata for an event. UserID is nil for system
// actors such as the retention sweep.
type Actor struct {
	UserID *string     `json:"user_id,omitempty"`
	Role   domain.Role `json:"role,omitempty"`
	System bool        `json:"system,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id,omitempty"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	ExternalKey string `json:"external_key"`
	Title       string `json:"title"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AssignedTo *string `json:"assigned_to,omitempty"`
	SPOCUserID *string `json:"spoc_user_id,omitempty"`
}

// AttachmentPayload payload for added and removed attachments.
type AttachmentPayload struct {
	AttachmentID string `json:"attachment_id"`
	FileName     string `json:"file_name"`
	SizeBytes    int64  `json:"size_bytes"`
}

// AttachmentsPurgedPayload summarizes a retention sweep.
type AttachmentsPurgedPayload struct {
	Trigger      string   `json:"trigger"`
	DeletedCount int      `json:"deleted_count"`
	FailedCount  int      `json:"failed_count"`
	FailedItems  []string `json:"failed_items,omitempty"`
	TicketIDs    []string `json:"ticket_ids,omitempty"`
}

// SystemActor is the actor used for scheduled jobs.
func SystemActor() Actor {
	return Actor{System: true}
}

// UserActor is the actor for a signed-in caller.
func UserActor(user *domain.User) Actor {
	if user == nil {
		return SystemActor()
	}
	id := user.ID
	return Actor{UserID: &id, Role: user.Role}
}
