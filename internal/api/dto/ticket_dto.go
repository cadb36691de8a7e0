package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	SPOCUserID  *string `json:"spoc_user_id"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

// AssignmentRequest payload. Omitted fields clear the relationship.
type AssignmentRequest struct {
	AssignedTo *string `json:"assigned_to"`
	SPOCUserID *string `json:"spoc_user_id"`
}

// TicketResponse is the ticket as returned to clients.
type TicketResponse struct {
	ID             string              `json:"id"`
	ExternalKey    string              `json:"external_key"`
	Title          string              `json:"title"`
	Description    string              `json:"description"`
	Status         domain.TicketStatus `json:"status"`
	StatusLabel    string              `json:"status_label"`
	CreatedBy      string              `json:"created_by"`
	AssignedTo     *string             `json:"assigned_to"`
	SPOCUserID     *string             `json:"spoc_user_id"`
	HasAttachments bool                `json:"has_attachments"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	ClosedAt       *time.Time          `json:"closed_at"`
}

// StatusOption is one entry of the transitions menu.
type StatusOption struct {
	Status      domain.TicketStatus `json:"status"`
	Label       string              `json:"label"`
	Description string              `json:"description"`
}

// TransitionsResponse lists the statuses the caller may request next.
type TransitionsResponse struct {
	Current       domain.TicketStatus `json:"current"`
	Relationships []string            `json:"relationships"`
	Available     []StatusOption      `json:"available"`
}

// TicketHistoryResponse is one audit entry.
type TicketHistoryResponse struct {
	ID          string                   `json:"id"`
	ChangeType  domain.TicketChangeType `json:"change_type"`
	ChangedByID *string                  `json:"changed_by_id"`
	OldValue    map[string]any           `json:"old_value"`
	NewValue    map[string]any           `json:"new_value"`
	CreatedAt   time.Time                `json:"created_at"`
}

// AttachmentResponse metadata.
type AttachmentResponse struct {
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	URL        string    `json:"url"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedBy string    `json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
}
