package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/lifecycle"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/storage"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// BlobStore is the attachment store collaborator.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (storage.Object, error)
	Delete(ctx context.Context, key string) error
	KeyFromURL(url string) (string, bool)
}

// AttachmentService handles uploads and explicit deletions.
type AttachmentService struct {
	tickets     repository.TicketRepository
	attachments repository.AttachmentRepository
	history     repository.TicketHistoryRepository
	blobs       BlobStore
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	maxBytes    int64
	now         func() time.Time
}

// AttachmentDependencies bundles collaborators.
type AttachmentDependencies struct {
	TicketRepo     repository.TicketRepository
	AttachmentRepo repository.AttachmentRepository
	HistoryRepo    repository.TicketHistoryRepository
	Blobs          BlobStore
	Dispatcher     events.Dispatcher
	Logger         *zap.Logger
	MaxUploadBytes int64
	Now            func() time.Time
}

// UploadInput describes one uploaded file.
type UploadInput struct {
	FileName    string
	ContentType string
	SizeBytes   int64
	Body        io.Reader
}

// NewAttachmentService constructs the service.
func NewAttachmentService(deps AttachmentDependencies) *AttachmentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &AttachmentService{
		tickets:     deps.TicketRepo,
		attachments: deps.AttachmentRepo,
		history:     deps.HistoryRepo,
		blobs:       deps.Blobs,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
		maxBytes:    deps.MaxUploadBytes,
		now:         now,
	}
}

// List returns a ticket's attachments.
func (s *AttachmentService) List(ctx context.Context, caller *domain.User, ticketID string) ([]domain.Attachment, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canView(caller, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	list, err := s.attachments.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return list, nil
}

// Upload stores the blob and records the attachment. If the row cannot be
// written the blob is removed again.
func (s *AttachmentService) Upload(ctx context.Context, caller *domain.User, ticketID string, input UploadInput) (*domain.Attachment, error) {
	if caller == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	if s.blobs == nil {
		return nil, apperrors.NewDomainError("STORAGE_UNAVAILABLE", "attachment storage not configured", http.StatusServiceUnavailable, nil)
	}
	name := sanitizeFileName(input.FileName)
	if name == "" || input.Body == nil {
		return nil, apperrors.NewValidationError("file required", nil)
	}
	if s.maxBytes > 0 && input.SizeBytes > s.maxBytes {
		return nil, apperrors.NewValidationError("file too large", map[string]any{"max_bytes": s.maxBytes})
	}
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if caller.Role != domain.RoleAdmin && lifecycle.Relationships(ticket, caller.ID).Empty() {
		return nil, apperrors.NewForbidden("only ticket participants may attach files")
	}
	if lifecycle.IsTerminal(ticket.Status) {
		return nil, apperrors.NewConflict("ticket is deleted", map[string]any{"ticket_id": ticket.ID})
	}

	key := path.Join("tickets", ticket.ID, uuid.NewString()+"-"+name)
	obj, err := s.blobs.Put(ctx, key, input.ContentType, input.Body)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	attachment := &domain.Attachment{
		TicketID:   ticket.ID,
		FileName:   name,
		URL:        obj.URL,
		SizeBytes:  input.SizeBytes,
		UploadedBy: caller.ID,
	}
	if err := s.attachments.Create(ctx, attachment); err != nil {
		if delErr := s.blobs.Delete(ctx, obj.Key); delErr != nil {
			s.logger.Warn("orphaned attachment blob", zap.String("key", obj.Key), zap.Error(delErr))
		}
		return nil, apperrors.MapError(err)
	}

	s.recordChange(ctx, caller, ticket.ID, map[string]any{}, map[string]any{"added": attachment.ID, "file_name": name})
	s.publishEvent(ctx, events.Event{
		Type:     events.EventAttachmentAdded,
		TicketID: ticket.ID,
		Actor:    events.UserActor(caller),
		Payload:  events.AttachmentPayload{AttachmentID: attachment.ID, FileName: name, SizeBytes: attachment.SizeBytes},
	})
	return attachment, nil
}

// Delete removes one attachment on request of its uploader or an admin and
// recomputes the ticket's has-attachments flag.
func (s *AttachmentService) Delete(ctx context.Context, caller *domain.User, ticketID, attachmentID string) error {
	if caller == nil {
		return apperrors.NewUnauthorized("user required")
	}
	attachment, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("attachment", map[string]any{"attachment_id": attachmentID})
		}
		return apperrors.MapError(err)
	}
	if attachment.TicketID != ticketID {
		return apperrors.NewNotFound("attachment", map[string]any{"attachment_id": attachmentID})
	}
	if caller.Role != domain.RoleAdmin && attachment.UploadedBy != caller.ID {
		return apperrors.NewForbidden("only the uploader may delete this attachment")
	}

	if s.blobs != nil {
		if key, ok := s.blobs.KeyFromURL(attachment.URL); ok {
			if err := s.blobs.Delete(ctx, key); err != nil {
				return apperrors.NewInternalError(err)
			}
		}
	}
	if err := s.attachments.Delete(ctx, attachment.ID); err != nil {
		return apperrors.MapError(err)
	}
	if _, err := s.tickets.RecomputeHasAttachments(ctx, attachment.TicketID); err != nil {
		return apperrors.MapError(err)
	}

	s.recordChange(ctx, caller, attachment.TicketID, map[string]any{"removed": attachment.ID, "file_name": attachment.FileName}, map[string]any{})
	s.publishEvent(ctx, events.Event{
		Type:     events.EventAttachmentRemoved,
		TicketID: attachment.TicketID,
		Actor:    events.UserActor(caller),
		Payload:  events.AttachmentPayload{AttachmentID: attachment.ID, FileName: attachment.FileName, SizeBytes: attachment.SizeBytes},
	})
	return nil
}

func (s *AttachmentService) loadTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

func (s *AttachmentService) recordChange(ctx context.Context, caller *domain.User, ticketID string, oldValue, newValue map[string]any) {
	if s.history == nil {
		return
	}
	callerID := caller.ID
	_ = s.history.Create(ctx, &domain.TicketHistory{
		TicketID:    ticketID,
		ChangedByID: &callerID,
		ChangeType:  domain.ChangeTypeAttachment,
		OldValue:    oldValue,
		NewValue:    newValue,
	})
}

func (s *AttachmentService) publishEvent(ctx context.Context, event events.Event) {
	publish(ctx, s.dispatcher, s.now, event)
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == '?' || r == '#' {
			return '_'
		}
		return r
	}, name)
}
