package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// ErrStaleStatus means the ticket's status changed between validation and
// the update, so the validated transition no longer applies.
var ErrStaleStatus = errors.New("ticket status changed concurrently")

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	UpdateStatus(ctx context.Context, id string, expected, next domain.TicketStatus, closedAt *time.Time) error
	UpdateAssignment(ctx context.Context, id string, assignedTo, spocUserID *string) error
	RecomputeHasAttachments(ctx context.Context, id string) (bool, error)
	ListFlagDrift(ctx context.Context) ([]string, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (external_key, title, description, status, created_by, assigned_to, spoc_user_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.ExternalKey,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.CreatedBy,
		ticket.AssignedTo,
		ticket.SPOCUserID,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `
        SELECT id, external_key, title, description, status, created_by, assigned_to, spoc_user_id,
               has_attachments, created_at, updated_at, closed_at
        FROM tickets WHERE id=$1`
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&ticket.ID,
		&ticket.ExternalKey,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.CreatedBy,
		&ticket.AssignedTo,
		&ticket.SPOCUserID,
		&ticket.HasAttachments,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// UpdateStatus moves the ticket only if it still has the expected status.
func (r *ticketRepository) UpdateStatus(ctx context.Context, id string, expected, next domain.TicketStatus, closedAt *time.Time) error {
	const query = `
        UPDATE tickets SET status=$1, closed_at=$2, updated_at=NOW()
        WHERE id=$3 AND status=$4`
	cmd, err := r.pool.Exec(ctx, query, next, closedAt, id, expected)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *ticketRepository) UpdateAssignment(ctx context.Context, id string, assignedTo, spocUserID *string) error {
	const query = `
        UPDATE tickets SET assigned_to=$1, spoc_user_id=$2, updated_at=NOW()
        WHERE id=$3`
	cmd, err := r.pool.Exec(ctx, query, assignedTo, spocUserID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// RecomputeHasAttachments derives the flag from the attachment rows in the
// same statement that writes it.
func (r *ticketRepository) RecomputeHasAttachments(ctx context.Context, id string) (bool, error) {
	const query = `
        UPDATE tickets
        SET has_attachments = EXISTS (SELECT 1 FROM ticket_attachments WHERE ticket_id=$1),
            updated_at = NOW()
        WHERE id=$1
        RETURNING has_attachments`
	var has bool
	if err := r.pool.QueryRow(ctx, query, id).Scan(&has); err != nil {
		return false, err
	}
	return has, nil
}

// ListFlagDrift returns tickets whose has_attachments flag disagrees with
// their attachment rows.
func (r *ticketRepository) ListFlagDrift(ctx context.Context) ([]string, error) {
	const query = `
        SELECT t.id FROM tickets t
        WHERE t.has_attachments <> EXISTS (SELECT 1 FROM ticket_attachments a WHERE a.ticket_id = t.id)
        ORDER BY t.id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
