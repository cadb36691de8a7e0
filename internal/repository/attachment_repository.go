package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// AttachmentRepository persists attachment metadata.
type AttachmentRepository interface {
	Create(ctx context.Context, attachment *domain.Attachment) error
	GetByID(ctx context.Context, id string) (*domain.Attachment, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Attachment, error)
	ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]domain.Attachment, error)
	Delete(ctx context.Context, id string) error
}

type attachmentRepository struct {
	pool *pgxpool.Pool
}

// NewAttachmentRepository constructs repository.
func NewAttachmentRepository(pool *pgxpool.Pool) AttachmentRepository {
	return &attachmentRepository{pool: pool}
}

const attachmentColumns = `id, ticket_id, file_name, url, size_bytes, uploaded_by, created_at`

// Create inserts the row and raises the ticket's has_attachments flag in the
// same transaction.
func (r *attachmentRepository) Create(ctx context.Context, attachment *domain.Attachment) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const insert = `
            INSERT INTO ticket_attachments (ticket_id, file_name, url, size_bytes, uploaded_by)
            VALUES ($1,$2,$3,$4,$5)
            RETURNING id, created_at`
		if err := tx.QueryRow(ctx, insert,
			attachment.TicketID,
			attachment.FileName,
			attachment.URL,
			attachment.SizeBytes,
			attachment.UploadedBy,
		).Scan(&attachment.ID, &attachment.CreatedAt); err != nil {
			return err
		}
		cmd, err := tx.Exec(ctx, `UPDATE tickets SET has_attachments=TRUE, updated_at=NOW() WHERE id=$1`, attachment.TicketID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
}

func (r *attachmentRepository) GetByID(ctx context.Context, id string) (*domain.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM ticket_attachments WHERE id=$1`
	var attachment domain.Attachment
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&attachment.ID,
		&attachment.TicketID,
		&attachment.FileName,
		&attachment.URL,
		&attachment.SizeBytes,
		&attachment.UploadedBy,
		&attachment.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &attachment, nil
}

func (r *attachmentRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM ticket_attachments WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttachments(rows)
}

// ListCreatedBefore returns attachments with created_at strictly before cutoff.
func (r *attachmentRepository) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]domain.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM ticket_attachments WHERE created_at < $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttachments(rows)
}

// Delete removes the row. Deleting an already removed row is not an error.
func (r *attachmentRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM ticket_attachments WHERE id=$1`, id)
	return err
}

func scanAttachments(rows pgx.Rows) ([]domain.Attachment, error) {
	var result []domain.Attachment
	for rows.Next() {
		var attachment domain.Attachment
		if err := rows.Scan(
			&attachment.ID,
			&attachment.TicketID,
			&attachment.FileName,
			&attachment.URL,
			&attachment.SizeBytes,
			&attachment.UploadedBy,
			&attachment.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, attachment)
	}
	return result, rows.Err()
}
