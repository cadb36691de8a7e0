// Package retention removes attachments older than a retention window from
// blob storage and the database, then brings each touched ticket's
// has-attachments flag back in line with what remains.
package retention

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// ErrSweepInProgress is returned by callers that serialize sweeps when another
// sweep already holds the lock.
var ErrSweepInProgress = errors.New("retention sweep already in progress")

// AttachmentStore is the persistence side the engine needs.
type AttachmentStore interface {
	ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]domain.Attachment, error)
	Delete(ctx context.Context, id string) error
}

// TicketFlagStore owns the derived has-attachments flag.
type TicketFlagStore interface {
	// RecomputeHasAttachments rewrites the flag from the rows that exist at
	// write time and returns the stored value.
	RecomputeHasAttachments(ctx context.Context, ticketID string) (bool, error)
	// ListFlagDrift returns tickets whose flag disagrees with their rows.
	ListFlagDrift(ctx context.Context) ([]string, error)
}

// BlobDeleter removes an object by key. Deleting a missing key must succeed.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// KeyFunc derives the storage key from a persisted public URL. ok is false
// when the URL does not point into our storage.
type KeyFunc func(url string) (key string, ok bool)

// Stage names the step an item failed at.
type Stage string

const (
	StageBlob Stage = "blob_delete"
	StageRow  Stage = "row_delete"
)

// ItemFailure describes one attachment the sweep could not remove.
type ItemFailure struct {
	AttachmentID string `json:"attachment_id"`
	TicketID     string `json:"ticket_id"`
	Stage        Stage  `json:"stage"`
	Error        string `json:"error"`
}

// ReconcileFailure describes a ticket whose flag could not be recomputed.
type ReconcileFailure struct {
	TicketID string `json:"ticket_id"`
	Error    string `json:"error"`
}

// Report summarizes one sweep.
type Report struct {
	Cutoff            time.Time          `json:"cutoff"`
	Candidates        int                `json:"candidates"`
	DeletedCount      int                `json:"deleted_count"`
	FailedCount       int                `json:"failed_count"`
	DeletedItems      []string           `json:"deleted_items"`
	FailedItems       []ItemFailure      `json:"failed_items"`
	SkippedBlobs      int                `json:"skipped_blobs"`
	ReconciledTickets []string           `json:"reconciled_tickets"`
	ReconcileFailures []ReconcileFailure `json:"reconcile_failures"`
	DriftScanError    string             `json:"drift_scan_error,omitempty"`
	Interrupted       bool               `json:"interrupted"`
}

// Options tunes an Engine.
type Options struct {
	// Parallelism bounds concurrent item deletions. Values below 1 mean 1.
	Parallelism int
	Logger      *zap.Logger
}

// Engine runs retention sweeps. It keeps no state between sweeps.
type Engine struct {
	attachments AttachmentStore
	tickets     TicketFlagStore
	blobs       BlobDeleter
	keyFor      KeyFunc
	parallelism int
	logger      *zap.Logger
}

// NewEngine builds an engine over its collaborators.
func NewEngine(attachments AttachmentStore, tickets TicketFlagStore, blobs BlobDeleter, keyFor KeyFunc, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	return &Engine{
		attachments: attachments,
		tickets:     tickets,
		blobs:       blobs,
		keyFor:      keyFor,
		parallelism: parallelism,
		logger:      logger,
	}
}

// RunSweep deletes every attachment created strictly before now-window, then
// recomputes the flag of every ticket it touched plus any ticket whose flag
// drifted earlier. The returned error is non-nil only when candidates could
// not be listed; item and reconciliation failures are reported, never
// returned.
//
// Cancelling ctx stops new items from starting. An item already started runs
// to completion so its blob and row are never left half removed.
func (e *Engine) RunSweep(ctx context.Context, now time.Time, window time.Duration) (*Report, error) {
	cutoff := now.Add(-window)
	report := &Report{
		Cutoff:            cutoff,
		DeletedItems:      []string{},
		FailedItems:       []ItemFailure{},
		ReconciledTickets: []string{},
		ReconcileFailures: []ReconcileFailure{},
	}

	candidates, err := e.attachments.ListCreatedBefore(ctx, cutoff)
	if err != nil {
		return nil, goerr.Wrap(err, "list expired attachments", goerr.V("cutoff", cutoff))
	}
	report.Candidates = len(candidates)
	detached := context.WithoutCancel(ctx)

	var (
		mu      sync.Mutex
		touched = map[string]struct{}{}
	)
	group := new(errgroup.Group)
	group.SetLimit(e.parallelism)

	for i := range candidates {
		if ctx.Err() != nil {
			mu.Lock()
			report.Interrupted = true
			mu.Unlock()
			break
		}
		att := candidates[i]
		group.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				report.Interrupted = true
				mu.Unlock()
				return nil
			}
			skipped, stage, err := e.purge(detached, att)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.FailedItems = append(report.FailedItems, ItemFailure{
					AttachmentID: att.ID,
					TicketID:     att.TicketID,
					Stage:        stage,
					Error:        err.Error(),
				})
				e.logger.Warn("retention item failed",
					zap.String("attachment_id", att.ID),
					zap.String("ticket_id", att.TicketID),
					zap.String("stage", string(stage)),
					zap.Error(err))
				return nil
			}
			if skipped {
				report.SkippedBlobs++
			}
			report.DeletedItems = append(report.DeletedItems, att.ID)
			touched[att.TicketID] = struct{}{}
			return nil
		})
	}
	_ = group.Wait()

	sort.Strings(report.DeletedItems)
	sort.Slice(report.FailedItems, func(i, j int) bool {
		return report.FailedItems[i].AttachmentID < report.FailedItems[j].AttachmentID
	})
	report.DeletedCount = len(report.DeletedItems)
	report.FailedCount = len(report.FailedItems)

	// Flags are repaired even if the caller gave up, since the rows are gone.
	e.collectDrift(detached, touched, report)
	e.reconcile(detached, touched, report)
	return report, nil
}

// purge removes one attachment's blob and row. skipped is true when the URL
// did not map to a storage key.
func (e *Engine) purge(ctx context.Context, att domain.Attachment) (skipped bool, stage Stage, err error) {
	key, ok := "", false
	if e.keyFor != nil {
		key, ok = e.keyFor(att.URL)
	}
	if ok {
		if err := e.blobs.Delete(ctx, key); err != nil {
			return false, StageBlob, goerr.Wrap(err, "delete attachment blob",
				goerr.V("attachment_id", att.ID), goerr.V("key", key))
		}
	} else {
		skipped = true
	}
	if err := e.attachments.Delete(ctx, att.ID); err != nil {
		return false, StageRow, goerr.Wrap(err, "delete attachment row",
			goerr.V("attachment_id", att.ID), goerr.V("ticket_id", att.TicketID))
	}
	return skipped, "", nil
}

// collectDrift adds tickets left inconsistent by an earlier failed reconcile
// or a lost race with an upload.
func (e *Engine) collectDrift(ctx context.Context, touched map[string]struct{}, report *Report) {
	drifted, err := e.tickets.ListFlagDrift(ctx)
	if err != nil {
		report.DriftScanError = err.Error()
		e.logger.Warn("retention drift scan failed", zap.Error(err))
		return
	}
	for _, id := range drifted {
		touched[id] = struct{}{}
	}
	if len(drifted) > 0 {
		e.logger.Info("retention repairing drifted flags", zap.Strings("ticket_ids", drifted))
	}
}

func (e *Engine) reconcile(ctx context.Context, touched map[string]struct{}, report *Report) {
	ticketIDs := make([]string, 0, len(touched))
	for id := range touched {
		ticketIDs = append(ticketIDs, id)
	}
	sort.Strings(ticketIDs)

	for _, ticketID := range ticketIDs {
		if err := e.reconcileTicket(ctx, ticketID); err != nil {
			report.ReconcileFailures = append(report.ReconcileFailures, ReconcileFailure{TicketID: ticketID, Error: err.Error()})
			e.logger.Warn("retention reconcile failed", zap.String("ticket_id", ticketID), zap.Error(err))
			continue
		}
		report.ReconciledTickets = append(report.ReconciledTickets, ticketID)
	}
}

func (e *Engine) reconcileTicket(ctx context.Context, ticketID string) error {
	if _, err := e.tickets.RecomputeHasAttachments(ctx, ticketID); err != nil {
		return goerr.Wrap(err, "recompute has_attachments", goerr.V("ticket_id", ticketID))
	}
	return nil
}
