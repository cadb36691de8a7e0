package retention_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/retention"
)

const publicBase = "https://storage.example.com/bucket/"

var day = 24 * time.Hour

type memoryStore struct {
	mu          sync.Mutex
	attachments map[string]domain.Attachment
	flags       map[string]bool
	failDelete  map[string]error
	failFlag    map[string]error
	failList    error
	failDrift   error
	flagWrites  map[string]int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		attachments: map[string]domain.Attachment{},
		flags:       map[string]bool{},
		failDelete:  map[string]error{},
		failFlag:    map[string]error{},
		flagWrites:  map[string]int{},
	}
}

func (m *memoryStore) add(id, ticketID string, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachments[id] = domain.Attachment{
		ID:        id,
		TicketID:  ticketID,
		FileName:  id + ".txt",
		URL:       publicBase + "tickets/" + ticketID + "/" + id,
		CreatedAt: createdAt,
	}
	m.flags[ticketID] = true
}

func (m *memoryStore) ListCreatedBefore(_ context.Context, cutoff time.Time) ([]domain.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	var out []domain.Attachment
	for _, a := range m.attachments {
		if a.CreatedAt.Before(cutoff) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failDelete[id]; err != nil {
		return err
	}
	delete(m.attachments, id)
	return nil
}

func (m *memoryStore) RecomputeHasAttachments(_ context.Context, ticketID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFlag[ticketID]; err != nil {
		return false, err
	}
	has := m.hasRowsLocked(ticketID)
	m.flags[ticketID] = has
	m.flagWrites[ticketID]++
	return has, nil
}

func (m *memoryStore) ListFlagDrift(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDrift != nil {
		return nil, m.failDrift
	}
	var ids []string
	for id, flag := range m.flags {
		if flag != m.hasRowsLocked(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memoryStore) hasRowsLocked(ticketID string) bool {
	for _, a := range m.attachments {
		if a.TicketID == ticketID {
			return true
		}
	}
	return false
}

type memoryBlobs struct {
	mu       sync.Mutex
	deleted  []string
	fail     map[string]error
	onDelete func(ctx context.Context, key string)
}

func (b *memoryBlobs) Delete(ctx context.Context, key string) error {
	if b.onDelete != nil {
		b.onDelete(ctx, key)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail[key]; err != nil {
		return err
	}
	b.deleted = append(b.deleted, key)
	return nil
}

func keyFromURL(url string) (string, bool) {
	if !strings.HasPrefix(url, publicBase) {
		return "", false
	}
	return strings.TrimPrefix(url, publicBase), true
}

func newEngine(store *memoryStore, blobs *memoryBlobs, parallelism int) *retention.Engine {
	return retention.NewEngine(store, store, blobs, keyFromURL, retention.Options{Parallelism: parallelism})
}

func TestRunSweepEmpty(t *testing.T) {
	store := newMemoryStore()
	engine := newEngine(store, &memoryBlobs{}, 1)
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	report, err := engine.RunSweep(context.Background(), now, 90*day)
	require.NoError(t, err)
	require.Zero(t, report.DeletedCount)
	require.Zero(t, report.FailedCount)
	require.Empty(t, report.FailedItems)
	require.Equal(t, now.Add(-90*day), report.Cutoff)
}

func TestRunSweepWindowBoundary(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	store.add("old", "t-1", now.Add(-91*day))
	store.add("young", "t-1", now.Add(-89*day))
	blobs := &memoryBlobs{}

	report, err := newEngine(store, blobs, 1).RunSweep(context.Background(), now, 90*day)
	require.NoError(t, err)
	require.Equal(t, []string{"old"}, report.DeletedItems)
	require.Equal(t, []string{"tickets/t-1/old"}, blobs.deleted)
	require.True(t, store.flags["t-1"])
}

func TestRunSweepReconcilesFlags(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	store.add("only", "lonely", now.Add(-100*day))
	store.add("a", "pair", now.Add(-100*day))
	store.add("b", "pair", now.Add(-10*day))
	store.add("c", "busy", now.Add(-100*day))
	store.add("d", "busy", now.Add(-95*day))

	report, err := newEngine(store, &memoryBlobs{}, 3).RunSweep(context.Background(), now, 90*day)
	require.NoError(t, err)
	require.Equal(t, 4, report.DeletedCount)
	require.False(t, store.flags["lonely"])
	require.True(t, store.flags["pair"])
	require.False(t, store.flags["busy"])
	require.Equal(t, []string{"busy", "lonely", "pair"}, report.ReconciledTickets)
	require.Equal(t, 1, store.flagWrites["busy"])
}

func TestRunSweepIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	store.add("x", "t-1", now.Add(-200*day))
	engine := newEngine(store, &memoryBlobs{}, 2)

	first, err := engine.RunSweep(context.Background(), now, 90*day)
	require.NoError(t, err)
	require.Equal(t, 1, first.DeletedCount)

	second, err := engine.RunSweep(context.Background(), now, 90*day)
	require.NoError(t, err)
	require.Zero(t, second.Candidates)
	require.Zero(t, second.DeletedCount)
	require.Zero(t, second.FailedCount)
	require.Empty(t, second.ReconciledTickets)
}

func TestRunSweepIsolatesFailures(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	store.add("A", "t-a", now.Add(-100*day))
	store.add("B", "t-b", now.Add(-100*day))
	blobs := &memoryBlobs{fail: map[string]error{"tickets/t-a/A": errors.New("storage unavailable")}}
	engine := newEngine(store, blobs, 2)

	report, err := engine.RunSweep(context.Background(), now, 90*day)
	require.NoError(t, err)
	require.Equal(t, []string{"B"}, report.DeletedItems)
	require.Len(t, report.FailedItems, 1)
	require.Equal(t, "A", report.FailedItems[0].AttachmentID)
	require.Equal(t, "t-a", report.FailedItems[0].TicketID)
	require.Equal(t, retention.StageBlob, report.FailedItems[0].Stage)
	require.Contains(t, report.FailedItems[0].Error, "storage unavailable")
	require.True(t, store.flags["t-a"])
	require.False(t, store.flags["t-b"])
	require.Equal(t, []string{"t-b"}, report.ReconciledTickets)

	blobs.fail = nil
	retry, err := engine.RunSweep(context.Background(), now, 90*day)
	require.NoError(t, err)
	require.Equal(t, []string{"A"}, retry.DeletedItems)
	require.Zero(t, retry.FailedCount)
	require.False(t, store.flags["t-a"])
}

func TestRunSweepRowFailureKeepsItemFailed(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	store.add("A", "t-a", now.Add(-100*day))
	store.failDelete["A"] = errors.New("db down")
	blobs := &memoryBlobs{}

	report, err := newEngine(store, blobs, 1).RunSweep(context.Background(), now, 90*day)
	require.NoError(t, err)
	require.Equal(t, 1, report.FailedCount)
	require.Equal(t, retention.StageRow, report.FailedItems[0].Stage)
	require.Empty(t, report.ReconciledTickets)
	require.True(t, store.flags["t-a"])

	delete(store.failDelete, "A")
	report, err = newEngine(store, blobs, 1).RunSweep(context.Background(), now, 90*day)
	require.NoError(t, err)
	require.Equal(t, 1, report.DeletedCount)
	require.Equal(t, []string{"tickets/t-a/A", "tickets/t-a/A"}, blobs.deleted)
}

func TestRunSweepForeignURLSkipsBlob(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	store.add("ext", "t-1", now.Add(-100*day))
	store.attachments["ext"] = domain.Attachment{ID: "ext", TicketID: "t-1", URL: "https://elsewhere.example.org/file", CreatedAt: now.Add(-100 * day)}
	blobs := &memoryBlobs{}

	report, err := newEngine(store, blobs, 1).RunSweep(context.Background(), now, 90*day)
	require.NoError(t, err)
	require.Equal(t, 1, report.DeletedCount)
	require.Equal(t, 1, report.SkippedBlobs)
	require.Empty(t, blobs.deleted)
	require.False(t, store.flags["t-1"])
}

func TestRunSweepListFailureIsJobLevel(t *testing.T) {
	store := newMemoryStore()
	store.failList = errors.New("connection refused")

	report, err := newEngine(store, &memoryBlobs{}, 1).RunSweep(context.Background(), time.Now(), 90*day)
	require.Error(t, err)
	require.Nil(t, report)
	require.Contains(t, err.Error(), "connection refused")
}

func TestRunSweepReconcileFailureReported(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	store.add("A", "t-a", now.Add(-100*day))
	store.failFlag["t-a"] = errors.New("update failed")

	report, err := newEngine(store, &memoryBlobs{}, 1).RunSweep(context.Background(), now, 90*day)
	require.NoError(t, err)
	require.Equal(t, 1, report.DeletedCount)
	require.Len(t, report.ReconcileFailures, 1)
	require.Equal(t, "t-a", report.ReconcileFailures[0].TicketID)
}

func TestRunSweepCancelledContextLeavesItemsUntouched(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	store.add("A", "t-a", now.Add(-100*day))
	store.add("B", "t-b", now.Add(-100*day))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newEngine(store, &memoryBlobs{}, 1).RunSweep(ctx, now, 90*day)
	require.NoError(t, err)
	require.True(t, report.Interrupted)
	require.Zero(t, report.DeletedCount)
	require.Zero(t, report.FailedCount)
	require.Len(t, store.attachments, 2)
}

func TestRunSweepRepairsFlagLeftByFailedReconcile(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	store.add("A", "t-a", now.Add(-100*day))
	store.failFlag["t-a"] = errors.New("update failed")
	engine := newEngine(store, &memoryBlobs{}, 1)

	first, err := engine.RunSweep(context.Background(), now, 90*day)
	require.NoError(t, err)
	require.Equal(t, 1, first.DeletedCount)
	require.Len(t, first.ReconcileFailures, 1)
	require.True(t, store.flags["t-a"])

	delete(store.failFlag, "t-a")
	second, err := engine.RunSweep(context.Background(), now, 90*day)
	require.NoError(t, err)
	require.Zero(t, second.Candidates)
	require.Equal(t, []string{"t-a"}, second.ReconciledTickets)
	require.Empty(t, second.ReconcileFailures)
	require.False(t, store.flags["t-a"])
}

func TestRunSweepDriftScanFailureReported(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	store.add("A", "t-a", now.Add(-100*day))
	store.failDrift = errors.New("scan failed")

	report, err := newEngine(store, &memoryBlobs{}, 1).RunSweep(context.Background(), now, 90*day)
	require.NoError(t, err)
	require.Equal(t, 1, report.DeletedCount)
	require.Contains(t, report.DriftScanError, "scan failed")
	require.Equal(t, []string{"t-a"}, report.ReconciledTickets)
	require.False(t, store.flags["t-a"])
}

func TestRunSweepFlagSeesUploadDuringSweep(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	store.add("old", "t-1", now.Add(-100*day))
	blobs := &memoryBlobs{onDelete: func(context.Context, string) {
		store.add("fresh", "t-1", now)
	}}

	report, err := newEngine(store, blobs, 1).RunSweep(context.Background(), now, 90*day)
	require.NoError(t, err)
	require.Equal(t, []string{"old"}, report.DeletedItems)
	require.True(t, store.flags["t-1"])
	require.Contains(t, store.attachments, "fresh")
}

func TestRunSweepCancelMidItemFinishesThatItem(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	store.add("A", "t-a", now.Add(-100*day))
	store.add("B", "t-b", now.Add(-100*day))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	blobs := &memoryBlobs{onDelete: func(context.Context, string) { cancel() }}

	report, err := newEngine(store, blobs, 1).RunSweep(ctx, now, 90*day)
	require.NoError(t, err)
	require.True(t, report.Interrupted)
	require.Equal(t, []string{"A"}, report.DeletedItems)
	require.Zero(t, report.FailedCount)
	require.Equal(t, []string{"tickets/t-a/A"}, blobs.deleted)
	require.NotContains(t, store.attachments, "A")
	require.Contains(t, store.attachments, "B")
	require.False(t, store.flags["t-a"])
	require.True(t, store.flags["t-b"])
}
