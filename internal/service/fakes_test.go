package service_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/storage"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type fakeUsers struct {
	mu    sync.Mutex
	byID  map[string]*domain.User
	seq   int
	fails error
}

func newFakeUsers(users ...*domain.User) *fakeUsers {
	f := &fakeUsers{byID: map[string]*domain.User{}}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsers) Create(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails != nil {
		return f.fails
	}
	f.seq++
	user.ID = fmt.Sprintf("user-%d", f.seq)
	user.CreatedAt, user.UpdatedAt = fixedNow, fixedNow
	cp := *user
	f.byID[user.ID] = &cp
	return nil
}

func (f *fakeUsers) Update(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[user.ID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *user
	f.byID[user.ID] = &cp
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type fakeTickets struct {
	mu        sync.Mutex
	byID      map[string]*domain.Ticket
	seq       int
	staleNext bool
	rows      func(ticketID string) bool
}

func newFakeTickets(tickets ...*domain.Ticket) *fakeTickets {
	f := &fakeTickets{byID: map[string]*domain.Ticket{}}
	for _, t := range tickets {
		f.byID[t.ID] = t
	}
	return f
}

func (f *fakeTickets) Create(_ context.Context, ticket *domain.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	ticket.ID = fmt.Sprintf("ticket-%d", f.seq)
	ticket.CreatedAt, ticket.UpdatedAt = fixedNow, fixedNow
	cp := *ticket
	f.byID[ticket.ID] = &cp
	return nil
}

func (f *fakeTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTickets) UpdateStatus(_ context.Context, id string, expected, next domain.TicketStatus, closedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if f.staleNext || t.Status != expected {
		return repository.ErrStaleStatus
	}
	t.Status = next
	t.ClosedAt = closedAt
	return nil
}

func (f *fakeTickets) UpdateAssignment(_ context.Context, id string, assignedTo, spocUserID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	t.AssignedTo = assignedTo
	t.SPOCUserID = spocUserID
	return nil
}

func (f *fakeTickets) markHasAttachments(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	t.HasAttachments = true
	return nil
}

func (f *fakeTickets) RecomputeHasAttachments(_ context.Context, id string) (bool, error) {
	has := f.rows != nil && f.rows(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return false, pgx.ErrNoRows
	}
	t.HasAttachments = has
	return has, nil
}

func (f *fakeTickets) ListFlagDrift(_ context.Context) ([]string, error) {
	f.mu.Lock()
	flags := make(map[string]bool, len(f.byID))
	for id, t := range f.byID {
		flags[id] = t.HasAttachments
	}
	f.mu.Unlock()

	var ids []string
	for id, flag := range flags {
		if flag != (f.rows != nil && f.rows(id)) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeTickets) status(id string) domain.TicketStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id].Status
}

func (f *fakeTickets) hasAttachments(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id].HasAttachments
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []domain.TicketHistory
}

func (f *fakeHistory) Create(_ context.Context, entry *domain.TicketHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = fmt.Sprintf("history-%d", len(f.entries)+1)
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeHistory) ListByTicket(_ context.Context, ticketID string, _, _ int) ([]domain.TicketHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TicketHistory
	for _, e := range f.entries {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeAttachments struct {
	mu        sync.Mutex
	byID      map[string]domain.Attachment
	tickets   *fakeTickets
	seq       int
	createErr error
}

func newFakeAttachments(tickets *fakeTickets) *fakeAttachments {
	f := &fakeAttachments{byID: map[string]domain.Attachment{}, tickets: tickets}
	tickets.rows = f.hasRows
	return f
}

func (f *fakeAttachments) Create(_ context.Context, att *domain.Attachment) error {
	f.mu.Lock()
	if f.createErr != nil {
		f.mu.Unlock()
		return f.createErr
	}
	f.seq++
	att.ID = fmt.Sprintf("att-%d", f.seq)
	att.CreatedAt = fixedNow
	f.byID[att.ID] = *att
	f.mu.Unlock()
	return f.tickets.markHasAttachments(att.TicketID)
}

func (f *fakeAttachments) GetByID(_ context.Context, id string) (*domain.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	att, ok := f.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &att, nil
}

func (f *fakeAttachments) ListByTicket(_ context.Context, ticketID string) ([]domain.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Attachment{}
	for _, att := range f.byID {
		if att.TicketID == ticketID {
			out = append(out, att)
		}
	}
	return out, nil
}

func (f *fakeAttachments) ListCreatedBefore(_ context.Context, cutoff time.Time) ([]domain.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Attachment
	for _, att := range f.byID {
		if att.CreatedAt.Before(cutoff) {
			out = append(out, att)
		}
	}
	return out, nil
}

func (f *fakeAttachments) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	return nil
}

func (f *fakeAttachments) hasRows(ticketID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, att := range f.byID {
		if att.TicketID == ticketID {
			return true
		}
	}
	return false
}

const blobBase = "https://blobs.example.com/bucket/"

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (f *fakeBlobs) Put(_ context.Context, key, _ string, r io.Reader) (storage.Object, error) {
	if f.putErr != nil {
		return storage.Object{}, f.putErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return storage.Object{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = buf.Bytes()
	return storage.Object{URL: blobBase + key, Key: key}, nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobs) KeyFromURL(url string) (string, bool) {
	return storage.KeyFromURL(blobBase, url)
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func recordAll(d events.Dispatcher, types ...events.EventType) *recordedEvents {
	rec := &recordedEvents{}
	for _, et := range types {
		d.Subscribe(et, func(_ context.Context, e events.Event) error {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.events = append(rec.events, e)
			return nil
		})
	}
	return rec
}

func (r *recordedEvents) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func strPtr(s string) *string { return &s }

func user(id string, role domain.Role) *domain.User {
	return &domain.User{ID: id, Name: id, Email: id + "@example.com", Role: role, Status: domain.UserStatusActive}
}
