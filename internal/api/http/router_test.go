package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk-service/internal/api/http"
	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/lifecycle"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/retention"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

type stubUsers struct {
	users map[string]*domain.User
}

func (s *stubUsers) Create(context.Context, *domain.User) error { return nil }
func (s *stubUsers) Update(context.Context, *domain.User) error { return nil }
func (s *stubUsers) GetByEmail(context.Context, string) (*domain.User, error) {
	return nil, pgx.ErrNoRows
}
func (s *stubUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

type stubTickets struct {
	ticket *domain.Ticket
}

func (s *stubTickets) CreateTicket(_ context.Context, caller *domain.User, input service.TicketCreateInput) (*domain.Ticket, error) {
	return &domain.Ticket{ID: "t-new", Title: input.Title, Status: domain.TicketStatusOpen, CreatedBy: caller.ID}, nil
}

func (s *stubTickets) GetTicket(context.Context, *domain.User, string) (*domain.Ticket, error) {
	return s.ticket, nil
}

func (s *stubTickets) ListTransitions(_ context.Context, caller *domain.User, _ string) (*domain.Ticket, []domain.TicketStatus, error) {
	return s.ticket, lifecycle.AvailableTransitions(s.ticket, caller.Role, caller.ID), nil
}

func (s *stubTickets) UpdateStatus(_ context.Context, caller *domain.User, _ string, target domain.TicketStatus, _ string) (*domain.Ticket, error) {
	decision := lifecycle.ValidateTransition(s.ticket, caller.Role, caller.ID, target)
	if !decision.Allowed() {
		return nil, service.NewTransitionDenied(decision)
	}
	updated := *s.ticket
	updated.Status = target
	return &updated, nil
}

func (s *stubTickets) Assign(context.Context, *domain.User, string, service.AssignmentInput) (*domain.Ticket, error) {
	return s.ticket, nil
}

func (s *stubTickets) ListHistory(context.Context, *domain.User, string, int, int) ([]domain.TicketHistory, error) {
	return nil, nil
}

type stubAttachments struct {
	uploaded []string
}

func (s *stubAttachments) List(context.Context, *domain.User, string) ([]domain.Attachment, error) {
	return nil, nil
}

func (s *stubAttachments) Upload(_ context.Context, caller *domain.User, ticketID string, input service.UploadInput) (*domain.Attachment, error) {
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	s.uploaded = append(s.uploaded, string(body))
	return &domain.Attachment{ID: "att-1", TicketID: ticketID, FileName: input.FileName, SizeBytes: input.SizeBytes, UploadedBy: caller.ID}, nil
}

func (s *stubAttachments) Delete(context.Context, *domain.User, string, string) error {
	return nil
}

type stubRetention struct {
	err         error
	hadDeadline bool
}

func (s *stubRetention) Sweep(ctx context.Context, _ string) (*retention.Report, error) {
	_, s.hadDeadline = ctx.Deadline()
	if s.err != nil {
		return nil, s.err
	}
	return &retention.Report{DeletedCount: 2, DeletedItems: []string{"a-1", "a-2"}}, nil
}

func (s *stubRetention) Window() time.Duration { return 90 * 24 * time.Hour }

type stubAccounts struct{}

func (stubAccounts) RegisterUser(context.Context, string, string, string) (*domain.User, string, time.Time, error) {
	return nil, "", time.Time{}, apperrors.NewConflict("email already registered", nil)
}

func (stubAccounts) LoginUser(context.Context, string, string) (*domain.User, string, time.Time, error) {
	return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
}

func (stubAccounts) ChangeRole(_ context.Context, _ *domain.User, userID string, role domain.Role) (*domain.User, error) {
	return &domain.User{ID: userID, Role: role, Status: domain.UserStatusActive}, nil
}

func (stubAccounts) SetUserStatus(_ context.Context, _ *domain.User, userID string, status domain.UserStatus) (*domain.User, error) {
	return &domain.User{ID: userID, Role: domain.RoleUser, Status: status}, nil
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	app         *fiber.App
	tokens      *auth.TokenManager
	retention   *stubRetention
	attachments *stubAttachments
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	users := &stubUsers{users: map[string]*domain.User{
		"u-init":     {ID: "u-init", Role: domain.RoleUser, Status: domain.UserStatusActive},
		"u-assignee": {ID: "u-assignee", Role: domain.RoleAgent, Status: domain.UserStatusActive},
		"u-admin":    {ID: "u-admin", Role: domain.RoleAdmin, Status: domain.UserStatusActive},
		"u-gone":     {ID: "u-gone", Role: domain.RoleAgent, Status: domain.UserStatusSuspended},
	}}
	assignee := "u-assignee"
	srv := &testServer{
		tokens:      auth.NewTokenManager("test-secret", 5),
		retention:   &stubRetention{},
		attachments: &stubAttachments{},
	}
	tickets := &stubTickets{ticket: &domain.Ticket{ID: "t-1", Status: domain.TicketStatusOpen, CreatedBy: "u-init", AssignedTo: &assignee}}

	srv.app = fiber.New()
	httptransport.RegisterMiddlewares(srv.app, zap.NewNop(), observability.NewMetrics(), time.Second)
	httptransport.RegisterRoutes(srv.app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler("helpdesk", "test", map[string]handlers.Pinger{
			"postgres": pingFunc(func(context.Context) error { return nil }),
		}),
		Users:          handlers.NewUsersHandler(stubAccounts{}),
		Tickets:        handlers.NewTicketsHandler(tickets),
		Attachments:    handlers.NewAttachmentsHandler(srv.attachments),
		Admin:          handlers.NewAdminHandler(srv.retention, stubAccounts{}),
		AuthMiddleware: auth.NewAuthMiddleware(srv.tokens, users).Handle,
	})
	return srv
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.send(t, req, userID)
}

func (s *testServer) send(t *testing.T, req *http.Request, userID string) (int, map[string]any) {
	t.Helper()
	if userID != "" {
		token, _, err := s.tokens.GenerateToken(userID, "")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func errorCode(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)
	status, body := srv.do(t, http.MethodGet, "/health/live", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "alive", body["status"])

	status, body = srv.do(t, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ready", body["status"])
}

func TestReadinessReportsFailedDependency(t *testing.T) {
	app := fiber.New()
	health := handlers.NewHealthHandler("helpdesk", "test", map[string]handlers.Pinger{
		"redis": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	app.Get("/health/ready", health.Ready)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t)
	status, body := srv.do(t, http.MethodGet, "/tickets/t-1", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "UNAUTHORIZED", errorCode(body))

	status, _ = srv.do(t, http.MethodGet, "/tickets/t-1", "u-gone", nil)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestUpdateStatusResponses(t *testing.T) {
	srv := newTestServer(t)

	status, body := srv.do(t, http.MethodPatch, "/tickets/t-1/status", "u-assignee", map[string]string{"status": "on-hold"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "on-hold", body["data"].(map[string]any)["status"])

	status, body = srv.do(t, http.MethodPatch, "/tickets/t-1/status", "u-init", map[string]string{"status": "on-hold"})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "TRANSITION_UNAUTHORIZED", errorCode(body))

	status, body = srv.do(t, http.MethodPatch, "/tickets/t-1/status", "u-admin", map[string]string{"status": "closed"})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "INVALID_TRANSITION", errorCode(body))
	details := body["error"].(map[string]any)["details"].(map[string]any)
	require.Equal(t, "InvalidTransition", details["reason"])

	status, body = srv.do(t, http.MethodPatch, "/tickets/t-1/status", "u-admin", map[string]string{"status": "bogus"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "VALIDATION_FAILED", errorCode(body))
}

func TestTransitionsMenu(t *testing.T) {
	srv := newTestServer(t)
	status, body := srv.do(t, http.MethodGet, "/tickets/t-1/transitions", "u-init", nil)
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	require.Equal(t, []any{"initiator"}, data["relationships"])
	available := data["available"].([]any)
	require.Len(t, available, 1)
	require.Equal(t, "deleted", available[0].(map[string]any)["status"])
}

func TestAttachmentUpload(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "screenshot.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/tickets/t-1/attachments", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	status, body := srv.send(t, req, "u-init")
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "screenshot.png", body["data"].(map[string]any)["file_name"])
	require.Equal(t, []string{"png-bytes"}, srv.attachments.uploaded)

	status, body = srv.do(t, http.MethodPost, "/tickets/t-1/attachments", "u-init", map[string]string{})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "VALIDATION_FAILED", errorCode(body))
}

func TestManualRetentionSweep(t *testing.T) {
	srv := newTestServer(t)

	status, _ := srv.do(t, http.MethodPost, "/admin/retention/sweeps", "u-assignee", nil)
	require.Equal(t, http.StatusForbidden, status)

	status, body := srv.do(t, http.MethodPost, "/admin/retention/sweeps", "u-admin", nil)
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	require.Equal(t, "manual", data["trigger"])
	require.EqualValues(t, 90, data["window_days"])
	require.EqualValues(t, 2, data["report"].(map[string]any)["deleted_count"])
	require.False(t, srv.retention.hadDeadline)

	srv.retention.err = retention.ErrSweepInProgress
	status, body = srv.do(t, http.MethodPost, "/admin/retention/sweeps", "u-admin", nil)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "CONFLICT", errorCode(body))
}

func TestAdminChangesRole(t *testing.T) {
	srv := newTestServer(t)
	status, body := srv.do(t, http.MethodPut, "/admin/users/u-init/role", "u-admin", map[string]string{"role": "agent"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "agent", body["data"].(map[string]any)["role"])
}

func TestAuthErrorsPassThrough(t *testing.T) {
	srv := newTestServer(t)
	status, body := srv.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "a@b.c", "password": "x"})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "UNAUTHORIZED", errorCode(body))
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t)
	status, body := srv.do(t, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "NOT_FOUND", errorCode(body))
}
