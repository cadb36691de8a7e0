package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/retention"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// TicketUseCases is implemented by service.TicketService.
type TicketUseCases interface {
	CreateTicket(ctx context.Context, caller *domain.User, input service.TicketCreateInput) (*domain.Ticket, error)
	GetTicket(ctx context.Context, caller *domain.User, ticketID string) (*domain.Ticket, error)
	ListTransitions(ctx context.Context, caller *domain.User, ticketID string) (*domain.Ticket, []domain.TicketStatus, error)
	UpdateStatus(ctx context.Context, caller *domain.User, ticketID string, target domain.TicketStatus, comment string) (*domain.Ticket, error)
	Assign(ctx context.Context, caller *domain.User, ticketID string, input service.AssignmentInput) (*domain.Ticket, error)
	ListHistory(ctx context.Context, caller *domain.User, ticketID string, limit, offset int) ([]domain.TicketHistory, error)
}

// AttachmentUseCases is implemented by service.AttachmentService.
type AttachmentUseCases interface {
	List(ctx context.Context, caller *domain.User, ticketID string) ([]domain.Attachment, error)
	Upload(ctx context.Context, caller *domain.User, ticketID string, input service.UploadInput) (*domain.Attachment, error)
	Delete(ctx context.Context, caller *domain.User, ticketID, attachmentID string) error
}

// RetentionUseCases is implemented by service.RetentionService.
type RetentionUseCases interface {
	Sweep(ctx context.Context, trigger string) (*retention.Report, error)
	Window() time.Duration
}

// AccountUseCases is implemented by service.AuthService.
type AccountUseCases interface {
	RegisterUser(ctx context.Context, name, email, password string) (*domain.User, string, time.Time, error)
	LoginUser(ctx context.Context, email, password string) (*domain.User, string, time.Time, error)
	ChangeRole(ctx context.Context, caller *domain.User, userID string, role domain.Role) (*domain.User, error)
	SetUserStatus(ctx context.Context, caller *domain.User, userID string, status domain.UserStatus) (*domain.User, error)
}

func currentUser(c *fiber.Ctx) (*domain.User, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("user required")
	}
	return principal.User, nil
}
