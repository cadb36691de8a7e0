package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// AuthService coordinates registration, login and account administration.
type AuthService struct {
	users      repository.UserRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
	adminEmail string
	logger     *zap.Logger
}

// NewAuthService builds the service. logger may be nil.
func NewAuthService(cfg config.AuthConfig, users repository.UserRepository, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      users,
		tokenMgr:   auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
		bcryptCost: cfg.BcryptCost,
		adminEmail: normalizeEmail(cfg.AdminBootstrapEmail),
		logger:     logger,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterUser creates a new requester account. Staff roles are granted by an
// admin afterwards, except for the bootstrap address which registers as an
// admin.
func (s *AuthService) RegisterUser(ctx context.Context, name, email, password string) (*domain.User, string, time.Time, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" {
		return nil, "", time.Time{}, apperrors.NewValidationError("name required", nil)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", time.Time{}, apperrors.NewValidationError("invalid email", nil)
	}
	if err := auth.ValidatePassword(password); err != nil {
		return nil, "", time.Time{}, apperrors.NewValidationError(err.Error(), map[string]any{
			"min_length": auth.MinPasswordLength,
			"max_length": auth.MaxPasswordLength,
		})
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, "", time.Time{}, apperrors.NewConflict("email already registered", nil)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, "", time.Time{}, apperrors.MapError(err)
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}

	role := domain.RoleUser
	if s.adminEmail != "" && email == s.adminEmail {
		role = domain.RoleAdmin
	}
	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       domain.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, "", time.Time{}, apperrors.MapError(err)
	}
	if role == domain.RoleAdmin {
		s.logger.Info("bootstrap admin registered", zap.String("user_id", user.ID))
	}

	token, exp, err := s.tokenMgr.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}
	return user, token, exp, nil
}

// LoginUser authenticates any account.
func (s *AuthService) LoginUser(ctx context.Context, email, password string) (*domain.User, string, time.Time, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, "", time.Time{}, apperrors.MapError(err)
	}
	if !auth.PasswordMatches(user.PasswordHash, password) {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	if user.Status != domain.UserStatusActive {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("user suspended")
	}
	token, exp, err := s.tokenMgr.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}
	return user, token, exp, nil
}

// ChangeRole sets a user's role. It applies to the user's next request.
func (s *AuthService) ChangeRole(ctx context.Context, caller *domain.User, userID string, role domain.Role) (*domain.User, error) {
	if !role.IsValid() {
		return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": string(role)})
	}
	user, err := s.loadForAdmin(ctx, caller, userID)
	if err != nil {
		return nil, err
	}
	if user.ID == caller.ID && role != domain.RoleAdmin {
		return nil, apperrors.NewConflict("admins cannot demote themselves", nil)
	}
	user.Role = role
	if err := s.users.Update(ctx, user); err != nil {
		return nil, apperrors.MapError(err)
	}
	return user, nil
}

// SetUserStatus suspends or reactivates an account.
func (s *AuthService) SetUserStatus(ctx context.Context, caller *domain.User, userID string, status domain.UserStatus) (*domain.User, error) {
	if status != domain.UserStatusActive && status != domain.UserStatusSuspended {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": string(status)})
	}
	user, err := s.loadForAdmin(ctx, caller, userID)
	if err != nil {
		return nil, err
	}
	if user.ID == caller.ID && status != domain.UserStatusActive {
		return nil, apperrors.NewConflict("admins cannot suspend themselves", nil)
	}
	user.Status = status
	if err := s.users.Update(ctx, user); err != nil {
		return nil, apperrors.MapError(err)
	}
	return user, nil
}

// BootstrapAdmin promotes the configured bootstrap account to an active admin.
// It is a no-op when no address is configured or no such account exists yet;
// that account becomes admin when it registers.
func (s *AuthService) BootstrapAdmin(ctx context.Context) (promoted bool, err error) {
	if s.adminEmail == "" {
		return false, nil
	}
	user, err := s.users.GetByEmail(ctx, s.adminEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Info("bootstrap admin not registered yet")
			return false, nil
		}
		return false, err
	}
	if user.Role == domain.RoleAdmin && user.Status == domain.UserStatusActive {
		return false, nil
	}
	user.Role = domain.RoleAdmin
	user.Status = domain.UserStatusActive
	if err := s.users.Update(ctx, user); err != nil {
		return false, err
	}
	s.logger.Info("bootstrap admin promoted", zap.String("user_id", user.ID))
	return true, nil
}

func (s *AuthService) loadForAdmin(ctx context.Context, caller *domain.User, userID string) (*domain.User, error) {
	if caller == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	if caller.Role != domain.RoleAdmin {
		return nil, apperrors.NewForbidden("admin role required")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"user_id": userID})
		}
		return nil, apperrors.MapError(err)
	}
	return user, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
