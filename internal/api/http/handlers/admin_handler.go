package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/retention"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// TriggerManual marks sweeps started from the admin API.
const TriggerManual = "manual"

// AdminHandler exposes administrator-only operations.
type AdminHandler struct {
	retention RetentionUseCases
	accounts  AccountUseCases
}

// NewAdminHandler constructs handler. sweeper may be nil when attachment
// storage is not configured.
func NewAdminHandler(sweeper RetentionUseCases, accounts AccountUseCases) *AdminHandler {
	return &AdminHandler{retention: sweeper, accounts: accounts}
}

// RunRetentionSweep POST /admin/retention/sweeps.
func (h *AdminHandler) RunRetentionSweep(c *fiber.Ctx) error {
	if h.retention == nil {
		return apperrors.NewDomainError("STORAGE_UNAVAILABLE", "attachment storage not configured", fiber.StatusServiceUnavailable, nil)
	}
	// The sweep is bounded by its lock lease, not by the request deadline.
	report, err := h.retention.Sweep(context.WithoutCancel(c.UserContext()), TriggerManual)
	if errors.Is(err, retention.ErrSweepInProgress) {
		return apperrors.NewConflict(err.Error(), nil)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.RetentionSweepResponse{
		Trigger:    TriggerManual,
		WindowDays: int(h.retention.Window() / (24 * time.Hour)),
		Report:     report,
	}})
}

// ChangeUserRole PUT /admin/users/:id/role.
func (h *AdminHandler) ChangeUserRole(c *fiber.Ctx) error {
	caller, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.ChangeRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	user, err := h.accounts.ChangeRole(c.UserContext(), caller, c.Params("id"), domain.Role(req.Role))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": userResponse(user)})
}

// SetUserStatus PUT /admin/users/:id/status.
func (h *AdminHandler) SetUserStatus(c *fiber.Ctx) error {
	caller, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.ChangeUserStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	user, err := h.accounts.SetUserStatus(c.UserContext(), caller, c.Params("id"), domain.UserStatus(req.Status))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": userResponse(user)})
}

func userResponse(user *domain.User) dto.UserResponse {
	return dto.UserResponse{
		ID:     user.ID,
		Name:   user.Name,
		Email:  user.Email,
		Role:   user.Role,
		Status: user.Status,
	}
}
