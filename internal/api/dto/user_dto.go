package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/retention"
)

// UserRegisterRequest payload for new users.
type UserRegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserLoginRequest payload for login.
type UserLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Email  string            `json:"email"`
	Role   domain.Role       `json:"role"`
	Status domain.UserStatus `json:"status"`
}

// ChangeRoleRequest payload.
type ChangeRoleRequest struct {
	Role string `json:"role"`
}

// ChangeUserStatusRequest payload.
type ChangeUserStatusRequest struct {
	Status string `json:"status"`
}

// RetentionSweepResponse wraps a sweep report for the admin trigger.
type RetentionSweepResponse struct {
	Trigger    string            `json:"trigger"`
	WindowDays int               `json:"window_days"`
	Report     *retention.Report `json:"report"`
}
