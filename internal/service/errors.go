package service

import (
	"net/http"

	"github.com/spec-kit/helpdesk-service/internal/lifecycle"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// NewTransitionDenied exposes why a status change was refused so the UI can
// explain it.
func NewTransitionDenied(decision lifecycle.Decision) error {
	details := map[string]any{
		"reason": string(decision.Reason),
		"from":   string(decision.From),
		"to":     string(decision.To),
	}
	if decision.Reason == lifecycle.ReasonInvalidTransition {
		details["allowed"] = lifecycle.AllowedNextStatuses(decision.From)
		return &apperrors.DomainError{
			Code:       "INVALID_TRANSITION",
			Message:    "requested status is not reachable from the current status",
			HTTPStatus: http.StatusConflict,
			Details:    details,
			Err:        decision.Err(),
		}
	}
	return &apperrors.DomainError{
		Code:       "TRANSITION_UNAUTHORIZED",
		Message:    "you are not allowed to move this ticket to the requested status",
		HTTPStatus: http.StatusForbidden,
		Details:    details,
		Err:        decision.Err(),
	}
}
