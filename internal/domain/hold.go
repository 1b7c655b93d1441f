package domain

import (
	"math"
	"time"
)

type HoldStatus struct {
	IsHeld           bool       `json:"is_held"`
	RemainingMinutes int        `json:"remaining_minutes"`
	IsWarning        bool       `json:"is_warning"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

// ComputeHoldStatus derives the cabin hold state at now. A nil expiry means
// nothing is held.
func ComputeHoldStatus(expiresAt *time.Time, now time.Time, warning time.Duration) HoldStatus {
	if expiresAt == nil {
		return HoldStatus{}
	}
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return HoldStatus{ExpiresAt: expiresAt}
	}
	return HoldStatus{
		IsHeld:           true,
		RemainingMinutes: int(math.Ceil(remaining.Minutes())),
		IsWarning:        remaining < warning,
		ExpiresAt:        expiresAt,
	}
}
