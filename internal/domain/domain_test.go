package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(SessionStatusActive, SessionStatusCompleted))
	assert.True(t, CanTransition(SessionStatusActive, SessionStatusCancelled))
	assert.True(t, CanTransition(SessionStatusActive, SessionStatusExpired))
	assert.False(t, CanTransition(SessionStatusActive, SessionStatusActive))

	for _, from := range []SessionStatus{SessionStatusCompleted, SessionStatusExpired, SessionStatusCancelled} {
		for _, to := range []SessionStatus{SessionStatusActive, SessionStatusCompleted, SessionStatusExpired, SessionStatusCancelled} {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestComputeHoldStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	warn := 5 * time.Minute

	testCases := []struct {
		name      string
		expiresAt *time.Time
		want      HoldStatus
	}{
		{name: "no hold", expiresAt: nil, want: HoldStatus{}},
		{name: "plenty of time", expiresAt: ptrTime(now.Add(12 * time.Minute)), want: HoldStatus{IsHeld: true, RemainingMinutes: 12}},
		{name: "inside warning", expiresAt: ptrTime(now.Add(4*time.Minute + 10*time.Second)), want: HoldStatus{IsHeld: true, RemainingMinutes: 5, IsWarning: true}},
		{name: "exactly expired", expiresAt: ptrTime(now), want: HoldStatus{}},
		{name: "past", expiresAt: ptrTime(now.Add(-time.Minute)), want: HoldStatus{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeHoldStatus(tc.expiresAt, now, warn)
			assert.Equal(t, tc.want.IsHeld, got.IsHeld)
			assert.Equal(t, tc.want.RemainingMinutes, got.RemainingMinutes)
			assert.Equal(t, tc.want.IsWarning, got.IsWarning)
		})
	}
}

func TestError_IsMatchesCode(t *testing.T) {
	err := fmt.Errorf("complete: %w", ErrHoldExpired.WithMessage("hold on cabin %s lapsed", "A101"))

	assert.True(t, errors.Is(err, ErrHoldExpired))
	assert.False(t, errors.Is(err, ErrIdempotencyInFlight))

	de, ok := AsError(err)
	assert.True(t, ok)
	assert.Equal(t, KindConflict, de.Kind)
	assert.Equal(t, "hold on cabin A101 lapsed", de.Message)
}

func TestSessionPatch_Empty(t *testing.T) {
	assert.True(t, SessionPatch{}.Empty())
	cabin := "A101"
	assert.False(t, SessionPatch{CabinNo: &cabin}.Empty())
	assert.False(t, SessionPatch{ClearHold: true}.Empty())
}

func ptrTime(t time.Time) *time.Time { return &t }
