package domain

import "time"

type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusExpired   SessionStatus = "expired"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusExpired || s == SessionStatusCancelled
}

// CanTransition reports whether from -> to is an edge of the session lifecycle.
// Only active sessions move, and only into a terminal state.
func CanTransition(from, to SessionStatus) bool {
	return from == SessionStatusActive && to.Terminal()
}

type FlowType string

const (
	FlowAgent         FlowType = "agent"
	FlowClientHandoff FlowType = "client_handoff"
	FlowOTA           FlowType = "ota"
)

func (f FlowType) Valid() bool {
	switch f {
	case FlowAgent, FlowClientHandoff, FlowOTA:
		return true
	}
	return false
}

// BookingSession is one reservation attempt for a single bookable activity.
type BookingSession struct {
	ID             string
	ActivityID     int64
	UserID         int64
	TripID         *int64
	TripTravelerID *int64
	HandoffUserID  *int64

	SessionKey    string
	FlowType      FlowType
	CruiseID      string
	ResultNo      string
	FareCode      string
	GradeNo       string
	CabinNo       string
	BasketItemKey string

	SessionExpiresAt time.Time
	HoldExpiresAt    *time.Time

	Status           SessionStatus
	BookingReference string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PastDue reports whether the session window has closed at now.
func (s *BookingSession) PastDue(now time.Time) bool {
	return !now.Before(s.SessionExpiresAt)
}

// SessionPatch is a partial update; nil fields are left untouched.
type SessionPatch struct {
	CruiseID       *string
	ResultNo       *string
	FareCode       *string
	GradeNo        *string
	CabinNo        *string
	BasketItemKey  *string
	HoldExpiresAt  *time.Time
	ClearHold      bool
	FlowType       *FlowType
	TripID         *int64
	TripTravelerID *int64
	HandoffUserID  *int64
}

// Empty reports whether the patch changes nothing.
func (p SessionPatch) Empty() bool {
	return p.CruiseID == nil && p.ResultNo == nil && p.FareCode == nil && p.GradeNo == nil &&
		p.CabinNo == nil && p.BasketItemKey == nil && p.HoldExpiresAt == nil && !p.ClearHold &&
		p.FlowType == nil && p.TripID == nil && p.TripTravelerID == nil && p.HandoffUserID == nil
}
