package ownership

import (
	"context"
	"errors"

	"github.com/Domenick1991/cruisebooking/internal/domain"
	"github.com/Domenick1991/cruisebooking/internal/repository"
	"github.com/sirupsen/logrus"
)

// AccessResolver reads a caller's relation to an activity from the CRM.
type AccessResolver interface {
	ResolveAccess(ctx context.Context, activityID, userID int64) (*domain.ActivityAccess, error)
}

// Ownership is the outcome of an activity check. TripID and TripTravelerID
// are the values a new session is bound to.
type Ownership struct {
	Valid          bool
	TripID         *int64
	TripTravelerID *int64
}

type VerifierUseCase interface {
	VerifyActivityOwnership(ctx context.Context, activityID int64, caller domain.Caller) (*Ownership, error)
}

type Verifier struct {
	access AccessResolver
}

func NewVerifier(access AccessResolver) *Verifier {
	return &Verifier{access: access}
}

// VerifyActivityOwnership accepts the caller when their agency owns the trip,
// when they are a traveler on it, or when they created it.
func (v *Verifier) VerifyActivityOwnership(ctx context.Context, activityID int64, caller domain.Caller) (*Ownership, error) {
	acc, err := v.access.ResolveAccess(ctx, activityID, caller.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrActivityNotFound.WithMessage("activity %d not found", activityID)
		}
		return nil, err
	}

	sameAgency := caller.AgencyID != 0 && caller.AgencyID == acc.TripAgencyID
	traveler := acc.TripTravelerID != nil
	if !sameAgency && !traveler && !acc.IsTripOwner {
		return &Ownership{Valid: false}, nil
	}

	tripID := acc.TripID
	return &Ownership{Valid: true, TripID: &tripID, TripTravelerID: acc.TripTravelerID}, nil
}

// SessionBinder is the slice of the session store the handoff check needs.
type SessionBinder interface {
	GetActiveSessionForActivity(ctx context.Context, activityID int64) (*domain.BookingSession, error)
	BindHandoff(ctx context.Context, sessionID string, tripID, tripTravelerID, userID int64) (*domain.BookingSession, error)
}

type HandoffDecision struct {
	Allowed bool
	Reason  string
	Session *domain.BookingSession
}

const (
	ReasonNoActiveSession = "no active booking session for this activity"
	ReasonNotTraveler     = "caller is not a traveler on this trip"
	ReasonNotOfferable    = "trip is not in an offerable status"
)

type GuardUseCase interface {
	VerifierUseCase
	CanHandoffSession(ctx context.Context, activityID int64, caller domain.Caller) (*HandoffDecision, error)
}

type Guard struct {
	*Verifier
	access    AccessResolver
	sessions  SessionBinder
	offerable map[string]struct{}
	logger    *logrus.Logger
}

type GuardOption func(*Guard)

func WithLogger(logger *logrus.Logger) GuardOption {
	return func(g *Guard) { g.logger = logger }
}

func NewGuard(verifier *Verifier, access AccessResolver, sessions SessionBinder, offerableStatuses []string, opts ...GuardOption) *Guard {
	g := &Guard{
		Verifier:  verifier,
		access:    access,
		sessions:  sessions,
		offerable: make(map[string]struct{}, len(offerableStatuses)),
		logger:    logrus.StandardLogger(),
	}
	for _, s := range offerableStatuses {
		g.offerable[s] = struct{}{}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CanHandoffSession decides whether caller may take over the activity's
// active session. When allowed, the session is rebound to the caller's trip
// and traveler ids and switched to the client handoff flow.
func (g *Guard) CanHandoffSession(ctx context.Context, activityID int64, caller domain.Caller) (*HandoffDecision, error) {
	session, err := g.sessions.GetActiveSessionForActivity(ctx, activityID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrSessionExpired) {
			return &HandoffDecision{Reason: ReasonNoActiveSession}, nil
		}
		return nil, err
	}

	acc, err := g.access.ResolveAccess(ctx, activityID, caller.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrActivityNotFound.WithMessage("activity %d not found", activityID)
		}
		return nil, err
	}
	if acc.TripTravelerID == nil {
		return &HandoffDecision{Reason: ReasonNotTraveler}, nil
	}
	if _, ok := g.offerable[acc.TripStatus]; !ok {
		return &HandoffDecision{Reason: ReasonNotOfferable}, nil
	}
	if session.BasketItemKey == "" {
		return nil, domain.ErrHandoffInvalid.WithMessage("session %s has no cabin in the basket", session.ID)
	}

	bound, err := g.sessions.BindHandoff(ctx, session.ID, acc.TripID, *acc.TripTravelerID, caller.UserID)
	if err != nil {
		return nil, err
	}

	g.logger.WithFields(logrus.Fields{
		"session_id":  bound.ID,
		"activity_id": activityID,
		"user_id":     caller.UserID,
	}).Info("session handed off to traveler")
	return &HandoffDecision{Allowed: true, Session: bound}, nil
}

var (
	_ VerifierUseCase = (*Verifier)(nil)
	_ GuardUseCase    = (*Guard)(nil)
)
