package session

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/cruisebooking/internal/domain"
	"github.com/Domenick1991/cruisebooking/internal/kafka"
	"github.com/Domenick1991/cruisebooking/internal/repository"
	"github.com/Domenick1991/cruisebooking/internal/service/ownership"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type SessionUseCase interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*domain.BookingSession, error)
	GetSession(ctx context.Context, id string) (*domain.BookingSession, error)
	GetActiveSessionForActivity(ctx context.Context, activityID int64) (*domain.BookingSession, error)
	UpdateSession(ctx context.Context, id string, patch domain.SessionPatch) (*domain.BookingSession, error)
	ExtendSessionExpiry(ctx context.Context, id string) (*domain.BookingSession, error)
	CompleteSession(ctx context.Context, id, bookingRef string, caller domain.Caller) (*domain.BookingSession, error)
	CancelSession(ctx context.Context, id string) (*domain.BookingSession, error)
	BindHandoff(ctx context.Context, sessionID string, tripID, tripTravelerID, userID int64) (*domain.BookingSession, error)
	ValidateSessionOwnership(ctx context.Context, id string, caller domain.Caller, allowed ...domain.FlowType) (*domain.BookingSession, error)
	HoldStatus(s *domain.BookingSession) domain.HoldStatus

	FindByIdempotencyKey(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	CreateIdempotencyRecord(ctx context.Context, key string, activityID, userID int64) (*domain.IdempotencyRecord, error)
	UpdateIdempotencyRecord(ctx context.Context, key string, outcome domain.IdempotencyOutcome) (*domain.IdempotencyRecord, error)

	ExpireStaleSessions(ctx context.Context) ([]domain.BookingSession, error)
	CleanupIdempotencyRecords(ctx context.Context) (int64, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type CreateSessionInput struct {
	ActivityID    int64
	Caller        domain.Caller
	SessionKey    string
	FlowType      domain.FlowType
	CruiseID      string
	ResultNo      string
	FareCode      string
	GradeNo       string
	CabinNo       string
	BasketItemKey string
	HoldExpiresAt *time.Time
}

type Config struct {
	SessionTTL           time.Duration
	HoldWarning          time.Duration
	IdempotencyRetention time.Duration
}

// Store is the single writer of booking sessions and idempotency records.
type Store struct {
	sessions repository.SessionRepository
	records  repository.IdempotencyRepository
	verifier ownership.VerifierUseCase
	cfg      Config

	producer           Producer
	eventsTopic        string
	notificationsTopic string

	now    func() time.Time
	newID  func() string
	logger *logrus.Logger
}

type StoreOption func(*Store)

func WithEvents(producer Producer, topic string) StoreOption {
	return func(s *Store) {
		s.producer = producer
		s.eventsTopic = topic
	}
}

// WithNotificationsTopic also routes handoff and completion events to the
// topic the notification worker reads.
func WithNotificationsTopic(topic string) StoreOption {
	return func(s *Store) { s.notificationsTopic = topic }
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(newID func() string) StoreOption {
	return func(s *Store) { s.newID = newID }
}

func WithLogger(logger *logrus.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

func NewStore(
	sessions repository.SessionRepository,
	records repository.IdempotencyRepository,
	verifier ownership.VerifierUseCase,
	cfg Config,
	opts ...StoreOption,
) *Store {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.HoldWarning == 0 {
		cfg.HoldWarning = 5 * time.Minute
	}
	if cfg.IdempotencyRetention == 0 {
		cfg.IdempotencyRetention = 72 * time.Hour
	}
	s := &Store{
		sessions: sessions,
		records:  records,
		verifier: verifier,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession verifies the caller against the activity and opens a new
// active session, cancelling whatever session the activity had before.
func (s *Store) CreateSession(ctx context.Context, input CreateSessionInput) (*domain.BookingSession, error) {
	if input.SessionKey == "" {
		return nil, domain.ErrInvalidRequest.WithMessage("session key is required")
	}
	flow := input.FlowType
	if flow == "" {
		flow = domain.FlowAgent
	}
	if !flow.Valid() {
		return nil, domain.ErrInvalidRequest.WithMessage("unknown flow type %q", flow)
	}

	own, err := s.verifier.VerifyActivityOwnership(ctx, input.ActivityID, input.Caller)
	if err != nil {
		return nil, err
	}
	if !own.Valid {
		return nil, domain.ErrActivityForbidden
	}

	session := &domain.BookingSession{
		ID:               s.newID(),
		ActivityID:       input.ActivityID,
		UserID:           input.Caller.UserID,
		TripID:           own.TripID,
		TripTravelerID:   own.TripTravelerID,
		SessionKey:       input.SessionKey,
		FlowType:         flow,
		CruiseID:         input.CruiseID,
		ResultNo:         input.ResultNo,
		FareCode:         input.FareCode,
		GradeNo:          input.GradeNo,
		CabinNo:          input.CabinNo,
		BasketItemKey:    input.BasketItemKey,
		SessionExpiresAt: s.now().Add(s.cfg.SessionTTL),
		HoldExpiresAt:    input.HoldExpiresAt,
		Status:           domain.SessionStatusActive,
	}

	superseded, err := s.sessions.Create(ctx, session)
	if errors.Is(err, repository.ErrDuplicateKey) {
		// A concurrent create won the partial unique index; supersede it.
		superseded, err = s.sessions.Create(ctx, session)
	}
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, domain.ErrSessionNotActive.WithMessage("another session for activity %d is being created", input.ActivityID)
		}
		return nil, err
	}

	for _, id := range superseded {
		s.publish(ctx, kafka.EventSessionCancelled, &domain.BookingSession{
			ID:         id,
			ActivityID: session.ActivityID,
			UserID:     session.UserID,
			Status:     domain.SessionStatusCancelled,
		})
	}
	s.publish(ctx, kafka.EventSessionCreated, session)

	s.log(session).WithField("superseded", len(superseded)).Info("booking session created")
	return session, nil
}

// GetSession loads a session. An active session whose window has closed is
// moved to expired before it is returned.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.BookingSession, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return s.expireIfPastDue(ctx, session)
}

func (s *Store) GetActiveSessionForActivity(ctx context.Context, activityID int64) (*domain.BookingSession, error) {
	session, err := s.sessions.GetActiveByActivity(ctx, activityID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	session, err = s.expireIfPastDue(ctx, session)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.SessionStatusActive {
		return nil, domain.ErrSessionExpired
	}
	return session, nil
}

func (s *Store) expireIfPastDue(ctx context.Context, session *domain.BookingSession) (*domain.BookingSession, error) {
	if session.Status != domain.SessionStatusActive || !session.PastDue(s.now()) {
		return session, nil
	}

	expired, err := s.sessions.Transition(ctx, session.ID, domain.SessionStatusExpired)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			// Someone else moved it first; their status wins.
			return s.reload(ctx, session.ID)
		}
		return nil, err
	}
	s.publish(ctx, kafka.EventSessionExpired, expired)
	s.log(expired).Info("booking session expired on read")
	return expired, nil
}

func (s *Store) reload(ctx context.Context, id string) (*domain.BookingSession, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, patch domain.SessionPatch) (*domain.BookingSession, error) {
	if patch.Empty() {
		return s.GetSession(ctx, id)
	}
	if patch.FlowType != nil && !patch.FlowType.Valid() {
		return nil, domain.ErrInvalidRequest.WithMessage("unknown flow type %q", *patch.FlowType)
	}
	updated, err := s.sessions.Update(ctx, id, patch)
	if err != nil {
		return nil, s.mapWriteError(ctx, id, err)
	}
	return updated, nil
}

// ExtendSessionExpiry slides the session window to a full TTL from now.
func (s *Store) ExtendSessionExpiry(ctx context.Context, id string) (*domain.BookingSession, error) {
	extended, err := s.sessions.ExtendExpiry(ctx, id, s.now().Add(s.cfg.SessionTTL))
	if err != nil {
		return nil, s.mapWriteError(ctx, id, err)
	}
	return extended, nil
}

// CompleteSession re-checks ownership and records the booking reference on
// both the session and the owning activity. A window that lapsed while the
// upstream was confirming does not block completion.
func (s *Store) CompleteSession(ctx context.Context, id, bookingRef string, caller domain.Caller) (*domain.BookingSession, error) {
	if bookingRef == "" {
		return nil, domain.ErrInvalidRequest.WithMessage("booking reference is required")
	}
	current, err := s.reload(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.SessionStatusActive {
		return nil, domain.ErrSessionNotActive
	}

	own, err := s.verifier.VerifyActivityOwnership(ctx, current.ActivityID, caller)
	if err != nil {
		return nil, err
	}
	if !own.Valid {
		return nil, domain.ErrActivityForbidden
	}

	completed, err := s.sessions.Complete(ctx, id, bookingRef)
	if err != nil {
		return nil, s.mapWriteError(ctx, id, err)
	}
	s.publish(ctx, kafka.EventSessionCompleted, completed)
	s.log(completed).WithField("booking_reference", bookingRef).Info("booking session completed")
	return completed, nil
}

// CancelSession is idempotent for sessions already cancelled.
func (s *Store) CancelSession(ctx context.Context, id string) (*domain.BookingSession, error) {
	cancelled, err := s.sessions.Transition(ctx, id, domain.SessionStatusCancelled)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			current, rerr := s.reload(ctx, id)
			if rerr != nil {
				return nil, rerr
			}
			if current.Status == domain.SessionStatusCancelled {
				return current, nil
			}
			return nil, domain.ErrSessionNotActive
		}
		return nil, err
	}
	s.publish(ctx, kafka.EventSessionCancelled, cancelled)
	s.log(cancelled).Info("booking session cancelled")
	return cancelled, nil
}

// BindHandoff passes control of the session to a verified traveler.
func (s *Store) BindHandoff(ctx context.Context, sessionID string, tripID, tripTravelerID, userID int64) (*domain.BookingSession, error) {
	flow := domain.FlowClientHandoff
	bound, err := s.sessions.Update(ctx, sessionID, domain.SessionPatch{
		FlowType:       &flow,
		TripID:         &tripID,
		TripTravelerID: &tripTravelerID,
		HandoffUserID:  &userID,
	})
	if err != nil {
		return nil, s.mapWriteError(ctx, sessionID, err)
	}
	s.publish(ctx, kafka.EventSessionHandoff, bound)
	return bound, nil
}

// ValidateSessionOwnership returns the session when caller may act on it.
// With a non-empty allow-list the session's flow type must be in it.
func (s *Store) ValidateSessionOwnership(ctx context.Context, id string, caller domain.Caller, allowed ...domain.FlowType) (*domain.BookingSession, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	switch session.Status {
	case domain.SessionStatusActive:
	case domain.SessionStatusExpired:
		return nil, domain.ErrSessionExpired
	default:
		return nil, domain.ErrSessionNotActive.WithMessage("booking session is %s", session.Status)
	}

	isCreator := session.UserID == caller.UserID
	isRecipient := session.HandoffUserID != nil && *session.HandoffUserID == caller.UserID
	if !isCreator && !isRecipient {
		return nil, domain.ErrSessionForbidden
	}

	if len(allowed) > 0 {
		ok := false
		for _, f := range allowed {
			if f == session.FlowType {
				ok = true
				break
			}
		}
		if !ok {
			return nil, domain.ErrFlowNotAllowed.WithMessage("operation not permitted for %s sessions", session.FlowType)
		}
	}
	return session, nil
}

func (s *Store) HoldStatus(session *domain.BookingSession) domain.HoldStatus {
	return domain.ComputeHoldStatus(session.HoldExpiresAt, s.now(), s.cfg.HoldWarning)
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	rec, err := s.records.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

// CreateIdempotencyRecord claims key for one booking attempt. A key that is
// pending or already succeeded is reported as in flight.
func (s *Store) CreateIdempotencyRecord(ctx context.Context, key string, activityID, userID int64) (*domain.IdempotencyRecord, error) {
	if key == "" {
		return nil, domain.ErrInvalidRequest.WithMessage("idempotency key is required")
	}
	rec, err := s.records.Acquire(ctx, key, activityID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, domain.ErrIdempotencyInFlight
		}
		return nil, err
	}
	return rec, nil
}

func (s *Store) UpdateIdempotencyRecord(ctx context.Context, key string, outcome domain.IdempotencyOutcome) (*domain.IdempotencyRecord, error) {
	if outcome.Status == domain.IdempotencyPending {
		return nil, domain.ErrInvalidRequest.WithMessage("outcome must be terminal")
	}
	rec, err := s.records.Complete(ctx, key, outcome)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, domain.ErrRecordNotFound.WithMessage("no pending idempotency record for key %s", key)
		}
		return nil, err
	}
	return rec, nil
}

// ExpireStaleSessions leaves alone sessions whose activity has a pending
// booking inside the idempotency retention window; the upstream may still
// confirm it.
func (s *Store) ExpireStaleSessions(ctx context.Context) ([]domain.BookingSession, error) {
	now := s.now()
	expired, err := s.sessions.ExpireActiveBefore(ctx, now, now.Add(-s.cfg.IdempotencyRetention))
	if err != nil {
		return nil, err
	}
	for i := range expired {
		s.publish(ctx, kafka.EventSessionExpired, &expired[i])
	}
	return expired, nil
}

// CleanupIdempotencyRecords drops every record past retention, including
// pending ones abandoned by a crashed attempt.
func (s *Store) CleanupIdempotencyRecords(ctx context.Context) (int64, error) {
	return s.records.DeleteBefore(ctx, s.now().Add(-s.cfg.IdempotencyRetention))
}

func (s *Store) mapWriteError(ctx context.Context, id string, err error) error {
	if !errors.Is(err, repository.ErrStatusConflict) {
		return err
	}
	current, rerr := s.reload(ctx, id)
	if rerr != nil {
		return rerr
	}
	if current.Status == domain.SessionStatusExpired {
		return domain.ErrSessionExpired
	}
	return domain.ErrSessionNotActive.WithMessage("booking session is %s", current.Status)
}

func (s *Store) publish(ctx context.Context, eventType kafka.EventType, session *domain.BookingSession) {
	if s.producer == nil || s.eventsTopic == "" {
		return
	}
	event := kafka.NewSessionEvent(eventType, session, s.now())
	if err := s.producer.Publish(ctx, s.eventsTopic, session.ID, event); err != nil {
		s.log(session).WithError(err).WithField("event", eventType).Warn("publish session event failed")
	}
	if s.notificationsTopic == "" {
		return
	}
	if eventType != kafka.EventSessionHandoff && eventType != kafka.EventSessionCompleted {
		return
	}
	if err := s.producer.Publish(ctx, s.notificationsTopic, session.ID, event); err != nil {
		s.log(session).WithError(err).WithField("event", eventType).Warn("publish notification failed")
	}
}

func (s *Store) log(session *domain.BookingSession) *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"activity_id": session.ActivityID,
		"user_id":     session.UserID,
	})
}

var (
	_ SessionUseCase          = (*Store)(nil)
	_ ownership.SessionBinder = (*Store)(nil)
)
