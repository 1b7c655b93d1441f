package booking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/Domenick1991/cruisebooking/internal/domain"
	"github.com/Domenick1991/cruisebooking/internal/fusion"
	"github.com/Domenick1991/cruisebooking/internal/service/ownership"
	"github.com/Domenick1991/cruisebooking/internal/service/session"
	"github.com/lithammer/shortuuid/v4"
	"github.com/sirupsen/logrus"
)

type BookingUseCase interface {
	Search(ctx context.Context, input SearchInput) (*SearchResult, error)
	GetRateCodes(ctx context.Context, sessionKey, cruiseID, resultNo string) ([]fusion.RateCode, error)
	GetCabinGrades(ctx context.Context, sessionKey, cruiseID, resultNo, fareCode string) ([]fusion.CabinGrade, error)
	GetCabins(ctx context.Context, req fusion.CabinsRequest) (*fusion.CabinsResponse, error)
	LookupPastPassenger(ctx context.Context, req fusion.PastPassengerRequest) (*fusion.PastPassengerResponse, error)

	AddToBasket(ctx context.Context, caller domain.Caller, input AddToBasketInput) (*BasketResult, error)
	GetBasket(ctx context.Context, caller domain.Caller, sessionID string) (*BasketView, error)
	RemoveFromBasket(ctx context.Context, caller domain.Caller, sessionID string) (*domain.BookingSession, error)
	HoldStatus(ctx context.Context, caller domain.Caller, sessionID string) (*domain.HoldStatus, error)

	CompleteBooking(ctx context.Context, caller domain.Caller, input CompleteBookingInput) (*BookingResult, error)
	GetProposal(ctx context.Context, caller domain.Caller, activityID int64) (*Proposal, error)
	CancelSession(ctx context.Context, caller domain.Caller, sessionID string) (*domain.BookingSession, error)
}

// Gateway is the upstream reservation API.
type Gateway interface {
	Search(ctx context.Context, sessionKey string, params fusion.SearchParams) (*fusion.SearchResponse, error)
	RateCodes(ctx context.Context, sessionKey, cruiseID, resultNo string) ([]fusion.RateCode, error)
	CabinGrades(ctx context.Context, sessionKey, cruiseID, resultNo, fareCode string) ([]fusion.CabinGrade, error)
	Cabins(ctx context.Context, req fusion.CabinsRequest) (*fusion.CabinsResponse, error)
	BasketAdd(ctx context.Context, req fusion.BasketAddRequest) (*fusion.BasketAddResponse, error)
	Basket(ctx context.Context, sessionKey string) (*fusion.Basket, error)
	BasketRemove(ctx context.Context, sessionKey, itemKey string) error
	Book(ctx context.Context, req fusion.BookRequest) (*fusion.BookResponse, error)
	PastPassenger(ctx context.Context, req fusion.PastPassengerRequest) (*fusion.PastPassengerResponse, error)
}

// Cache holds upstream read results per session key. Any error is a miss.
type Cache interface {
	GetSearch(ctx context.Context, sessionKey, paramsHash string) (*fusion.SearchResponse, error)
	SetSearch(ctx context.Context, sessionKey, paramsHash string, res *fusion.SearchResponse) error
	GetRateCodes(ctx context.Context, sessionKey, cruiseID, resultNo string) ([]fusion.RateCode, error)
	SetRateCodes(ctx context.Context, sessionKey, cruiseID, resultNo string, codes []fusion.RateCode) error
	GetCabinGrades(ctx context.Context, sessionKey, cruiseID, resultNo, fareCode string) ([]fusion.CabinGrade, error)
	SetCabinGrades(ctx context.Context, sessionKey, cruiseID, resultNo, fareCode string, grades []fusion.CabinGrade) error
}

type BookingService struct {
	gateway  Gateway
	sessions session.SessionUseCase
	guard    ownership.GuardUseCase
	cache    Cache

	defaultHold   time.Duration
	now           func() time.Time
	newSessionKey func() string
	logger        *logrus.Logger
}

type SearchInput struct {
	SessionKey string              `json:"session_key"`
	Params     fusion.SearchParams `json:"params"`
}

type SearchResult struct {
	SessionKey string                `json:"session_key"`
	Results    []fusion.CruiseResult `json:"results"`
	Meta       fusion.SearchMeta     `json:"meta"`
}

type AddToBasketInput struct {
	ActivityID int64           `json:"activity_id"`
	SessionKey string          `json:"session_key"`
	CruiseID   string          `json:"cruise_id"`
	ResultNo   string          `json:"result_no"`
	FareCode   string          `json:"fare_code"`
	GradeNo    string          `json:"grade_no"`
	CabinNo    string          `json:"cabin_no"`
	FlowType   domain.FlowType `json:"flow_type,omitempty"`
}

type BasketResult struct {
	Session  *domain.BookingSession
	ItemKey  string
	Price    float64
	Currency string
	Hold     domain.HoldStatus
}

type BasketView struct {
	Session *domain.BookingSession
	Basket  *fusion.Basket
	Hold    domain.HoldStatus
}

type CompleteBookingInput struct {
	SessionID      string             `json:"session_id"`
	IdempotencyKey string             `json:"idempotency_key"`
	Passengers     []fusion.Passenger `json:"passengers"`
	Contact        fusion.ContactInfo `json:"contact"`
	Allocation     json.RawMessage    `json:"allocation,omitempty"`
	Payment        json.RawMessage    `json:"payment,omitempty"`
}

type BookingResult struct {
	BookingReference string
	Status           string
	// Replayed is set when the result came from an earlier successful
	// submission with the same idempotency key.
	Replayed bool
	Session  *domain.BookingSession
}

type Proposal struct {
	Session *domain.BookingSession
	Basket  *fusion.Basket
	Hold    domain.HoldStatus
}

type BookingServiceOption func(*BookingService)

func WithCache(cache Cache) BookingServiceOption {
	return func(s *BookingService) { s.cache = cache }
}

// WithDefaultHold sets the hold window assumed when the upstream reports none.
func WithDefaultHold(d time.Duration) BookingServiceOption {
	return func(s *BookingService) { s.defaultHold = d }
}

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) { s.now = now }
}

func WithSessionKeyGenerator(gen func() string) BookingServiceOption {
	return func(s *BookingService) { s.newSessionKey = gen }
}

func WithLogger(logger *logrus.Logger) BookingServiceOption {
	return func(s *BookingService) { s.logger = logger }
}

func NewBookingService(
	gateway Gateway,
	sessions session.SessionUseCase,
	guard ownership.GuardUseCase,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		gateway:       gateway,
		sessions:      sessions,
		guard:         guard,
		defaultHold:   15 * time.Minute,
		now:           time.Now,
		newSessionKey: shortuuid.New,
		logger:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Search runs a cruise search. Without a session key a new one is minted;
// every later step of the same flow must send it back.
func (s *BookingService) Search(ctx context.Context, input SearchInput) (*SearchResult, error) {
	key := input.SessionKey
	if key == "" {
		key = s.newSessionKey()
	}
	hash := paramsHash(input.Params)

	if s.cache != nil {
		if res, err := s.cache.GetSearch(ctx, key, hash); err == nil && res != nil {
			return &SearchResult{SessionKey: key, Results: res.Results, Meta: res.Meta}, nil
		}
	}

	res, err := s.gateway.Search(ctx, key, input.Params)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetSearch(ctx, key, hash, res); err != nil {
			s.logger.WithError(err).Debug("cache search results")
		}
	}
	return &SearchResult{SessionKey: key, Results: res.Results, Meta: res.Meta}, nil
}

func (s *BookingService) GetRateCodes(ctx context.Context, sessionKey, cruiseID, resultNo string) ([]fusion.RateCode, error) {
	if err := requireFields(field{"session_key", sessionKey}, field{"cruise_id", cruiseID}, field{"result_no", resultNo}); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if codes, err := s.cache.GetRateCodes(ctx, sessionKey, cruiseID, resultNo); err == nil {
			return codes, nil
		}
	}
	codes, err := s.gateway.RateCodes(ctx, sessionKey, cruiseID, resultNo)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetRateCodes(ctx, sessionKey, cruiseID, resultNo, codes); err != nil {
			s.logger.WithError(err).Debug("cache rate codes")
		}
	}
	return codes, nil
}

func (s *BookingService) GetCabinGrades(ctx context.Context, sessionKey, cruiseID, resultNo, fareCode string) ([]fusion.CabinGrade, error) {
	if err := requireFields(field{"session_key", sessionKey}, field{"cruise_id", cruiseID}, field{"result_no", resultNo}, field{"fare_code", fareCode}); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if grades, err := s.cache.GetCabinGrades(ctx, sessionKey, cruiseID, resultNo, fareCode); err == nil {
			return grades, nil
		}
	}
	grades, err := s.gateway.CabinGrades(ctx, sessionKey, cruiseID, resultNo, fareCode)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetCabinGrades(ctx, sessionKey, cruiseID, resultNo, fareCode, grades); err != nil {
			s.logger.WithError(err).Debug("cache cabin grades")
		}
	}
	return grades, nil
}

// GetCabins is never cached: availability changes as other agents place holds.
func (s *BookingService) GetCabins(ctx context.Context, req fusion.CabinsRequest) (*fusion.CabinsResponse, error) {
	if err := requireFields(
		field{"session_key", req.SessionKey}, field{"cruise_id", req.CruiseID}, field{"result_no", req.ResultNo},
		field{"fare_code", req.FareCode}, field{"grade_no", req.GradeNo},
	); err != nil {
		return nil, err
	}
	return s.gateway.Cabins(ctx, req)
}

func (s *BookingService) LookupPastPassenger(ctx context.Context, req fusion.PastPassengerRequest) (*fusion.PastPassengerResponse, error) {
	if err := requireFields(field{"membership_no", req.MembershipNo}, field{"last_name", req.LastName}); err != nil {
		return nil, err
	}
	if req.SessionKey == "" {
		req.SessionKey = s.newSessionKey()
	}
	return s.gateway.PastPassenger(ctx, req)
}

// AddToBasket holds a cabin upstream and records it on the activity's
// session. The caller's active session is updated when it belongs to the
// same upstream session key; otherwise a new session supersedes it.
func (s *BookingService) AddToBasket(ctx context.Context, caller domain.Caller, input AddToBasketInput) (*BasketResult, error) {
	if input.ActivityID <= 0 {
		return nil, domain.ErrInvalidRequest.WithMessage("activity_id is required")
	}
	if err := requireFields(
		field{"session_key", input.SessionKey}, field{"cruise_id", input.CruiseID}, field{"result_no", input.ResultNo},
		field{"fare_code", input.FareCode}, field{"grade_no", input.GradeNo}, field{"cabin_no", input.CabinNo},
	); err != nil {
		return nil, err
	}
	if input.FlowType != "" && !input.FlowType.Valid() {
		return nil, domain.ErrInvalidRequest.WithMessage("unknown flow type %q", input.FlowType)
	}

	own, err := s.guard.VerifyActivityOwnership(ctx, input.ActivityID, caller)
	if err != nil {
		return nil, err
	}
	if !own.Valid {
		return nil, domain.ErrActivityForbidden
	}

	existing, err := s.sessions.GetActiveSessionForActivity(ctx, input.ActivityID)
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) && !errors.Is(err, domain.ErrSessionExpired) {
		return nil, err
	}

	added, err := s.gateway.BasketAdd(ctx, fusion.BasketAddRequest{
		SessionKey: input.SessionKey,
		CruiseID:   input.CruiseID,
		ResultNo:   input.ResultNo,
		FareCode:   input.FareCode,
		GradeNo:    input.GradeNo,
		CabinNo:    input.CabinNo,
	})
	if err != nil {
		return nil, err
	}
	holdAt := added.HoldExpiresAt(s.now(), s.defaultHold)

	var saved *domain.BookingSession
	if existing != nil && existing.SessionKey == input.SessionKey && actsOn(existing, caller) {
		saved, err = s.updateSelection(ctx, existing, input, added.ItemKey, holdAt)
	} else {
		saved, err = s.sessions.CreateSession(ctx, session.CreateSessionInput{
			ActivityID:    input.ActivityID,
			Caller:        caller,
			SessionKey:    input.SessionKey,
			FlowType:      flowFor(caller, input.FlowType),
			CruiseID:      input.CruiseID,
			ResultNo:      input.ResultNo,
			FareCode:      input.FareCode,
			GradeNo:       input.GradeNo,
			CabinNo:       input.CabinNo,
			BasketItemKey: added.ItemKey,
			HoldExpiresAt: &holdAt,
		})
	}
	if err != nil {
		s.releaseHold(ctx, input.SessionKey, added.ItemKey, "")
		return nil, err
	}

	if existing != nil && existing.BasketItemKey != "" && existing.BasketItemKey != added.ItemKey {
		s.releaseHold(ctx, existing.SessionKey, existing.BasketItemKey, existing.ID)
	}

	return &BasketResult{
		Session:  saved,
		ItemKey:  added.ItemKey,
		Price:    added.Price,
		Currency: added.Currency,
		Hold:     s.sessions.HoldStatus(saved),
	}, nil
}

func (s *BookingService) updateSelection(ctx context.Context, existing *domain.BookingSession, input AddToBasketInput, itemKey string, holdAt time.Time) (*domain.BookingSession, error) {
	if _, err := s.sessions.UpdateSession(ctx, existing.ID, domain.SessionPatch{
		CruiseID:      &input.CruiseID,
		ResultNo:      &input.ResultNo,
		FareCode:      &input.FareCode,
		GradeNo:       &input.GradeNo,
		CabinNo:       &input.CabinNo,
		BasketItemKey: &itemKey,
		HoldExpiresAt: &holdAt,
	}); err != nil {
		return nil, err
	}
	return s.sessions.ExtendSessionExpiry(ctx, existing.ID)
}

// GetBasket reads the upstream basket of an owned session and slides its
// expiry window.
func (s *BookingService) GetBasket(ctx context.Context, caller domain.Caller, sessionID string) (*BasketView, error) {
	sess, err := s.sessions.ValidateSessionOwnership(ctx, sessionID, caller)
	if err != nil {
		return nil, err
	}
	basket, err := s.gateway.Basket(ctx, sess.SessionKey)
	if err != nil {
		return nil, err
	}
	extended, err := s.sessions.ExtendSessionExpiry(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	return &BasketView{Session: extended, Basket: basket, Hold: s.sessions.HoldStatus(extended)}, nil
}

func (s *BookingService) RemoveFromBasket(ctx context.Context, caller domain.Caller, sessionID string) (*domain.BookingSession, error) {
	sess, err := s.sessions.ValidateSessionOwnership(ctx, sessionID, caller)
	if err != nil {
		return nil, err
	}
	if sess.BasketItemKey == "" {
		return nil, domain.ErrInvalidRequest.WithMessage("basket of session %s is empty", sess.ID)
	}
	if err := s.gateway.BasketRemove(ctx, sess.SessionKey, sess.BasketItemKey); err != nil {
		return nil, err
	}

	empty := ""
	if _, err := s.sessions.UpdateSession(ctx, sess.ID, domain.SessionPatch{
		CabinNo:       &empty,
		BasketItemKey: &empty,
		ClearHold:     true,
	}); err != nil {
		return nil, err
	}
	return s.sessions.ExtendSessionExpiry(ctx, sess.ID)
}

func (s *BookingService) HoldStatus(ctx context.Context, caller domain.Caller, sessionID string) (*domain.HoldStatus, error) {
	sess, err := s.sessions.ValidateSessionOwnership(ctx, sessionID, caller)
	if err != nil {
		return nil, err
	}
	hs := s.sessions.HoldStatus(sess)
	return &hs, nil
}

// CompleteBooking submits the reservation at most once per idempotency key.
// Confirmed successes are replayed without an upstream call; failed
// attempts may be retried with the same key.
func (s *BookingService) CompleteBooking(ctx context.Context, caller domain.Caller, input CompleteBookingInput) (*BookingResult, error) {
	if input.IdempotencyKey == "" {
		return nil, domain.ErrInvalidRequest.WithMessage("idempotency key is required")
	}
	if input.SessionID == "" {
		return nil, domain.ErrInvalidRequest.WithMessage("session_id is required")
	}
	if len(input.Passengers) == 0 {
		return nil, domain.ErrInvalidRequest.WithMessage("at least one passenger is required")
	}

	log := s.logger.WithFields(logrus.Fields{
		"session_id":      input.SessionID,
		"user_id":         caller.UserID,
		"idempotency_key": input.IdempotencyKey,
	})

	prior, err := s.sessions.FindByIdempotencyKey(ctx, input.IdempotencyKey)
	if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
		return nil, err
	}
	if prior != nil && prior.Status == domain.IdempotencySuccess {
		return s.replay(ctx, caller, input.SessionID, prior, log)
	}

	sess, err := s.sessions.ValidateSessionOwnership(ctx, input.SessionID, caller)
	if err != nil {
		return nil, err
	}
	if prior != nil && (prior.ActivityID != sess.ActivityID || prior.UserID != caller.UserID) {
		return nil, domain.ErrIdempotencyReused
	}

	own, err := s.guard.VerifyActivityOwnership(ctx, sess.ActivityID, caller)
	if err != nil {
		return nil, err
	}
	if !own.Valid {
		return nil, domain.ErrActivityForbidden
	}

	if hold := s.sessions.HoldStatus(sess); !hold.IsHeld || sess.BasketItemKey == "" {
		return nil, domain.ErrHoldExpired
	}

	// Extended before submitting so the sweeper keeps the session active
	// while the upstream confirms.
	sess, err = s.sessions.ExtendSessionExpiry(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	if _, err := s.sessions.CreateIdempotencyRecord(ctx, input.IdempotencyKey, sess.ActivityID, caller.UserID); err != nil {
		if !errors.Is(err, domain.ErrIdempotencyInFlight) {
			return nil, err
		}
		// The competing attempt may have finished in the meantime.
		if rec, ferr := s.sessions.FindByIdempotencyKey(ctx, input.IdempotencyKey); ferr == nil && rec.Status == domain.IdempotencySuccess {
			return s.replay(ctx, caller, input.SessionID, rec, log)
		}
		return nil, err
	}

	booked, bookErr := s.gateway.Book(ctx, fusion.BookRequest{
		SessionKey: sess.SessionKey,
		ItemKey:    sess.BasketItemKey,
		Passengers: input.Passengers,
		Contact:    input.Contact,
		Allocation: input.Allocation,
		Payment:    input.Payment,
	})

	// The outcome is recorded even when the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)
	if _, err := s.sessions.UpdateIdempotencyRecord(persistCtx, input.IdempotencyKey, outcomeOf(booked, bookErr)); err != nil {
		log.WithError(err).Error("record booking outcome")
	}
	if bookErr != nil {
		log.WithError(bookErr).Warn("booking rejected")
		return nil, bookErr
	}

	result := &BookingResult{BookingReference: booked.BookingReference, Status: booked.Status, Session: sess}
	completed, err := s.sessions.CompleteSession(persistCtx, sess.ID, booked.BookingReference, caller)
	if err != nil {
		// The booking exists upstream; a replay with the same key retries this.
		log.WithError(err).WithField("booking_reference", booked.BookingReference).Error("complete session after booking")
		return result, nil
	}
	result.Session = completed
	log.WithField("booking_reference", booked.BookingReference).Info("booking completed")
	return result, nil
}

func (s *BookingService) replay(ctx context.Context, caller domain.Caller, sessionID string, rec *domain.IdempotencyRecord, log *logrus.Entry) (*BookingResult, error) {
	if rec.UserID != caller.UserID {
		return nil, domain.ErrIdempotencyReused
	}
	ref := ""
	if rec.BookingReference != nil {
		ref = *rec.BookingReference
	}
	result := &BookingResult{BookingReference: ref, Status: string(rec.Status), Replayed: true}

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return result, nil
	}
	if sess.ActivityID != rec.ActivityID {
		return nil, domain.ErrIdempotencyReused
	}
	result.Session = sess
	if sess.Status == domain.SessionStatusActive && ref != "" {
		if completed, err := s.sessions.CompleteSession(ctx, sess.ID, ref, caller); err != nil {
			log.WithError(err).Warn("retry session completion on replay")
		} else {
			result.Session = completed
		}
	}
	return result, nil
}

// GetProposal is the traveler's read of what the agent selected. Passing
// the handoff check transfers the session to the traveler.
func (s *BookingService) GetProposal(ctx context.Context, caller domain.Caller, activityID int64) (*Proposal, error) {
	decision, err := s.guard.CanHandoffSession(ctx, activityID, caller)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, domain.ErrSessionForbidden.WithMessage("%s", decision.Reason)
	}

	basket, err := s.gateway.Basket(ctx, decision.Session.SessionKey)
	if err != nil {
		return nil, err
	}
	return &Proposal{Session: decision.Session, Basket: basket, Hold: s.sessions.HoldStatus(decision.Session)}, nil
}

// CancelSession releases the upstream hold if there is one, then cancels
// locally whatever the release outcome.
func (s *BookingService) CancelSession(ctx context.Context, caller domain.Caller, sessionID string) (*domain.BookingSession, error) {
	sess, err := s.sessions.ValidateSessionOwnership(ctx, sessionID, caller)
	if err != nil {
		return nil, err
	}
	if sess.BasketItemKey != "" {
		s.releaseHold(ctx, sess.SessionKey, sess.BasketItemKey, sess.ID)
	}
	return s.sessions.CancelSession(ctx, sess.ID)
}

func (s *BookingService) releaseHold(ctx context.Context, sessionKey, itemKey, sessionID string) {
	if err := s.gateway.BasketRemove(ctx, sessionKey, itemKey); err != nil {
		s.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"item_key":   itemKey,
		}).WithError(err).Warn("release upstream hold")
	}
}

func outcomeOf(booked *fusion.BookResponse, bookErr error) domain.IdempotencyOutcome {
	if bookErr == nil {
		ref := booked.BookingReference
		return domain.IdempotencyOutcome{Status: domain.IdempotencySuccess, BookingReference: &ref, ResponsePayload: booked.Raw}
	}

	outcome := domain.IdempotencyOutcome{Status: domain.IdempotencyFailed}
	if fe, ok := fusion.AsError(bookErr); ok && len(fe.Payload) > 0 {
		outcome.ResponsePayload = fe.Payload
		return outcome
	}
	code := string(fusion.CodeUnknown)
	if fe, ok := fusion.AsError(bookErr); ok {
		code = string(fe.Code)
	}
	payload, _ := json.Marshal(map[string]string{"code": code, "message": bookErr.Error()})
	outcome.ResponsePayload = payload
	return outcome
}

func actsOn(s *domain.BookingSession, caller domain.Caller) bool {
	return s.UserID == caller.UserID || (s.HandoffUserID != nil && *s.HandoffUserID == caller.UserID)
}

func flowFor(caller domain.Caller, requested domain.FlowType) domain.FlowType {
	if caller.Role == domain.RoleClient {
		return domain.FlowOTA
	}
	if requested == "" {
		return domain.FlowAgent
	}
	return requested
}

func paramsHash(p fusion.SearchParams) string {
	data, _ := json.Marshal(p)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

type field struct {
	name, value string
}

// requireFields reports the first empty field in argument order.
func requireFields(fields ...field) error {
	for _, f := range fields {
		if f.value == "" {
			return domain.ErrInvalidRequest.WithMessage("%s is required", f.name)
		}
	}
	return nil
}

var _ BookingUseCase = (*BookingService)(nil)
