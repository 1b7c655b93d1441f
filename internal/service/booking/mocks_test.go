package booking

import (
	"context"

	"github.com/Domenick1991/cruisebooking/internal/domain"
	"github.com/Domenick1991/cruisebooking/internal/fusion"
	"github.com/Domenick1991/cruisebooking/internal/service/ownership"
	"github.com/Domenick1991/cruisebooking/internal/service/session"
	"github.com/stretchr/testify/mock"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Search(ctx context.Context, sessionKey string, params fusion.SearchParams) (*fusion.SearchResponse, error) {
	args := m.Called(ctx, sessionKey, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fusion.SearchResponse), args.Error(1)
}

func (m *MockGateway) RateCodes(ctx context.Context, sessionKey, cruiseID, resultNo string) ([]fusion.RateCode, error) {
	args := m.Called(ctx, sessionKey, cruiseID, resultNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fusion.RateCode), args.Error(1)
}

func (m *MockGateway) CabinGrades(ctx context.Context, sessionKey, cruiseID, resultNo, fareCode string) ([]fusion.CabinGrade, error) {
	args := m.Called(ctx, sessionKey, cruiseID, resultNo, fareCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fusion.CabinGrade), args.Error(1)
}

func (m *MockGateway) Cabins(ctx context.Context, req fusion.CabinsRequest) (*fusion.CabinsResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fusion.CabinsResponse), args.Error(1)
}

func (m *MockGateway) BasketAdd(ctx context.Context, req fusion.BasketAddRequest) (*fusion.BasketAddResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fusion.BasketAddResponse), args.Error(1)
}

func (m *MockGateway) Basket(ctx context.Context, sessionKey string) (*fusion.Basket, error) {
	args := m.Called(ctx, sessionKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fusion.Basket), args.Error(1)
}

func (m *MockGateway) BasketRemove(ctx context.Context, sessionKey, itemKey string) error {
	args := m.Called(ctx, sessionKey, itemKey)
	return args.Error(0)
}

func (m *MockGateway) Book(ctx context.Context, req fusion.BookRequest) (*fusion.BookResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fusion.BookResponse), args.Error(1)
}

func (m *MockGateway) PastPassenger(ctx context.Context, req fusion.PastPassengerRequest) (*fusion.PastPassengerResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fusion.PastPassengerResponse), args.Error(1)
}

type MockSessions struct {
	mock.Mock
}

func (m *MockSessions) session(args mock.Arguments) (*domain.BookingSession, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BookingSession), args.Error(1)
}

func (m *MockSessions) record(args mock.Arguments) (*domain.IdempotencyRecord, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IdempotencyRecord), args.Error(1)
}

func (m *MockSessions) CreateSession(ctx context.Context, input session.CreateSessionInput) (*domain.BookingSession, error) {
	return m.session(m.Called(ctx, input))
}

func (m *MockSessions) GetSession(ctx context.Context, id string) (*domain.BookingSession, error) {
	return m.session(m.Called(ctx, id))
}

func (m *MockSessions) GetActiveSessionForActivity(ctx context.Context, activityID int64) (*domain.BookingSession, error) {
	return m.session(m.Called(ctx, activityID))
}

func (m *MockSessions) UpdateSession(ctx context.Context, id string, patch domain.SessionPatch) (*domain.BookingSession, error) {
	return m.session(m.Called(ctx, id, patch))
}

func (m *MockSessions) ExtendSessionExpiry(ctx context.Context, id string) (*domain.BookingSession, error) {
	return m.session(m.Called(ctx, id))
}

func (m *MockSessions) CompleteSession(ctx context.Context, id, bookingRef string, caller domain.Caller) (*domain.BookingSession, error) {
	return m.session(m.Called(ctx, id, bookingRef, caller))
}

func (m *MockSessions) CancelSession(ctx context.Context, id string) (*domain.BookingSession, error) {
	return m.session(m.Called(ctx, id))
}

func (m *MockSessions) BindHandoff(ctx context.Context, sessionID string, tripID, tripTravelerID, userID int64) (*domain.BookingSession, error) {
	return m.session(m.Called(ctx, sessionID, tripID, tripTravelerID, userID))
}

func (m *MockSessions) ValidateSessionOwnership(ctx context.Context, id string, caller domain.Caller, allowed ...domain.FlowType) (*domain.BookingSession, error) {
	return m.session(m.Called(ctx, id, caller))
}

func (m *MockSessions) HoldStatus(s *domain.BookingSession) domain.HoldStatus {
	args := m.Called(s)
	return args.Get(0).(domain.HoldStatus)
}

func (m *MockSessions) FindByIdempotencyKey(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	return m.record(m.Called(ctx, key))
}

func (m *MockSessions) CreateIdempotencyRecord(ctx context.Context, key string, activityID, userID int64) (*domain.IdempotencyRecord, error) {
	return m.record(m.Called(ctx, key, activityID, userID))
}

func (m *MockSessions) UpdateIdempotencyRecord(ctx context.Context, key string, outcome domain.IdempotencyOutcome) (*domain.IdempotencyRecord, error) {
	return m.record(m.Called(ctx, key, outcome))
}

func (m *MockSessions) ExpireStaleSessions(ctx context.Context) ([]domain.BookingSession, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.BookingSession), args.Error(1)
}

func (m *MockSessions) CleanupIdempotencyRecords(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type MockGuard struct {
	mock.Mock
}

func (m *MockGuard) VerifyActivityOwnership(ctx context.Context, activityID int64, caller domain.Caller) (*ownership.Ownership, error) {
	args := m.Called(ctx, activityID, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ownership.Ownership), args.Error(1)
}

func (m *MockGuard) CanHandoffSession(ctx context.Context, activityID int64, caller domain.Caller) (*ownership.HandoffDecision, error) {
	args := m.Called(ctx, activityID, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ownership.HandoffDecision), args.Error(1)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetSearch(ctx context.Context, sessionKey, paramsHash string) (*fusion.SearchResponse, error) {
	args := m.Called(ctx, sessionKey, paramsHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fusion.SearchResponse), args.Error(1)
}

func (m *MockCache) SetSearch(ctx context.Context, sessionKey, paramsHash string, res *fusion.SearchResponse) error {
	return m.Called(ctx, sessionKey, paramsHash, res).Error(0)
}

func (m *MockCache) GetRateCodes(ctx context.Context, sessionKey, cruiseID, resultNo string) ([]fusion.RateCode, error) {
	args := m.Called(ctx, sessionKey, cruiseID, resultNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fusion.RateCode), args.Error(1)
}

func (m *MockCache) SetRateCodes(ctx context.Context, sessionKey, cruiseID, resultNo string, codes []fusion.RateCode) error {
	return m.Called(ctx, sessionKey, cruiseID, resultNo, codes).Error(0)
}

func (m *MockCache) GetCabinGrades(ctx context.Context, sessionKey, cruiseID, resultNo, fareCode string) ([]fusion.CabinGrade, error) {
	args := m.Called(ctx, sessionKey, cruiseID, resultNo, fareCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fusion.CabinGrade), args.Error(1)
}

func (m *MockCache) SetCabinGrades(ctx context.Context, sessionKey, cruiseID, resultNo, fareCode string, grades []fusion.CabinGrade) error {
	return m.Called(ctx, sessionKey, cruiseID, resultNo, fareCode, grades).Error(0)
}

var (
	_ Gateway                = (*MockGateway)(nil)
	_ session.SessionUseCase = (*MockSessions)(nil)
	_ ownership.GuardUseCase = (*MockGuard)(nil)
	_ Cache                  = (*MockCache)(nil)
)
