package ownership

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/Domenick1991/cruisebooking/internal/domain"
	"github.com/Domenick1991/cruisebooking/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAccessResolver struct {
	mock.Mock
}

func (m *MockAccessResolver) ResolveAccess(ctx context.Context, activityID, userID int64) (*domain.ActivityAccess, error) {
	args := m.Called(ctx, activityID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ActivityAccess), args.Error(1)
}

type MockSessionBinder struct {
	mock.Mock
}

func (m *MockSessionBinder) GetActiveSessionForActivity(ctx context.Context, activityID int64) (*domain.BookingSession, error) {
	args := m.Called(ctx, activityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BookingSession), args.Error(1)
}

func (m *MockSessionBinder) BindHandoff(ctx context.Context, sessionID string, tripID, tripTravelerID, userID int64) (*domain.BookingSession, error) {
	args := m.Called(ctx, sessionID, tripID, tripTravelerID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BookingSession), args.Error(1)
}

func ptr[T any](v T) *T { return &v }

func TestVerifyActivityOwnership(t *testing.T) {
	testCases := []struct {
		name      string
		caller    domain.Caller
		access    domain.ActivityAccess
		wantValid bool
	}{
		{
			name:      "same agency",
			caller:    domain.Caller{UserID: 5, AgencyID: 10, Role: domain.RoleAgent},
			access:    domain.ActivityAccess{ActivityID: 1, TripID: 9, TripAgencyID: 10},
			wantValid: true,
		},
		{
			name:      "linked traveler",
			caller:    domain.Caller{UserID: 6, Role: domain.RoleClient},
			access:    domain.ActivityAccess{ActivityID: 1, TripID: 9, TripAgencyID: 10, TripTravelerID: ptr(int64(44))},
			wantValid: true,
		},
		{
			name:      "trip creator",
			caller:    domain.Caller{UserID: 7, AgencyID: 11},
			access:    domain.ActivityAccess{ActivityID: 1, TripID: 9, TripAgencyID: 10, IsTripOwner: true},
			wantValid: true,
		},
		{
			name:      "stranger",
			caller:    domain.Caller{UserID: 8, AgencyID: 11},
			access:    domain.ActivityAccess{ActivityID: 1, TripID: 9, TripAgencyID: 10},
			wantValid: false,
		},
		{
			name:      "agencyless caller does not match agencyless trip",
			caller:    domain.Caller{UserID: 8},
			access:    domain.ActivityAccess{ActivityID: 1, TripID: 9},
			wantValid: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resolver := &MockAccessResolver{}
			access := tc.access
			resolver.On("ResolveAccess", mock.Anything, int64(1), tc.caller.UserID).Return(&access, nil)

			got, err := NewVerifier(resolver).VerifyActivityOwnership(context.Background(), 1, tc.caller)
			require.NoError(t, err)
			assert.Equal(t, tc.wantValid, got.Valid)
			if tc.wantValid {
				require.NotNil(t, got.TripID)
				assert.Equal(t, int64(9), *got.TripID)
				assert.Equal(t, tc.access.TripTravelerID, got.TripTravelerID)
			}
			resolver.AssertExpectations(t)
		})
	}
}

func TestVerifyActivityOwnership_UnknownActivity(t *testing.T) {
	resolver := &MockAccessResolver{}
	resolver.On("ResolveAccess", mock.Anything, int64(3), int64(5)).Return(nil, repository.ErrNotFound)

	_, err := NewVerifier(resolver).VerifyActivityOwnership(context.Background(), 3, domain.Caller{UserID: 5})
	assert.ErrorIs(t, err, domain.ErrActivityNotFound)
}

func newTestGuard(resolver *MockAccessResolver, binder *MockSessionBinder) *Guard {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewGuard(NewVerifier(resolver), resolver, binder, []string{"quoted", "accepted"}, WithLogger(logger))
}

func TestCanHandoffSession_LinkedTravelerIsAllowed(t *testing.T) {
	resolver := &MockAccessResolver{}
	binder := &MockSessionBinder{}
	guard := newTestGuard(resolver, binder)
	client := domain.Caller{UserID: 21, Role: domain.RoleClient}

	active := &domain.BookingSession{ID: "s-1", ActivityID: 1, UserID: 5, FlowType: domain.FlowAgent, BasketItemKey: "item-1", Status: domain.SessionStatusActive}
	handed := *active
	handed.FlowType = domain.FlowClientHandoff
	handed.HandoffUserID = ptr(int64(21))

	binder.On("GetActiveSessionForActivity", mock.Anything, int64(1)).Return(active, nil)
	resolver.On("ResolveAccess", mock.Anything, int64(1), int64(21)).
		Return(&domain.ActivityAccess{ActivityID: 1, TripID: 9, TripStatus: "quoted", TripTravelerID: ptr(int64(44))}, nil)
	binder.On("BindHandoff", mock.Anything, "s-1", int64(9), int64(44), int64(21)).Return(&handed, nil)

	decision, err := guard.CanHandoffSession(context.Background(), 1, client)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, domain.FlowClientHandoff, decision.Session.FlowType)
	binder.AssertExpectations(t)
}

func TestCanHandoffSession_Denials(t *testing.T) {
	active := &domain.BookingSession{ID: "s-1", ActivityID: 1, BasketItemKey: "item-1", Status: domain.SessionStatusActive}

	testCases := []struct {
		name       string
		sessionErr error
		access     *domain.ActivityAccess
		reason     string
	}{
		{name: "no session", sessionErr: domain.ErrSessionNotFound, reason: ReasonNoActiveSession},
		{name: "expired session", sessionErr: domain.ErrSessionExpired, reason: ReasonNoActiveSession},
		{name: "not linked", access: &domain.ActivityAccess{TripID: 9, TripStatus: "quoted"}, reason: ReasonNotTraveler},
		{name: "trip booked already", access: &domain.ActivityAccess{TripID: 9, TripStatus: "confirmed", TripTravelerID: ptr(int64(1))}, reason: ReasonNotOfferable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resolver := &MockAccessResolver{}
			binder := &MockSessionBinder{}
			if tc.sessionErr != nil {
				binder.On("GetActiveSessionForActivity", mock.Anything, int64(1)).Return(nil, tc.sessionErr)
			} else {
				binder.On("GetActiveSessionForActivity", mock.Anything, int64(1)).Return(active, nil)
				resolver.On("ResolveAccess", mock.Anything, int64(1), int64(21)).Return(tc.access, nil)
			}

			decision, err := newTestGuard(resolver, binder).CanHandoffSession(context.Background(), 1, domain.Caller{UserID: 21})
			require.NoError(t, err)
			assert.False(t, decision.Allowed)
			assert.Equal(t, tc.reason, decision.Reason)
			binder.AssertNotCalled(t, "BindHandoff", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCanHandoffSession_EmptyBasketIsInvalid(t *testing.T) {
	resolver := &MockAccessResolver{}
	binder := &MockSessionBinder{}
	binder.On("GetActiveSessionForActivity", mock.Anything, int64(1)).
		Return(&domain.BookingSession{ID: "s-1", ActivityID: 1, Status: domain.SessionStatusActive}, nil)
	resolver.On("ResolveAccess", mock.Anything, int64(1), int64(21)).
		Return(&domain.ActivityAccess{TripID: 9, TripStatus: "accepted", TripTravelerID: ptr(int64(2))}, nil)

	_, err := newTestGuard(resolver, binder).CanHandoffSession(context.Background(), 1, domain.Caller{UserID: 21})
	assert.ErrorIs(t, err, domain.ErrHandoffInvalid)
}

func TestCanHandoffSession_StoreFailurePropagates(t *testing.T) {
	resolver := &MockAccessResolver{}
	binder := &MockSessionBinder{}
	boom := errors.New("db down")
	binder.On("GetActiveSessionForActivity", mock.Anything, int64(1)).Return(nil, boom)

	_, err := newTestGuard(resolver, binder).CanHandoffSession(context.Background(), 1, domain.Caller{UserID: 21})
	assert.ErrorIs(t, err, boom)
}
