package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/cruisebooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type SessionRepository interface {
	// Create cancels any active session for the same activity and inserts s,
	// atomically. It returns the ids of the sessions it superseded.
	Create(ctx context.Context, s *domain.BookingSession) ([]string, error)
	GetByID(ctx context.Context, id string) (*domain.BookingSession, error)
	GetActiveByActivity(ctx context.Context, activityID int64) (*domain.BookingSession, error)
	Update(ctx context.Context, id string, patch domain.SessionPatch) (*domain.BookingSession, error)
	ExtendExpiry(ctx context.Context, id string, until time.Time) (*domain.BookingSession, error)
	// Transition moves an active session into a terminal status.
	Transition(ctx context.Context, id string, to domain.SessionStatus) (*domain.BookingSession, error)
	// Complete marks the session completed and writes the booking reference
	// through to the owning activity in one transaction.
	Complete(ctx context.Context, id, bookingRef string) (*domain.BookingSession, error)
	// ExpireActiveBefore skips sessions whose activity has a booking pending
	// since inFlightSince or later.
	ExpireActiveBefore(ctx context.Context, deadline, inFlightSince time.Time) ([]domain.BookingSession, error)
}

type PGSessionRepository struct {
	db *pgxpool.Pool
}

func NewSessionRepository(db *pgxpool.Pool) SessionRepository {
	return &PGSessionRepository{db: db}
}

const sessionColumns = `id, activity_id, user_id, trip_id, trip_traveler_id, handoff_user_id, session_key, flow_type,
	cruise_id, result_no, fare_code, grade_no, cabin_no, basket_item_key, session_expires_at, hold_expires_at,
	status, booking_reference, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.BookingSession, error) {
	var s domain.BookingSession
	if err := row.Scan(&s.ID, &s.ActivityID, &s.UserID, &s.TripID, &s.TripTravelerID, &s.HandoffUserID,
		&s.SessionKey, &s.FlowType, &s.CruiseID, &s.ResultNo, &s.FareCode, &s.GradeNo, &s.CabinNo,
		&s.BasketItemKey, &s.SessionExpiresAt, &s.HoldExpiresAt, &s.Status, &s.BookingReference,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PGSessionRepository) Create(ctx context.Context, s *domain.BookingSession) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin create session")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `UPDATE booking_sessions SET status=$1, updated_at=now()
		WHERE activity_id=$2 AND status=$3 RETURNING id`,
		domain.SessionStatusCancelled, s.ActivityID, domain.SessionStatusActive)
	if err != nil {
		return nil, errors.Wrap(err, "cancel superseded sessions")
	}
	superseded, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "cancel superseded sessions")
	}

	s.Status = domain.SessionStatusActive
	err = tx.QueryRow(ctx, `INSERT INTO booking_sessions (id, activity_id, user_id, trip_id, trip_traveler_id, handoff_user_id,
			session_key, flow_type, cruise_id, result_no, fare_code, grade_no, cabin_no, basket_item_key,
			session_expires_at, hold_expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at`,
		s.ID, s.ActivityID, s.UserID, s.TripID, s.TripTravelerID, s.HandoffUserID,
		s.SessionKey, s.FlowType, s.CruiseID, s.ResultNo, s.FareCode, s.GradeNo, s.CabinNo, s.BasketItemKey,
		s.SessionExpiresAt, s.HoldExpiresAt, s.Status).
		Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, errors.Wrap(err, "insert booking session")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit create session")
	}
	return superseded, nil
}

func (r *PGSessionRepository) GetByID(ctx context.Context, id string) (*domain.BookingSession, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM booking_sessions WHERE id=$1`, id))
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get session %s", id)
	}
	return s, nil
}

func (r *PGSessionRepository) GetActiveByActivity(ctx context.Context, activityID int64) (*domain.BookingSession, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM booking_sessions
		WHERE activity_id=$1 AND status=$2`, activityID, domain.SessionStatusActive))
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get active session for activity %d", activityID)
	}
	return s, nil
}

func (r *PGSessionRepository) Update(ctx context.Context, id string, patch domain.SessionPatch) (*domain.BookingSession, error) {
	sets := []string{}
	args := []any{}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}

	if patch.CruiseID != nil {
		add("cruise_id", *patch.CruiseID)
	}
	if patch.ResultNo != nil {
		add("result_no", *patch.ResultNo)
	}
	if patch.FareCode != nil {
		add("fare_code", *patch.FareCode)
	}
	if patch.GradeNo != nil {
		add("grade_no", *patch.GradeNo)
	}
	if patch.CabinNo != nil {
		add("cabin_no", *patch.CabinNo)
	}
	if patch.BasketItemKey != nil {
		add("basket_item_key", *patch.BasketItemKey)
	}
	if patch.ClearHold {
		sets = append(sets, "hold_expires_at=NULL")
	} else if patch.HoldExpiresAt != nil {
		add("hold_expires_at", *patch.HoldExpiresAt)
	}
	if patch.FlowType != nil {
		add("flow_type", *patch.FlowType)
	}
	if patch.TripID != nil {
		add("trip_id", *patch.TripID)
	}
	if patch.TripTravelerID != nil {
		add("trip_traveler_id", *patch.TripTravelerID)
	}
	if patch.HandoffUserID != nil {
		add("handoff_user_id", *patch.HandoffUserID)
	}
	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}

	args = append(args, id, domain.SessionStatusActive)
	query := fmt.Sprintf(`UPDATE booking_sessions SET %s, updated_at=now() WHERE id=$%d AND status=$%d RETURNING %s`,
		strings.Join(sets, ", "), len(args)-1, len(args), sessionColumns)

	s, err := scanSession(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if notFound(err) {
			return nil, ErrStatusConflict
		}
		return nil, errors.Wrapf(err, "update session %s", id)
	}
	return s, nil
}

func (r *PGSessionRepository) ExtendExpiry(ctx context.Context, id string, until time.Time) (*domain.BookingSession, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `UPDATE booking_sessions SET session_expires_at=$1, updated_at=now()
		WHERE id=$2 AND status=$3 RETURNING `+sessionColumns, until, id, domain.SessionStatusActive))
	if err != nil {
		if notFound(err) {
			return nil, ErrStatusConflict
		}
		return nil, errors.Wrapf(err, "extend session %s", id)
	}
	return s, nil
}

func (r *PGSessionRepository) Transition(ctx context.Context, id string, to domain.SessionStatus) (*domain.BookingSession, error) {
	if !domain.CanTransition(domain.SessionStatusActive, to) {
		return nil, errors.Errorf("invalid transition to %s", to)
	}
	s, err := scanSession(r.db.QueryRow(ctx, `UPDATE booking_sessions SET status=$1, updated_at=now()
		WHERE id=$2 AND status=$3 RETURNING `+sessionColumns, to, id, domain.SessionStatusActive))
	if err != nil {
		if notFound(err) {
			return nil, ErrStatusConflict
		}
		return nil, errors.Wrapf(err, "transition session %s to %s", id, to)
	}
	return s, nil
}

func (r *PGSessionRepository) Complete(ctx context.Context, id, bookingRef string) (*domain.BookingSession, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin complete session")
	}
	defer tx.Rollback(ctx)

	s, err := scanSession(tx.QueryRow(ctx, `UPDATE booking_sessions SET status=$1, booking_reference=$2, updated_at=now()
		WHERE id=$3 AND status=$4 RETURNING `+sessionColumns,
		domain.SessionStatusCompleted, bookingRef, id, domain.SessionStatusActive))
	if err != nil {
		if notFound(err) {
			return nil, ErrStatusConflict
		}
		return nil, errors.Wrapf(err, "complete session %s", id)
	}

	cmd, err := tx.Exec(ctx, `UPDATE trip_activities SET booking_reference=$1, updated_at=now() WHERE id=$2`, bookingRef, s.ActivityID)
	if err != nil {
		return nil, errors.Wrapf(err, "write booking reference to activity %d", s.ActivityID)
	}
	if cmd.RowsAffected() == 0 {
		return nil, errors.Wrapf(ErrNotFound, "activity %d", s.ActivityID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit complete session")
	}
	return s, nil
}

func (r *PGSessionRepository) ExpireActiveBefore(ctx context.Context, deadline, inFlightSince time.Time) ([]domain.BookingSession, error) {
	rows, err := r.db.Query(ctx, `UPDATE booking_sessions SET status=$1, updated_at=now()
		WHERE status=$2 AND session_expires_at <= $3
		  AND NOT EXISTS (
			SELECT 1 FROM idempotency_records ir
			WHERE ir.activity_id = booking_sessions.activity_id AND ir.status=$4 AND ir.updated_at >= $5)
		RETURNING `+sessionColumns,
		domain.SessionStatusExpired, domain.SessionStatusActive, deadline, domain.IdempotencyPending, inFlightSince)
	if err != nil {
		return nil, errors.Wrap(err, "expire stale sessions")
	}
	defer rows.Close()

	var expired []domain.BookingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan expired session")
		}
		expired = append(expired, *s)
	}
	return expired, rows.Err()
}

var _ SessionRepository = (*PGSessionRepository)(nil)
