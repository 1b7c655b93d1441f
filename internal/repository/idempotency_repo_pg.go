package repository

import (
	"context"
	"time"

	"github.com/Domenick1991/cruisebooking/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type IdempotencyRepository interface {
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	// Acquire inserts a pending record, or re-arms a failed one. It returns
	// ErrDuplicateKey while another attempt holds the key or after a success.
	Acquire(ctx context.Context, key string, activityID, userID int64) (*domain.IdempotencyRecord, error)
	Complete(ctx context.Context, key string, outcome domain.IdempotencyOutcome) (*domain.IdempotencyRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type PGIdempotencyRepository struct {
	db *pgxpool.Pool
}

func NewIdempotencyRepository(db *pgxpool.Pool) IdempotencyRepository {
	return &PGIdempotencyRepository{db: db}
}

const idempotencyColumns = `key, activity_id, user_id, status, booking_reference, response_payload, created_at, updated_at`

func scanIdempotency(row rowScanner) (*domain.IdempotencyRecord, error) {
	var (
		rec     domain.IdempotencyRecord
		payload []byte
	)
	if err := row.Scan(&rec.Key, &rec.ActivityID, &rec.UserID, &rec.Status, &rec.BookingReference,
		&payload, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		rec.ResponsePayload = payload
	}
	return &rec, nil
}

func (r *PGIdempotencyRepository) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	rec, err := scanIdempotency(r.db.QueryRow(ctx, `SELECT `+idempotencyColumns+` FROM idempotency_records WHERE key=$1`, key))
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get idempotency record %s", key)
	}
	return rec, nil
}

func (r *PGIdempotencyRepository) Acquire(ctx context.Context, key string, activityID, userID int64) (*domain.IdempotencyRecord, error) {
	rec, err := scanIdempotency(r.db.QueryRow(ctx, `INSERT INTO idempotency_records (key, activity_id, user_id, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
			SET status=EXCLUDED.status, booking_reference=NULL, response_payload=NULL, updated_at=now()
			WHERE idempotency_records.status=$5
			  AND idempotency_records.activity_id=EXCLUDED.activity_id
			  AND idempotency_records.user_id=EXCLUDED.user_id
		RETURNING `+idempotencyColumns,
		key, activityID, userID, domain.IdempotencyPending, domain.IdempotencyFailed))
	if err != nil {
		if notFound(err) || isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, errors.Wrapf(err, "acquire idempotency key %s", key)
	}
	return rec, nil
}

func (r *PGIdempotencyRepository) Complete(ctx context.Context, key string, outcome domain.IdempotencyOutcome) (*domain.IdempotencyRecord, error) {
	var payload any
	if len(outcome.ResponsePayload) > 0 {
		payload = []byte(outcome.ResponsePayload)
	}
	rec, err := scanIdempotency(r.db.QueryRow(ctx, `UPDATE idempotency_records
		SET status=$1, booking_reference=$2, response_payload=$3, updated_at=now()
		WHERE key=$4 AND status=$5 RETURNING `+idempotencyColumns,
		outcome.Status, outcome.BookingReference, payload, key, domain.IdempotencyPending))
	if err != nil {
		if notFound(err) {
			return nil, ErrStatusConflict
		}
		return nil, errors.Wrapf(err, "complete idempotency record %s", key)
	}
	return rec, nil
}

func (r *PGIdempotencyRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cmd, err := r.db.Exec(ctx, `DELETE FROM idempotency_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "delete expired idempotency records")
	}
	return cmd.RowsAffected(), nil
}

var _ IdempotencyRepository = (*PGIdempotencyRepository)(nil)
