package repository

import (
	"context"

	"github.com/Domenick1991/cruisebooking/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// ActivityRepository reads the CRM tables that decide who may book an activity.
type ActivityRepository interface {
	ResolveAccess(ctx context.Context, activityID, userID int64) (*domain.ActivityAccess, error)
}

type PGActivityRepository struct {
	db *pgxpool.Pool
}

func NewActivityRepository(db *pgxpool.Pool) ActivityRepository {
	return &PGActivityRepository{db: db}
}

func (r *PGActivityRepository) ResolveAccess(ctx context.Context, activityID, userID int64) (*domain.ActivityAccess, error) {
	var acc domain.ActivityAccess
	err := r.db.QueryRow(ctx, `SELECT a.id, t.id, t.agency_id, t.status, t.created_by = $2, tt.id
		FROM trip_activities a
		JOIN trips t ON t.id = a.trip_id
		LEFT JOIN contacts c ON c.user_id = $2
		LEFT JOIN trip_travelers tt ON tt.trip_id = t.id AND tt.contact_id = c.id
		WHERE a.id = $1
		ORDER BY tt.id NULLS LAST
		LIMIT 1`, activityID, userID).
		Scan(&acc.ActivityID, &acc.TripID, &acc.TripAgencyID, &acc.TripStatus, &acc.IsTripOwner, &acc.TripTravelerID)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "resolve access to activity %d", activityID)
	}
	return &acc, nil
}

var _ ActivityRepository = (*PGActivityRepository)(nil)
