package repository

import (
	"context"
	_ "embed"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

//go:embed schema.sql
var schema string

// Migrate creates the booking tables. The CRM tables it joins against
// (trips, trip_activities, trip_travelers, contacts) are owned elsewhere.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "apply booking schema")
	}
	return nil
}
