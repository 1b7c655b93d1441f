package repository

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey reports a uniqueness conflict.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrStatusConflict reports that a row was not in the status a
	// conditional update expected.
	ErrStatusConflict = errors.New("unexpected status")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
