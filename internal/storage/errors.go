package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a write collides with an existing row,
// e.g. a duplicate profile window or a second active baseline.
var ErrConflict = errors.New("storage: conflict")

// ErrImmutable is returned when an update touches a field the schema
// declares immutable. Raised by the database triggers.
var ErrImmutable = errors.New("storage: immutable field")

// immutableErrCode is the SQLSTATE the immutability triggers raise.
// Custom code in class 23 (integrity violation) so it is distinguishable
// from plain CHECK failures.
const immutableErrCode = "23I01"

// mapPgError translates Postgres error codes into package sentinels so
// callers can branch with errors.Is. Unmapped errors pass through.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return ErrConflict
	case immutableErrCode:
		return ErrImmutable
	case "23514": // check_violation, also raised by the privacy triggers
		return ErrConflict
	}
	return err
}
