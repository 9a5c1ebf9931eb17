package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// PostgreSQL error codes the repositories care about
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Constraint names from the migrations
const (
	constraintBookingSlot   = "bookings_active_slot_idx"
	constraintBookingNumber = "bookings_booking_number_key"
	constraintAccountEmail  = "accounts_email_key"
	constraintGroupPlayer   = "bookings_group_player_idx"
)

// ErrDuplicateBookingNumber is returned when a generated booking number collides.
// Callers retry with a fresh number.
var ErrDuplicateBookingNumber = errors.New("booking number already exists")

// pgError returns the SQLSTATE code and constraint of a driver error, for both lib/pq and pgx
func pgError(err error) (code, constraint string, ok bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName, true
	}
	return "", "", false
}

// IsUniqueViolation reports whether err is a unique constraint violation.
// With a constraint name it only matches that constraint.
func IsUniqueViolation(err error, constraint ...string) bool {
	code, name, ok := pgError(err)
	if !ok || code != codeUniqueViolation {
		return false
	}
	if len(constraint) == 0 {
		return true
	}
	for _, c := range constraint {
		if name == c {
			return true
		}
	}
	return false
}

// IsCheckViolation reports whether err is a CHECK constraint violation
func IsCheckViolation(err error) bool {
	code, _, ok := pgError(err)
	return ok && code == codeCheckViolation
}

// IsTransient reports whether retrying the operation may succeed
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if code, _, ok := pgError(err); ok {
		// class 08 is connection exception
		return code == codeSerializationFailure || code == codeDeadlockDetected || strings.HasPrefix(code, "08")
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
