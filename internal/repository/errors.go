package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// ErrUniqueViolation is returned when an insert collides with a unique index.
var ErrUniqueViolation = errors.New("unique constraint violation")

const pqUniqueViolation = "23505"

// uniqueViolation maps a pq unique_violation on constraint (any constraint when empty) to ErrUniqueViolation.
func uniqueViolation(err error, constraint string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		if constraint == "" || pqErr.Constraint == constraint {
			return ErrUniqueViolation
		}
	}
	return err
}

func offset(page, size int) int {
	return (page - 1) * size
}

// IsNotFound reports whether err signals a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
