package storage

import (
	"errors"

	"github.com/lib/pq"
)

// pgUniqueViolation is the SQLSTATE Postgres returns for a unique-key
// constraint violation.
const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err represents a Postgres unique
// constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}
	return false
}
