package postgres

import (
	"errors"

	"github.com/lib/pq"
)

const uniqueViolation = pq.ErrorCode("23505")

// sessionTokenConstraint is the unique index on sessions.token.
const sessionTokenConstraint = "sessions_token_key"

// IsTokenCollision reports whether err is a unique violation of the session
// token index. Tokens are 256-bit random values, so in practice this means
// the same token was inserted twice rather than bad luck.
func IsTokenCollision(err error) bool {
	return IsUniqueViolation(err, sessionTokenConstraint)
}

// IsUniqueViolation reports whether err is a postgres unique-constraint
// violation. An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
