package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	appErrors "github.com/noah-isme/incident-tracker/pkg/errors"
)

const pqUniqueViolation = "23505"

// duplicateKey converts a unique violation into a CONFLICT error and wraps
// anything else with op.
func duplicateKey(err error, op, message string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, message)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// requireAffected reports sql.ErrNoRows when an update or delete touched nothing.
func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
