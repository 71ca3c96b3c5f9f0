package store

import (
	"errors"
	"strings"

	"github.com/goliatone/go-customer-cache/customer"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const pgUniqueViolation = "23505"

// mapWriteError turns a driver level uniqueness violation into a
// *customer.ConflictError and passes every other error through unchanged.
func mapWriteError(err error, row *customerRow) error {
	if err == nil || !isUniqueViolation(err) {
		return err
	}

	field, value := "id", row.ID
	if strings.Contains(err.Error(), "email") || isEmailConstraint(err) {
		field, value = "email", row.Email
	}
	return &customer.ConflictError{Field: field, Value: value, Err: err}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	// Wrappers that flatten the driver error keep its message.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

func isEmailConstraint(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Constraint == emailIndex
}
