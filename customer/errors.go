package customer

import "errors"

var (
	// ErrNotFound matches any *NotFoundError through errors.Is.
	ErrNotFound = errors.New("customer not found")
	// ErrConflict matches any *ConflictError through errors.Is.
	ErrConflict = errors.New("customer conflict")
)

// NotFoundError reports that no customer exists for an id qualified operation.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return "customer with id " + e.ID + " not found"
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConflictError reports a uniqueness violation on create or update.
type ConflictError struct {
	Field string
	Value string
	Err   error
}

func (e *ConflictError) Error() string {
	return "customer with " + e.Field + " " + e.Value + " already exists"
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}
