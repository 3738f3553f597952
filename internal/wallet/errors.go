package wallet

import "errors"

// ErrNoIdentity is returned by mutating operations attempted before an
// identity has been generated or imported.
var ErrNoIdentity = errors.New("wallet: no active identity")

// ValidationError reports a required field that is missing or empty.
// It is a recoverable outcome; callers surface the field name and keep
// running.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return "wallet: invalid " + e.Field + ": " + e.Reason
	}
	return "wallet: " + e.Field + " is required"
}

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return "wallet: " + e.Entity + " not found: " + e.Key
}
