package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrapped by ValidationError, StoreError and NotFoundError;
// compare with errors.Is.
var (
	ErrReadOnly            = errors.New("no proposal selected: read-only")
	ErrTerminalStatus      = errors.New("proposal status is terminal")
	ErrNotConfirmed        = errors.New("status change not confirmed")
	ErrDuplicateMembership = errors.New("membership already recorded")
	ErrRevisionOutOfSync   = errors.New("tile revision is newer than proposal open date")
	ErrNotEditing          = errors.New("store is not in an edit session")
	ErrAlreadyEditing      = errors.New("store is already in an edit session")
	ErrTransactionActive   = errors.New("transaction already active")
	ErrNotModified         = errors.New("primary store has no changes")
	ErrNotFound            = errors.New("not found")
	ErrRestrictionInUse    = errors.New("restriction is referenced by another proposal")
)

// ValidationError reports a rejected input or state transition.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field != "" && e.Reason != "":
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	case e.Reason != "":
		return "validation failed: " + e.Reason
	case e.Err != nil:
		return "validation failed: " + e.Err.Error()
	default:
		return "validation failed"
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid builds a ValidationError carrying a sentinel cause.
func Invalid(field string, cause error) *ValidationError {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return &ValidationError{Field: field, Reason: reason, Err: cause}
}

// StoreError reports a failure attributed to a named store.
type StoreError struct {
	Store string
	Op    string
	Err   error
}

func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("store %s: %v", e.Store, e.Err)
	}
	return fmt.Sprintf("store %s: %s: %v", e.Store, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// Is lets NotFoundError match ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError for any printable identifier.
func NotFound(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

// StoreName extracts the store attributed by err, if any.
func StoreName(err error) (string, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Store, true
	}
	return "", false
}
