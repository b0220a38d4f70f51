// internal/apperrors/apperrors.go
package apperrors

import (
	"errors"
	"fmt"

	"github.com/lemarche/tender-engine/internal/model"
)

// ValidationError is a malformed input; no state change happened.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

func (e *ValidationError) Code() string { return "validation" }

func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TenderNotFoundError is a sentinel error
type TenderNotFoundError struct {
	ID   int64
	Slug string
}

func (e *TenderNotFoundError) Error() string {
	if e.Slug != "" {
		return fmt.Sprintf("tender with slug %q not found", e.Slug)
	}
	return fmt.Sprintf("tender with ID %d not found", e.ID)
}

func (e *TenderNotFoundError) Code() string { return "tender_not_found" }

func NewTenderNotFound(id int64) error {
	return &TenderNotFoundError{ID: id}
}

func NewTenderNotFoundBySlug(slug string) error {
	return &TenderNotFoundError{Slug: slug}
}

// LinkNotFoundError means no TenderSupplier row exists for the pair.
type LinkNotFoundError struct {
	TenderID   int64
	SupplierID int64
}

func (e *LinkNotFoundError) Error() string {
	return fmt.Sprintf("no link for tender %d and supplier %d", e.TenderID, e.SupplierID)
}

func (e *LinkNotFoundError) Code() string { return "link_not_found" }

// IllegalTransitionError is a tender state-machine violation.
type IllegalTransitionError struct {
	From model.TenderStatus
	To   model.TenderStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal tender transition %s -> %s", e.From, e.To)
}

func (e *IllegalTransitionError) Code() string { return "illegal_transition" }

func NewIllegalTransition(from, to model.TenderStatus) error {
	return &IllegalTransitionError{From: from, To: to}
}

// ConflictingStateError is an interaction event that contradicts a prior
// terminal state on the same link.
type ConflictingStateError struct {
	TenderID   int64
	SupplierID int64
	State      model.LinkState
}

func (e *ConflictingStateError) Error() string {
	return fmt.Sprintf("conflicting event for tender %d / supplier %d (link is %s)", e.TenderID, e.SupplierID, e.State)
}

func (e *ConflictingStateError) Code() string { return "conflicting_state" }

// BackpressureError means the dispatch queue is full; the caller retries.
type BackpressureError struct {
	Topic string
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("queue %q is at capacity", e.Topic)
}

func (e *BackpressureError) Code() string { return "backpressure" }

// TransientExternalError wraps a retryable provider failure (5xx, timeout,
// rate limit).
type TransientExternalError struct {
	Op  string
	Err error
}

func (e *TransientExternalError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientExternalError) Unwrap() error { return e.Err }

func (e *TransientExternalError) Code() string { return "transient_external" }

// PermanentExternalError wraps a provider failure that must not be retried
// (invalid recipient, rejected template).
type PermanentExternalError struct {
	Op  string
	Err error
}

func (e *PermanentExternalError) Error() string {
	return fmt.Sprintf("permanent failure in %s: %v", e.Op, e.Err)
}

func (e *PermanentExternalError) Unwrap() error { return e.Err }

func (e *PermanentExternalError) Code() string { return "permanent_external" }

func IsTransient(err error) bool {
	var t *TransientExternalError
	return errors.As(err, &t)
}

func IsPermanent(err error) bool {
	var p *PermanentExternalError
	return errors.As(err, &p)
}

func IsBackpressure(err error) bool {
	var b *BackpressureError
	return errors.As(err, &b)
}
