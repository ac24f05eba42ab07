package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrConflict             = errors.New("conflict: retries exhausted")
	ErrDuplicateRequest     = errors.New("duplicate request")
	ErrSerialState          = errors.New("invalid serial unit state")
	ErrNotFound             = errors.New("not found")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type InsufficientQuantityError struct {
	ItemID    string
	Action    Action
	Held      int
	Requested int
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("%v: %s item %s: held %d, requested %d", ErrInsufficientQuantity, e.Action, e.ItemID, e.Held, e.Requested)
}

func (e *InsufficientQuantityError) Unwrap() error { return ErrInsufficientQuantity }

type ConflictError struct {
	Key      HoldingKey
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: %s after %d attempts", ErrConflict, e.Key, e.Attempts)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// DuplicateRequestError is not a failure: the request was already applied
// and the caller receives the original result alongside it.
type DuplicateRequestError struct {
	RequestID string
	EventID   string
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("%v: request %s already applied as event %s", ErrDuplicateRequest, e.RequestID, e.EventID)
}

func (e *DuplicateRequestError) Unwrap() error { return ErrDuplicateRequest }

// SerialStateError reports a transition attempted from the wrong state, or
// on a unit held by a subject other than the requester (Holder set).
type SerialStateError struct {
	Serial string
	From   SerialStatus
	Want   SerialStatus
	Holder string
}

func (e *SerialStateError) Error() string {
	if e.Holder != "" {
		return fmt.Sprintf("%v: unit %s is %s to %s", ErrSerialState, e.Serial, e.From, e.Holder)
	}
	return fmt.Sprintf("%v: unit %s is %s, want %s", ErrSerialState, e.Serial, e.From, e.Want)
}

func (e *SerialStateError) Unwrap() error { return ErrSerialState }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.ID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
