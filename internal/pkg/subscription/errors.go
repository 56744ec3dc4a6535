package subscription

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest marks malformed identifiers. Rejected before any
	// external call and never retried automatically.
	ErrInvalidRequest = errors.New("invalid subscription request")

	// ErrAlreadyInProgress is returned while a creation or change for the same
	// key is still running (or cooling down). A retryable conflict, not a
	// system failure.
	ErrAlreadyInProgress = errors.New("subscription request already in progress")

	// ErrAlreadySubscribed is the business-rule conflict for an active
	// subscription to the same tier.
	ErrAlreadySubscribed = errors.New("already subscribed to this tier")

	// ErrSignatureInvalid rejects webhook deliveries that fail authentication.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
)

// PersistenceError wraps a failed local store write. When one occurs after a
// processor-side object was created, the orchestrator rolls the external
// object back before surfacing it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
