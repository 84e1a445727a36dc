package domain

import (
	"errors"
	"fmt"
)

// ErrConfig is returned when a component is constructed with invalid input.
// It is fatal: the caller must not proceed.
var ErrConfig = errors.New("invalid configuration")

// ErrExhausted is returned when no active credential is left in the pool.
// The caller skips the current cycle and retries later.
var ErrExhausted = errors.New("no active credential available")

// CredentialError is a vendor-API failure attributable to one credential
// (auth failure, forbidden market-data scope, rate limit).
type CredentialError struct {
	Token  string
	Status int
	Reason string
}

func (e *CredentialError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("credential %s rejected (%d): %s", MaskToken(e.Token), e.Status, e.Reason)
	}
	return fmt.Sprintf("credential %s rejected: %s", MaskToken(e.Token), e.Reason)
}

// TransientDataError is a malformed or missing price in an API response.
// The current action is abandoned without mutating state.
type TransientDataError struct {
	Symbol string
	Reason string
}

func (e *TransientDataError) Error() string {
	if e.Symbol == "" {
		return "bad market data: " + e.Reason
	}
	return fmt.Sprintf("bad market data for %s: %s", e.Symbol, e.Reason)
}

// PersistenceError wraps an I/O failure of the ledger or the position snapshot.
// It is never swallowed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
