package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNotConnected  = errors.New("wallet not connected")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidInput  = errors.New("invalid input")

	// Agent and session errors.
	ErrAgentUnavailable   = errors.New("signing agent unavailable")
	ErrUserRejected       = errors.New("user rejected request")
	ErrChainMismatch      = errors.New("connected to the wrong network")
	ErrSessionInvalidated = errors.New("session invalidated by chain change")

	// Bid rejection reasons, shared by local validation and ledger
	// rejection classification.
	ErrOwnerCannotBid = errors.New("owner cannot bid on own auction")
	ErrAuctionEnded   = errors.New("auction has ended")
	ErrBidTooLow      = errors.New("bid must be higher than the current highest bid")
	ErrUnclassified   = errors.New("unclassified ledger rejection")

	// ErrPartialReadFailure marks a synchronization pass where some items
	// could not be read. It is logged, never returned to callers.
	ErrPartialReadFailure = errors.New("partial read failure")
)

// LedgerRejectedError is a submission the ledger refused after local
// validation passed. Reason is one of the bid rejection sentinels above, or
// ErrUnclassified when the ledger's message is not recognised.
type LedgerRejectedError struct {
	Reason  error
	Message string
}

func (e *LedgerRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ledger rejected: %v", e.Reason)
	}
	return fmt.Sprintf("ledger rejected: %v: %s", e.Reason, e.Message)
}

func (e *LedgerRejectedError) Unwrap() error { return e.Reason }
