package bid

import (
	"context"
	"errors"
	"strings"

	"github.com/alanyoungcy/chainauction/internal/domain"
)

// rejectionPatterns maps fragments of the contract's revert strings to the
// local rejection reasons. Matching is case-insensitive.
var rejectionPatterns = []struct {
	fragment string
	reason   error
}{
	{"owner cannot bid", domain.ErrOwnerCannotBid},
	{"bid not high enough", domain.ErrBidTooLow},
	{"bid too low", domain.ErrBidTooLow},
	{"auction already ended", domain.ErrAuctionEnded},
	{"auction ended", domain.ErrAuctionEnded},
	{"auction has ended", domain.ErrAuctionEnded},
	{"auction not yet ended", domain.ErrAuctionEnded},
	{"user denied", domain.ErrUserRejected},
	{"user rejected", domain.ErrUserRejected},
}

// Classify turns a submission failure into a *domain.LedgerRejectedError
// whose Reason is the closest local rejection reason, or
// domain.ErrUnclassified. Errors that already carry a LedgerRejectedError are
// returned unchanged, and nil stays nil.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var rejected *domain.LedgerRejectedError
	if errors.As(err, &rejected) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	return &domain.LedgerRejectedError{
		Reason:  ReasonFor(msg),
		Message: msg,
	}
}

// ReasonFor returns the rejection reason matching a ledger message.
func ReasonFor(msg string) error {
	lower := strings.ToLower(msg)
	for _, p := range rejectionPatterns {
		if strings.Contains(lower, p.fragment) {
			return p.reason
		}
	}
	return domain.ErrUnclassified
}
