// Package bid mirrors the ledger's bid acceptance rules so the common
// rejection paths are caught before a network round trip, and maps the
// ledger's own rejection messages back onto the same reasons.
//
// The rules here and the contract's require() checks are a cross-boundary
// invariant: they are kept in sync by hand, and the ledger remains the final
// authority.
package bid

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/chainauction/internal/domain"
)

// Validate checks a candidate bid against an auction as observed at now.
// Rejections are returned in precedence order: domain.ErrOwnerCannotBid,
// domain.ErrAuctionEnded, domain.ErrBidTooLow.
func Validate(a domain.Auction, amount *big.Int, caller common.Address, now time.Time) error {
	if caller == a.Owner {
		return domain.ErrOwnerCannotBid
	}
	if a.Ended || a.EndTime <= now.Unix() {
		return domain.ErrAuctionEnded
	}
	if amount == nil {
		return fmt.Errorf("bid: %w: missing amount", domain.ErrInvalidAmount)
	}
	highest := a.CurrentHighestBid
	if highest == nil {
		highest = new(big.Int)
	}
	if amount.Cmp(highest) <= 0 {
		return domain.ErrBidTooLow
	}
	return nil
}

// ValidateCreate checks the fields of a new auction before submission.
func ValidateCreate(p domain.CreateParams) error {
	var problems []string
	if strings.TrimSpace(p.Title) == "" {
		problems = append(problems, "title is required")
	}
	if strings.TrimSpace(p.Description) == "" {
		problems = append(problems, "description is required")
	}
	if p.StartingPrice == nil || p.StartingPrice.Sign() <= 0 {
		problems = append(problems, "starting price must be positive")
	}
	if p.Duration < time.Second {
		problems = append(problems, "duration must be at least one second")
	}
	if len(problems) > 0 {
		return fmt.Errorf("bid: %w: %s", domain.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}
