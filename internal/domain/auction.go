package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Auction is a single auction as recorded by the ledger. ID, Title,
// Description, ImageURL, StartingPrice, Owner and EndTime never change once
// created; CurrentHighestBid, HighestBidder and Ended are only ever advanced by
// the ledger.
type Auction struct {
	ID                uint64
	Title             string
	Description       string
	ImageURL          string
	StartingPrice     *big.Int // wei
	CurrentHighestBid *big.Int // wei, >= StartingPrice
	HighestBidder     common.Address
	EndTime           int64 // unix seconds
	Ended             bool
	Owner             common.Address
}

// HasBidder reports whether anyone has bid yet. The ledger uses the zero
// address as the "no bidder" sentinel.
func (a Auction) HasBidder() bool {
	return a.HighestBidder != (common.Address{})
}

// Active reports whether the auction still accepts bids at now.
func (a Auction) Active(now time.Time) bool {
	return !a.Ended && a.EndTime > now.Unix()
}

// Clone returns a deep copy so the amounts can be handed out without sharing
// the underlying big.Int storage.
func (a Auction) Clone() Auction {
	out := a
	if a.StartingPrice != nil {
		out.StartingPrice = new(big.Int).Set(a.StartingPrice)
	}
	if a.CurrentHighestBid != nil {
		out.CurrentHighestBid = new(big.Int).Set(a.CurrentHighestBid)
	}
	return out
}

// Bid is a historical bid, in ledger submission order.
type Bid struct {
	Bidder    common.Address
	Amount    *big.Int
	Timestamp int64
}

// CreateParams carries the fields of a createAuction submission.
type CreateParams struct {
	Title         string
	Description   string
	ImageURL      string
	StartingPrice *big.Int
	Duration      time.Duration
}

// Collection is a snapshot of every auction that could be read at Height
// during a single synchronization pass, ordered by ID ascending.
type Collection struct {
	Height    uint64
	SessionID uuid.UUID
	Auctions  []Auction
	// Missing lists the ids in [0, count) whose fetch failed during the pass.
	Missing   []uint64
	FetchedAt time.Time
}

// Len returns the number of auctions present in the snapshot.
func (c Collection) Len() int { return len(c.Auctions) }

// Count returns the auction count the pass was taken at: one past the
// highest id that was either read or reported missing.
func (c Collection) Count() uint64 {
	var n uint64
	for _, a := range c.Auctions {
		n = max(n, a.ID+1)
	}
	for _, id := range c.Missing {
		n = max(n, id+1)
	}
	return n
}

// Find returns the auction with the given id.
func (c Collection) Find(id uint64) (Auction, bool) {
	for _, a := range c.Auctions {
		if a.ID == id {
			return a, true
		}
	}
	return Auction{}, false
}

// Clone returns a deep copy of the collection.
func (c Collection) Clone() Collection {
	out := c
	out.Auctions = make([]Auction, len(c.Auctions))
	for i, a := range c.Auctions {
		out.Auctions[i] = a.Clone()
	}
	if c.Missing != nil {
		out.Missing = append([]uint64(nil), c.Missing...)
	}
	return out
}

// ShortAddress renders an address as 0x1234...abcd for display.
func ShortAddress(addr common.Address) string {
	s := addr.Hex()
	return s[:6] + "..." + s[len(s)-4:]
}
