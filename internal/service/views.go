package service

import (
	"math/big"
	"time"

	"github.com/alanyoungcy/chainauction/internal/clock"
	"github.com/alanyoungcy/chainauction/internal/domain"
	"github.com/alanyoungcy/chainauction/internal/units"
)

// SessionView is the JSON shape of the wallet session.
type SessionView struct {
	ID           string `json:"id,omitempty"`
	Status       string `json:"status"`
	Address      string `json:"address,omitempty"`
	ShortAddress string `json:"short_address,omitempty"`
	ChainID      string `json:"chain_id,omitempty"`
}

// AuctionView is the JSON shape of an auction. Amounts are decimal ether
// strings; the raw wei values are included for clients that do their own
// arithmetic.
type AuctionView struct {
	ID                   uint64 `json:"id"`
	Title                string `json:"title"`
	Description          string `json:"description"`
	ImageURL             string `json:"image_url"`
	StartingPrice        string `json:"starting_price"`
	StartingPriceWei     string `json:"starting_price_wei"`
	CurrentHighestBid    string `json:"current_highest_bid"`
	CurrentHighestBidWei string `json:"current_highest_bid_wei"`
	HighestBidder        string `json:"highest_bidder,omitempty"`
	EndTime              int64  `json:"end_time"`
	TimeLeft             string `json:"time_left"`
	Active               bool   `json:"active"`
	Ended                bool   `json:"ended"`
	Owner                string `json:"owner"`
	OwnerShort           string `json:"owner_short"`
	Currency             string `json:"currency"`
}

// BidView is the JSON shape of a historical bid.
type BidView struct {
	Bidder       string `json:"bidder"`
	BidderShort  string `json:"bidder_short"`
	Amount       string `json:"amount"`
	AmountWei    string `json:"amount_wei"`
	Timestamp    int64  `json:"timestamp"`
	TimestampISO string `json:"timestamp_iso"`
}

// SnapshotView is the JSON shape of a published collection.
type SnapshotView struct {
	SessionID string        `json:"session_id"`
	Height    uint64        `json:"height"`
	FetchedAt time.Time     `json:"fetched_at"`
	Missing   []uint64      `json:"missing,omitempty"`
	Auctions  []AuctionView `json:"auctions"`
}

// TxView reports a mined write.
type TxView struct {
	Hash        string `json:"hash"`
	BlockNumber uint64 `json:"block_number"`
}

// CountdownView is one countdown tick.
type CountdownView struct {
	AuctionID uint64 `json:"auction_id"`
	TimeLeft  string `json:"time_left"`
}

func newSessionView(s domain.Session) SessionView {
	v := SessionView{Status: string(s.Status)}
	if !s.Connected() {
		return v
	}
	v.ID = s.ID.String()
	v.Address = s.Address.Hex()
	v.ShortAddress = domain.ShortAddress(s.Address)
	if s.ChainID != nil {
		v.ChainID = s.ChainID.String()
	}
	return v
}

func newAuctionView(a domain.Auction, now time.Time, currency string) AuctionView {
	v := AuctionView{
		ID:                   a.ID,
		Title:                a.Title,
		Description:          a.Description,
		ImageURL:             a.ImageURL,
		StartingPrice:        units.FormatEther(a.StartingPrice),
		StartingPriceWei:     weiString(a.StartingPrice),
		CurrentHighestBid:    units.FormatEther(a.CurrentHighestBid),
		CurrentHighestBidWei: weiString(a.CurrentHighestBid),
		EndTime:              a.EndTime,
		TimeLeft:             clock.TimeLeft(a.EndTime, now),
		Active:               a.Active(now),
		Ended:                a.Ended,
		Owner:                a.Owner.Hex(),
		OwnerShort:           domain.ShortAddress(a.Owner),
		Currency:             currency,
	}
	if a.HasBidder() {
		v.HighestBidder = a.HighestBidder.Hex()
	}
	return v
}

func newAuctionViews(auctions []domain.Auction, now time.Time, currency string) []AuctionView {
	out := make([]AuctionView, len(auctions))
	for i, a := range auctions {
		out[i] = newAuctionView(a, now, currency)
	}
	return out
}

func newBidView(b domain.Bid) BidView {
	return BidView{
		Bidder:       b.Bidder.Hex(),
		BidderShort:  domain.ShortAddress(b.Bidder),
		Amount:       units.FormatEther(b.Amount),
		AmountWei:    weiString(b.Amount),
		Timestamp:    b.Timestamp,
		TimestampISO: time.Unix(b.Timestamp, 0).UTC().Format(time.RFC3339),
	}
}

func newSnapshotView(c domain.Collection, now time.Time, currency string) SnapshotView {
	return SnapshotView{
		SessionID: c.SessionID.String(),
		Height:    c.Height,
		FetchedAt: c.FetchedAt,
		Missing:   c.Missing,
		Auctions:  newAuctionViews(c.Auctions, now, currency),
	}
}

func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
