package synchronizer

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/chainauction/internal/domain"
)

// StatusFilter selects auctions by lifecycle state.
type StatusFilter string

const (
	StatusActive StatusFilter = "active"
	StatusEnded  StatusFilter = "ended"
	StatusAll    StatusFilter = "all"
)

// SortKey orders a view.
type SortKey string

const (
	SortNewest     SortKey = "newest"
	SortEndingSoon SortKey = "ending_soon"
	SortHighestBid SortKey = "highest_bid"
	SortLowestBid  SortKey = "lowest_bid"
)

// FeaturedCount is how many auctions the featured view shows.
const FeaturedCount = 3

// ParseStatus parses a status filter. The empty string means StatusAll.
func ParseStatus(s string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return StatusAll, nil
	case StatusActive, StatusEnded, StatusAll:
		return f, nil
	default:
		return "", fmt.Errorf("synchronizer: unknown status %q: %w", s, domain.ErrInvalidInput)
	}
}

// ParseSort parses a sort key. The empty string means SortNewest.
func ParseSort(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return SortNewest, nil
	case SortNewest, SortEndingSoon, SortHighestBid, SortLowestBid:
		return k, nil
	default:
		return "", fmt.Errorf("synchronizer: unknown sort %q: %w", s, domain.ErrInvalidInput)
	}
}

// Query describes a derived view.
type Query struct {
	Status StatusFilter
	Search string
	Sort   SortKey
}

// View filters, searches and sorts a snapshot. The snapshot is not modified;
// the returned auctions are copies.
func View(col domain.Collection, q Query, now time.Time) []domain.Auction {
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]domain.Auction, 0, len(col.Auctions))
	for _, a := range col.Auctions {
		if !matchesStatus(a, q.Status, now) {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(a.Title), needle) &&
			!strings.Contains(strings.ToLower(a.Description), needle) {
			continue
		}
		out = append(out, a.Clone())
	}
	slices.SortStableFunc(out, comparator(q.Sort))
	return out
}

// Featured returns the auctions among the FeaturedCount most recent ids,
// newest first. An id that failed to load is left out, not replaced.
func Featured(col domain.Collection) []domain.Auction {
	count := col.Count()
	lo := count - min(count, FeaturedCount)
	out := make([]domain.Auction, 0, FeaturedCount)
	for i := len(col.Auctions) - 1; i >= 0; i-- {
		a := col.Auctions[i]
		if a.ID < lo {
			break
		}
		out = append(out, a.Clone())
	}
	return out
}

func matchesStatus(a domain.Auction, f StatusFilter, now time.Time) bool {
	switch f {
	case StatusActive:
		return a.Active(now)
	case StatusEnded:
		return !a.Active(now)
	default:
		return true
	}
}

func comparator(key SortKey) func(a, b domain.Auction) int {
	byIDDesc := func(a, b domain.Auction) int { return cmp.Compare(b.ID, a.ID) }
	switch key {
	case SortEndingSoon:
		return func(a, b domain.Auction) int {
			return cmp.Or(cmp.Compare(a.EndTime, b.EndTime), byIDDesc(a, b))
		}
	case SortHighestBid:
		return func(a, b domain.Auction) int {
			return cmp.Or(compareAmount(b, a), byIDDesc(a, b))
		}
	case SortLowestBid:
		return func(a, b domain.Auction) int {
			return cmp.Or(compareAmount(a, b), byIDDesc(a, b))
		}
	default:
		return byIDDesc
	}
}

func compareAmount(a, b domain.Auction) int {
	switch {
	case a.CurrentHighestBid == nil && b.CurrentHighestBid == nil:
		return 0
	case a.CurrentHighestBid == nil:
		return -1
	case b.CurrentHighestBid == nil:
		return 1
	}
	return a.CurrentHighestBid.Cmp(b.CurrentHighestBid)
}
