// Package synchronizer builds height-consistent snapshots of every auction on
// the ledger and derives the filtered, searched and sorted views the UI shows.
package synchronizer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/chainauction/internal/domain"
)

// Reader is the part of the ledger client a synchronization pass needs.
type Reader interface {
	Height(ctx context.Context) (uint64, error)
	Count(ctx context.Context, height uint64) (uint64, error)
	FetchOne(ctx context.Context, id, height uint64) (domain.Auction, error)
}

// Config tunes a Synchronizer.
type Config struct {
	// MaxConcurrency bounds the number of in-flight item fetches. Zero or
	// less means unbounded.
	MaxConcurrency int
}

// Synchronizer owns the snapshot of one wallet session. It is created when
// the session connects and dropped with it.
type Synchronizer struct {
	reader    Reader
	sessionID uuid.UUID
	cfg       Config
	clock     clockwork.Clock
	logger    *slog.Logger

	latest atomic.Pointer[domain.Collection]
}

// New creates a Synchronizer whose snapshots are stamped with sessionID.
func New(reader Reader, sessionID uuid.UUID, cfg Config, clock clockwork.Clock, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		reader:    reader,
		sessionID: sessionID,
		cfg:       cfg,
		clock:     clock,
		logger: logger.With(
			slog.String("component", "synchronizer"),
			slog.String("session_id", sessionID.String()),
		),
	}
}

// SessionID returns the session the snapshots belong to.
func (s *Synchronizer) SessionID() uuid.UUID { return s.sessionID }

type itemResult struct {
	id      uint64
	auction domain.Auction
	err     error
}

// Refresh reads every auction at a single ledger height and publishes the
// result as the current snapshot. Items that fail to load are logged and
// listed in Collection.Missing; only a failure to read the height or the
// count fails the pass. Overlapping calls are not coordinated: whichever
// finishes last is published.
func (s *Synchronizer) Refresh(ctx context.Context) (domain.Collection, error) {
	height, err := s.reader.Height(ctx)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("synchronizer: refresh: %w", err)
	}
	count, err := s.reader.Count(ctx, height)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("synchronizer: refresh at height %d: %w", height, err)
	}

	results := make([]itemResult, count)
	var g errgroup.Group
	if s.cfg.MaxConcurrency > 0 {
		g.SetLimit(s.cfg.MaxConcurrency)
	}
	for i := range count {
		g.Go(func() error {
			a, err := s.reader.FetchOne(ctx, i, height)
			results[i] = itemResult{id: i, auction: a, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return domain.Collection{}, fmt.Errorf("synchronizer: refresh: %w", err)
	}

	col := domain.Collection{
		Height:    height,
		SessionID: s.sessionID,
		Auctions:  make([]domain.Auction, 0, count),
		FetchedAt: s.clock.Now(),
	}
	for _, r := range results {
		if r.err != nil {
			col.Missing = append(col.Missing, r.id)
			s.logger.WarnContext(ctx, "synchronizer: item fetch failed",
				slog.Uint64("auction_id", r.id),
				slog.Uint64("height", height),
				slog.String("error", r.err.Error()),
			)
			continue
		}
		col.Auctions = append(col.Auctions, r.auction)
	}
	if len(col.Missing) > 0 {
		s.logger.WarnContext(ctx, "synchronizer: "+domain.ErrPartialReadFailure.Error(),
			slog.Int("missing", len(col.Missing)),
			slog.Uint64("count", count),
		)
	}

	published := col.Clone()
	s.latest.Store(&published)
	s.logger.DebugContext(ctx, "synchronizer: snapshot published",
		slog.Uint64("height", height),
		slog.Int("auctions", col.Len()),
	)
	return col, nil
}

// Snapshot returns a copy of the last published collection.
func (s *Synchronizer) Snapshot() (domain.Collection, bool) {
	p := s.latest.Load()
	if p == nil {
		return domain.Collection{}, false
	}
	return p.Clone(), true
}

// Discard drops the published snapshot.
func (s *Synchronizer) Discard() {
	s.latest.Store(nil)
}

// Lookup returns one auction from the published snapshot.
func (s *Synchronizer) Lookup(id uint64) (domain.Auction, error) {
	col, ok := s.Snapshot()
	if !ok {
		return domain.Auction{}, fmt.Errorf("synchronizer: auction %d: no snapshot: %w", id, domain.ErrNotFound)
	}
	a, ok := col.Find(id)
	if !ok {
		return domain.Auction{}, fmt.Errorf("synchronizer: auction %d: %w", id, domain.ErrNotFound)
	}
	return a, nil
}
