// Package service holds the auction view model: the composition root that
// ties the wallet session, the ledger client, the synchronizer and the bid
// rules together for the HTTP and WebSocket layers.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/chainauction/internal/bid"
	"github.com/alanyoungcy/chainauction/internal/clock"
	"github.com/alanyoungcy/chainauction/internal/domain"
	"github.com/alanyoungcy/chainauction/internal/ledger"
	"github.com/alanyoungcy/chainauction/internal/synchronizer"
	"github.com/alanyoungcy/chainauction/internal/wallet"
)

// Push channels the service publishes on.
const (
	ChannelSession  = "session"
	ChannelSnapshot = "snapshot"
)

// CountdownChannel is the push channel for one auction's countdown.
func CountdownChannel(id uint64) string {
	return fmt.Sprintf("countdown:%d", id)
}

// Publisher pushes a payload to every client subscribed to channel.
type Publisher interface {
	Publish(channel string, payload any)
}

// Revoker is implemented by agents that can drop their granted accounts on
// request.
type Revoker interface {
	Revoke()
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// AuctionConfig carries the fixed parameters of the view model.
type AuctionConfig struct {
	Network domain.NetworkDescriptor
	Ledger  ledger.Config
	Sync    synchronizer.Config
}

// activeSession is the per-session read and write stack. It is built when a
// session connects and dropped as a whole when it ends.
type activeSession struct {
	id     uuid.UUID
	caller domain.Session
	client *ledger.Client
	sync   *synchronizer.Synchronizer
}

// AuctionService is the auction view model.
type AuctionService struct {
	backend ledger.Backend
	agent   domain.Agent
	cfg     AuctionConfig
	clock   clockwork.Clock
	pub     Publisher
	logger  *slog.Logger

	mu      sync.RWMutex
	session *wallet.Session
	events  chan domain.SessionEvent
	active  *activeSession

	refresh singleflight.Group
}

// NewAuctionService creates the view model with a fresh, disconnected wallet
// session. agent may be nil; connecting then fails with
// domain.ErrAgentUnavailable. pub may be nil.
func NewAuctionService(
	backend ledger.Backend,
	agent domain.Agent,
	cfg AuctionConfig,
	clk clockwork.Clock,
	pub Publisher,
	logger *slog.Logger,
) *AuctionService {
	if pub == nil {
		pub = nopPublisher{}
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	s := &AuctionService{
		backend: backend,
		agent:   agent,
		cfg:     cfg,
		clock:   clk,
		pub:     pub,
		logger:  logger.With(slog.String("component", "auction_service")),
	}
	s.mu.Lock()
	s.installSessionLocked()
	s.mu.Unlock()
	return s
}

// installSessionLocked replaces the wallet session. s.mu must be held.
func (s *AuctionService) installSessionLocked() *wallet.Session {
	sess := wallet.NewSession(s.agent, s.cfg.Network, s.logger)
	events := make(chan domain.SessionEvent, 16)
	sess.Subscribe(events)
	s.session = sess
	s.events = events
	return sess
}

func (s *AuctionService) current() (*wallet.Session, chan domain.SessionEvent, *activeSession) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.events, s.active
}

// Run reconciles the session with the agent and then reacts to session
// events until ctx is done. A chain change replaces the wallet session with a
// fresh, disconnected one.
func (s *AuctionService) Run(ctx context.Context) error {
	sess, _, _ := s.current()
	s.watch(ctx, sess)
	if s.agent != nil {
		if got, err := sess.Reconcile(ctx); err != nil {
			s.logger.WarnContext(ctx, "auction_service: silent reconnect failed", slog.String("error", err.Error()))
		} else if got.Connected() {
			s.activate(ctx, got)
		}
	}
	s.pub.Publish(ChannelSession, s.Session())

	for {
		sess, events, _ := s.current()
		select {
		case <-ctx.Done():
			sess.Close()
			return nil
		case ev := <-events:
			s.handleSessionEvent(ctx, sess, ev)
		}
	}
}

func (s *AuctionService) watch(ctx context.Context, sess *wallet.Session) {
	if err := sess.Watch(ctx); err != nil {
		s.logger.WarnContext(ctx, "auction_service: not watching agent events", slog.String("error", err.Error()))
	}
}

func (s *AuctionService) handleSessionEvent(ctx context.Context, sess *wallet.Session, ev domain.SessionEvent) {
	switch ev.Kind {
	case domain.SessionEventConnected:
		s.activate(ctx, ev.Session)
	case domain.SessionEventDisconnected:
		s.deactivate(ctx, ev.Session)
	case domain.SessionEventInvalidated:
		sess.Close()
		s.mu.Lock()
		if s.session == sess {
			s.installSessionLocked()
		}
		next := s.session
		s.mu.Unlock()
		s.deactivate(ctx, ev.Session)
		s.watch(ctx, next)
		s.logger.InfoContext(ctx, "auction_service: session replaced after chain change")
	}
}

// activate builds the read and write stack for a connected session. It is
// idempotent per session ID.
func (s *AuctionService) activate(ctx context.Context, sess domain.Session) {
	s.mu.RLock()
	already := s.active != nil && s.active.id == sess.ID
	s.mu.RUnlock()
	if already {
		return
	}

	signer, err := s.agent.Signer(sess.Address)
	if err != nil {
		s.logger.ErrorContext(ctx, "auction_service: no signer for session",
			slog.String("address", sess.Address.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}
	client, err := ledger.New(s.backend, s.cfg.Ledger, signer)
	if err != nil {
		s.logger.ErrorContext(ctx, "auction_service: ledger client", slog.String("error", err.Error()))
		return
	}
	act := &activeSession{
		id:     sess.ID,
		caller: sess,
		client: client,
		sync:   synchronizer.New(client, sess.ID, s.cfg.Sync, s.clock, s.logger),
	}

	s.mu.Lock()
	if s.active != nil && s.active.id == sess.ID {
		s.mu.Unlock()
		return
	}
	prev := s.active
	s.active = act
	s.mu.Unlock()
	if prev != nil {
		prev.sync.Discard()
	}

	s.pub.Publish(ChannelSession, newSessionView(sess))
	if _, err := s.Refresh(ctx); err != nil {
		s.logger.WarnContext(ctx, "auction_service: initial refresh failed", slog.String("error", err.Error()))
	}
}

func (s *AuctionService) deactivate(ctx context.Context, sess domain.Session) {
	s.mu.Lock()
	prev := s.active
	s.active = nil
	s.mu.Unlock()
	if prev != nil {
		prev.sync.Discard()
		s.logger.InfoContext(ctx, "auction_service: session ended, snapshot discarded",
			slog.String("session_id", prev.id.String()),
		)
	}
	s.pub.Publish(ChannelSession, newSessionView(sess))
}

// Session returns the current wallet session.
func (s *AuctionService) Session() SessionView {
	sess, _, _ := s.current()
	return newSessionView(sess.Current())
}

// Connect runs the prompting connect flow and, on success, builds the
// session's read stack before returning.
func (s *AuctionService) Connect(ctx context.Context) (SessionView, error) {
	sess, _, _ := s.current()
	got, err := sess.Connect(ctx)
	if err != nil {
		return newSessionView(got), fmt.Errorf("auction_service: connect: %w", err)
	}
	if got.Connected() {
		s.activate(ctx, got)
	}
	return newSessionView(got), nil
}

// Disconnect asks the agent to drop its granted accounts. The session then
// ends through the agent's account notification.
func (s *AuctionService) Disconnect(ctx context.Context) (SessionView, error) {
	r, ok := s.agent.(Revoker)
	if !ok {
		return s.Session(), fmt.Errorf("auction_service: disconnect: agent cannot revoke accounts: %w", domain.ErrAgentUnavailable)
	}
	r.Revoke()
	gone := domain.Session{Status: domain.SessionDisconnected}
	s.deactivate(ctx, gone)
	return newSessionView(gone), nil
}

func (s *AuctionService) requireActive() (*activeSession, error) {
	_, _, act := s.current()
	if act == nil {
		return nil, domain.ErrNotConnected
	}
	return act, nil
}

// Refresh runs a synchronization pass for the current session. Concurrent
// callers share one pass. A pass that completes after its session ended is
// reported as domain.ErrSessionInvalidated and not published.
func (s *AuctionService) Refresh(ctx context.Context) (SnapshotView, error) {
	col, err := s.refreshCollection(ctx)
	if err != nil {
		return SnapshotView{}, err
	}
	return newSnapshotView(col, s.clock.Now(), s.cfg.Network.CurrencySymbol), nil
}

func (s *AuctionService) refreshCollection(ctx context.Context) (domain.Collection, error) {
	act, err := s.requireActive()
	if err != nil {
		return domain.Collection{}, fmt.Errorf("auction_service: refresh: %w", err)
	}
	v, err, _ := s.refresh.Do(act.id.String(), func() (any, error) {
		col, err := act.sync.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		if _, _, now := s.current(); now == nil || now.id != col.SessionID {
			act.sync.Discard()
			return nil, domain.ErrSessionInvalidated
		}
		s.pub.Publish(ChannelSnapshot, newSnapshotView(col, s.clock.Now(), s.cfg.Network.CurrencySymbol))
		return col, nil
	})
	if err != nil {
		return domain.Collection{}, fmt.Errorf("auction_service: refresh: %w", err)
	}
	return v.(domain.Collection).Clone(), nil
}

func (s *AuctionService) snapshot(ctx context.Context, act *activeSession) (domain.Collection, error) {
	if col, ok := act.sync.Snapshot(); ok {
		return col, nil
	}
	return s.refreshCollection(ctx)
}

// Auctions returns the filtered, searched and sorted view of the snapshot,
// running a first synchronization pass if none has completed yet.
func (s *AuctionService) Auctions(ctx context.Context, q synchronizer.Query) ([]AuctionView, error) {
	act, err := s.requireActive()
	if err != nil {
		return nil, fmt.Errorf("auction_service: auctions: %w", err)
	}
	col, err := s.snapshot(ctx, act)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	return newAuctionViews(synchronizer.View(col, q, now), now, s.cfg.Network.CurrencySymbol), nil
}

// Featured returns the most recently created auctions.
func (s *AuctionService) Featured(ctx context.Context) ([]AuctionView, error) {
	act, err := s.requireActive()
	if err != nil {
		return nil, fmt.Errorf("auction_service: featured: %w", err)
	}
	col, err := s.snapshot(ctx, act)
	if err != nil {
		return nil, err
	}
	return newAuctionViews(synchronizer.Featured(col), s.clock.Now(), s.cfg.Network.CurrencySymbol), nil
}

func (s *AuctionService) lookup(ctx context.Context, act *activeSession, id uint64) (domain.Auction, error) {
	col, err := s.snapshot(ctx, act)
	if err != nil {
		return domain.Auction{}, err
	}
	a, ok := col.Find(id)
	if !ok {
		return domain.Auction{}, fmt.Errorf("auction_service: auction %d: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

// Auction returns one auction from the snapshot.
func (s *AuctionService) Auction(ctx context.Context, id uint64) (AuctionView, error) {
	act, err := s.requireActive()
	if err != nil {
		return AuctionView{}, fmt.Errorf("auction_service: auction %d: %w", id, err)
	}
	a, err := s.lookup(ctx, act, id)
	if err != nil {
		return AuctionView{}, err
	}
	return newAuctionView(a, s.clock.Now(), s.cfg.Network.CurrencySymbol), nil
}

// Bids returns the bid history of an auction straight from the ledger.
func (s *AuctionService) Bids(ctx context.Context, id uint64) ([]BidView, error) {
	act, err := s.requireActive()
	if err != nil {
		return nil, fmt.Errorf("auction_service: bids: %w", err)
	}
	bids, err := act.client.FetchBids(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("auction_service: bids: %w", err)
	}
	out := make([]BidView, len(bids))
	for i, b := range bids {
		out[i] = newBidView(b)
	}
	return out, nil
}

// PlaceBid validates a bid against the snapshot, submits it, waits for it to
// be mined and refreshes. Local rejections come back as the bare rejection
// sentinel; ledger rejections as *domain.LedgerRejectedError.
func (s *AuctionService) PlaceBid(ctx context.Context, id uint64, amount *big.Int) (TxView, error) {
	act, err := s.requireActive()
	if err != nil {
		return TxView{}, fmt.Errorf("auction_service: place bid: %w", err)
	}
	a, err := s.lookup(ctx, act, id)
	if err != nil {
		return TxView{}, err
	}
	if err := bid.Validate(a, amount, act.caller.Address, s.clock.Now()); err != nil {
		return TxView{}, err
	}
	if err := s.stillCurrent(act); err != nil {
		return TxView{}, err
	}

	pending, err := act.client.SubmitBid(ctx, id, amount)
	if err != nil {
		return TxView{}, bid.Classify(err)
	}
	s.logger.InfoContext(ctx, "auction_service: bid submitted",
		slog.Uint64("auction_id", id),
		slog.String("amount_wei", amount.String()),
		slog.String("tx", pending.Hash.Hex()),
	)
	return s.await(ctx, pending)
}

// CreateAuction validates and submits a new auction.
func (s *AuctionService) CreateAuction(ctx context.Context, p domain.CreateParams) (TxView, error) {
	act, err := s.requireActive()
	if err != nil {
		return TxView{}, fmt.Errorf("auction_service: create auction: %w", err)
	}
	if err := bid.ValidateCreate(p); err != nil {
		return TxView{}, err
	}
	pending, err := act.client.SubmitCreate(ctx, p)
	if err != nil {
		return TxView{}, bid.Classify(err)
	}
	s.logger.InfoContext(ctx, "auction_service: auction submitted",
		slog.String("title", p.Title),
		slog.String("tx", pending.Hash.Hex()),
	)
	return s.await(ctx, pending)
}

// EndAuction submits endAuction for an auction that has not ended yet.
func (s *AuctionService) EndAuction(ctx context.Context, id uint64) (TxView, error) {
	act, err := s.requireActive()
	if err != nil {
		return TxView{}, fmt.Errorf("auction_service: end auction: %w", err)
	}
	a, err := s.lookup(ctx, act, id)
	if err != nil {
		return TxView{}, err
	}
	if a.Ended {
		return TxView{}, domain.ErrAuctionEnded
	}
	pending, err := act.client.SubmitEnd(ctx, id)
	if err != nil {
		return TxView{}, bid.Classify(err)
	}
	return s.await(ctx, pending)
}

func (s *AuctionService) stillCurrent(act *activeSession) error {
	sess, _, now := s.current()
	if now == nil || now.id != act.id || sess.Current().ID != act.id {
		return fmt.Errorf("auction_service: %w", domain.ErrSessionInvalidated)
	}
	return nil
}

// await blocks until the write is mined and then refreshes. A refresh failure
// does not fail the write.
func (s *AuctionService) await(ctx context.Context, pending *ledger.PendingTx) (TxView, error) {
	receipt, err := pending.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return TxView{Hash: pending.Hash.Hex()}, fmt.Errorf("auction_service: waiting for %s: %w", pending.Hash.Hex(), err)
		}
		return TxView{Hash: pending.Hash.Hex()}, bid.Classify(err)
	}
	out := TxView{Hash: receipt.TxHash.Hex()}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if _, err := s.Refresh(ctx); err != nil {
		s.logger.WarnContext(ctx, "auction_service: refresh after write failed",
			slog.String("tx", out.Hash),
			slog.String("error", err.Error()),
		)
	}
	return out, nil
}

// StartCountdown starts a countdown for an auction in the snapshot. The
// caller owns the returned countdown and must stop it on teardown.
func (s *AuctionService) StartCountdown(ctx context.Context, id uint64, onTick func(CountdownView)) (*clock.Countdown, error) {
	act, err := s.requireActive()
	if err != nil {
		return nil, fmt.Errorf("auction_service: countdown: %w", err)
	}
	a, err := s.lookup(ctx, act, id)
	if err != nil {
		return nil, err
	}
	return clock.StartCountdown(s.clock, a.EndTime, func(left string) {
		onTick(CountdownView{AuctionID: id, TimeLeft: left})
	}), nil
}
