// Package wallet owns the wallet session: the connection to the user's
// signing agent and the reaction to account and chain changes the user makes
// in the agent's own UI.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"

	"github.com/alanyoungcy/chainauction/internal/domain"
)

// Session is the wallet session state machine:
//
//	Disconnected -> Connecting -> Connected
//	Connected    -> Disconnected
//
// Every transition into Connected mints a fresh session ID. Subscribers
// receive one SessionEvent per externally visible transition.
type Session struct {
	agent   domain.Agent
	network domain.NetworkDescriptor
	logger  *slog.Logger

	mu         sync.Mutex
	state      domain.Session
	connecting bool
	closed     bool
	sub        event.Subscription

	feed  event.Feed
	scope event.SubscriptionScope

	watchOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewSession creates a disconnected session. agent may be nil, in which case
// every connect attempt fails with domain.ErrAgentUnavailable.
func NewSession(agent domain.Agent, network domain.NetworkDescriptor, logger *slog.Logger) *Session {
	return &Session{
		agent:   agent,
		network: network,
		logger:  logger.With(slog.String("component", "wallet_session")),
		state:   domain.Session{Status: domain.SessionDisconnected},
		done:    make(chan struct{}),
	}
}

// Current returns a snapshot of the session.
func (s *Session) Current() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe delivers session events to ch until the returned subscription is
// unsubscribed or the session is closed.
func (s *Session) Subscribe(ch chan<- domain.SessionEvent) event.Subscription {
	return s.scope.Track(s.feed.Subscribe(ch))
}

// Connect asks the agent for an account on the target network. A call while
// a connect is already in flight, or while connected, returns the current
// session without doing anything.
func (s *Session) Connect(ctx context.Context) (domain.Session, error) {
	return s.connect(ctx, true)
}

// Reconcile connects silently if the agent already grants an account. It
// never prompts; an agent with no granted accounts leaves the session
// disconnected without error.
func (s *Session) Reconcile(ctx context.Context) (domain.Session, error) {
	sess, err := s.connect(ctx, false)
	if errors.Is(err, errNoAccounts) {
		return sess, nil
	}
	return sess, err
}

var errNoAccounts = errors.New("no granted accounts")

func (s *Session) connect(ctx context.Context, prompt bool) (domain.Session, error) {
	if s.agent == nil {
		return s.Current(), fmt.Errorf("wallet: connect: %w", domain.ErrAgentUnavailable)
	}

	s.mu.Lock()
	if s.closed {
		snap := s.state
		s.mu.Unlock()
		return snap, fmt.Errorf("wallet: connect: %w", domain.ErrSessionInvalidated)
	}
	if s.connecting || s.state.Status == domain.SessionConnected {
		snap := s.state
		s.mu.Unlock()
		return snap, nil
	}
	s.connecting = true
	s.state = domain.Session{Status: domain.SessionConnecting}
	s.mu.Unlock()

	addr, chainID, err := s.establish(ctx, prompt)

	s.mu.Lock()
	s.connecting = false
	if s.closed {
		s.state = domain.Session{Status: domain.SessionDisconnected}
		snap := s.state
		s.mu.Unlock()
		return snap, fmt.Errorf("wallet: connect: %w", domain.ErrSessionInvalidated)
	}
	if err != nil {
		s.state = domain.Session{Status: domain.SessionDisconnected}
		snap := s.state
		s.mu.Unlock()
		return snap, err
	}
	s.state = domain.Session{
		ID:      uuid.New(),
		Status:  domain.SessionConnected,
		Address: addr,
		ChainID: chainID,
	}
	snap := s.state
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "wallet: connected",
		slog.String("session_id", snap.ID.String()),
		slog.String("address", snap.Address.Hex()),
		slog.String("chain_id", snap.ChainID.String()),
	)
	s.feed.Send(domain.SessionEvent{Kind: domain.SessionEventConnected, Session: snap})
	return snap, nil
}

// establish runs the agent handshake. With prompt set it registers and
// switches to the target network and asks for accounts; without it only the
// already-granted accounts are read.
func (s *Session) establish(ctx context.Context, prompt bool) (common.Address, *big.Int, error) {
	var (
		accounts []common.Address
		err      error
	)
	if prompt {
		if addErr := s.agent.AddNetwork(ctx, s.network); addErr != nil {
			s.logger.WarnContext(ctx, "wallet: add network failed, continuing",
				slog.String("network", s.network.Name),
				slog.String("error", addErr.Error()),
			)
		}
		if err := s.agent.SwitchNetwork(ctx, s.network.ChainID); err != nil {
			if errors.Is(err, domain.ErrUserRejected) || errors.Is(err, domain.ErrChainMismatch) {
				return common.Address{}, nil, fmt.Errorf("wallet: switch network: %w", err)
			}
			return common.Address{}, nil, fmt.Errorf("wallet: switch network: %w: %v", domain.ErrChainMismatch, err)
		}
		accounts, err = s.agent.RequestAccounts(ctx)
	} else {
		accounts, err = s.agent.Accounts(ctx)
	}
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("wallet: request accounts: %w", err)
	}
	if len(accounts) == 0 {
		if prompt {
			return common.Address{}, nil, fmt.Errorf("wallet: request accounts: %w", domain.ErrUserRejected)
		}
		return common.Address{}, nil, errNoAccounts
	}

	chainID, err := s.agent.ChainID(ctx)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("wallet: chain id: %w", err)
	}
	if chainID == nil || chainID.Cmp(s.network.ChainID) != 0 {
		return common.Address{}, nil, fmt.Errorf("wallet: agent on chain %v, want %v: %w",
			chainID, s.network.ChainID, domain.ErrChainMismatch)
	}
	return accounts[0], chainID, nil
}

// Watch acquires the agent event subscription and reacts to account and
// chain changes until ctx is done or the session is closed. The subscription
// is acquired at most once per session; later calls are no-ops.
func (s *Session) Watch(ctx context.Context) error {
	if s.agent == nil {
		return fmt.Errorf("wallet: watch: %w", domain.ErrAgentUnavailable)
	}
	err := fmt.Errorf("wallet: watch: %w", domain.ErrSessionInvalidated)
	s.watchOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		events := make(chan domain.AgentEvent, 8)
		s.sub = s.agent.SubscribeEvents(events)
		go s.loop(ctx, s.sub, events)
		err = nil
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil && !s.closed {
		return nil
	}
	return err
}

func (s *Session) loop(ctx context.Context, sub event.Subscription, events <-chan domain.AgentEvent) {
	for {
		select {
		case ev := <-events:
			s.handle(ctx, ev)
		case err, ok := <-sub.Err():
			if ok && err != nil {
				s.logger.WarnContext(ctx, "wallet: agent subscription failed", slog.String("error", err.Error()))
			}
			return
		case <-s.done:
			return
		case <-ctx.Done():
			s.Close()
			return
		}
	}
}

func (s *Session) handle(ctx context.Context, ev domain.AgentEvent) {
	switch ev.Kind {
	case domain.AgentAccountsChanged:
		s.accountsChanged(ctx, ev.Accounts)
	case domain.AgentChainChanged:
		s.invalidate(ctx, ev.ChainID)
	default:
		s.logger.DebugContext(ctx, "wallet: ignoring agent event", slog.String("kind", string(ev.Kind)))
	}
}

func (s *Session) accountsChanged(ctx context.Context, accounts []common.Address) {
	s.mu.Lock()
	if len(accounts) == 0 {
		if s.state.Status == domain.SessionDisconnected {
			s.mu.Unlock()
			return
		}
		prev := s.state
		s.state = domain.Session{Status: domain.SessionDisconnected}
		snap := s.state
		s.mu.Unlock()

		s.logger.InfoContext(ctx, "wallet: agent revoked all accounts",
			slog.String("session_id", prev.ID.String()),
		)
		s.feed.Send(domain.SessionEvent{Kind: domain.SessionEventDisconnected, Session: snap})
		return
	}
	if s.state.Status != domain.SessionConnected || s.state.Address == accounts[0] {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = domain.Session{Status: domain.SessionDisconnected}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "wallet: account switched, reconnecting",
		slog.String("from", prev.Address.Hex()),
		slog.String("to", accounts[0].Hex()),
	)
	if _, err := s.connect(ctx, false); err != nil {
		s.logger.WarnContext(ctx, "wallet: reconnect after account switch failed", slog.String("error", err.Error()))
		s.feed.Send(domain.SessionEvent{
			Kind:    domain.SessionEventDisconnected,
			Session: s.Current(),
			Err:     err,
		})
	}
}

// invalidate ends the session after a chain change. The session is closed
// and must be replaced by a fresh one.
func (s *Session) invalidate(ctx context.Context, chainID *big.Int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = domain.Session{Status: domain.SessionDisconnected}
	snap := s.state
	s.mu.Unlock()

	s.logger.WarnContext(ctx, "wallet: chain changed, session invalidated",
		slog.String("session_id", prev.ID.String()),
		slog.Any("chain_id", chainID),
	)
	s.feed.Send(domain.SessionEvent{
		Kind:    domain.SessionEventInvalidated,
		Session: snap,
		Err:     domain.ErrSessionInvalidated,
	})
	s.Close()
}

// Close releases the agent subscription and ends every session subscriber.
// It is safe to call any number of times from any goroutine, including
// while a connect is in flight.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		sub := s.sub
		s.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
		close(s.done)
		s.scope.Close()
	})
}
