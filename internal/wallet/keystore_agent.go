package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/alanyoungcy/chainauction/internal/domain"
)

// KeystoreAgent is a domain.Agent over a local go-ethereum keystore. The
// configured passphrase stands in for the user's approval: an account that
// fails to unlock is treated as a declined prompt.
type KeystoreAgent struct {
	ks         *keystore.KeyStore
	passphrase string
	logger     *slog.Logger

	mu       sync.Mutex
	networks map[string]domain.NetworkDescriptor
	chainID  *big.Int
	granted  []accounts.Account
	feed     event.Feed
}

// NewKeystoreAgent creates an agent that knows home and starts pointed at it.
func NewKeystoreAgent(ks *keystore.KeyStore, passphrase string, home domain.NetworkDescriptor, logger *slog.Logger) *KeystoreAgent {
	return &KeystoreAgent{
		ks:         ks,
		passphrase: passphrase,
		logger:     logger.With(slog.String("component", "keystore_agent")),
		networks:   map[string]domain.NetworkDescriptor{home.ChainID.String(): home},
		chainID:    new(big.Int).Set(home.ChainID),
	}
}

// RequestAccounts unlocks every keystore account the passphrase opens and
// grants them, in keystore order.
func (a *KeystoreAgent) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	all := a.ks.Accounts()
	if len(all) == 0 {
		return nil, nil
	}
	var (
		unlocked []accounts.Account
		declined int
	)
	for _, acct := range all {
		if err := a.ks.Unlock(acct, a.passphrase); err != nil {
			if errors.Is(err, keystore.ErrDecrypt) {
				declined++
				continue
			}
			return nil, fmt.Errorf("wallet: unlock %s: %w", acct.Address.Hex(), err)
		}
		unlocked = append(unlocked, acct)
	}
	if len(unlocked) == 0 && declined > 0 {
		return nil, fmt.Errorf("wallet: no account unlocked: %w", domain.ErrUserRejected)
	}

	a.mu.Lock()
	a.granted = unlocked
	a.mu.Unlock()
	a.logger.InfoContext(ctx, "wallet: accounts granted", slog.Int("count", len(unlocked)))
	return addresses(unlocked), nil
}

// Accounts returns the granted accounts without unlocking anything.
func (a *KeystoreAgent) Accounts(ctx context.Context) ([]common.Address, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return addresses(a.granted), nil
}

func (a *KeystoreAgent) ChainID(ctx context.Context) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(big.Int).Set(a.chainID), nil
}

// SwitchNetwork points the agent at a previously added network and emits a
// chain change when the chain actually differs.
func (a *KeystoreAgent) SwitchNetwork(ctx context.Context, chainID *big.Int) error {
	if chainID == nil {
		return fmt.Errorf("wallet: switch network: %w", domain.ErrInvalidInput)
	}
	a.mu.Lock()
	if _, ok := a.networks[chainID.String()]; !ok {
		a.mu.Unlock()
		return fmt.Errorf("wallet: chain %s was never added: %w", chainID, domain.ErrChainMismatch)
	}
	if a.chainID.Cmp(chainID) == 0 {
		a.mu.Unlock()
		return nil
	}
	a.chainID = new(big.Int).Set(chainID)
	a.mu.Unlock()

	a.feed.Send(domain.AgentEvent{Kind: domain.AgentChainChanged, ChainID: new(big.Int).Set(chainID)})
	return nil
}

func (a *KeystoreAgent) AddNetwork(ctx context.Context, network domain.NetworkDescriptor) error {
	if network.ChainID == nil {
		return fmt.Errorf("wallet: add network %q: %w", network.Name, domain.ErrInvalidInput)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.networks[network.ChainID.String()] = network
	return nil
}

func (a *KeystoreAgent) SubscribeEvents(sink chan<- domain.AgentEvent) event.Subscription {
	return a.feed.Subscribe(sink)
}

// Signer returns a signer for a granted account.
func (a *KeystoreAgent) Signer(addr common.Address) (domain.TxSigner, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, acct := range a.granted {
		if acct.Address == addr {
			return &keystoreSigner{ks: a.ks, account: acct}, nil
		}
	}
	return nil, fmt.Errorf("wallet: signer for %s: %w", addr.Hex(), domain.ErrNotConnected)
}

// Revoke locks every granted account and reports an empty account set, the
// way a user disconnecting the site from their wallet does.
func (a *KeystoreAgent) Revoke() {
	a.mu.Lock()
	granted := a.granted
	a.granted = nil
	a.mu.Unlock()

	for _, acct := range granted {
		if err := a.ks.Lock(acct.Address); err != nil {
			a.logger.Warn("wallet: lock account", slog.String("address", acct.Address.Hex()), slog.String("error", err.Error()))
		}
	}
	a.feed.Send(domain.AgentEvent{Kind: domain.AgentAccountsChanged, Accounts: []common.Address{}})
}

// Select makes addr the active account. The account must already be granted.
func (a *KeystoreAgent) Select(addr common.Address) error {
	a.mu.Lock()
	idx := slices.IndexFunc(a.granted, func(acct accounts.Account) bool { return acct.Address == addr })
	if idx < 0 {
		a.mu.Unlock()
		return fmt.Errorf("wallet: select %s: %w", addr.Hex(), domain.ErrNotConnected)
	}
	if idx == 0 {
		a.mu.Unlock()
		return nil
	}
	acct := a.granted[idx]
	a.granted = append([]accounts.Account{acct}, slices.Delete(a.granted, idx, idx+1)...)
	current := addresses(a.granted)
	a.mu.Unlock()

	a.feed.Send(domain.AgentEvent{Kind: domain.AgentAccountsChanged, Accounts: current})
	return nil
}

// Run forwards keystore changes until ctx is done. A granted account whose
// key file disappears is dropped and reported as an account change.
func (a *KeystoreAgent) Run(ctx context.Context) error {
	walletEvents := make(chan accounts.WalletEvent, 16)
	sub := a.ks.Subscribe(walletEvents)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err != nil {
				return fmt.Errorf("wallet: keystore subscription: %w", err)
			}
			return nil
		case ev := <-walletEvents:
			if ev.Kind != accounts.WalletDropped {
				continue
			}
			a.dropAccounts(ctx, ev.Wallet.Accounts())
		}
	}
}

func (a *KeystoreAgent) dropAccounts(ctx context.Context, dropped []accounts.Account) {
	a.mu.Lock()
	before := len(a.granted)
	a.granted = slices.DeleteFunc(a.granted, func(acct accounts.Account) bool {
		return slices.ContainsFunc(dropped, func(d accounts.Account) bool { return d.Address == acct.Address })
	})
	changed := len(a.granted) != before
	current := addresses(a.granted)
	a.mu.Unlock()

	if !changed {
		return
	}
	a.logger.InfoContext(ctx, "wallet: granted account removed from keystore", slog.Int("remaining", len(current)))
	a.feed.Send(domain.AgentEvent{Kind: domain.AgentAccountsChanged, Accounts: current})
}

func addresses(accts []accounts.Account) []common.Address {
	out := make([]common.Address, len(accts))
	for i, acct := range accts {
		out[i] = acct.Address
	}
	return out
}

type keystoreSigner struct {
	ks      *keystore.KeyStore
	account accounts.Account
}

func (s *keystoreSigner) Address() common.Address { return s.account.Address }

func (s *keystoreSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := s.ks.SignTx(s.account, tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("wallet: sign tx: %w", err)
	}
	return signed, nil
}

var _ domain.Agent = (*KeystoreAgent)(nil)
