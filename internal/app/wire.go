package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"

	"github.com/alanyoungcy/chainauction/internal/config"
	"github.com/alanyoungcy/chainauction/internal/crypto"
	"github.com/alanyoungcy/chainauction/internal/ledger"
	"github.com/alanyoungcy/chainauction/internal/server/ws"
	"github.com/alanyoungcy/chainauction/internal/service"
	"github.com/alanyoungcy/chainauction/internal/synchronizer"
	"github.com/alanyoungcy/chainauction/internal/wallet"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Backend  ledger.Backend
	Keystore *keystore.KeyStore
	Agent    *wallet.KeystoreAgent
	Hub      *ws.Hub
	Auctions *service.AuctionService
	Clock    clockwork.Clock
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Clock: clockwork.NewRealClock()}
	network := cfg.Chain.Network()

	// --- RPC backend ---
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Ledger.DialTimeout.Duration)
	client, err := ethclient.DialContext(dialCtx, cfg.Chain.RPCURL)
	cancel()
	if err != nil {
		return nil, nil, fmt.Errorf("wire: dial %s: %w", cfg.Chain.RPCURL, err)
	}
	closers = append(closers, client.Close)
	deps.Backend = client

	// A node on another chain is reported but not fatal; writes are signed
	// for the configured chain and the session enforces it.
	if remote, err := client.ChainID(ctx); err != nil {
		logger.WarnContext(ctx, "wire: could not read node chain id", slog.String("error", err.Error()))
	} else if remote.Cmp(network.ChainID) != 0 {
		logger.WarnContext(ctx, "wire: node chain id differs from configuration",
			slog.String("node", remote.String()),
			slog.String("configured", network.ChainID.String()),
		)
	}

	// --- Keystore and signing agent ---
	if err := os.MkdirAll(cfg.Wallet.KeystoreDir, 0o700); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: keystore dir: %w", err)
	}
	scryptN, scryptP := keystore.StandardScryptN, keystore.StandardScryptP
	if cfg.Wallet.LightScrypt {
		scryptN, scryptP = keystore.LightScryptN, keystore.LightScryptP
	}
	ks := keystore.NewKeyStore(cfg.Wallet.KeystoreDir, scryptN, scryptP)
	deps.Keystore = ks

	if src := cfg.Wallet.KeySource(); !src.Empty() {
		key, err := crypto.LoadKey(src)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load wallet key: %w", err)
		}
		acct, err := crypto.Import(ks, key, cfg.Wallet.Passphrase)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: import wallet key: %w", err)
		}
		logger.InfoContext(ctx, "wire: wallet key available", slog.String("address", acct.Address.Hex()))
	}
	if len(ks.Accounts()) == 0 {
		logger.WarnContext(ctx, "wire: keystore holds no accounts, connecting will be rejected",
			slog.String("keystore_dir", cfg.Wallet.KeystoreDir),
		)
	}

	deps.Agent = wallet.NewKeystoreAgent(ks, cfg.Wallet.Passphrase, network, logger)
	closers = append(closers, func() {
		for _, acct := range ks.Accounts() {
			_ = ks.Lock(acct.Address)
		}
	})

	// --- View model and push hub ---
	deps.Hub = ws.NewHub(logger, ws.Config{Network: network.Name})
	deps.Auctions = service.NewAuctionService(deps.Backend, deps.Agent, service.AuctionConfig{
		Network: network,
		Ledger: ledger.Config{
			Contract:            common.HexToAddress(cfg.Ledger.Contract),
			ChainID:             network.ChainID,
			CreateGasLimit:      cfg.Ledger.CreateGasLimit,
			ReceiptPollInterval: cfg.Ledger.ReceiptPollInterval.Duration,
			Clock:               deps.Clock,
		},
		Sync: synchronizer.Config{MaxConcurrency: cfg.Sync.MaxConcurrency},
	}, deps.Clock, deps.Hub, logger)
	deps.Hub.SetSource(deps.Auctions)

	return deps, cleanup, nil
}
