package service_test

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainauction/internal/crypto"
	"github.com/alanyoungcy/chainauction/internal/domain"
	"github.com/alanyoungcy/chainauction/internal/ledger"
	"github.com/alanyoungcy/chainauction/internal/ledger/ledgertest"
	"github.com/alanyoungcy/chainauction/internal/service"
	"github.com/alanyoungcy/chainauction/internal/synchronizer"
	"github.com/alanyoungcy/chainauction/internal/units"
	"github.com/alanyoungcy/chainauction/internal/wallet"
)

var (
	epoch  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seller = common.HexToAddress("0x00000000000000000000000000000000005e11e7")

	network = domain.NetworkDescriptor{
		ChainID:        big.NewInt(31337),
		Name:           "Hardhat Local",
		CurrencyName:   "ETH",
		CurrencySymbol: "ETH",
		Decimals:       18,
		RPCURL:         "http://127.0.0.1:8545",
	}
)

type published struct {
	channel string
	payload any
}

type recorder struct {
	mu   sync.Mutex
	msgs []published
}

func (r *recorder) Publish(channel string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, published{channel, payload})
}

func (r *recorder) count(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.channel == channel {
			n++
		}
	}
	return n
}

func eth(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := units.ParseEther(s)
	require.NoError(t, err)
	return v
}

type fixture struct {
	svc     *service.AuctionService
	backend *ledgertest.Backend
	agent   *wallet.KeystoreAgent
	me      common.Address
	pub     *recorder
	clock   *clockwork.FakeClock
}

func newFixture(t *testing.T, auctions ...domain.Auction) *fixture {
	t.Helper()
	return newFixtureFunc(t, func(common.Address) []domain.Auction { return auctions })
}

// newFixtureFunc builds the ledger from the connected account's address, for
// auctions the caller owns.
func newFixtureFunc(t *testing.T, build func(me common.Address) []domain.Auction) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clockwork.NewFakeClockAt(epoch)

	ks := keystore.NewKeyStore(t.TempDir(), keystore.LightScryptN, keystore.LightScryptP)
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	acct, err := crypto.Import(ks, key, "pw")
	require.NoError(t, err)

	backend := ledgertest.NewBackend(build(acct.Address)...)
	backend.AutoMine = true
	backend.Now = clk.Now

	agent := wallet.NewKeystoreAgent(ks, "pw", network, logger)
	pub := &recorder{}
	svc := service.NewAuctionService(backend, agent, service.AuctionConfig{
		Network: network,
		Ledger: ledger.Config{
			Contract:       ledgertest.Contract,
			ChainID:        ledgertest.ChainID,
			CreateGasLimit: 500_000,
			Clock:          clk,
		},
		Sync: synchronizer.Config{MaxConcurrency: 4},
	}, clk, pub, logger)

	return &fixture{svc: svc, backend: backend, agent: agent, me: acct.Address, pub: pub, clock: clk}
}

// run starts the event loop and waits until it is watching the agent.
func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	require.Eventually(t, func() bool { return f.pub.count(service.ChannelSession) > 0 }, 2*time.Second, 5*time.Millisecond)
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	sess, err := f.svc.Connect(context.Background())
	require.NoError(t, err)
	require.Equal(t, string(domain.SessionConnected), sess.Status)
	require.Equal(t, f.me.Hex(), sess.Address)
}

func listed(id uint64, owner common.Address, start, highest *big.Int, end time.Time) domain.Auction {
	return domain.Auction{
		ID:                id,
		Title:             "Lot " + string(rune('A'+id)),
		Description:       "an item",
		ImageURL:          "https://example.com/lot.png",
		StartingPrice:     start,
		CurrentHighestBid: highest,
		EndTime:           end.Unix(),
		Owner:             owner,
	}
}

func TestReadsRequireConnection(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, string(domain.SessionDisconnected), f.svc.Session().Status)
	_, err := f.svc.Auctions(context.Background(), synchronizer.Query{})
	require.ErrorIs(t, err, domain.ErrNotConnected)
	_, err = f.svc.PlaceBid(context.Background(), 0, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestConnectLoadsSnapshot(t *testing.T) {
	f := newFixture(t,
		listed(0, seller, eth(t, "0.5"), eth(t, "1"), epoch.Add(time.Hour)),
		listed(1, seller, eth(t, "0.1"), eth(t, "0.1"), epoch.Add(-time.Minute)),
	)
	f.connect(t)

	all, err := f.svc.Auctions(context.Background(), synchronizer.Query{Status: synchronizer.StatusAll})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.EqualValues(t, 1, all[0].ID)

	active, err := f.svc.Auctions(context.Background(), synchronizer.Query{Status: synchronizer.StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "1", active[0].CurrentHighestBid)
	require.Equal(t, "0d 1h 0m 0s", active[0].TimeLeft)

	a, err := f.svc.Auction(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Ended", a.TimeLeft)

	_, err = f.svc.Auction(context.Background(), 9)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.Positive(t, f.pub.count(service.ChannelSnapshot))
}

func TestBidScenario(t *testing.T) {
	f := newFixtureFunc(t, func(me common.Address) []domain.Auction {
		return []domain.Auction{
			listed(0, seller, eth(t, "0.5"), eth(t, "1"), epoch.Add(time.Hour)),
			listed(1, me, eth(t, "1"), eth(t, "1"), epoch.Add(time.Hour)),
		}
	})
	f.connect(t)
	ctx := context.Background()

	_, err := f.svc.PlaceBid(ctx, 0, eth(t, "1.0"))
	require.ErrorIs(t, err, domain.ErrBidTooLow)
	require.Empty(t, f.backend.Sent)

	tx, err := f.svc.PlaceBid(ctx, 0, eth(t, "1.5"))
	require.NoError(t, err)
	require.NotEmpty(t, tx.Hash)
	require.Len(t, f.backend.Sent, 1)

	a, err := f.svc.Auction(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "1.5", a.CurrentHighestBid)
	require.Equal(t, f.me.Hex(), a.HighestBidder)

	_, err = f.svc.PlaceBid(ctx, 1, eth(t, "2.0"))
	require.ErrorIs(t, err, domain.ErrOwnerCannotBid)
	require.Len(t, f.backend.Sent, 1)

	bids, err := f.svc.Bids(ctx, 0)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.Equal(t, "1.5", bids[0].Amount)
}

func TestLedgerRejectionIsClassified(t *testing.T) {
	f := newFixture(t, listed(0, seller, eth(t, "0.5"), eth(t, "1"), epoch.Add(time.Hour)))
	f.connect(t)

	// Someone else outbids after the snapshot was taken.
	f.backend.Update(0, func(a *domain.Auction) { a.CurrentHighestBid = eth(t, "3") })

	_, err := f.svc.PlaceBid(context.Background(), 0, eth(t, "2"))
	var rejected *domain.LedgerRejectedError
	require.ErrorAs(t, err, &rejected)
	require.ErrorIs(t, err, domain.ErrBidTooLow)
	require.Empty(t, f.backend.Sent)
}

func TestCreateAuction(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	ctx := context.Background()

	_, err := f.svc.CreateAuction(ctx, domain.CreateParams{Title: "", StartingPrice: eth(t, "1"), Duration: time.Hour})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.CreateAuction(ctx, domain.CreateParams{
		Title:         "Brass lamp",
		Description:   "Works",
		ImageURL:      "https://example.com/lamp.png",
		StartingPrice: eth(t, "0.25"),
		Duration:      time.Hour,
	})
	require.NoError(t, err)
	require.EqualValues(t, 500_000, f.backend.Sent[0].Gas())

	featured, err := f.svc.Featured(ctx)
	require.NoError(t, err)
	require.Len(t, featured, 1)
	require.Equal(t, "Brass lamp", featured[0].Title)
	require.Equal(t, f.me.Hex(), featured[0].Owner)
	require.Equal(t, "0.25", featured[0].StartingPrice)
	require.Equal(t, epoch.Add(time.Hour).Unix(), featured[0].EndTime)
}

func TestEndAuction(t *testing.T) {
	f := newFixture(t,
		listed(0, seller, eth(t, "1"), eth(t, "1"), epoch.Add(-time.Minute)),
		listed(1, seller, eth(t, "1"), eth(t, "1"), epoch.Add(time.Hour)),
	)
	f.connect(t)
	ctx := context.Background()

	_, err := f.svc.EndAuction(ctx, 0)
	require.NoError(t, err)
	a, err := f.svc.Auction(ctx, 0)
	require.NoError(t, err)
	require.True(t, a.Ended)

	_, err = f.svc.EndAuction(ctx, 0)
	require.ErrorIs(t, err, domain.ErrAuctionEnded)

	_, err = f.svc.EndAuction(ctx, 1)
	var rejected *domain.LedgerRejectedError
	require.ErrorAs(t, err, &rejected)
}

func TestConcurrentRefreshShareOnePass(t *testing.T) {
	f := newFixture(t, listed(0, seller, eth(t, "1"), eth(t, "1"), epoch.Add(time.Hour)))
	f.connect(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := f.svc.Refresh(context.Background())
			if err == nil && len(snap.Auctions) != 1 {
				err = io.ErrUnexpectedEOF
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t, listed(0, seller, eth(t, "1"), eth(t, "1"), epoch.Add(time.Hour)))
	f.run(t)
	f.connect(t)

	sess, err := f.svc.Disconnect(context.Background())
	require.NoError(t, err)
	require.Equal(t, string(domain.SessionDisconnected), sess.Status)

	require.Eventually(t, func() bool {
		return f.svc.Session().Status == string(domain.SessionDisconnected)
	}, 2*time.Second, 5*time.Millisecond)
	_, err = f.svc.Auctions(context.Background(), synchronizer.Query{})
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestChainChangeReplacesSession(t *testing.T) {
	f := newFixture(t, listed(0, seller, eth(t, "1"), eth(t, "1"), epoch.Add(time.Hour)))
	f.run(t)
	f.connect(t)
	ctx := context.Background()

	sepolia := domain.NetworkDescriptor{ChainID: big.NewInt(11155111), Name: "Sepolia"}
	require.NoError(t, f.agent.AddNetwork(ctx, sepolia))
	require.NoError(t, f.agent.SwitchNetwork(ctx, sepolia.ChainID))

	require.Eventually(t, func() bool {
		_, err := f.svc.Auctions(ctx, synchronizer.Query{})
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)
	_, err := f.svc.Auctions(ctx, synchronizer.Query{})
	require.ErrorIs(t, err, domain.ErrNotConnected)
	require.Eventually(t, func() bool {
		return f.svc.Session().Status == string(domain.SessionDisconnected)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCountdown(t *testing.T) {
	f := newFixture(t, listed(0, seller, eth(t, "1"), eth(t, "1"), epoch.Add(90*time.Second)))
	f.connect(t)

	ticks := make(chan service.CountdownView, 4)
	cd, err := f.svc.StartCountdown(context.Background(), 0, func(v service.CountdownView) { ticks <- v })
	require.NoError(t, err)
	defer cd.Stop()

	first := <-ticks
	require.EqualValues(t, 0, first.AuctionID)
	require.Equal(t, "0d 0h 1m 30s", first.TimeLeft)

	_, err = f.svc.StartCountdown(context.Background(), 5, func(service.CountdownView) {})
	require.ErrorIs(t, err, domain.ErrNotFound)
}
