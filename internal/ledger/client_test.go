package ledger_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainauction/internal/domain"
	"github.com/alanyoungcy/chainauction/internal/ledger"
	"github.com/alanyoungcy/chainauction/internal/ledger/ledgertest"
)

var owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func sampleAuction(id uint64) domain.Auction {
	return domain.Auction{
		ID:                id,
		Title:             "Item",
		Description:       "A thing",
		ImageURL:          "https://example.com/a.png",
		StartingPrice:     big.NewInt(100),
		CurrentHighestBid: big.NewInt(150),
		HighestBidder:     common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		EndTime:           1_900_000_000,
		Owner:             owner,
	}
}

func newClient(t *testing.T, backend *ledgertest.Backend, signer domain.TxSigner, clk clockwork.Clock) *ledger.Client {
	t.Helper()
	c, err := ledger.New(backend, ledger.Config{
		Contract:            ledgertest.Contract,
		ChainID:             ledgertest.ChainID,
		CreateGasLimit:      500_000,
		ReceiptPollInterval: time.Second,
		Clock:               clk,
	}, signer)
	require.NoError(t, err)
	return c
}

func TestReadsArePinnedToHeight(t *testing.T) {
	backend := ledgertest.NewBackend(sampleAuction(0), sampleAuction(1))
	backend.Advance(41)
	c := newClient(t, backend, nil, nil)
	ctx := context.Background()

	height, err := c.Height(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 42, height)

	count, err := c.Count(ctx, height)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	got, err := c.FetchOne(ctx, 1, height)
	require.NoError(t, err)
	require.Equal(t, sampleAuction(1), got)

	for _, h := range backend.CallHeight {
		require.EqualValues(t, 42, h.Uint64())
	}
}

func TestFetchOneOutOfRange(t *testing.T) {
	backend := ledgertest.NewBackend(sampleAuction(0))
	c := newClient(t, backend, nil, nil)

	_, err := c.FetchOne(context.Background(), 5, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFetchOneEmptyRecordIsNotFound(t *testing.T) {
	backend := ledgertest.NewBackend(sampleAuction(0))
	backend.ZeroUnknown = true
	c := newClient(t, backend, nil, nil)

	_, err := c.FetchOne(context.Background(), 1, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := c.FetchOne(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Equal(t, sampleAuction(0), got)
}

func TestFetchOnePropagatesTransportErrors(t *testing.T) {
	backend := ledgertest.NewBackend(sampleAuction(0))
	backend.FailFetch[0] = errors.New("connection refused")
	c := newClient(t, backend, nil, nil)

	_, err := c.FetchOne(context.Background(), 0, 1)
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestFetchBids(t *testing.T) {
	backend := ledgertest.NewBackend(sampleAuction(0))
	bids := []domain.Bid{
		{Bidder: common.HexToAddress("0x01"), Amount: big.NewInt(120), Timestamp: 10},
		{Bidder: common.HexToAddress("0x02"), Amount: big.NewInt(150), Timestamp: 20},
	}
	backend.SetBids(0, bids)
	c := newClient(t, backend, nil, nil)

	got, err := c.FetchBids(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, bids, got)
}

func TestWritesRequireSigner(t *testing.T) {
	c := newClient(t, ledgertest.NewBackend(sampleAuction(0)), nil, nil)

	_, err := c.SubmitBid(context.Background(), 0, big.NewInt(200))
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestSubmitBidAndWait(t *testing.T) {
	backend := ledgertest.NewBackend(sampleAuction(0))
	signer := ledgertest.NewKeySigner()
	clk := clockwork.NewFakeClock()
	c := newClient(t, backend, signer, clk)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pending, err := c.SubmitBid(ctx, 0, big.NewInt(200))
	require.NoError(t, err)
	require.Len(t, backend.Sent, 1)
	require.EqualValues(t, 200, backend.Sent[0].Value().Int64())
	require.Equal(t, ledgertest.Contract, *backend.Sent[0].To())

	done := make(chan error, 1)
	go func() {
		_, err := pending.Wait(ctx)
		done <- err
	}()

	require.NoError(t, clk.BlockUntilContext(ctx, 1))
	backend.Mine()
	clk.Advance(time.Second)
	require.NoError(t, <-done)
}

func TestSubmitCreateUsesFixedGasLimit(t *testing.T) {
	backend := ledgertest.NewBackend()
	backend.EstimateErr = errors.New("must not be called")
	c := newClient(t, backend, ledgertest.NewKeySigner(), nil)

	_, err := c.SubmitCreate(context.Background(), domain.CreateParams{
		Title:         "Lamp",
		Description:   "Brass",
		ImageURL:      "https://example.com/lamp.png",
		StartingPrice: big.NewInt(1000),
		Duration:      time.Hour,
	})
	require.NoError(t, err)
	require.EqualValues(t, 500_000, backend.Sent[0].Gas())
}

func TestEstimateSurfacesContractRevert(t *testing.T) {
	backend := ledgertest.NewBackend(sampleAuction(0))
	c := newClient(t, backend, ledgertest.NewKeySigner(), nil)

	_, err := c.SubmitEnd(context.Background(), 0)
	var revert *ledger.RevertError
	require.ErrorAs(t, err, &revert)
	require.Equal(t, ledgertest.ReasonNotYetEnded, revert.Reason)
	require.Equal(t, "endAuction", revert.Method)
}

func TestRevertBeforeBroadcast(t *testing.T) {
	backend := ledgertest.NewBackend(sampleAuction(0))
	backend.EstimateErr = errors.New("execution reverted: Owner cannot bid")
	c := newClient(t, backend, ledgertest.NewKeySigner(), nil)

	_, err := c.SubmitBid(context.Background(), 0, big.NewInt(500))
	var revert *ledger.RevertError
	require.ErrorAs(t, err, &revert)
	require.Equal(t, "Owner cannot bid", revert.Reason)
	require.Empty(t, backend.Sent)
}

func TestWaitReportsFailedReceipt(t *testing.T) {
	backend := ledgertest.NewBackend(sampleAuction(0))
	backend.FailReceipt = true
	c := newClient(t, backend, ledgertest.NewKeySigner(), nil)

	pending, err := c.SubmitBid(context.Background(), 0, big.NewInt(200))
	require.NoError(t, err)
	backend.Mine()

	_, err = pending.Wait(context.Background())
	require.ErrorIs(t, err, ledger.ErrTransactionFailed)
}
