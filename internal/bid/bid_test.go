package bid

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainauction/internal/domain"
)

var (
	ownerA  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	callerB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	now     = time.Unix(1_700_000_000, 0)
)

func eth(n float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(n), big.NewFloat(1e18))
	out, _ := f.Int(nil)
	return out
}

func openAuction() domain.Auction {
	return domain.Auction{
		ID:                0,
		StartingPrice:     eth(1.0),
		CurrentHighestBid: eth(1.0),
		EndTime:           now.Add(time.Hour).Unix(),
		Owner:             ownerA,
	}
}

func TestValidateScenario(t *testing.T) {
	a := openAuction()

	require.ErrorIs(t, Validate(a, eth(1.0), callerB, now), domain.ErrBidTooLow)
	require.NoError(t, Validate(a, eth(1.5), callerB, now))
	require.ErrorIs(t, Validate(a, eth(2.0), ownerA, now), domain.ErrOwnerCannotBid)
}

func TestValidateOwnerTakesPrecedence(t *testing.T) {
	ended := openAuction()
	ended.Ended = true

	expired := openAuction()
	expired.EndTime = now.Unix()

	for _, a := range []domain.Auction{openAuction(), ended, expired} {
		for _, amount := range []*big.Int{big.NewInt(0), eth(1.0), eth(100)} {
			require.ErrorIs(t, Validate(a, amount, ownerA, now), domain.ErrOwnerCannotBid)
		}
	}
}

func TestValidateEndedBeforeAmount(t *testing.T) {
	ended := openAuction()
	ended.Ended = true

	atBoundary := openAuction()
	atBoundary.EndTime = now.Unix()

	past := openAuction()
	past.EndTime = now.Add(-time.Minute).Unix()

	for name, a := range map[string]domain.Auction{"flag": ended, "boundary": atBoundary, "past": past} {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, Validate(a, eth(0.5), callerB, now), domain.ErrAuctionEnded)
			require.ErrorIs(t, Validate(a, eth(50), callerB, now), domain.ErrAuctionEnded)
		})
	}
}

func TestValidateBidTooLow(t *testing.T) {
	a := openAuction()
	a.CurrentHighestBid = eth(3)

	for _, amount := range []*big.Int{big.NewInt(0), eth(1), eth(3)} {
		require.ErrorIs(t, Validate(a, amount, callerB, now), domain.ErrBidTooLow)
	}
	require.NoError(t, Validate(a, new(big.Int).Add(eth(3), big.NewInt(1)), callerB, now))
}

func TestValidateMissingAmount(t *testing.T) {
	require.ErrorIs(t, Validate(openAuction(), nil, callerB, now), domain.ErrInvalidAmount)
}

func TestValidateCreate(t *testing.T) {
	ok := domain.CreateParams{
		Title:         "Lamp",
		Description:   "Brass lamp",
		StartingPrice: eth(0.1),
		Duration:      time.Hour,
	}
	require.NoError(t, ValidateCreate(ok))

	bad := ok
	bad.Title = "  "
	bad.StartingPrice = big.NewInt(0)
	err := ValidateCreate(bad)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	require.Contains(t, err.Error(), "title is required")
	require.Contains(t, err.Error(), "starting price must be positive")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{msg: "execution reverted: Owner cannot bid", want: domain.ErrOwnerCannotBid},
		{msg: "execution reverted: Bid not high enough", want: domain.ErrBidTooLow},
		{msg: "execution reverted: Auction already ended", want: domain.ErrAuctionEnded},
		{msg: "MetaMask Tx Signature: User denied transaction signature.", want: domain.ErrUserRejected},
		{msg: "insufficient funds for gas * price + value", want: domain.ErrUnclassified},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := Classify(fmt.Errorf("ledger: place bid: %w", errors.New(tt.msg)))

			var rejected *domain.LedgerRejectedError
			require.ErrorAs(t, err, &rejected)
			require.ErrorIs(t, err, tt.want)
			require.Contains(t, rejected.Message, tt.msg)
		})
	}
}

func TestClassifyPassThrough(t *testing.T) {
	require.NoError(t, Classify(nil))

	already := &domain.LedgerRejectedError{Reason: domain.ErrBidTooLow}
	require.Same(t, already, Classify(already))

	require.ErrorIs(t, Classify(fmt.Errorf("wait: %w", context.Canceled)), context.Canceled)
}
