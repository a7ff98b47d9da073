// Package ledgertest provides an in-memory auction contract that speaks the
// ledger.Backend interface, for tests that need a ledger without a node.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/chainauction/internal/crypto"
	"github.com/alanyoungcy/chainauction/internal/domain"
	"github.com/alanyoungcy/chainauction/internal/ledger"
)

// ChainID is the chain id the fake backend reports.
var ChainID = big.NewInt(31337)

// Contract is the address the fake contract lives at.
var Contract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// Revert reasons of the emulated contract.
const (
	ReasonNoAuction   = "Auction does not exist"
	ReasonOwnerBid    = "Owner cannot bid"
	ReasonEnded       = "Auction already ended"
	ReasonBidTooLow   = "Bid not high enough"
	ReasonNotYetEnded = "Auction not yet ended"
)

type bidTuple struct {
	Bidder    common.Address
	Amount    *big.Int
	Timestamp *big.Int
}

type sentTx struct {
	tx   *types.Transaction
	from common.Address
}

// Backend is an in-memory auction contract. Exported fields may be set
// directly before use; methods are safe for concurrent use.
//
// Writes follow the contract's rules: gas estimation reverts with the same
// reason the contract would, and mined transactions change state.
type Backend struct {
	mu       sync.Mutex
	abi      abi.ABI
	height   uint64
	auctions []domain.Auction
	bids     map[uint64][]domain.Bid
	pending  []sentTx
	receipts map[common.Hash]*types.Receipt
	nonces   map[common.Address]uint64

	// Now is the block time used by the contract rules.
	Now func() time.Time
	// FailFetch makes getAuction fail for the listed ids.
	FailFetch map[uint64]error
	// ZeroUnknown makes getAuction return an empty record for unknown ids
	// instead of reverting.
	ZeroUnknown bool
	// EstimateErr, when set, replaces every gas estimation result.
	EstimateErr error
	// FailReceipt marks every mined transaction as reverted.
	FailReceipt bool
	// AutoMine mines each transaction as soon as it is sent.
	AutoMine bool

	Sent       []*types.Transaction
	CallHeight []*big.Int
}

// NewBackend creates a backend at height 1 holding the given auctions.
func NewBackend(auctions ...domain.Auction) *Backend {
	parsed, err := ledger.ParsedABI()
	if err != nil {
		panic(err)
	}
	return &Backend{
		abi:       parsed,
		height:    1,
		auctions:  auctions,
		bids:      make(map[uint64][]domain.Bid),
		receipts:  make(map[common.Hash]*types.Receipt),
		nonces:    make(map[common.Address]uint64),
		Now:       time.Now,
		FailFetch: make(map[uint64]error),
	}
}

// SetBids replaces the bid history of an auction.
func (b *Backend) SetBids(id uint64, bids []domain.Bid) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids[id] = bids
}

// Update changes an auction in place, as another user's transaction would.
func (b *Backend) Update(id uint64, fn func(a *domain.Auction)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.auctions[id])
	b.height++
}

// Auction returns the current state of an auction.
func (b *Backend) Auction(id uint64) domain.Auction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.auctions[id].Clone()
}

// Advance moves the ledger height forward by n blocks.
func (b *Backend) Advance(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.height += n
}

// Mine includes every pending transaction in a new block.
func (b *Backend) Mine() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mineLocked()
}

func (b *Backend) mineLocked() {
	if len(b.pending) == 0 {
		return
	}
	b.height++
	for _, p := range b.pending {
		status := types.ReceiptStatusSuccessful
		if b.FailReceipt || b.executeLocked(p.from, p.tx.Value(), p.tx.Data()) != nil {
			status = types.ReceiptStatusFailed
		}
		b.receipts[p.tx.Hash()] = &types.Receipt{
			Status:      status,
			TxHash:      p.tx.Hash(),
			GasUsed:     p.tx.Gas(),
			BlockNumber: new(big.Int).SetUint64(b.height),
		}
	}
	b.pending = nil
}

// executeLocked applies a contract write. It returns the revert error without
// touching state when a rule fails.
func (b *Backend) executeLocked(from common.Address, value *big.Int, data []byte) error {
	method, args, err := b.decode(data)
	if err != nil {
		return err
	}
	now := b.Now().Unix()
	revert := func(reason string) error { return fmt.Errorf("execution reverted: %s", reason) }

	switch method.Name {
	case "createAuction":
		price := args[3].(*big.Int)
		duration := args[4].(*big.Int)
		b.auctions = append(b.auctions, domain.Auction{
			ID:                uint64(len(b.auctions)),
			Title:             args[0].(string),
			Description:       args[1].(string),
			ImageURL:          args[2].(string),
			StartingPrice:     new(big.Int).Set(price),
			CurrentHighestBid: new(big.Int).Set(price),
			EndTime:           now + duration.Int64(),
			Owner:             from,
		})
		return nil
	case "placeBid":
		id := args[0].(*big.Int).Uint64()
		if id >= uint64(len(b.auctions)) {
			return revert(ReasonNoAuction)
		}
		a := &b.auctions[id]
		switch {
		case a.Ended || now >= a.EndTime:
			return revert(ReasonEnded)
		case from == a.Owner:
			return revert(ReasonOwnerBid)
		case value.Cmp(a.CurrentHighestBid) <= 0:
			return revert(ReasonBidTooLow)
		}
		a.CurrentHighestBid = new(big.Int).Set(value)
		a.HighestBidder = from
		b.bids[id] = append(b.bids[id], domain.Bid{Bidder: from, Amount: new(big.Int).Set(value), Timestamp: now})
		return nil
	case "endAuction":
		id := args[0].(*big.Int).Uint64()
		if id >= uint64(len(b.auctions)) {
			return revert(ReasonNoAuction)
		}
		a := &b.auctions[id]
		switch {
		case now < a.EndTime:
			return revert(ReasonNotYetEnded)
		case a.Ended:
			return revert(ReasonEnded)
		}
		a.Ended = true
		return nil
	default:
		return fmt.Errorf("ledgertest: %s is not a write", method.Name)
	}
}

// checkLocked runs a write against a copy of the state.
func (b *Backend) checkLocked(from common.Address, value *big.Int, data []byte) error {
	saved := make([]domain.Auction, len(b.auctions))
	for i, a := range b.auctions {
		saved[i] = a.Clone()
	}
	savedBids := make(map[uint64][]domain.Bid, len(b.bids))
	for k, v := range b.bids {
		savedBids[k] = v
	}
	err := b.executeLocked(from, value, data)
	b.auctions, b.bids = saved, savedBids
	return err
}

func (b *Backend) decode(data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("ledgertest: short call data")
	}
	method, err := b.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return method, args, nil
}

func (b *Backend) BlockNumber(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.height, nil
}

func (b *Backend) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(ChainID), nil
}

func (b *Backend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	method, args, err := b.decode(msg.Data)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.CallHeight = append(b.CallHeight, blockNumber)

	switch method.Name {
	case "auctionCounter":
		return method.Outputs.Pack(big.NewInt(int64(len(b.auctions))))
	case "getAuction":
		id := args[0].(*big.Int).Uint64()
		if err, ok := b.FailFetch[id]; ok {
			return nil, err
		}
		if id >= uint64(len(b.auctions)) {
			if !b.ZeroUnknown {
				return nil, errors.New("execution reverted: " + ReasonNoAuction)
			}
			return method.Outputs.Pack(
				new(big.Int), "", "", "", new(big.Int), new(big.Int), common.Address{},
				new(big.Int), false, common.Address{},
			)
		}
		a := b.auctions[id]
		return method.Outputs.Pack(
			new(big.Int).SetUint64(a.ID), a.Title, a.Description, a.ImageURL,
			a.StartingPrice, a.CurrentHighestBid, a.HighestBidder,
			big.NewInt(a.EndTime), a.Ended, a.Owner,
		)
	case "getAuctionBids":
		id := args[0].(*big.Int).Uint64()
		if id >= uint64(len(b.auctions)) {
			return nil, errors.New("execution reverted: " + ReasonNoAuction)
		}
		raw := make([]bidTuple, 0, len(b.bids[id]))
		for _, bd := range b.bids[id] {
			raw = append(raw, bidTuple{Bidder: bd.Bidder, Amount: bd.Amount, Timestamp: big.NewInt(bd.Timestamp)})
		}
		return method.Outputs.Pack(raw)
	default:
		return nil, fmt.Errorf("ledgertest: %s is not a view", method.Name)
	}
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.EstimateErr != nil {
		return 0, b.EstimateErr
	}
	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	if err := b.checkLocked(msg.From, value, msg.Data); err != nil {
		return 0, err
	}
	return 100_000, nil
}

func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	sender, err := types.Sender(types.LatestSignerForChainID(ChainID), tx)
	if err != nil {
		return fmt.Errorf("ledgertest: invalid signature: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonces[sender]++
	b.Sent = append(b.Sent, tx)
	b.pending = append(b.pending, sentTx{tx: tx, from: sender})
	if b.AutoMine {
		b.mineLocked()
	}
	return nil
}

func (b *Backend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

var _ ledger.Backend = (*Backend)(nil)

// NewKeySigner returns a signer over a fresh random key.
func NewKeySigner() *crypto.Signer {
	s, err := crypto.GenerateSigner()
	if err != nil {
		panic(err)
	}
	return s
}
