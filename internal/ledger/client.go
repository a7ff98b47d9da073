// Package ledger is a typed façade over the auction contract. It maps each
// contract read and write onto a Go method and deliberately holds no business
// rules, retries or caching: a Client is built per session signer and thrown
// away with the session.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jonboulle/clockwork"

	"github.com/alanyoungcy/chainauction/internal/domain"
)

// Backend is the subset of *ethclient.Client the ledger client needs.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config holds the fixed contract parameters.
type Config struct {
	Contract common.Address
	ChainID  *big.Int
	// CreateGasLimit is used for createAuction instead of estimating gas.
	// Zero means estimate.
	CreateGasLimit uint64
	// ReceiptPollInterval controls how often PendingTx.Wait polls.
	ReceiptPollInterval time.Duration
	Clock               clockwork.Clock
}

// Client reads and writes the auction contract.
type Client struct {
	backend Backend
	abi     abi.ABI
	cfg     Config
	signer  domain.TxSigner
}

// New creates a Client. signer may be nil for a read-only client; writes then
// fail with domain.ErrNotConnected.
func New(backend Backend, cfg Config, signer domain.TxSigner) (*Client, error) {
	parsed, err := ParsedABI()
	if err != nil {
		return nil, fmt.Errorf("ledger: parse abi: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = time.Second
	}
	return &Client{
		backend: backend,
		abi:     parsed,
		cfg:     cfg,
		signer:  signer,
	}, nil
}

// Height returns the current ledger height.
func (c *Client) Height(ctx context.Context) (uint64, error) {
	h, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: block number: %w", err)
	}
	return h, nil
}

// Count returns the number of auctions ever created, as of height.
func (c *Client) Count(ctx context.Context, height uint64) (uint64, error) {
	out, err := c.call(ctx, new(big.Int).SetUint64(height), methodCounter)
	if err != nil {
		return 0, fmt.Errorf("ledger: auction count: %w", err)
	}
	n, ok := out[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("ledger: auction count: unexpected value %v", out[0])
	}
	return n.Uint64(), nil
}

// FetchOne reads a single auction pinned to height. It returns
// domain.ErrNotFound when id does not exist at that height, whether the
// contract reverts or answers with an empty record.
func (c *Client) FetchOne(ctx context.Context, id, height uint64) (domain.Auction, error) {
	out, err := c.call(ctx, new(big.Int).SetUint64(height), methodGet, new(big.Int).SetUint64(id))
	if err != nil {
		if _, reverted := revertReason(err); reverted || errors.Is(err, errEmptyResult) {
			return domain.Auction{}, fmt.Errorf("ledger: auction %d at height %d: %w", id, height, domain.ErrNotFound)
		}
		return domain.Auction{}, fmt.Errorf("ledger: auction %d: %w", id, err)
	}
	a, err := decodeAuction(out)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("ledger: auction %d: %w", id, err)
	}
	// Every created auction has an owner.
	if a.Owner == (common.Address{}) {
		return domain.Auction{}, fmt.Errorf("ledger: auction %d at height %d: empty record: %w", id, height, domain.ErrNotFound)
	}
	return a, nil
}

// FetchBids returns the bid history of an auction in ledger order.
func (c *Client) FetchBids(ctx context.Context, id uint64) ([]domain.Bid, error) {
	data, err := c.rawCall(ctx, nil, methodBids, new(big.Int).SetUint64(id))
	if err != nil {
		if _, reverted := revertReason(err); reverted {
			return nil, fmt.Errorf("ledger: bids of auction %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("ledger: bids of auction %d: %w", id, err)
	}
	var raw []bidTuple
	if err := c.abi.UnpackIntoInterface(&raw, methodBids, data); err != nil {
		return nil, fmt.Errorf("ledger: decode bids of auction %d: %w", id, err)
	}
	bids := make([]domain.Bid, 0, len(raw))
	for _, b := range raw {
		bids = append(bids, domain.Bid{
			Bidder:    b.Bidder,
			Amount:    b.Amount,
			Timestamp: b.Timestamp.Int64(),
		})
	}
	return bids, nil
}

// SubmitBid broadcasts placeBid with amount attached as value.
func (c *Client) SubmitBid(ctx context.Context, id uint64, amount *big.Int) (*PendingTx, error) {
	return c.transact(ctx, methodPlaceBid, amount, 0, new(big.Int).SetUint64(id))
}

// SubmitCreate broadcasts createAuction.
func (c *Client) SubmitCreate(ctx context.Context, p domain.CreateParams) (*PendingTx, error) {
	seconds := new(big.Int).SetInt64(int64(p.Duration / time.Second))
	return c.transact(ctx, methodCreate, nil, c.cfg.CreateGasLimit,
		p.Title, p.Description, p.ImageURL, p.StartingPrice, seconds)
}

// SubmitEnd broadcasts endAuction.
func (c *Client) SubmitEnd(ctx context.Context, id uint64) (*PendingTx, error) {
	return c.transact(ctx, methodEnd, nil, 0, new(big.Int).SetUint64(id))
}

// bidTuple mirrors the contract's Bid struct for ABI decoding.
type bidTuple struct {
	Bidder    common.Address
	Amount    *big.Int
	Timestamp *big.Int
}

var errEmptyResult = errors.New("empty call result")

func (c *Client) call(ctx context.Context, height *big.Int, method string, args ...any) ([]any, error) {
	data, err := c.rawCall(ctx, height, method, args...)
	if err != nil {
		return nil, err
	}
	out, err := c.abi.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	return out, nil
}

func (c *Client) rawCall(ctx context.Context, height *big.Int, method string, args ...any) ([]byte, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &c.cfg.Contract, Data: input}
	if c.signer != nil {
		msg.From = c.signer.Address()
	}
	data, err := c.backend.CallContract(ctx, msg, height)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errEmptyResult
	}
	return data, nil
}

func decodeAuction(out []any) (domain.Auction, error) {
	if len(out) != 10 {
		return domain.Auction{}, fmt.Errorf("decode auction: got %d fields", len(out))
	}
	var (
		a   domain.Auction
		ok  = true
		id  *big.Int
		end *big.Int
	)
	id, ok = out[0].(*big.Int)
	if ok {
		a.Title, ok = out[1].(string)
	}
	if ok {
		a.Description, ok = out[2].(string)
	}
	if ok {
		a.ImageURL, ok = out[3].(string)
	}
	if ok {
		a.StartingPrice, ok = out[4].(*big.Int)
	}
	if ok {
		a.CurrentHighestBid, ok = out[5].(*big.Int)
	}
	if ok {
		a.HighestBidder, ok = out[6].(common.Address)
	}
	if ok {
		end, ok = out[7].(*big.Int)
	}
	if ok {
		a.Ended, ok = out[8].(bool)
	}
	if ok {
		a.Owner, ok = out[9].(common.Address)
	}
	if !ok {
		return domain.Auction{}, errors.New("decode auction: unexpected field types")
	}
	a.ID = id.Uint64()
	a.EndTime = end.Int64()
	return a, nil
}
