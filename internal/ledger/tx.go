package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/jonboulle/clockwork"

	"github.com/alanyoungcy/chainauction/internal/domain"
)

// ErrTransactionFailed is returned by PendingTx.Wait when the transaction was
// mined with a failed status.
var ErrTransactionFailed = errors.New("transaction reverted on chain")

// RevertError is a contract call or gas estimation that the EVM reverted.
// Reason holds the decoded revert string when one was available.
type RevertError struct {
	Method string
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: execution reverted", e.Method)
	}
	return fmt.Sprintf("%s: execution reverted: %s", e.Method, e.Reason)
}

// PendingTx is a broadcast transaction whose outcome is not yet known.
type PendingTx struct {
	Hash    common.Hash
	Method  string
	backend Backend
	clock   clockwork.Clock
	poll    time.Duration
}

// Wait blocks until the transaction is mined or ctx is done. The write is
// durable only when Wait returns a nil error.
func (p *PendingTx) Wait(ctx context.Context) (*types.Receipt, error) {
	ticker := p.clock.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		receipt, err := p.backend.TransactionReceipt(ctx, p.Hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("ledger: %s %s: %w", p.Method, p.Hash.Hex(), ErrTransactionFailed)
			}
			return receipt, nil
		case !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("ledger: receipt %s: %w", p.Hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// transact packs, signs and broadcasts a contract write. A zero gasLimit
// means the gas is estimated first, which also surfaces revert reasons before
// anything is broadcast.
func (c *Client) transact(ctx context.Context, method string, value *big.Int, gasLimit uint64, args ...any) (*PendingTx, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("ledger: %s: %w", method, domain.ErrNotConnected)
	}
	if value == nil {
		value = new(big.Int)
	}
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack %s: %w", method, err)
	}

	from := c.signer.Address()
	msg := ethereum.CallMsg{
		From:  from,
		To:    &c.cfg.Contract,
		Value: value,
		Data:  input,
	}

	gas := gasLimit
	if gas == 0 {
		gas, err = c.backend.EstimateGas(ctx, msg)
		if err != nil {
			if reason, reverted := revertReason(err); reverted {
				return nil, fmt.Errorf("ledger: %w", &RevertError{Method: method, Reason: reason})
			}
			return nil, fmt.Errorf("ledger: estimate gas for %s: %w", method, err)
		}
	}

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("ledger: nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &c.cfg.Contract,
		Value:    value,
		Data:     input,
	})
	signed, err := c.signer.SignTx(tx, c.cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("ledger: sign %s: %w", method, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("ledger: send %s: %w", method, err)
	}

	return &PendingTx{
		Hash:    signed.Hash(),
		Method:  method,
		backend: c.backend,
		clock:   c.cfg.Clock,
		poll:    c.cfg.ReceiptPollInterval,
	}, nil
}

// revertReason reports whether err is an EVM revert and extracts the revert
// string when the node returned one.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(hexData); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason, true
				}
			}
		}
	}
	const marker = "execution reverted"
	msg := err.Error()
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return "", false
	}
	reason := strings.TrimSpace(strings.TrimPrefix(msg[idx+len(marker):], ":"))
	return reason, true
}
