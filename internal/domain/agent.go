package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// NetworkDescriptor identifies the target chain the client asks the agent to
// add or switch to. It is fixed configuration, never negotiated.
type NetworkDescriptor struct {
	ChainID        *big.Int
	Name           string
	CurrencyName   string
	CurrencySymbol string
	Decimals       uint8
	RPCURL         string
}

// AgentEventKind classifies an AgentEvent.
type AgentEventKind string

const (
	AgentAccountsChanged AgentEventKind = "accountsChanged"
	AgentChainChanged    AgentEventKind = "chainChanged"
)

// AgentEvent is an out-of-band notification from the signing agent.
type AgentEvent struct {
	Kind     AgentEventKind
	Accounts []common.Address // set for AgentAccountsChanged
	ChainID  *big.Int         // set for AgentChainChanged
}

// TxSigner signs transactions on behalf of a single account.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Agent is the signing agent the user controls. Its account and chain can
// change at any time through its own UI, which it reports via
// SubscribeEvents.
type Agent interface {
	// RequestAccounts asks the user to select or confirm accounts. It may
	// prompt and fails with ErrUserRejected when the prompt is declined.
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	// Accounts returns the already-granted accounts without prompting.
	Accounts(ctx context.Context) ([]common.Address, error)
	// ChainID returns the chain the agent is currently pointed at.
	ChainID(ctx context.Context) (*big.Int, error)
	// SwitchNetwork points the agent at chainID. It fails with
	// ErrChainMismatch when the chain is unknown to the agent.
	SwitchNetwork(ctx context.Context, chainID *big.Int) error
	// AddNetwork registers a network with the agent.
	AddNetwork(ctx context.Context, network NetworkDescriptor) error
	// SubscribeEvents delivers account and chain changes to sink until the
	// returned subscription is unsubscribed.
	SubscribeEvents(sink chan<- AgentEvent) event.Subscription
	// Signer returns a transaction signer for a granted account.
	Signer(addr common.Address) (TxSigner, error)
}
