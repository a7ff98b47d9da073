package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a wallet session.
type SessionStatus string

const (
	SessionDisconnected SessionStatus = "disconnected"
	SessionConnecting   SessionStatus = "connecting"
	SessionConnected    SessionStatus = "connected"
)

// Session is an immutable view of the wallet session. Address and ChainID are
// only meaningful when Status is SessionConnected.
type Session struct {
	ID      uuid.UUID
	Status  SessionStatus
	Address common.Address
	ChainID *big.Int
}

// Connected reports whether the session currently holds an address.
func (s Session) Connected() bool {
	return s.Status == SessionConnected
}

// SessionEventKind classifies a SessionEvent.
type SessionEventKind string

const (
	// SessionEventConnected is emitted when an address is (re)established.
	SessionEventConnected SessionEventKind = "connected"
	// SessionEventDisconnected is emitted when the agent reports no accounts.
	// Consumers must treat it as a log out.
	SessionEventDisconnected SessionEventKind = "disconnected"
	// SessionEventInvalidated is emitted on a chain change. Every outstanding
	// read is stale and a full reconnect is required.
	SessionEventInvalidated SessionEventKind = "invalidated"
)

// SessionEvent is delivered to session subscribers on every externally
// visible transition.
type SessionEvent struct {
	Kind    SessionEventKind
	Session Session
	Err     error
}
