package wallet_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainauction/internal/crypto"
	"github.com/alanyoungcy/chainauction/internal/domain"
	"github.com/alanyoungcy/chainauction/internal/wallet"
)

func newKeystore(t *testing.T, n int) (*keystore.KeyStore, []common.Address) {
	t.Helper()
	ks := keystore.NewKeyStore(t.TempDir(), keystore.LightScryptN, keystore.LightScryptP)
	var addrs []common.Address
	for range n {
		key, err := ethcrypto.GenerateKey()
		require.NoError(t, err)
		acct, err := crypto.Import(ks, key, "open sesame")
		require.NoError(t, err)
		addrs = append(addrs, acct.Address)
	}
	return ks, addrs
}

func nextAgentEvent(t *testing.T, ch <-chan domain.AgentEvent) domain.AgentEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for agent event")
		return domain.AgentEvent{}
	}
}

func TestKeystoreAgentGrantsAndSigns(t *testing.T) {
	ks, addrs := newKeystore(t, 1)
	agent := wallet.NewKeystoreAgent(ks, "open sesame", hardhat, discardLogger())
	ctx := context.Background()

	granted, err := agent.Accounts(ctx)
	require.NoError(t, err)
	require.Empty(t, granted)

	_, err = agent.Signer(addrs[0])
	require.ErrorIs(t, err, domain.ErrNotConnected)

	granted, err = agent.RequestAccounts(ctx)
	require.NoError(t, err)
	require.Equal(t, addrs, granted)

	signer, err := agent.Signer(addrs[0])
	require.NoError(t, err)
	tx := types.NewTx(&types.LegacyTx{Nonce: 0, GasPrice: big.NewInt(1), Gas: 21000})
	signed, err := signer.SignTx(tx, hardhat.ChainID)
	require.NoError(t, err)
	from, err := types.Sender(types.LatestSignerForChainID(hardhat.ChainID), signed)
	require.NoError(t, err)
	require.Equal(t, addrs[0], from)
}

func TestKeystoreAgentWrongPassphrase(t *testing.T) {
	ks, _ := newKeystore(t, 1)
	agent := wallet.NewKeystoreAgent(ks, "nope", hardhat, discardLogger())

	_, err := agent.RequestAccounts(context.Background())
	require.ErrorIs(t, err, domain.ErrUserRejected)
}

func TestKeystoreAgentNetworks(t *testing.T) {
	ks, _ := newKeystore(t, 0)
	agent := wallet.NewKeystoreAgent(ks, "", hardhat, discardLogger())
	ctx := context.Background()
	events := make(chan domain.AgentEvent, 4)
	sub := agent.SubscribeEvents(events)
	defer sub.Unsubscribe()

	require.NoError(t, agent.SwitchNetwork(ctx, hardhat.ChainID))
	require.ErrorIs(t, agent.SwitchNetwork(ctx, big.NewInt(11155111)), domain.ErrChainMismatch)

	sepolia := domain.NetworkDescriptor{ChainID: big.NewInt(11155111), Name: "Sepolia"}
	require.NoError(t, agent.AddNetwork(ctx, sepolia))
	require.NoError(t, agent.SwitchNetwork(ctx, sepolia.ChainID))

	ev := nextAgentEvent(t, events)
	require.Equal(t, domain.AgentChainChanged, ev.Kind)
	require.EqualValues(t, 11155111, ev.ChainID.Int64())

	chainID, err := agent.ChainID(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 11155111, chainID.Int64())
}

func TestKeystoreAgentSelectAndRevoke(t *testing.T) {
	ks, addrs := newKeystore(t, 2)
	agent := wallet.NewKeystoreAgent(ks, "open sesame", hardhat, discardLogger())
	ctx := context.Background()
	_, err := agent.RequestAccounts(ctx)
	require.NoError(t, err)

	events := make(chan domain.AgentEvent, 4)
	sub := agent.SubscribeEvents(events)
	defer sub.Unsubscribe()

	require.NoError(t, agent.Select(addrs[1]))
	ev := nextAgentEvent(t, events)
	require.Equal(t, domain.AgentAccountsChanged, ev.Kind)
	require.Equal(t, addrs[1], ev.Accounts[0])
	require.Len(t, ev.Accounts, 2)

	agent.Revoke()
	ev = nextAgentEvent(t, events)
	require.Equal(t, domain.AgentAccountsChanged, ev.Kind)
	require.Empty(t, ev.Accounts)

	granted, err := agent.Accounts(ctx)
	require.NoError(t, err)
	require.Empty(t, granted)
}

func TestSessionOverKeystoreAgent(t *testing.T) {
	ks, addrs := newKeystore(t, 1)
	agent := wallet.NewKeystoreAgent(ks, "open sesame", hardhat, discardLogger())
	s := wallet.NewSession(agent, hardhat, discardLogger())
	defer s.Close()
	ctx := context.Background()

	events := make(chan domain.SessionEvent, 4)
	s.Subscribe(events)
	require.NoError(t, s.Watch(ctx))

	sess, err := s.Connect(ctx)
	require.NoError(t, err)
	require.Equal(t, addrs[0], sess.Address)
	require.Equal(t, domain.SessionEventConnected, nextEvent(t, events).Kind)

	agent.Revoke()
	require.Equal(t, domain.SessionEventDisconnected, nextEvent(t, events).Kind)
	require.False(t, s.Current().Connected())
}
