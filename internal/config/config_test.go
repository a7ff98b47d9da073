package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	require.EqualValues(t, 31337, cfg.Chain.Network().ChainID.Int64())
	require.EqualValues(t, 500_000, cfg.Ledger.CreateGasLimit)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[ledger]
contract = "0x0000000000000000000000000000000000001234"
receipt_poll_interval = "250ms"

[sync]
max_concurrency = 2
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 250*time.Millisecond, cfg.Ledger.ReceiptPollInterval.Duration)
	require.Equal(t, 2, cfg.Sync.MaxConcurrency)
	require.Equal(t, "Hardhat Local", cfg.Chain.Name)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, Defaults().Ledger.Contract, cfg.Ledger.Contract)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHAINAUCTION_CHAIN_RPC_URL", "http://node:8545")
	t.Setenv("CHAINAUCTION_LEDGER_CREATE_GAS_LIMIT", "750000")
	t.Setenv("CHAINAUCTION_SERVER_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("CHAINAUCTION_SYNC_MAX_CONCURRENCY", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://node:8545", cfg.Chain.RPCURL)
	require.EqualValues(t, 750_000, cfg.Ledger.CreateGasLimit)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	require.Equal(t, 8, cfg.Sync.MaxConcurrency)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Ledger.Contract = "nope"
	cfg.Sync.MaxConcurrency = 0
	cfg.Wallet.EncryptedKeyPath = "/tmp/key.enc"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"unknown mode", "ledger: contract", "sync: max_concurrency", "wallet: key_password"} {
		require.True(t, strings.Contains(err.Error(), want), want)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.Passphrase = "hunter2"
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Server.APIKey = "k"

	out := RedactedConfig(&cfg)
	require.Equal(t, "***", out.Wallet.Passphrase)
	require.Equal(t, "***", out.Wallet.PrivateKey)
	require.Equal(t, "***", out.Server.APIKey)
	require.Empty(t, out.Wallet.KeyPassword)
	require.Equal(t, "hunter2", cfg.Wallet.Passphrase)

	out.Server.CORSOrigins[0] = "mutated"
	require.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
