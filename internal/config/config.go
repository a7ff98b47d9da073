// Package config defines the top-level configuration for the auction client
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/chainauction/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CHAINAUCTION_* environment variables.
type Config struct {
	Chain    ChainConfig  `toml:"chain"`
	Ledger   LedgerConfig `toml:"ledger"`
	Wallet   WalletConfig `toml:"wallet"`
	Sync     SyncConfig   `toml:"sync"`
	Server   ServerConfig `toml:"server"`
	Mode     string       `toml:"mode"`
	LogLevel string       `toml:"log_level"`
}

// ChainConfig is the fixed identity of the network the client is bound to.
type ChainConfig struct {
	ChainID        int64  `toml:"chain_id"`
	Name           string `toml:"name"`
	CurrencyName   string `toml:"currency_name"`
	CurrencySymbol string `toml:"currency_symbol"`
	Decimals       uint8  `toml:"decimals"`
	RPCURL         string `toml:"rpc_url"`
}

// Network converts the section into the descriptor handed to the agent.
func (c ChainConfig) Network() domain.NetworkDescriptor {
	return domain.NetworkDescriptor{
		ChainID:        big.NewInt(c.ChainID),
		Name:           c.Name,
		CurrencyName:   c.CurrencyName,
		CurrencySymbol: c.CurrencySymbol,
		Decimals:       c.Decimals,
		RPCURL:         c.RPCURL,
	}
}

// LedgerConfig locates the auction contract and tunes writes.
type LedgerConfig struct {
	Contract            string   `toml:"contract"`
	CreateGasLimit      uint64   `toml:"create_gas_limit"`
	ReceiptPollInterval duration `toml:"receipt_poll_interval"`
	DialTimeout         duration `toml:"dial_timeout"`
}

// WalletConfig holds the local keystore the signing agent is built on and
// an optional key to import into it on start.
type WalletConfig struct {
	KeystoreDir      string `toml:"keystore_dir"`
	Passphrase       string `toml:"passphrase"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	LightScrypt      bool   `toml:"light_scrypt"`
}

// SyncConfig tunes synchronization passes.
type SyncConfig struct {
	MaxConcurrency int `toml:"max_concurrency"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig configures the HTTP + WebSocket API.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	APIKey       string   `toml:"api_key"`
	WriteTimeout duration `toml:"write_timeout"`
}

// Defaults returns the configuration for a local Hardhat node with the
// contract at its first deployment address.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:        31337,
			Name:           "Hardhat Local",
			CurrencyName:   "ETH",
			CurrencySymbol: "ETH",
			Decimals:       18,
			RPCURL:         "http://127.0.0.1:8545",
		},
		Ledger: LedgerConfig{
			Contract:            "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			CreateGasLimit:      500_000,
			ReceiptPollInterval: duration{time.Second},
			DialTimeout:         duration{10 * time.Second},
		},
		Wallet: WalletConfig{
			KeystoreDir: "./keystore",
		},
		Sync: SyncConfig{
			MaxConcurrency: 8,
		},
		Server: ServerConfig{
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			WriteTimeout: duration{2 * time.Minute},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":   true,
	"snapshot": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the whole configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, snapshot)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.ChainID <= 0 {
		errs = append(errs, fmt.Sprintf("chain: chain_id must be > 0, got %d", c.Chain.ChainID))
	}
	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.Decimals == 0 {
		errs = append(errs, "chain: decimals must be > 0")
	}

	// Ledger
	if !common.IsHexAddress(c.Ledger.Contract) {
		errs = append(errs, fmt.Sprintf("ledger: contract %q is not a hex address", c.Ledger.Contract))
	} else if common.HexToAddress(c.Ledger.Contract) == (common.Address{}) {
		errs = append(errs, "ledger: contract must not be the zero address")
	}
	if c.Ledger.CreateGasLimit < 21_000 {
		errs = append(errs, fmt.Sprintf("ledger: create_gas_limit must be >= 21000, got %d", c.Ledger.CreateGasLimit))
	}
	if c.Ledger.ReceiptPollInterval.Duration <= 0 {
		errs = append(errs, "ledger: receipt_poll_interval must be > 0")
	}
	if c.Ledger.DialTimeout.Duration <= 0 {
		errs = append(errs, "ledger: dial_timeout must be > 0")
	}

	// Wallet
	if strings.TrimSpace(c.Wallet.KeystoreDir) == "" {
		errs = append(errs, "wallet: keystore_dir must not be empty")
	}
	if c.Wallet.PrivateKey != "" && c.Wallet.EncryptedKeyPath != "" {
		errs = append(errs, "wallet: set either private_key or encrypted_key_path, not both")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required with encrypted_key_path")
	}

	// Sync
	if c.Sync.MaxConcurrency < 1 {
		errs = append(errs, "sync: max_concurrency must be >= 1")
	}

	// Server
	if strings.EqualFold(c.Mode, "server") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
