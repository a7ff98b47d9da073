package config

import "github.com/alanyoungcy/chainauction/internal/crypto"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.Passphrase)
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Server.APIKey)

	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	return out
}

// KeySource returns where the key to import into the keystore comes from.
func (c WalletConfig) KeySource() crypto.KeySource {
	return crypto.KeySource{
		RawHex:     c.PrivateKey,
		SealedPath: c.EncryptedKeyPath,
		Password:   c.KeyPassword,
	}
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
