// Package crypto resolves the operator's private key and imports it into the
// local keystore that backs the signing agent.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	sealedVersion    = 1
)

// sealedKey is the on-disk format of a password-sealed private key.
type sealedKey struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the operator key comes from. A raw key wins over a
// sealed file; both empty means no key is imported.
type KeySource struct {
	RawHex     string
	SealedPath string
	Password   string
}

// Empty reports whether no key source is configured.
func (s KeySource) Empty() bool {
	return s.RawHex == "" && s.SealedPath == ""
}

// Seal encrypts key with password using PBKDF2-HMAC-SHA256 and AES-256-GCM
// and returns the JSON blob to write to disk.
func Seal(key *ecdsa.PrivateKey, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: seal: password must not be empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: seal: salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: seal: nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, ethcrypto.FromECDSA(key), nil)

	return json.MarshalIndent(sealedKey{
		Version:    sealedVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, "", "  ")
}

// Open decrypts a blob produced by Seal.
func Open(blob []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: open: password must not be empty")
	}
	var stored sealedKey
	if err := json.Unmarshal(blob, &stored); err != nil {
		return nil, fmt.Errorf("crypto: open: parse: %w", err)
	}
	if stored.Version != sealedVersion {
		return nil, fmt.Errorf("crypto: open: unsupported version %d", stored.Version)
	}

	var salt, nonce, ciphertext []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", stored.Salt, &salt},
		{"nonce", stored.Nonce, &nonce},
		{"ciphertext", stored.Ciphertext, &ciphertext},
	} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return nil, fmt.Errorf("crypto: open: decode %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: open: nonce is %d bytes", len(nonce))
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: open: wrong password or corrupt file: %w", err)
	}
	key, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto: open: %w", err)
	}
	return key, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

// LoadKey resolves the private key described by src.
func LoadKey(src KeySource) (*ecdsa.PrivateKey, error) {
	if src.RawHex != "" {
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(src.RawHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("crypto: raw private key: %w", err)
		}
		return key, nil
	}
	if src.SealedPath != "" {
		blob, err := os.ReadFile(src.SealedPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: read sealed key: %w", err)
		}
		return Open(blob, src.Password)
	}
	return nil, errors.New("crypto: no private key source configured")
}

// Import stores key in ks under passphrase. Importing a key the keystore
// already holds returns the existing account.
func Import(ks *keystore.KeyStore, key *ecdsa.PrivateKey, passphrase string) (accounts.Account, error) {
	acct, err := ks.ImportECDSA(key, passphrase)
	if errors.Is(err, keystore.ErrAccountAlreadyExists) {
		existing, findErr := ks.Find(accounts.Account{Address: ethcrypto.PubkeyToAddress(key.PublicKey)})
		if findErr != nil {
			return accounts.Account{}, fmt.Errorf("crypto: import: %w", findErr)
		}
		return existing, nil
	}
	if err != nil {
		return accounts.Account{}, fmt.Errorf("crypto: import: %w", err)
	}
	return acct, nil
}
