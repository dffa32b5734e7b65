// Package crypto provides operator key management and EIP-712 signing of
// operator requests. The engine trusts only the identity recovered here.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultKDFIterations is the OWASP minimum for PBKDF2-HMAC-SHA256.
	DefaultKDFIterations = 480_000
	saltLen              = 16
	aesKeyLen            = 32
	keyFileVersion       = 1
)

// ErrOperatorMismatch means the loaded key does not control the configured
// operator address.
var ErrOperatorMismatch = errors.New("crypto: key does not belong to operator")

// keyFile is the on-disk format of an encrypted operator key. The address is
// in clear so a file can be matched to its operator without the password.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`  // base64
	Nonce      string `json:"nonce"` // base64
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig is the [operator] section as LoadKey needs it.
type KeyConfig struct {
	RawPrivateKey    string // hex, 0x optional; wins over the file
	EncryptedKeyPath string // written by EncryptKey
	KeyPassword      string
	Operator         common.Address // zero skips the identity check
}

// ParseKey decodes a hex secp256k1 key with or without 0x.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return pk, nil
}

// EncryptKey seals pk under password with PBKDF2-HMAC-SHA256 and
// AES-256-GCM. iterations <= 0 uses DefaultKDFIterations. The address is
// bound as associated data, so editing it in the file breaks decryption.
func EncryptKey(pk *ecdsa.PrivateKey, password string, iterations int) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if iterations <= 0 {
		iterations = DefaultKDFIterations
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := keyCipher(password, salt, iterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	addr := ethcrypto.PubkeyToAddress(pk.PublicKey).Hex()
	return sonnet.Marshal(keyFile{
		Version:    keyFileVersion,
		Address:    addr,
		Iterations: iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, ethcrypto.FromECDSA(pk), []byte(addr))),
	})
}

// DecryptKey opens a file produced by EncryptKey.
func DecryptKey(blob []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	var f keyFile
	if err := sonnet.Unmarshal(blob, &f); err != nil {
		return nil, fmt.Errorf("crypto: parsing key file: %w", err)
	}
	if f.Version != keyFileVersion {
		return nil, fmt.Errorf("crypto: unsupported key file version %d", f.Version)
	}

	var salt, nonce, ct []byte
	for _, field := range []struct {
		name string
		in   string
		out  *[]byte
	}{{"salt", f.Salt, &salt}, {"nonce", f.Nonce, &nonce}, {"ciphertext", f.Ciphertext, &ct}} {
		b, err := base64.StdEncoding.DecodeString(field.in)
		if err != nil {
			return nil, fmt.Errorf("crypto: decoding %s: %w", field.name, err)
		}
		*field.out = b
	}

	gcm, err := keyCipher(password, salt, f.Iterations)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: nonce is %d bytes, want %d", len(nonce), gcm.NonceSize())
	}
	plain, err := gcm.Open(nil, nonce, ct, []byte(f.Address))
	if err != nil {
		return nil, errors.New("crypto: decryption failed (wrong password or edited file)")
	}
	pk, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypted key invalid: %w", err)
	}
	return pk, nil
}

func keyCipher(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("crypto: bad kdf iteration count %d", iterations)
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// LoadKey resolves the operator key: the raw key if set, otherwise the
// encrypted file. When cfg.Operator is set the key must control it.
func LoadKey(cfg KeyConfig) (*ecdsa.PrivateKey, error) {
	var (
		pk  *ecdsa.PrivateKey
		err error
	)
	switch {
	case cfg.RawPrivateKey != "":
		pk, err = ParseKey(cfg.RawPrivateKey)
	case cfg.EncryptedKeyPath != "":
		var blob []byte
		if blob, err = os.ReadFile(cfg.EncryptedKeyPath); err != nil {
			return nil, fmt.Errorf("crypto: reading key file: %w", err)
		}
		pk, err = DecryptKey(blob, cfg.KeyPassword)
	default:
		return nil, errors.New("crypto: no private key source configured")
	}
	if err != nil {
		return nil, err
	}
	if cfg.Operator != (common.Address{}) {
		if got := ethcrypto.PubkeyToAddress(pk.PublicKey); got != cfg.Operator {
			return nil, fmt.Errorf("%w: key is %s, operator is %s", ErrOperatorMismatch, got.Hex(), cfg.Operator.Hex())
		}
	}
	return pk, nil
}
