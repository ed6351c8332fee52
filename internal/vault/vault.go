// Package vault encrypts short strings into Fernet tokens.
//
// Fernet (AES-128-CBC with an HMAC-SHA256 tag, versioned and timestamped) is
// the format already stored in the sessions table, so rows written by other
// Fernet implementations stay readable.
package vault

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/mohammad-safakhou/counsel/internal/apperr"
)

// KeySize is the length of a raw Fernet key: 16 signing bytes followed by 16
// encryption bytes.
const KeySize = len(fernet.Key{})

// noExpiry disables the token age check on decrypt.
const noExpiry time.Duration = -1

// ErrMissingKey is returned when no primary secret is configured.
var ErrMissingKey = errors.New("vault: encryption key not set")

// Keyring encrypts with a primary key and decrypts with the primary or any retired key.
type Keyring struct {
	primary *fernet.Key
	all     []*fernet.Key
}

// NewKeyring builds a keyring from raw 32-byte secrets. Retired secrets are
// only used for decryption, which lets operators rotate without re-encrypting.
func NewKeyring(primary []byte, retired ...[]byte) (*Keyring, error) {
	if len(primary) == 0 {
		return nil, &apperr.ConfigError{Msg: "session encryption key", Err: ErrMissingKey}
	}
	p, err := toKey(primary)
	if err != nil {
		return nil, err
	}
	k := &Keyring{primary: p, all: []*fernet.Key{p}}
	for i, secret := range retired {
		r, err := toKey(secret)
		if err != nil {
			return nil, fmt.Errorf("retired key %d: %w", i, err)
		}
		k.all = append(k.all, r)
	}
	return k, nil
}

// ParseKeyring decodes base64 secrets (standard or URL alphabet, padded or not).
func ParseKeyring(primary string, retired []string) (*Keyring, error) {
	if strings.TrimSpace(primary) == "" {
		return nil, &apperr.ConfigError{Msg: "session encryption key", Err: ErrMissingKey}
	}
	p, err := DecodeKey(primary)
	if err != nil {
		return nil, err
	}
	var old [][]byte
	for _, r := range retired {
		if strings.TrimSpace(r) == "" {
			continue
		}
		b, err := DecodeKey(r)
		if err != nil {
			return nil, err
		}
		old = append(old, b)
	}
	return NewKeyring(p, old...)
}

// DecodeKey parses a base64 encoded 32-byte secret.
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.StdEncoding, base64.RawURLEncoding, base64.RawStdEncoding} {
		b, err := enc.DecodeString(s)
		if err == nil {
			if len(b) != KeySize {
				return nil, &apperr.ConfigError{Msg: fmt.Sprintf("encryption key must be %d bytes, got %d", KeySize, len(b))}
			}
			return b, nil
		}
	}
	return nil, &apperr.ConfigError{Msg: "encryption key is not valid base64"}
}

// GenerateKey returns a fresh random key in the standard Fernet encoding.
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", err
	}
	return k.Encode(), nil
}

func toKey(secret []byte) (*fernet.Key, error) {
	var k fernet.Key
	if len(secret) != len(k) {
		return nil, &apperr.ConfigError{Msg: fmt.Sprintf("encryption key must be %d bytes, got %d", len(k), len(secret))}
	}
	copy(k[:], secret)
	return &k, nil
}

// Encrypt seals plaintext under the primary key.
func (k *Keyring) Encrypt(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), k.primary)
	if err != nil {
		return "", fmt.Errorf("fernet encrypt: %w", err)
	}
	return string(tok), nil
}

// Decrypt opens a token under any key in the ring. Tokens do not expire.
// Every failure is reported as *apperr.InvalidTokenError.
func (k *Keyring) Decrypt(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", &apperr.InvalidTokenError{Reason: "empty token"}
	}
	msg := fernet.VerifyAndDecrypt([]byte(token), noExpiry, k.all)
	if msg == nil {
		return "", &apperr.InvalidTokenError{Reason: "authentication failed"}
	}
	return string(msg), nil
}
