package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var (
	ErrKeyNotFound    = errors.New("key not found in keyring")
	ErrActiveKeyUnset = errors.New("active master key identifier not set or found")
)

// MasterKey is one entry of the MASTER_KEYS environment variable.
type MasterKey struct {
	KID      string `json:"kid"`
	Material string `json:"material"` // base64, 32 bytes (AES-256)
}

// Keyring holds the set of master keys this service may decrypt with,
// plus which one new writes should use.
type Keyring struct {
	keys      map[string][]byte
	activeKID string
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string][]byte)}
}

// LoadFromEnv loads MASTER_KEYS (JSON array) and ACTIVE_MASTER_KID.
func (k *Keyring) LoadFromEnv() error {
	keysJSON := os.Getenv("MASTER_KEYS")
	activeKID := os.Getenv("ACTIVE_MASTER_KID")

	if keysJSON == "" {
		return errors.New("MASTER_KEYS environment variable is empty")
	}
	if activeKID == "" {
		return errors.New("ACTIVE_MASTER_KID environment variable is empty")
	}

	var rawKeys []MasterKey
	if err := json.Unmarshal([]byte(keysJSON), &rawKeys); err != nil {
		return fmt.Errorf("failed to parse MASTER_KEYS: %w", err)
	}

	keys := make(map[string][]byte, len(rawKeys))
	for _, rk := range rawKeys {
		if rk.KID == "" {
			return errors.New("found master key with empty KID")
		}
		if _, exists := keys[rk.KID]; exists {
			return fmt.Errorf("duplicate master key KID: %s", rk.KID)
		}

		decoded, err := base64.StdEncoding.DecodeString(rk.Material)
		if err != nil {
			return fmt.Errorf("invalid base64 for key %s: %w", rk.KID, err)
		}
		if len(decoded) != 32 {
			return fmt.Errorf("invalid key length for %s: expected 32 bytes (AES-256), got %d", rk.KID, len(decoded))
		}
		keys[rk.KID] = decoded
	}

	if _, ok := keys[activeKID]; !ok {
		return fmt.Errorf("active key %s not found in MASTER_KEYS", activeKID)
	}

	k.keys = keys
	k.activeKID = activeKID
	return nil
}

// sealed is the on-disk encoding for a keyring-encrypted string: the KID
// used, plus nonce/ciphertext/tag, all base64, joined with ':' so it can
// live in a single text column.
func sealed(kid string, nonce, ciphertext, tag []byte) string {
	return kid + ":" +
		base64.StdEncoding.EncodeToString(nonce) + ":" +
		base64.StdEncoding.EncodeToString(ciphertext) + ":" +
		base64.StdEncoding.EncodeToString(tag)
}

func unseal(s string) (kid string, nonce, ciphertext, tag []byte, err error) {
	parts := make([]string, 0, 4)
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	if len(parts) != 4 {
		return "", nil, nil, nil, errors.New("crypto: malformed sealed value")
	}
	kid = parts[0]
	if nonce, err = base64.StdEncoding.DecodeString(parts[1]); err != nil {
		return "", nil, nil, nil, err
	}
	if ciphertext, err = base64.StdEncoding.DecodeString(parts[2]); err != nil {
		return "", nil, nil, nil, err
	}
	if tag, err = base64.StdEncoding.DecodeString(parts[3]); err != nil {
		return "", nil, nil, nil, err
	}
	return kid, nonce, ciphertext, tag, nil
}

// EncryptString encrypts plaintext with the active master key and
// returns an opaque, storage-ready sealed string. aad binds the
// ciphertext to context (e.g. the camera_id) so a ciphertext cannot be
// copied onto a different row undetected.
func (k *Keyring) EncryptString(plaintext string, aad []byte) (string, error) {
	if k.activeKID == "" {
		return "", ErrActiveKeyUnset
	}
	key, ok := k.keys[k.activeKID]
	if !ok {
		return "", ErrActiveKeyUnset
	}
	nonce, ciphertext, tag, err := EncryptGCM(key, []byte(plaintext), aad)
	if err != nil {
		return "", err
	}
	return sealed(k.activeKID, nonce, ciphertext, tag), nil
}

// DecryptString reverses EncryptString, looking the KID up in the
// keyring so rotated-out keys can still decrypt older rows.
func (k *Keyring) DecryptString(value string, aad []byte) (string, error) {
	kid, nonce, ciphertext, tag, err := unseal(value)
	if err != nil {
		return "", err
	}
	key, ok := k.keys[kid]
	if !ok {
		return "", ErrKeyNotFound
	}
	plain, err := DecryptGCM(key, nonce, ciphertext, tag, aad)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
