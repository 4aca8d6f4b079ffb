package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

var (
	ErrInvalidKeySize = errors.New("invalid key size: must be 32 bytes for AES-256")
	ErrDecryption     = errors.New("decryption failed: invalid key, tag, or context")
)

// EncryptGCM encrypts plaintext using AES-256-GCM with the given key and
// AAD, returning nonce, ciphertext, and tag as separate values; the
// Keyring joins them (with the KID) into the single sealed string the
// camera registry stores in `rtsp_url_enc`. A fresh random nonce is drawn on every call, so
// callers must never persist or reuse a nonce across two Seal calls
// under the same key — for per-camera RTSP URL sealing this is a
// non-issue since each camera_id's URL is only ever re-sealed on config
// reload, each time with a new nonce and the camera_id bound in as AAD.
func EncryptGCM(key []byte, plaintext []byte, aad []byte) (nonce, ciphertext, tag []byte, err error) {
	if len(key) != 32 {
		return nil, nil, nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, err
	}

	// Seal appends the tag to the ciphertext; split it back out so the
	// two halves are returned as separate values.
	full := gcm.Seal(nil, nonce, plaintext, aad)

	tagSize := gcm.Overhead()
	if len(full) < tagSize {
		return nil, nil, nil, errors.New("encryption error: output too short")
	}

	ciphertext = full[:len(full)-tagSize]
	tag = full[len(full)-tagSize:]

	return nonce, ciphertext, tag, nil
}

// DecryptGCM decrypts ciphertext using AES-256-GCM, with nonce and tag
// passed separately (as EncryptGCM produced them) rather than
// concatenated onto ciphertext. The AAD must match what was bound at
// seal time (e.g. a camera_id) or Open fails closed.
func DecryptGCM(key, nonce, ciphertext, tag, aad []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(nonce) != gcm.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}

	// Reassemble for Open: ciphertext + tag
	full := make([]byte, len(ciphertext)+len(tag))
	copy(full, ciphertext)
	copy(full[len(ciphertext):], tag)

	plaintext, err := gcm.Open(nil, nonce, full, aad)
	if err != nil {
		// Collapse to a generic error: a wrong AAD (e.g. a ciphertext
		// moved to the wrong camera_id row) shouldn't be distinguishable
		// from a corrupted tag or wrong key to the caller.
		return nil, ErrDecryption
	}

	return plaintext, nil
}
