// Package seal wraps mailbox public keys and encrypts message payloads
// into the storage format. Sealing is age x25519: an ephemeral key
// agreement per message, so ciphertexts are self-contained and only the
// mailbox owner's identity — never held by this server — can open them.
//
// Both functions are pure and safe to call from any number of sessions
// concurrently.
package seal

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
)

var (
	// ErrInvalidPublicKey indicates the mailbox public key is not a valid
	// age x25519 recipient. Mail for such a mailbox is rejected, never
	// stored unencrypted.
	ErrInvalidPublicKey = errors.New("invalid mailbox public key")

	// ErrDecryptFailed indicates the ciphertext could not be opened with
	// the supplied identity.
	ErrDecryptFailed = errors.New("decryption failed")
)

// Seal encrypts plaintext to the mailbox public key and returns the
// base64-encoded ciphertext stored in the email record.
func Seal(publicKey string, plaintext []byte) (string, error) {
	recipient, err := age.ParseX25519Recipient(publicKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return "", fmt.Errorf("sealing: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return "", fmt.Errorf("sealing: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("sealing: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sealed.Bytes()), nil
}

// Unseal decrypts a stored ciphertext with the mailbox owner's identity
// string ("AGE-SECRET-KEY-1..."). The server never calls this in the
// delivery path; it exists for owner-side tooling and for tests of the
// round-trip law.
func Unseal(ciphertext, identity string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	id, err := age.ParseX25519Identity(identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	r, err := age.Decrypt(bytes.NewReader(raw), id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return plaintext, nil
}

// ValidateKey reports whether publicKey parses as an age x25519 recipient.
// Used at RCPT time so key problems surface as per-recipient rejections
// before any message data is read.
func ValidateKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return nil
}
