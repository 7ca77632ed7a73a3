// Package cipher is the content cipher capability: it seals message bodies
// at creation time and opens them only when the engine authorizes a release.
// The engine treats ciphertext and wrapped keys as opaque bytes.
//
// The implementation is an age envelope: each message body is encrypted to
// a fresh ephemeral X25519 identity, and that identity is in turn encrypted
// to the service identity. Decrypting requires the service identity, so a
// leaked database row alone never yields plaintext.
package cipher

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// ContentCipher seals and opens message bodies.
//
// Decrypt returns ErrCipher (possibly wrapped) when the content cannot be
// opened; the release executor treats that as fatal for the message, never
// as retryable.
type ContentCipher interface {
	// Encrypt seals plaintext and returns (ciphertext, wrapped key).
	Encrypt(plaintext []byte) (content, key []byte, err error)

	// Decrypt opens ciphertext with its wrapped key.
	Decrypt(content, key []byte) ([]byte, error)
}

// ErrCipher marks content that cannot be decrypted. Callers match it with
// errors.Is.
var ErrCipher = errors.New("content cannot be decrypted")

// AgeCipher implements ContentCipher with an age X25519 envelope.
type AgeCipher struct {
	identity *age.X25519Identity
}

// NewAgeCipher parses a service identity in AGE-SECRET-KEY-1... format.
// The identity must never be logged or persisted next to the data it
// protects.
func NewAgeCipher(serviceKey string) (*AgeCipher, error) {
	id, err := age.ParseX25519Identity(strings.TrimSpace(serviceKey))
	if err != nil {
		return nil, fmt.Errorf("parse service identity: %w", err)
	}
	return &AgeCipher{identity: id}, nil
}

// GenerateServiceKey creates a fresh service identity. Used by deployment
// tooling and tests; the string is the secret.
func GenerateServiceKey() (string, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generate service identity: %w", err)
	}
	return id.String(), nil
}

// Encrypt seals plaintext to a fresh ephemeral identity and wraps that
// identity to the service identity.
func (c *AgeCipher) Encrypt(plaintext []byte) ([]byte, []byte, error) {
	ephemeral, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, nil, fmt.Errorf("generate message identity: %w", err)
	}

	content, err := seal(plaintext, ephemeral.Recipient())
	if err != nil {
		return nil, nil, fmt.Errorf("seal content: %w", err)
	}

	key, err := seal([]byte(ephemeral.String()), c.identity.Recipient())
	if err != nil {
		return nil, nil, fmt.Errorf("wrap message key: %w", err)
	}

	return content, key, nil
}

// Decrypt unwraps the message identity with the service identity, then
// opens the content with it. Any failure is reported as ErrCipher; from
// the release executor's perspective there is no difference between a
// corrupt key and corrupt content.
func (c *AgeCipher) Decrypt(content, key []byte) ([]byte, error) {
	keyPlain, err := open(key, c.identity)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap message key: %v", ErrCipher, err)
	}

	ephemeral, err := age.ParseX25519Identity(string(keyPlain))
	if err != nil {
		return nil, fmt.Errorf("%w: parse message key: %v", ErrCipher, err)
	}

	plaintext, err := open(content, ephemeral)
	if err != nil {
		return nil, fmt.Errorf("%w: open content: %v", ErrCipher, err)
	}
	return plaintext, nil
}

func seal(plaintext []byte, recipient age.Recipient) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func open(ciphertext []byte, identity age.Identity) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
