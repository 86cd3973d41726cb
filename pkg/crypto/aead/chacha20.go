// Package aead provides authenticated encryption for values at rest.
package aead

import (
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// newChaCha20 creates a ChaCha20-Poly1305 codec.
//
// Key must be exactly 32 bytes.
func newChaCha20(key []byte) (Codec, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("aead: invalid key size for ChaCha20-Poly1305: must be 32 bytes")
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	return &aeadCodec{suite: SuiteChaCha20, aead: aead}, nil
}
