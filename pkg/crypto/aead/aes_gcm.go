// Package aead provides authenticated encryption for values at rest.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// newAESGCM creates an AES-GCM codec.
//
// Key must be 16, 24, or 32 bytes for AES-128, AES-192, or AES-256.
func newAESGCM(key []byte) (Codec, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, errors.New("aead: invalid key size for AES-GCM: must be 16, 24, or 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &aeadCodec{suite: SuiteAESGCM, aead: gcm}, nil
}
