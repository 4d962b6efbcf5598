package storage

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mosiyuan/cis/internal/cerr"
)

// PrivateCodec encrypts/decrypts private-domain rows with
// ChaCha20-Poly1305, keyed by a symmetric key from C1's
// derive_at_rest_key. Grounded on the same AEAD the teacher's HPKE
// session layer uses (pkg/agent/hpke/common.go), applied here to
// whole storage pages rather than handshake payloads.
//
// Wire format: nonce || ciphertext. The bucket/key pair is used as
// additional authenticated data so a ciphertext cannot be moved to a
// different key without failing to decrypt.
type PrivateCodec struct {
	aead cipher.AEAD
}

func NewPrivateCodec(key []byte) (*PrivateCodec, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, cerr.New(cerr.Crypto, "storage.NewPrivateCodec", err)
	}
	return &PrivateCodec{aead: aead}, nil
}

func (c *PrivateCodec) Seal(bucket, key string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, cerr.New(cerr.Crypto, "PrivateCodec.Seal", err)
	}
	aad := []byte(bucket + "/" + key)
	ct := c.aead.Seal(nonce, nonce, plaintext, aad)
	return ct, nil
}

func (c *PrivateCodec) Open(bucket, key string, sealed []byte) ([]byte, error) {
	if len(sealed) < c.aead.NonceSize() {
		return nil, cerr.New(cerr.Crypto, "PrivateCodec.Open", fmt.Errorf("ciphertext too short"))
	}
	nonce, ct := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	aad := []byte(bucket + "/" + key)
	pt, err := c.aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, cerr.New(cerr.Crypto, "PrivateCodec.Open", err)
	}
	return pt, nil
}
