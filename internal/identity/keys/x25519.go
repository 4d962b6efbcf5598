// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package keys

import (
	"bytes"
	"crypto"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/mosiyuan/cis/internal/identity"
)

// X25519KeyPair holds an X25519 private key and its public counterpart.
type X25519KeyPair struct {
	privateKey *ecdh.PrivateKey
	publicKey  *ecdh.PublicKey
	id         string
}

// GenerateX25519KeyPair generates a new random X25519 key pair.
func GenerateX25519KeyPair() (identity.KeyPair, error) {
	privateKey, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate x25519 key: %w", err)
	}
	return newX25519KeyPair(privateKey), nil
}

// X25519KeyPairFromEd25519Seed derives the X25519 scalar from the same
// 32-byte seed used for the node's Ed25519 signing key, per RFC 8032
// §5.1.5's birational map between the two curves. This lets bind()
// produce both keypairs from one mnemonic-derived seed.
func X25519KeyPairFromEd25519Seed(seed []byte) (*X25519KeyPair, error) {
	edPriv := ed25519.NewKeyFromSeed(seed)
	h := sha512.Sum512(edPriv.Seed())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	var scalar [32]byte
	copy(scalar[:], h[:32])

	privateKey, err := ecdh.X25519().NewPrivateKey(scalar[:])
	if err != nil {
		return nil, fmt.Errorf("derive x25519 private key: %w", err)
	}
	return newX25519KeyPair(privateKey), nil
}

// X25519KeyPairFromRaw wraps an already-parsed ecdh.PrivateKey, used
// when importing a key pair from JWK/PEM storage.
func X25519KeyPairFromRaw(privateKey *ecdh.PrivateKey) (*X25519KeyPair, error) {
	return newX25519KeyPair(privateKey), nil
}

func newX25519KeyPair(privateKey *ecdh.PrivateKey) *X25519KeyPair {
	publicKey := privateKey.PublicKey()
	hash := sha256.Sum256(publicKey.Bytes())
	id := hex.EncodeToString(hash[:8])
	return &X25519KeyPair{privateKey: privateKey, publicKey: publicKey, id: id}
}

func (kp *X25519KeyPair) PublicKey() crypto.PublicKey    { return kp.publicKey }
func (kp *X25519KeyPair) PublicBytesKey() []byte         { return kp.publicKey.Bytes() }
func (kp *X25519KeyPair) PrivateKey() crypto.PrivateKey  { return kp.privateKey }
func (kp *X25519KeyPair) Type() identity.KeyType         { return identity.KeyTypeX25519 }
func (kp *X25519KeyPair) ID() string                     { return kp.id }

// Sign is unsupported: X25519 is an exchange-only curve.
func (kp *X25519KeyPair) Sign(message []byte) ([]byte, error) {
	return nil, identity.ErrSignNotSupported
}

// Verify is unsupported: X25519 is an exchange-only curve.
func (kp *X25519KeyPair) Verify(message, signature []byte) error {
	return identity.ErrVerifyNotSupported
}

// DeriveSharedSecret computes the raw 32-byte ECDH shared secret with
// a peer's X25519 public key bytes.
func (kp *X25519KeyPair) DeriveSharedSecret(peerPubBytes []byte) ([]byte, error) {
	curve := ecdh.X25519()
	peerPub, err := curve.NewPublicKey(peerPubBytes)
	if err != nil {
		return nil, fmt.Errorf("parse peer public key: %w", err)
	}
	shared, err := kp.privateKey.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}
	var zero [32]byte
	if subtle.ConstantTimeCompare(shared, zero[:]) == 1 {
		return nil, fmt.Errorf("x25519: low-order or identity point")
	}
	return shared, nil
}

// DeriveSessionKey implements identity's derive_kx_session(peer_pub):
// X25519 ECDH followed by HKDF-SHA256 keyed on the transcript of both
// public keys, producing a 32-byte ChaCha20-Poly1305 key. The two
// public keys are ordered lexicographically before being mixed into
// the transcript so that both sides of a handshake — regardless of
// which one is the local key — derive the identical session key.
func (kp *X25519KeyPair) DeriveSessionKey(peerPubBytes []byte, info []byte) ([]byte, error) {
	raw, err := kp.DeriveSharedSecret(peerPubBytes)
	if err != nil {
		return nil, err
	}
	self := kp.publicKey.Bytes()
	var transcript []byte
	if bytes.Compare(self, peerPubBytes) <= 0 {
		transcript = append(append([]byte{}, self...), peerPubBytes...)
	} else {
		transcript = append(append([]byte{}, peerPubBytes...), self...)
	}
	h := hkdf.New(sha256.New, raw, transcript, info)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("hkdf expand session key: %w", err)
	}
	return key, nil
}

// EphemeralX25519FromEd25519Pub converts a peer's Ed25519 public key to
// its Montgomery (X25519) form, used when the only identifier on hand
// is the peer's signing key.
func EphemeralX25519FromEd25519Pub(edPub ed25519.PublicKey) ([]byte, error) {
	if len(edPub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("bad ed25519 pub length: %d", len(edPub))
	}
	P, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, fmt.Errorf("invalid ed25519 pub: %w", err)
	}
	return P.BytesMontgomery(), nil
}
