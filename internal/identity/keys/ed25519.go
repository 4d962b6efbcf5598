// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/mosiyuan/cis/internal/identity"
)

// Ed25519KeyPair implements identity.KeyPair for Ed25519 signing keys.
type Ed25519KeyPair struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	id         string
}

// GenerateEd25519KeyPair generates a new random Ed25519 key pair.
func GenerateEd25519KeyPair() (identity.KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newEd25519KeyPair(publicKey, privateKey), nil
}

// Ed25519KeyPairFromSeed reconstructs a key pair from a 32-byte seed,
// used by bind() to derive the signing key deterministically.
func Ed25519KeyPairFromSeed(seed []byte) (*Ed25519KeyPair, error) {
	privateKey := ed25519.NewKeyFromSeed(seed)
	publicKey := privateKey.Public().(ed25519.PublicKey)
	return newEd25519KeyPair(publicKey, privateKey), nil
}

func newEd25519KeyPair(publicKey ed25519.PublicKey, privateKey ed25519.PrivateKey) *Ed25519KeyPair {
	hash := sha256.Sum256(publicKey)
	id := hex.EncodeToString(hash[:8])
	return &Ed25519KeyPair{privateKey: privateKey, publicKey: publicKey, id: id}
}

func (kp *Ed25519KeyPair) PublicKey() crypto.PublicKey   { return kp.publicKey }
func (kp *Ed25519KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *Ed25519KeyPair) Type() identity.KeyType        { return identity.KeyTypeEd25519 }
func (kp *Ed25519KeyPair) ID() string                    { return kp.id }

func (kp *Ed25519KeyPair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(kp.privateKey, message), nil
}

func (kp *Ed25519KeyPair) Verify(message, signature []byte) error {
	if !ed25519.Verify(kp.publicKey, message, signature) {
		return identity.ErrInvalidSignature
	}
	return nil
}

// RawPublicKey returns the raw 32-byte Ed25519 public key, used by
// bind() to compute the DID's base32 suffix.
func (kp *Ed25519KeyPair) RawPublicKey() []byte {
	out := make([]byte, len(kp.publicKey))
	copy(out, kp.publicKey)
	return out
}
