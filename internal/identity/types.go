// Package identity implements node identity binding, signing, key
// exchange, and at-rest key derivation (spec.md §4.1). A NodeIdentity
// is created once by bind() and holds the signing and key-exchange
// keypairs derived from a mnemonic and the local hardware fingerprint.
package identity

import (
	"crypto"
	"errors"
)

// KeyType identifies the algorithm family of a KeyPair.
type KeyType string

const (
	KeyTypeEd25519 KeyType = "Ed25519"
	KeyTypeX25519  KeyType = "X25519"
)

// KeyFormat selects an export/import encoding.
type KeyFormat string

const (
	KeyFormatJWK KeyFormat = "JWK"
	KeyFormatPEM KeyFormat = "PEM"
)

// KeyPair is the common surface over signing and key-exchange keys.
// X25519 pairs implement Sign/Verify by returning ErrSignNotSupported /
// ErrVerifyNotSupported, matching Ed25519 pairs implementing no
// exchange method at all (callers type-assert to *keys.X25519KeyPair
// for DeriveSharedSecret).
type KeyPair interface {
	PublicKey() crypto.PublicKey
	PrivateKey() crypto.PrivateKey
	Type() KeyType
	Sign(message []byte) ([]byte, error)
	Verify(message, signature []byte) error
	ID() string
}

// KeyStorage persists key pairs by ID. Implementations must reject IDs
// that could escape the storage directory.
type KeyStorage interface {
	Store(id string, kp KeyPair) error
	Load(id string) (KeyPair, error)
	Delete(id string) error
	List() ([]string, error)
	Exists(id string) bool
}

// KeyExporter serializes a KeyPair to an on-disk/wire format.
type KeyExporter interface {
	Export(kp KeyPair, format KeyFormat) ([]byte, error)
	ExportPublic(kp KeyPair, format KeyFormat) ([]byte, error)
}

// KeyImporter parses a KeyPair back from a serialized format.
type KeyImporter interface {
	Import(data []byte, format KeyFormat) (KeyPair, error)
	ImportPublic(data []byte, format KeyFormat) (any, error)
}

var (
	ErrKeyNotFound        = errors.New("identity: key not found")
	ErrInvalidKeyType     = errors.New("identity: invalid key type")
	ErrInvalidKeyFormat   = errors.New("identity: invalid key format")
	ErrKeyExists          = errors.New("identity: key already exists")
	ErrInvalidSignature   = errors.New("identity: invalid signature")
	ErrSignNotSupported   = errors.New("identity: signing not supported for this key type")
	ErrVerifyNotSupported = errors.New("identity: verification not supported for this key type")
	ErrFingerprintMismatch = errors.New("identity: on-disk binding marker does not match current hardware fingerprint")
	ErrInsecurePermissions = errors.New("identity: key material file has group/other permission bits set")
)
