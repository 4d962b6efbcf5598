package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"

	"github.com/mosiyuan/cis/internal/identity/keys"
)

// VerifyWithRawEd25519 verifies signature over message under a raw
// 32-byte Ed25519 public key, used by C4 to check a peer's handshake
// challenge without first constructing a full NodeIdentity for them.
func VerifyWithRawEd25519(rawPub, message, signature []byte) (bool, error) {
	if len(rawPub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("identity: bad public key length %d", len(rawPub))
	}
	return ed25519.Verify(ed25519.PublicKey(rawPub), message, signature), nil
}

// didMethod is the CIS DID method tag of spec.md §3: did:cis:<base32(pub)>.
const didMethod = "did:cis:"

// bindingMarker is the on-disk record written at first bind(), checked
// on every subsequent start to detect the key material being copied to
// a different machine.
type bindingMarker struct {
	Fingerprint string `json:"fingerprint"`
	DID         string `json:"did"`
}

// NodeIdentity is the tuple of spec.md §3: {did, hw_fingerprint,
// signing_keypair, kx_keypair}. Created once by Bind; the signing and
// exchange keys are both derived from the same mnemonic-rooted seed.
type NodeIdentity struct {
	DID         string
	Fingerprint string

	signing  *keys.Ed25519KeyPair
	exchange *keys.X25519KeyPair
	rootSeed []byte
}

// Bind derives a NodeIdentity from mnemonic and fingerprint and checks
// it against the on-disk binding marker in dir, if one exists. A
// mismatch between the marker's fingerprint and the current one means
// the key material was copied to different hardware; Bind refuses to
// proceed so the caller never silently runs with a fork of a node's
// identity. If dir holds no marker yet, one is written.
func Bind(mnemonic, fingerprint, dir string) (*NodeIdentity, error) {
	seed := deriveRootSeed(mnemonic, fingerprint)

	signing, err := keys.Ed25519KeyPairFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	exchange, err := keys.X25519KeyPairFromEd25519Seed(seed)
	if err != nil {
		return nil, fmt.Errorf("derive exchange key: %w", err)
	}

	did := didMethod + base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(signing.RawPublicKey())

	id := &NodeIdentity{
		DID:         did,
		Fingerprint: fingerprint,
		signing:     signing,
		exchange:    exchange,
		rootSeed:    seed,
	}

	if err := id.checkOrWriteMarker(dir); err != nil {
		return nil, err
	}
	return id, nil
}

func (id *NodeIdentity) checkOrWriteMarker(dir string) error {
	path := filepath.Join(dir, "binding.json")
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return id.writeMarker(path)
	case err != nil:
		return fmt.Errorf("stat binding marker: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return ErrInsecurePermissions
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read binding marker: %w", err)
	}
	var marker bindingMarker
	if err := json.Unmarshal(raw, &marker); err != nil {
		return fmt.Errorf("parse binding marker: %w", err)
	}
	if marker.Fingerprint != id.Fingerprint || marker.DID != id.DID {
		return ErrFingerprintMismatch
	}
	return nil
}

func (id *NodeIdentity) writeMarker(path string) error {
	raw, err := json.Marshal(bindingMarker{Fingerprint: id.Fingerprint, DID: id.DID})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	return os.WriteFile(path, raw, 0o600)
}

// deriveRootSeed mixes the mnemonic and hardware fingerprint through
// HKDF-SHA256, following the hkdfExpand idiom used for HPKE session
// derivation: extract on the mnemonic bytes, expand with the
// fingerprint as info so two nodes sharing a mnemonic but not hardware
// derive unrelated seeds.
func deriveRootSeed(mnemonic, fingerprint string) []byte {
	h := hkdf.New(sha256.New, []byte(mnemonic), []byte("cis-node-identity-v1"), []byte(fingerprint))
	seed := make([]byte, 32)
	if _, err := io.ReadFull(h, seed); err != nil {
		panic(fmt.Sprintf("identity: hkdf expand failed: %v", err))
	}
	return seed
}

// Sign implements identity's sign(bytes) → Signature.
func (id *NodeIdentity) Sign(message []byte) ([]byte, error) {
	return id.signing.Sign(message)
}

// Verify implements identity's verify(did, bytes, signature) → bool
// for this node's own DID. Verifying a remote peer's signature goes
// through the peer's stored public key in C4, not through this method.
func (id *NodeIdentity) Verify(message, signature []byte) error {
	return id.signing.Verify(message, signature)
}

// SigningKeyPair exposes the Ed25519 keypair for export/storage.
func (id *NodeIdentity) SigningKeyPair() *keys.Ed25519KeyPair { return id.signing }

// ExchangeKeyPair exposes the X25519 keypair for handshake use.
func (id *NodeIdentity) ExchangeKeyPair() *keys.X25519KeyPair { return id.exchange }

// DeriveKXSession implements derive_kx_session(peer_pub) → SessionKey:
// an X25519 exchange followed by HKDF into a ChaCha20-Poly1305 key.
func (id *NodeIdentity) DeriveKXSession(peerPub []byte) ([]byte, error) {
	return id.exchange.DeriveSessionKey(peerPub, []byte("cis-kx-session-v1"))
}

// DeriveAtRestKey implements derive_at_rest_key(purpose) → SymmetricKey:
// a KDF from the identity root seed and a purpose label, used by C2 to
// encrypt private-domain storage pages without involving the exchange
// or signing keys directly.
func (id *NodeIdentity) DeriveAtRestKey(purpose string) ([]byte, error) {
	h := hkdf.New(sha256.New, id.rootSeed, []byte("cis-at-rest-v1"), []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("derive at-rest key: %w", err)
	}
	return key, nil
}
