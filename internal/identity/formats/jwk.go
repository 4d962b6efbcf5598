// Package formats implements key-pair export/import encodings for
// identity.KeyStorage, narrowed from the teacher's JWK codec to the
// two key types CIS uses: Ed25519 signing keys and X25519
// exchange keys.
package formats

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mosiyuan/cis/internal/identity"
	"github.com/mosiyuan/cis/internal/identity/keys"
)

// JWK is a minimal JSON Web Key covering the OKP (Ed25519/X25519) family.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	D   string `json:"d,omitempty"`
	Kid string `json:"kid,omitempty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
}

// Exporter implements identity.KeyExporter-shaped export for JWK.
type Exporter struct{}

func NewExporter() *Exporter { return &Exporter{} }

func (e *Exporter) Export(kp identity.KeyPair, format identity.KeyFormat) ([]byte, error) {
	if format != identity.KeyFormatJWK {
		return nil, identity.ErrInvalidKeyFormat
	}
	jwk, err := toJWK(kp, true)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jwk)
}

func (e *Exporter) ExportPublic(kp identity.KeyPair, format identity.KeyFormat) ([]byte, error) {
	if format != identity.KeyFormatJWK {
		return nil, identity.ErrInvalidKeyFormat
	}
	jwk, err := toJWK(kp, false)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jwk)
}

func toJWK(kp identity.KeyPair, includePrivate bool) (*JWK, error) {
	jwk := &JWK{Kid: kp.ID()}

	switch kp.Type() {
	case identity.KeyTypeEd25519:
		pub, ok := kp.PublicKey().(ed25519.PublicKey)
		if !ok {
			return nil, errors.New("formats: invalid Ed25519 public key type")
		}
		jwk.Kty, jwk.Crv, jwk.Use, jwk.Alg = "OKP", "Ed25519", "sig", "EdDSA"
		jwk.X = base64.RawURLEncoding.EncodeToString(pub)
		if includePrivate {
			priv, ok := kp.PrivateKey().(ed25519.PrivateKey)
			if !ok {
				return nil, errors.New("formats: invalid Ed25519 private key type")
			}
			jwk.D = base64.RawURLEncoding.EncodeToString(priv.Seed())
		}

	case identity.KeyTypeX25519:
		pub, ok := kp.PublicKey().(*ecdh.PublicKey)
		if !ok {
			return nil, errors.New("formats: invalid X25519 public key type")
		}
		jwk.Kty, jwk.Crv, jwk.Use, jwk.Alg = "OKP", "X25519", "enc", "ECDH-ES"
		jwk.X = base64.RawURLEncoding.EncodeToString(pub.Bytes())
		if includePrivate {
			priv, ok := kp.PrivateKey().(*ecdh.PrivateKey)
			if !ok {
				return nil, errors.New("formats: invalid X25519 private key type")
			}
			jwk.D = base64.RawURLEncoding.EncodeToString(priv.Bytes())
		}

	default:
		return nil, identity.ErrInvalidKeyType
	}
	return jwk, nil
}

// Importer implements identity.KeyImporter-shaped import for JWK.
type Importer struct{}

func NewImporter() *Importer { return &Importer{} }

func (i *Importer) Import(data []byte, format identity.KeyFormat) (identity.KeyPair, error) {
	if format != identity.KeyFormatJWK {
		return nil, identity.ErrInvalidKeyFormat
	}
	var jwk JWK
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, fmt.Errorf("formats: unmarshal JWK: %w", err)
	}
	if jwk.Kty != "OKP" {
		return nil, fmt.Errorf("formats: unsupported kty %q", jwk.Kty)
	}
	if jwk.D == "" {
		return nil, errors.New("formats: JWK has no private component")
	}
	d, err := base64.RawURLEncoding.DecodeString(jwk.D)
	if err != nil {
		return nil, fmt.Errorf("formats: decode d: %w", err)
	}

	switch jwk.Crv {
	case "Ed25519":
		return keys.Ed25519KeyPairFromSeed(d)
	case "X25519":
		priv, err := ecdh.X25519().NewPrivateKey(d)
		if err != nil {
			return nil, fmt.Errorf("formats: parse x25519 private key: %w", err)
		}
		return keys.X25519KeyPairFromRaw(priv)
	default:
		return nil, fmt.Errorf("formats: unsupported crv %q", jwk.Crv)
	}
}

func (i *Importer) ImportPublic(data []byte, format identity.KeyFormat) (any, error) {
	if format != identity.KeyFormatJWK {
		return nil, identity.ErrInvalidKeyFormat
	}
	var jwk JWK
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, fmt.Errorf("formats: unmarshal JWK: %w", err)
	}
	x, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("formats: decode x: %w", err)
	}
	switch jwk.Crv {
	case "Ed25519":
		return ed25519.PublicKey(x), nil
	case "X25519":
		return ecdh.X25519().NewPublicKey(x)
	default:
		return nil, fmt.Errorf("formats: unsupported crv %q", jwk.Crv)
	}
}
