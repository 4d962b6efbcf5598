package federation

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/identity"
)

// aclClaims is the gossiped body of spec.md §4.4's ACL-version
// announcement: `{did, acl_version, trust_state}`, signed EdDSA so
// peers can drop stale optimistic ACL caches without a round trip.
type aclClaims struct {
	DID        string     `json:"did"`
	ACLVersion uint64     `json:"acl_version"`
	TrustState TrustState `json:"trust_state"`
	jwt.RegisteredClaims
}

// SignACLGossip builds a signed JWT announcing self's current ACL
// version for peerDID's recorded trust state, carried as the payload
// of a FrameSyncMarker-adjacent gossip frame.
func SignACLGossip(self *identity.NodeIdentity, peerDID string, peerTrust TrustState, version uint64) (string, error) {
	claims := aclClaims{
		DID:        self.DID,
		ACLVersion: version,
		TrustState: peerTrust,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   peerDID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(ed25519.PrivateKey(rawEd25519Private(self)))
	if err != nil {
		return "", cerr.New(cerr.Crypto, "SignACLGossip", err)
	}
	return signed, nil
}

// VerifyACLGossip parses and verifies a gossip token against the
// claimed sender's raw Ed25519 public key, returning the carried
// claims once the signature and expiry check out.
func VerifyACLGossip(tokenString string, senderPub []byte) (aclClaims, error) {
	var claims aclClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ed25519.PublicKey(senderPub), nil
	})
	if err != nil {
		return aclClaims{}, cerr.New(cerr.Crypto, "VerifyACLGossip", err)
	}
	return claims, nil
}

// rawEd25519Private extracts the raw Ed25519 private key bytes needed
// by jwt-go's EdDSA signer, which expects ed25519.PrivateKey directly
// rather than the identity.KeyPair interface.
func rawEd25519Private(self *identity.NodeIdentity) []byte {
	return self.SigningKeyPair().PrivateKey().(ed25519.PrivateKey)
}
