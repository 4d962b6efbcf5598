package federation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/federation/transport"
	"github.com/mosiyuan/cis/internal/identity"
)

// handshakeInit is the first frame: the initiator's DID, signing
// public key, and ephemeral X25519 public key.
type handshakeInit struct {
	DID         string `json:"did"`
	SigningPub  []byte `json:"signing_pub"`
	ExchangePub []byte `json:"exchange_pub"`
}

// challenge is exchanged by both sides after the key exchange: each
// side signs the peer's ephemeral key plus a timestamp and sends it,
// per spec.md §4.4 step 3.
type challenge struct {
	DID          string `json:"did"`
	SigningPub   []byte `json:"signing_pub"`
	ExchangePub  []byte `json:"exchange_pub"`
	SignedPeerKX []byte `json:"signed_peer_kx"`
	Timestamp    int64  `json:"timestamp"`
}

const challengeFreshness = 2 * time.Minute

// Handshake drives one connection's Connecting→Handshaking→Connected
// transition, grounded on pkg/agent/handshake/{client,server}.go's
// Invitation/Request/Response/Complete phases, collapsed to the two
// round trips spec.md §4.4 specifies: an init/challenge exchange.
type Handshake struct {
	self *identity.NodeIdentity
	acl  *ACL
}

func NewHandshake(self *identity.NodeIdentity, acl *ACL) *Handshake {
	return &Handshake{self: self, acl: acl}
}

// Result is the negotiated state once a handshake completes.
type Result struct {
	PeerDID         string
	PeerSigningPub  []byte
	PeerExchangePub []byte
	SessionKey      []byte
}

// Initiate performs the initiating side of a handshake over conn,
// returning the session once the peer's challenge verifies.
func (h *Handshake) Initiate(conn *transport.Conn) (Result, error) {
	kx := h.self.ExchangeKeyPair()
	sign := h.self.SigningKeyPair()

	init := handshakeInit{DID: h.self.DID, SigningPub: sign.RawPublicKey(), ExchangePub: kx.PublicBytesKey()}
	payload, err := json.Marshal(init)
	if err != nil {
		return Result{}, cerr.New(cerr.Protocol, "Handshake.Initiate", err)
	}
	if err := conn.Send(transport.Envelope{Type: transport.FrameHandshakeInit, Payload: payload}); err != nil {
		return Result{}, err
	}

	env, err := conn.Recv()
	if err != nil {
		return Result{}, err
	}
	if env.Type != transport.FrameHandshakeChallenge {
		return Result{}, cerr.New(cerr.Protocol, "Handshake.Initiate", fmt.Errorf("expected challenge, got type %d", env.Type))
	}
	var peerChallenge challenge
	if err := json.Unmarshal(env.Payload, &peerChallenge); err != nil {
		return Result{}, cerr.New(cerr.Protocol, "Handshake.Initiate", err)
	}
	if err := h.verifyChallenge(peerChallenge, kx.PublicBytesKey()); err != nil {
		if recErr := h.acl.RecordHandshakeFailure(peerChallenge.DID); recErr != nil {
			return Result{}, recErr
		}
		return Result{}, err
	}

	myChallenge, err := h.buildChallenge(peerChallenge.ExchangePub)
	if err != nil {
		return Result{}, err
	}
	payload, err = json.Marshal(myChallenge)
	if err != nil {
		return Result{}, cerr.New(cerr.Protocol, "Handshake.Initiate", err)
	}
	if err := conn.Send(transport.Envelope{Type: transport.FrameHandshakeComplete, Payload: payload}); err != nil {
		return Result{}, err
	}

	sessionKey, err := h.self.DeriveKXSession(peerChallenge.ExchangePub)
	if err != nil {
		return Result{}, cerr.New(cerr.Crypto, "Handshake.Initiate", err)
	}
	return Result{
		PeerDID:         peerChallenge.DID,
		PeerSigningPub:  peerChallenge.SigningPub,
		PeerExchangePub: peerChallenge.ExchangePub,
		SessionKey:      sessionKey,
	}, nil
}

// Accept performs the responding side, run by the listener loop on a
// freshly accepted connection.
func (h *Handshake) Accept(conn *transport.Conn) (Result, error) {
	env, err := conn.Recv()
	if err != nil {
		return Result{}, err
	}
	if env.Type != transport.FrameHandshakeInit {
		return Result{}, cerr.New(cerr.Protocol, "Handshake.Accept", fmt.Errorf("expected init, got type %d", env.Type))
	}
	var init handshakeInit
	if err := json.Unmarshal(env.Payload, &init); err != nil {
		return Result{}, cerr.New(cerr.Protocol, "Handshake.Accept", err)
	}

	if !h.acl.MayHandshake(init.DID, TrustUnknown) {
		return Result{}, cerr.New(cerr.Permission, "Handshake.Accept", fmt.Errorf("peer %s not permitted under %s", init.DID, h.acl.Mode()))
	}

	myChallenge, err := h.buildChallenge(init.ExchangePub)
	if err != nil {
		return Result{}, err
	}
	payload, err := json.Marshal(myChallenge)
	if err != nil {
		return Result{}, cerr.New(cerr.Protocol, "Handshake.Accept", err)
	}
	if err := conn.Send(transport.Envelope{Type: transport.FrameHandshakeChallenge, Payload: payload}); err != nil {
		return Result{}, err
	}

	env, err = conn.Recv()
	if err != nil {
		return Result{}, err
	}
	if env.Type != transport.FrameHandshakeComplete {
		return Result{}, cerr.New(cerr.Protocol, "Handshake.Accept", fmt.Errorf("expected complete, got type %d", env.Type))
	}
	var peerChallenge challenge
	if err := json.Unmarshal(env.Payload, &peerChallenge); err != nil {
		return Result{}, cerr.New(cerr.Protocol, "Handshake.Accept", err)
	}
	if err := h.verifyChallenge(peerChallenge, h.self.ExchangeKeyPair().PublicBytesKey()); err != nil {
		if recErr := h.acl.RecordHandshakeFailure(init.DID); recErr != nil {
			return Result{}, recErr
		}
		return Result{}, err
	}

	sessionKey, err := h.self.DeriveKXSession(init.ExchangePub)
	if err != nil {
		return Result{}, cerr.New(cerr.Crypto, "Handshake.Accept", err)
	}
	return Result{
		PeerDID:         init.DID,
		PeerSigningPub:  init.SigningPub,
		PeerExchangePub: init.ExchangePub,
		SessionKey:      sessionKey,
	}, nil
}

// buildChallenge signs peerKXPub||timestamp with this node's signing
// key, per spec.md §4.4's "signs a challenge containing the other's
// ephemeral key + a timestamp".
func (h *Handshake) buildChallenge(peerKXPub []byte) (challenge, error) {
	now := time.Now().Unix()
	msg := challengeTranscript(peerKXPub, now)
	sig, err := h.self.Sign(msg)
	if err != nil {
		return challenge{}, cerr.New(cerr.Crypto, "buildChallenge", err)
	}
	return challenge{
		DID:          h.self.DID,
		SigningPub:   h.self.SigningKeyPair().RawPublicKey(),
		ExchangePub:  h.self.ExchangeKeyPair().PublicBytesKey(),
		SignedPeerKX: sig,
		Timestamp:    now,
	}, nil
}

func (h *Handshake) verifyChallenge(c challenge, myKXPub []byte) error {
	if time.Since(time.Unix(c.Timestamp, 0)) > challengeFreshness {
		return cerr.New(cerr.Crypto, "verifyChallenge", fmt.Errorf("stale challenge timestamp"))
	}
	msg := challengeTranscript(myKXPub, c.Timestamp)
	verifier, err := identity.VerifyWithRawEd25519(c.SigningPub, msg, c.SignedPeerKX)
	if err != nil || !verifier {
		return cerr.New(cerr.Crypto, "verifyChallenge", fmt.Errorf("signature verification failed"))
	}
	return nil
}

func challengeTranscript(kxPub []byte, timestamp int64) []byte {
	out := make([]byte, 0, len(kxPub)+8)
	out = append(out, kxPub...)
	var tsBytes [8]byte
	for i := 0; i < 8; i++ {
		tsBytes[i] = byte(timestamp >> (8 * (7 - i)))
	}
	return append(out, tsBytes[:]...)
}
