// Package transport implements the versioned wire envelope and
// websocket framing of spec.md §4.4, grounded on
// pkg/agent/transport/interface.go's MessageTransport/SecureMessage
// shape, adapted from a request/response RPC abstraction to a
// streaming frame codec over github.com/gorilla/websocket.
package transport

import (
	"encoding/binary"
	"fmt"
)

// FrameType distinguishes envelope payload kinds on the wire.
type FrameType uint8

const (
	FrameHandshakeInit FrameType = iota + 1
	FrameHandshakeChallenge
	FrameHandshakeComplete
	FrameHeartbeat
	FrameEvent
	FrameSyncMarker
	FrameOrphanRequest
)

const magic uint32 = 0x43495331 // "CIS1"
const wireVersion uint8 = 1

// Envelope is the versioned frame of spec.md §4.4:
// {magic, version, type, length, payload}.
type Envelope struct {
	Type    FrameType
	Payload []byte
}

// Encode serializes e to its wire form.
func (e Envelope) Encode() []byte {
	buf := make([]byte, 4+1+1+4+len(e.Payload))
	binary.BigEndian.PutUint32(buf[0:4], magic)
	buf[4] = wireVersion
	buf[5] = byte(e.Type)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(e.Payload)))
	copy(buf[10:], e.Payload)
	return buf
}

// Decode parses raw into an Envelope, validating magic/version.
func Decode(raw []byte) (Envelope, error) {
	if len(raw) < 10 {
		return Envelope{}, fmt.Errorf("transport: frame too short")
	}
	if got := binary.BigEndian.Uint32(raw[0:4]); got != magic {
		return Envelope{}, fmt.Errorf("transport: bad magic %x", got)
	}
	if raw[4] != wireVersion {
		return Envelope{}, fmt.Errorf("transport: unsupported wire version %d", raw[4])
	}
	length := binary.BigEndian.Uint32(raw[6:10])
	if int(length) != len(raw)-10 {
		return Envelope{}, fmt.Errorf("transport: length mismatch: header says %d, have %d", length, len(raw)-10)
	}
	return Envelope{Type: FrameType(raw[5]), Payload: raw[10:]}, nil
}
