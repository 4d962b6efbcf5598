package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mosiyuan/cis/internal/cerr"
)

// Conn wraps a gorilla/websocket connection with envelope framing,
// analogous to the MessageTransport abstraction the teacher's
// transport package defines over SecureMessage, narrowed to CIS's
// single binary envelope and a streaming Recv instead of a
// request/response Send.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(16 << 20)
	return &Conn{ws: ws}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Accept upgrades an inbound HTTP request to a websocket connection.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, cerr.New(cerr.Protocol, "transport.Accept", err)
	}
	return NewConn(ws), nil
}

// Dial opens an outbound websocket connection to addr.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, cerr.New(cerr.Protocol, "transport.Dial", fmt.Errorf("dial %s: %w", addr, err))
	}
	return NewConn(ws), nil
}

// Send writes one Envelope as a single binary websocket message.
func (c *Conn) Send(e Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, e.Encode()); err != nil {
		return cerr.New(cerr.Protocol, "Conn.Send", err)
	}
	return nil
}

// Recv blocks for the next inbound Envelope.
func (c *Conn) Recv() (Envelope, error) {
	kind, raw, err := c.ws.ReadMessage()
	if err != nil {
		return Envelope{}, cerr.New(cerr.Protocol, "Conn.Recv", err)
	}
	if kind != websocket.BinaryMessage {
		return Envelope{}, cerr.New(cerr.Protocol, "Conn.Recv", fmt.Errorf("unexpected message kind %d", kind))
	}
	env, err := Decode(raw)
	if err != nil {
		return Envelope{}, cerr.New(cerr.Protocol, "Conn.Recv", err)
	}
	return env, nil
}

// SetDeadline arms the underlying websocket's read deadline.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *Conn) Close() error {
	return c.ws.Close()
}
