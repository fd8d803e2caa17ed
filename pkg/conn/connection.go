// Package conn implements the framing & multiplex layer (spec §4.3): a
// single transport.Conn carrying many concurrent calls tagged by
// call-id, plus the HELLO/WELCOME handshake that precedes it.
package conn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/snekrpc/snekrpc/pkg/codec"
	"github.com/snekrpc/snekrpc/pkg/rpcerr"
	"github.com/snekrpc/snekrpc/pkg/transport"
	"github.com/snekrpc/snekrpc/pkg/typetag"
	"github.com/snekrpc/snekrpc/pkg/wire"
)

var zeroTag = typetag.Any()

// Role identifies which side of the handshake a Connection played.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Connection multiplexes calls over one transport.Conn using a
// negotiated Codec. Exactly one goroutine runs Run (the reader); sends
// are safe to call concurrently from any number of goroutines (spec §5:
// "the connection's writer is a single owner of the send path; writers
// from multiple call tasks enqueue into it" — here "enqueue" is the
// transport's own internal send mutex, matching the teacher's
// writeMutex-guarded session.send).
type Connection struct {
	id    string
	tc    transport.Conn
	codec codec.Codec
	role  Role
	log   *logrus.Entry

	mu    sync.Mutex
	calls map[uint64]*Inbox

	nextID uint64 // atomic; incremented by 2, starting odd for client-originated ids

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	// onCall is invoked from the reader goroutine, in a new goroutine
	// per call, whenever a CALL frame arrives for an id not already
	// registered. Server-only.
	onCall func(msg wire.Message)
}

// New builds a Connection. firstID is 1 for client-originated
// connections (odd ids) and 2 for server-initiated ones (even ids are
// reserved, currently unused per spec §4.3).
func New(tc transport.Conn, c codec.Codec, role Role, log *logrus.Entry) *Connection {
	firstID := uint64(1)
	if role == RoleServer {
		firstID = 2
	}
	id := uuid.NewString()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("conn", id)
	return &Connection{
		id:     id,
		tc:     tc,
		codec:  c,
		role:   role,
		log:    log,
		calls:  make(map[uint64]*Inbox),
		nextID: firstID,
		closed: make(chan struct{}),
	}
}

// ID is a per-process-unique correlation id assigned at construction,
// surfaced in log fields so a call's frames can be traced back to the
// connection that carried them.
func (c *Connection) ID() string { return c.id }

// SetOnCall registers the dispatcher hook used for newly arriving CALL
// frames. Must be called before Run.
func (c *Connection) SetOnCall(fn func(msg wire.Message)) { c.onCall = fn }

// NextID allocates the next call id for a call this side originates.
func (c *Connection) NextID() uint64 {
	return atomic.AddUint64(&c.nextID, 2) - 2
}

// Register creates (or returns, if already present) the inbox for id.
func (c *Connection) Register(id uint64) *Inbox {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ib, ok := c.calls[id]; ok {
		return ib
	}
	ib := newInbox()
	c.calls[id] = ib
	return ib
}

// Unregister removes and closes the inbox for id.
func (c *Connection) Unregister(id uint64) {
	c.mu.Lock()
	ib, ok := c.calls[id]
	delete(c.calls, id)
	c.mu.Unlock()
	if ok {
		ib.close()
	}
}

// Codec returns the negotiated codec.
func (c *Connection) Codec() codec.Codec { return c.codec }

// Send encodes and writes one message. Concurrent Sends from different
// calls interleave at the transport's discretion (generally fair, since
// each blocks only for the duration of one write).
func (c *Connection) Send(msg wire.Message) error {
	select {
	case <-c.closed:
		return fmt.Errorf("conn: connection closed: %w", c.closeErr)
	default:
	}
	b, err := c.codec.Encode(msg, zeroTag)
	if err != nil {
		return fmt.Errorf("conn: encode frame: %w", err)
	}
	if err := c.tc.Send(b); err != nil {
		return fmt.Errorf("conn: send frame: %w", err)
	}
	return nil
}

// SendPayload encodes payload with the negotiated codec and sends a
// Message of the given kind/id wrapping it.
func (c *Connection) SendPayload(kind wire.Kind, id uint64, payload any) error {
	b, err := c.codec.Encode(payload, zeroTag)
	if err != nil {
		return fmt.Errorf("conn: encode payload: %w", err)
	}
	return c.Send(wire.Message{Kind: kind, ID: id, Payload: b})
}

// SendError is a convenience for sending a terminal ERROR frame.
func (c *Connection) SendError(id uint64, e *rpcerr.Error) error {
	return c.SendPayload(wire.KindError, id, wire.ErrorPayload{Kind: string(e.Kind), Message: e.Message, Traceback: e.Traceback})
}

// Run drives the single reader loop until the transport closes or ctx
// is done. It must be run in its own goroutine. On return, every
// registered call's inbox has been closed and a terminal ERROR was
// synthesized for each (spec §9: "this spec mandates treating a
// connection close as an implicit cancel for every open call on it").
func (c *Connection) Run(ctx context.Context) {
	defer c.Close(fmt.Errorf("conn: reader loop exited"))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		b, err := c.tc.Recv()
		if err != nil {
			c.closeErr = err
			return
		}
		var msg wire.Message
		if err := c.codec.Decode(b, zeroTag, &msg); err != nil {
			c.log.WithError(err).Warn("conn: malformed frame, closing connection")
			c.closeErr = fmt.Errorf("conn: malformed frame: %w", err)
			return
		}
		c.route(msg)
	}
}

func (c *Connection) route(msg wire.Message) {
	c.mu.Lock()
	ib, ok := c.calls[msg.ID]
	c.mu.Unlock()
	if ok {
		ib.push(msg)
		return
	}
	if msg.Kind == wire.KindCall && c.onCall != nil {
		// The CALL frame itself is handed to onCall directly; it is not
		// also queued in the inbox, which from here on only carries
		// CHUNK/END/ERROR/CANCEL follow-up frames for this id.
		c.Register(msg.ID)
		go c.onCall(msg)
		return
	}
	c.log.WithFields(logrus.Fields{"id": msg.ID, "kind": msg.Kind.String()}).
		Debug("conn: message for unknown call id, dropped")
}

// Close tears down the underlying transport and fails every in-flight
// call with a connection-closed TransportError.
func (c *Connection) Close(cause error) error {
	var err error
	c.closeOnce.Do(func() {
		if cause != nil {
			c.closeErr = cause
		}
		close(c.closed)
		c.mu.Lock()
		calls := c.calls
		c.calls = make(map[uint64]*Inbox)
		c.mu.Unlock()

		message := "connection closed"
		if cause != nil {
			message = cause.Error()
		}
		payload, encErr := c.codec.Encode(wire.ErrorPayload{Kind: string(rpcerr.KindTransport), Message: message}, zeroTag)
		if encErr != nil {
			payload = nil
		}
		for id, ib := range calls {
			ib.push(wire.Message{Kind: wire.KindError, ID: id, Payload: payload})
			ib.close()
		}
		err = c.tc.Close()
	})
	return err
}

// Done reports a channel closed once the connection has shut down.
func (c *Connection) Done() <-chan struct{} { return c.closed }
