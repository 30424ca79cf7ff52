// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cabin-chat/cabin/lib/ref"
	"github.com/cabin-chat/cabin/protocol"
	"github.com/cabin-chat/cabin/transport"
)

// connectionConfig carries what a connection goroutine needs. None of
// it is session state.
type connectionConfig struct {
	id               ConnectionID
	cabal            ref.CabalKey
	direction        Direction
	remote           string
	signer           transport.Signer
	dialer           transport.Dialer
	handshakeTimeout time.Duration
	queueSize        int
	bus              *Bus
	logger           *slog.Logger
}

// Connection is the producer side of one peer link. Its goroutine
// dials (outbound only), runs the handshake, then reads frames until
// the socket closes, publishing a Lifecycle event at each step and
// exactly one terminal Lifecycle last. The orchestrator never blocks on
// it: Send enqueues onto a bounded queue served by a writer goroutine.
type Connection struct {
	connectionConfig

	queue  chan protocol.Frame
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	conn     net.Conn
	closing  bool
	writeErr error
}

func newConnection(config connectionConfig, conn net.Conn) *Connection {
	if config.queueSize <= 0 {
		config.queueSize = 1
	}
	return &Connection{
		connectionConfig: config,
		queue:            make(chan protocol.Frame, config.queueSize),
		done:             make(chan struct{}),
		conn:             conn,
	}
}

// start launches the connection goroutine.
func (c *Connection) start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Send enqueues frame for the writer. It fails with ErrQueueFull
// instead of blocking.
func (c *Connection) Send(frame protocol.Frame) error {
	select {
	case c.queue <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close begins a local close: a pending dial is cancelled and the
// socket is closed, which unblocks the handshake or read loop. The
// goroutine then publishes StateClosed. Idempotent.
func (c *Connection) Close() {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// Done is closed when the connection goroutine has returned.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) publish(event Event) bool { return c.bus.Publish(event) }

// attach stores a freshly dialed socket unless Close already ran.
func (c *Connection) attach(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.conn = conn
	return true
}

func (c *Connection) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Connection) run(ctx context.Context) {
	defer close(c.done)
	defer c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		dialed, err := c.dialer.DialContext(ctx, c.remote)
		if err != nil {
			c.terminate(&TransportError{Op: "dial", Address: c.remote, Err: err})
			return
		}
		if !c.attach(dialed) {
			dialed.Close()
			c.terminate(nil)
			return
		}
		conn = dialed
	}

	if !c.publish(Lifecycle{Connection: c.id, To: StateHandshaking}) {
		conn.Close()
		return
	}
	peer, err := transport.Handshake(conn, c.signer, c.cabal, c.handshakeTimeout)
	if err != nil {
		conn.Close()
		c.terminate(c.classifyHandshake(err))
		return
	}
	if !c.publish(Lifecycle{Connection: c.id, To: StateEstablished, Peer: peer}) {
		conn.Close()
		return
	}

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go c.writeLoop(conn, stop, writerDone)

	readErr := c.readLoop(conn)
	conn.Close()
	close(stop)
	<-writerDone

	c.mu.Lock()
	writeErr := c.writeErr
	c.mu.Unlock()
	if writeErr != nil {
		readErr = &TransportError{Op: "write", Address: c.remote, Err: writeErr}
	}
	c.terminate(readErr)
}

// terminate publishes the final Lifecycle event. A local close always
// reports StateClosed, whatever error the unblocked call returned.
func (c *Connection) terminate(err error) {
	if c.isClosing() {
		c.publish(Lifecycle{Connection: c.id, To: StateClosed})
		return
	}
	c.publish(Lifecycle{Connection: c.id, To: StateFailed, Err: err})
}

func (c *Connection) classifyHandshake(err error) error {
	for _, sentinel := range []error{
		transport.ErrBadHello,
		transport.ErrVersion,
		transport.ErrCabalMismatch,
		transport.ErrSelfConnection,
		transport.ErrBadSignature,
	} {
		if errors.Is(err, sentinel) {
			return &ProtocolError{Connection: c.id, Err: err}
		}
	}
	return &TransportError{Op: "handshake", Address: c.remote, Err: err}
}

// readLoop publishes decoded frames until the socket fails or the bus
// closes.
func (c *Connection) readLoop(conn net.Conn) error {
	for {
		payload, err := transport.ReadFrame(conn)
		if errors.Is(err, transport.ErrMalformedFrame) {
			return &ProtocolError{Connection: c.id, Err: err}
		}
		if err != nil {
			return &TransportError{Op: "read", Address: c.remote, Err: err}
		}
		frame, err := protocol.DecodeFrame(payload)
		if err != nil {
			return &ProtocolError{Connection: c.id, Err: err}
		}
		if !c.publish(InboundFrame{Connection: c.id, Frame: frame}) {
			return nil
		}
	}
}

// writeLoop drains the queue onto the socket. A write failure closes
// the socket so the read loop ends and reports it.
func (c *Connection) writeLoop(conn net.Conn, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case frame := <-c.queue:
			payload, compression, err := protocol.EncodeFrame(frame)
			if err == nil {
				err = transport.WriteFrame(conn, payload, compression)
			}
			if err != nil {
				c.mu.Lock()
				if c.writeErr == nil && !c.closing {
					c.writeErr = err
				}
				c.mu.Unlock()
				conn.Close()
				return
			}
			c.logger.Debug("frame sent", "frame", frame)
		}
	}
}
