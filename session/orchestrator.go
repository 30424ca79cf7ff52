// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"slices"
	"time"

	"github.com/cabin-chat/cabin/command"
	"github.com/cabin-chat/cabin/lib/clock"
	"github.com/cabin-chat/cabin/lib/netutil"
	"github.com/cabin-chat/cabin/lib/ref"
	"github.com/cabin-chat/cabin/transport"
)

// Config configures an Orchestrator. Signer and Engines are required.
type Config struct {
	// Signer is the local identity used in every handshake.
	Signer transport.Signer

	// Engines builds the protocol engine for each added cabal.
	Engines EngineFactory

	// Dialer opens outbound sockets. Defaults to a TCPDialer.
	Dialer transport.Dialer

	// Listen binds listeners. Defaults to transport.NewTCPListener.
	Listen ListenFunc

	// Renderer receives snapshots. Nil discards them.
	Renderer Renderer

	Clock  clock.Clock
	Logger *slog.Logger

	// Nick is the initial display name, announced to every cabal added.
	Nick string

	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	DeadTimeout      time.Duration
	ShutdownTimeout  time.Duration
	OutboundQueue    int

	// LifecycleHistory bounds the ring of recent lifecycle entries.
	LifecycleHistory int
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultIdleTimeout      = 30 * time.Second
	defaultDeadTimeout      = 90 * time.Second
	defaultShutdownTimeout  = 5 * time.Second
	defaultOutboundQueue    = 256
	defaultLifecycleHistory = 64
)

// connectionEntry is the orchestrator's record of one connection. The
// Connection goroutine never sees it.
type connectionEntry struct {
	conn      *Connection
	id        ConnectionID
	cabal     ref.CabalKey
	direction Direction
	remote    string
	state     State
	peer      ref.PeerID

	registered bool
	// suppressed marks a rejected duplicate whose remaining events are
	// dropped.
	suppressed bool
	// failure is why the orchestrator closed the connection, reported
	// when the terminal event arrives.
	failure error

	opened   time.Time
	lastSeen time.Time
	pinged   bool
}

// Orchestrator is the single owner of session state. All fields below
// config are touched only by the goroutine running Run.
type Orchestrator struct {
	config Config
	bus    *Bus
	clock  clock.Clock
	logger *slog.Logger
	self   ref.PeerID
	ran    bool

	ctx          context.Context
	cabals       *Cabals
	windows      *Windows
	status       []Line
	connections  map[ConnectionID]*connectionEntry
	listeners    map[ListenerID]*Listener
	lifecycle    []LifecycleEntry
	nick         string
	shuttingDown bool

	nextConnection ConnectionID
	nextListener   ListenerID
	nextNonce      uint64
	seq            uint64

	invalidated map[int]bool
	dirty       bool
}

// New validates config and returns an orchestrator with the status
// window open and no cabals.
func New(config Config) (*Orchestrator, error) {
	if config.Signer == nil {
		return nil, errors.New("session: Config.Signer is required")
	}
	if config.Engines == nil {
		return nil, errors.New("session: Config.Engines is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Dialer == nil {
		config.Dialer = &transport.TCPDialer{Timeout: defaultHandshakeTimeout}
	}
	if config.Listen == nil {
		config.Listen = listenTCP
	}
	if config.Renderer == nil {
		config.Renderer = RenderFunc(func(Snapshot) {})
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaultIdleTimeout
	}
	if config.DeadTimeout <= 0 {
		config.DeadTimeout = defaultDeadTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}
	if config.OutboundQueue <= 0 {
		config.OutboundQueue = defaultOutboundQueue
	}
	if config.LifecycleHistory <= 0 {
		config.LifecycleHistory = defaultLifecycleHistory
	}
	return &Orchestrator{
		config:      config,
		bus:         NewBus(),
		clock:       config.Clock,
		logger:      config.Logger,
		self:        config.Signer.PeerID(),
		cabals:      NewCabals(),
		windows:     NewWindows(),
		connections: make(map[ConnectionID]*connectionEntry),
		listeners:   make(map[ListenerID]*Listener),
		nick:        config.Nick,
		invalidated: make(map[int]bool),
	}, nil
}

// Bus returns the event bus producers publish on.
func (o *Orchestrator) Bus() *Bus { return o.bus }

// Run applies events until shutdown completes: after /exit or ctx
// cancellation every connection and listener is closed, and Run keeps
// draining until all of them have reported their terminal event or the
// shutdown timeout passes. Connection and protocol failures never end
// Run; it returns an error only if it cannot start.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.ran {
		return errors.New("session: orchestrator already ran")
	}
	o.ran = true
	o.ctx = context.WithoutCancel(ctx)
	defer o.bus.Close()

	o.logger.Info("session started", "self", o.self.Short())
	o.dirty = true
	o.flush()

	done := ctx.Done()
	var deadline <-chan time.Time
	for {
		select {
		case <-done:
			done = nil
			o.beginShutdown("context cancelled")
		case <-deadline:
			o.logger.Warn("shutdown timed out",
				"connections", len(o.connections),
				"listeners", len(o.listeners),
			)
			return nil
		case <-o.bus.Ready():
			for _, event := range o.bus.Drain() {
				o.apply(event)
				o.flush()
			}
		}
		o.flush()
		if o.shuttingDown {
			if len(o.connections) == 0 && len(o.listeners) == 0 {
				o.logger.Info("session stopped")
				return nil
			}
			if deadline == nil {
				deadline = o.clock.After(o.config.ShutdownTimeout)
			}
		}
	}
}

// apply is the single mutation entry point.
func (o *Orchestrator) apply(event Event) {
	switch event := event.(type) {
	case InboundFrame:
		o.applyInbound(event)
	case Lifecycle:
		o.applyLifecycle(event)
	case Accepted:
		o.applyAccepted(event)
	case ListenerClosed:
		o.applyListenerClosed(event)
	case UserInput:
		o.applyInput(event.Line)
	case Tick:
		o.applyTick(event.Now)
	default:
		o.violation(&InvariantViolation{Op: "apply", Detail: fmt.Sprintf("unknown event %T", event)})
	}
}

// flush renders a snapshot if the last event changed anything.
func (o *Orchestrator) flush() {
	if !o.dirty && len(o.invalidated) == 0 {
		return
	}
	snapshot := o.snapshot()
	clear(o.invalidated)
	o.dirty = false
	o.config.Renderer.Render(snapshot)
}

func (o *Orchestrator) invalidate(index int) { o.invalidated[index] = true }

// statusf appends a line to the status window.
func (o *Orchestrator) statusf(format string, args ...any) {
	o.status = append(o.status, Line{Time: o.clock.Now(), Kind: LineStatus, Body: fmt.Sprintf(format, args...)})
	o.touchWindow(o.windows.Get(StatusWindow))
}

// touchWindow invalidates window and counts unread lines when it is not
// focused. A nil window (channel not open) is ignored.
func (o *Orchestrator) touchWindow(window *Window) {
	if window == nil {
		return
	}
	if window.Index != o.windows.Active().Index {
		window.Unread++
	}
	o.invalidate(window.Index)
}

func (o *Orchestrator) touchChannel(cabal *Cabal, channel string) {
	o.touchWindow(o.windows.Find(cabal.Key, channel))
}

func (o *Orchestrator) violation(err *InvariantViolation) {
	o.logger.Warn("invariant violation", "op", err.Op, "detail", err.Detail)
}

// reportError turns any user-scoped failure into a status line.
func (o *Orchestrator) reportError(err error) {
	var violation *InvariantViolation
	if errors.As(err, &violation) {
		o.violation(violation)
		o.statusf("%s", violation.Detail)
		return
	}
	o.logger.Debug("command failed", "kind", command.KindOf(err), "error", err)
	o.statusf("%s", err)
}

func (o *Orchestrator) applyInput(line string) {
	parsed, err := command.Parse(line)
	if err != nil {
		o.reportError(err)
		return
	}
	if parsed == nil {
		return
	}
	if o.shuttingDown {
		o.logger.Debug("input ignored during shutdown", "command", parsed.Name())
		return
	}
	if err := o.dispatch(parsed); err != nil {
		o.reportError(err)
	}
}

func (o *Orchestrator) sortedConnections() []*connectionEntry {
	entries := slices.Collect(maps.Values(o.connections))
	slices.SortFunc(entries, func(a, b *connectionEntry) int { return compareIDs(a.id, b.id) })
	return entries
}

func (o *Orchestrator) sortedListeners() []*Listener {
	listeners := slices.Collect(maps.Values(o.listeners))
	slices.SortFunc(listeners, func(a, b *Listener) int { return compareIDs(a.ID, b.ID) })
	return listeners
}

func compareIDs[T ConnectionID | ListenerID](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// openConnection creates the entry and starts the goroutine. conn is
// nil for outbound connections, which dial remote first.
func (o *Orchestrator) openConnection(cabal ref.CabalKey, direction Direction, remote string, conn net.Conn) *connectionEntry {
	o.nextConnection++
	now := o.clock.Now()
	entry := &connectionEntry{
		id:        o.nextConnection,
		cabal:     cabal,
		direction: direction,
		remote:    remote,
		state:     StateConnecting,
		opened:    now,
		lastSeen:  now,
	}
	entry.conn = newConnection(connectionConfig{
		id:               entry.id,
		cabal:            cabal,
		direction:        direction,
		remote:           remote,
		signer:           o.config.Signer,
		dialer:           o.config.Dialer,
		handshakeTimeout: o.config.HandshakeTimeout,
		queueSize:        o.config.OutboundQueue,
		bus:              o.bus,
		logger:           o.connectionLogger(entry),
	}, conn)
	o.connections[entry.id] = entry
	o.record(entry, StateConnecting, nil)
	o.connectionLogger(entry).Debug("connection opened")
	entry.conn.start(o.ctx)
	return entry
}

// beginShutdown closes every connection and listener. Run returns once
// all of them have reported back.
func (o *Orchestrator) beginShutdown(reason string) {
	if o.shuttingDown {
		return
	}
	o.shuttingDown = true
	o.dirty = true
	o.logger.Info("shutting down", "reason", reason,
		"connections", len(o.connections),
		"listeners", len(o.listeners),
	)
	o.statusf("shutting down")
	for _, entry := range o.sortedConnections() {
		o.closeConnection(entry)
	}
	for _, listener := range o.sortedListeners() {
		listener.Close()
	}
}

func (o *Orchestrator) connectionLogger(entry *connectionEntry) *slog.Logger {
	logger := o.logger.With(
		"connection", uint64(entry.id),
		"cabal", entry.cabal.Short(),
		"direction", entry.direction.String(),
		"remote", entry.remote,
	)
	if !entry.peer.IsZero() {
		logger = logger.With("peer", entry.peer.Short())
	}
	return logger
}

// logTerminal picks the level for a connection's final event: expected
// teardown is debug, protocol violations are warn, the rest info.
func (o *Orchestrator) logTerminal(entry *connectionEntry, state State, err error) {
	logger := o.connectionLogger(entry)
	var protocolErr *ProtocolError
	switch {
	case err == nil:
		logger.Debug("connection closed", "state", state.String())
	case errors.As(err, &protocolErr):
		logger.Warn("connection dropped", "state", state.String(), "error", err)
	case netutil.IsExpectedCloseError(err):
		logger.Debug("connection ended", "state", state.String(), "error", err)
	default:
		logger.Info("connection failed", "state", state.String(), "error", err)
	}
}

// peerName is how a peer appears in notices and listings.
func peerName(cabal *Cabal, peer ref.PeerID) string {
	if nick := cabal.Nick(peer); nick != "" {
		return nick
	}
	return peer.Short()
}
