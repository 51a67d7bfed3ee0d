package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"voidmod.org/internal/auth"
	"voidmod.org/internal/obs"
)

// ErrHubClosed is returned once the hub loop has stopped.
var ErrHubClosed = errors.New("stream: hub closed")

const (
	defaultBuffer = 32
	inboxSize     = 256
)

// CredentialValidator checks a bearer token presented by a viewer.
type CredentialValidator interface {
	Validate(ctx context.Context, token string) (auth.Credential, error)
}

// State is the lifecycle position of a viewer connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateAnonymous
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Viewer identifies the staff member behind a connection. It is empty for anonymous viewers.
type Viewer struct {
	KeyID  string
	Pseudo string
	Role   auth.Role
}

func (v Viewer) founder() bool { return v.Role == auth.RoleFounder }

// Conn is one live viewer. Events are delivered on a buffered channel that is closed
// when the connection leaves the hub.
type Conn struct {
	hub    *Hub
	viewer Viewer
	events chan Event
	state  atomic.Int32
	once   sync.Once
	closed chan struct{}
}

// Events returns the delivery channel.
func (c *Conn) Events() <-chan Event { return c.events }

// Viewer returns the identity the connection authenticated with.
func (c *Conn) Viewer() Viewer { return c.viewer }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Close leaves the hub. It is safe to call any number of times; presence is released once.
func (c *Conn) Close() {
	c.once.Do(func() {
		c.state.Store(int32(StateDisconnected))
		close(c.closed)
		c.hub.leave(c)
	})
}

type joinMsg struct {
	conn *Conn
	ack  chan struct{}
}

type leaveMsg struct {
	conn *Conn
	ack  chan struct{}
}

type publishMsg struct {
	ev Event
}

type countMsg struct {
	reply chan int
}

// Hub fans events out to viewers. All connection and presence state is owned by the
// Run loop and mutated only through its inbox.
type Hub struct {
	validator CredentialValidator
	buffer    int
	logger    *slog.Logger

	inbox   chan any
	stopped chan struct{}
	running atomic.Bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBuffer sets the per-connection event buffer.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithHubLogger overrides the logger.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHub builds a hub. Run must be started before viewers connect.
func NewHub(validator CredentialValidator, opts ...HubOption) *Hub {
	h := &Hub{
		validator: validator,
		buffer:    defaultBuffer,
		logger:    obs.Logger(),
		inbox:     make(chan any, inboxSize),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type hubState struct {
	conns    map[*Conn]struct{}
	founders map[*Conn]struct{}
	presence map[string]int
}

// Run owns hub state until ctx is done. Remaining connections are closed on exit.
func (h *Hub) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return errors.New("stream: hub already running")
	}
	st := &hubState{
		conns:    make(map[*Conn]struct{}),
		founders: make(map[*Conn]struct{}),
		presence: make(map[string]int),
	}
	defer func() {
		for c := range st.conns {
			c.state.Store(int32(StateDisconnected))
			close(c.events)
		}
		obs.SetHubGauges(0, 0)
		close(h.stopped)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-h.inbox:
			switch m := msg.(type) {
			case joinMsg:
				h.handleJoin(st, m.conn)
				close(m.ack)
			case leaveMsg:
				h.handleLeave(st, m.conn)
				close(m.ack)
			case publishMsg:
				h.deliver(st, m.ev)
			case countMsg:
				m.reply <- len(st.presence)
			}
		}
	}
}

func (h *Hub) handleJoin(st *hubState, c *Conn) {
	st.conns[c] = struct{}{}
	if c.viewer.founder() {
		st.founders[c] = struct{}{}
	}
	if c.viewer.KeyID != "" {
		st.presence[c.viewer.KeyID]++
	}
	h.broadcastPresence(st)
}

func (h *Hub) handleLeave(st *hubState, c *Conn) {
	if _, ok := st.conns[c]; !ok {
		return
	}
	delete(st.conns, c)
	delete(st.founders, c)
	if id := c.viewer.KeyID; id != "" {
		if st.presence[id] <= 1 {
			delete(st.presence, id)
		} else {
			st.presence[id]--
		}
	}
	close(c.events)
	h.broadcastPresence(st)
}

func (h *Hub) broadcastPresence(st *hubState) {
	obs.SetHubGauges(len(st.conns), len(st.presence))
	ev, err := NewEvent(EventStaffOnline, StaffOnline{Online: len(st.presence)})
	if err != nil {
		h.logger.Error("presence event encode failed", slog.Any("error", err))
		return
	}
	h.deliver(st, ev)
}

func (h *Hub) deliver(st *hubState, ev Event) {
	targets := st.conns
	if ev.FounderOnly() {
		targets = st.founders
	}
	for c := range targets {
		select {
		case c.events <- ev:
		default:
			obs.ObserveDroppedEvent(ev.Name)
		}
	}
}

// send hands msg to the loop. It fails when the loop has stopped or ctx ends first.
func (h *Hub) send(ctx context.Context, msg any) error {
	select {
	case <-h.stopped:
		return ErrHubClosed
	default:
	}
	select {
	case h.inbox <- msg:
		return nil
	case <-h.stopped:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect admits a viewer. An empty token yields an anonymous connection; a token that
// fails validation is rejected rather than downgraded. The connection is closed when
// ctx ends. Run must already be executing.
func (h *Hub) Connect(ctx context.Context, token string) (*Conn, error) {
	c := &Conn{
		hub:    h,
		events: make(chan Event, h.buffer),
		closed: make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	next := StateAnonymous
	if token != "" {
		if h.validator == nil {
			return nil, fmt.Errorf("stream: %w", auth.ErrMalformed)
		}
		cred, err := h.validator.Validate(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("stream: %w", err)
		}
		c.viewer = Viewer{KeyID: cred.KeyID, Pseudo: cred.Pseudo, Role: cred.Role}
		next = StateAuthenticated
	}

	ack := make(chan struct{})
	if err := h.send(ctx, joinMsg{conn: c, ack: ack}); err != nil {
		return nil, err
	}
	select {
	case <-ack:
	case <-h.stopped:
		return nil, ErrHubClosed
	}
	c.state.Store(int32(next))

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.closed:
		}
	}()
	return c, nil
}

func (h *Hub) leave(c *Conn) {
	ack := make(chan struct{})
	if err := h.send(context.Background(), leaveMsg{conn: c, ack: ack}); err != nil {
		return
	}
	select {
	case <-ack:
	case <-h.stopped:
	}
}

// Publish queues ev for every eligible viewer.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	return h.send(ctx, publishMsg{ev: ev})
}

// OnlineCount returns the number of distinct staff keys currently connected.
func (h *Hub) OnlineCount(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.send(ctx, countMsg{reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-h.stopped:
		return 0, ErrHubClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
