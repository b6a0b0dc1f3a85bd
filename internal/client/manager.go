package client

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	reconnectBaseDelay  = 1 * time.Second
	reconnectMaxDelay   = 5 * time.Second
	reconnectMultiplier = 2.0

	reasonClientDisconnect = "io client disconnect"
	reasonServerDisconnect = "io server disconnect"
	reasonTransportClose   = "transport close"
	reasonTransportError   = "transport error"
	reasonPingTimeout      = "ping timeout"
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Event is anything delivered to a Handler.
type Event interface {
	EventName() string
}

// ConnectEvent is emitted after a successful connect. Reconnect is true when
// an earlier connection existed on this Manager.
type ConnectEvent struct {
	SessionID string
	Reconnect bool
}

// DisconnectEvent is emitted whenever an established connection ends.
type DisconnectEvent struct {
	Reason string
}

// ConnectErrorEvent is emitted for every failed connection attempt.
type ConnectErrorEvent struct {
	Err     error
	Attempt int
	Delay   time.Duration // wait before the next attempt; zero when giving up
}

// StateEvent is emitted for every state transition, in order.
type StateEvent struct {
	From       State
	To         State
	RetryCount int
	Delay      time.Duration
}

// PushEvent carries a server message.
type PushEvent struct {
	Message Message
}

func (ConnectEvent) EventName() string      { return EventConnect }
func (DisconnectEvent) EventName() string   { return EventDisconnect }
func (ConnectErrorEvent) EventName() string { return EventConnectError }
func (StateEvent) EventName() string        { return EventState }
func (e PushEvent) EventName() string       { return e.Message.Event }

// Handler receives events. Handlers run on the Manager's goroutine and must
// not call Connect or Disconnect synchronously.
type Handler func(Event)

// SubscriptionID identifies a registered handler for Off.
type SubscriptionID uint64

type subscription struct {
	id SubscriptionID
	fn Handler
}

// Status is a point-in-time view of the connection.
type Status struct {
	Endpoint   string
	State      State
	SessionID  string
	RetryCount int
}

// RetryPolicy configures the reconnection backoff.
type RetryPolicy struct {
	InitialDelay        time.Duration
	MaxDelay            time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryPolicy starts at one second and caps at five, without jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: reconnectBaseDelay,
		MaxDelay:     reconnectMaxDelay,
		Multiplier:   reconnectMultiplier,
	}
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.RandomizationFactor
	b.Reset()
	return b
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithTimer replaces time.After for retry waits. Tests use it to skip delays.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(m *Manager) { m.after = after }
}

// Manager owns the single connection to the push endpoint. Create one per
// process; it starts Disconnected and only connects when told to.
type Manager struct {
	endpoint  string
	transport Transport
	policy    RetryPolicy
	after     func(time.Duration) <-chan time.Time

	mu         sync.Mutex
	state      State
	sessionID  string
	retryCount int
	connected  bool // an earlier connection existed
	cancel     context.CancelFunc
	done       chan struct{}

	hmu      sync.Mutex
	handlers map[string][]subscription
	nextSub  SubscriptionID

	// emitMu keeps lifecycle events in transition order.
	emitMu sync.Mutex
}

// NewManager creates a Manager for endpoint using transport.
func NewManager(endpoint string, transport Transport, opts ...Option) *Manager {
	m := &Manager{
		endpoint:  endpoint,
		transport: transport,
		policy:    DefaultRetryPolicy(),
		after:     time.After,
		handlers:  make(map[string][]subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// On registers fn for the named event. Handlers for one name run in
// registration order.
func (m *Manager) On(event string, fn Handler) SubscriptionID {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.nextSub++
	id := m.nextSub
	m.handlers[event] = append(m.handlers[event], subscription{id: id, fn: fn})
	return id
}

// Off removes a handler registered with On.
func (m *Manager) Off(event string, id SubscriptionID) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	subs := m.handlers[event]
	for i, s := range subs {
		if s.id == id {
			m.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(m.handlers[event]) == 0 {
		delete(m.handlers, event)
	}
}

// Connect starts the connection loop. It does nothing while a loop is
// already running (Connecting, Connected or Reconnecting).
func (m *Manager) Connect() {
	m.emitMu.Lock()
	m.mu.Lock()
	switch m.state {
	case Connecting, Connected, Reconnecting:
		m.mu.Unlock()
		m.emitMu.Unlock()
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	// The check and the move to Connecting share one critical section so
	// concurrent callers start a single loop.
	from := m.state
	m.state = Connecting
	retry := m.retryCount
	m.mu.Unlock()

	m.dispatch(StateEvent{From: from, To: Connecting, RetryCount: retry})
	m.emitMu.Unlock()
	go m.run(ctx, done)
}

// Disconnect stops the loop, cancels any pending retry and closes the
// connection. The Manager can be connected again afterwards.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	wasConnected := m.state == Connected
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.mu.Lock()
	m.sessionID = ""
	m.retryCount = 0
	m.mu.Unlock()

	m.transition(Disconnected, 0)
	if wasConnected {
		m.emit(DisconnectEvent{Reason: reasonClientDisconnect})
	}
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Endpoint:   m.endpoint,
		State:      m.state,
		SessionID:  m.sessionID,
		RetryCount: m.retryCount,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	bo := m.policy.newBackOff()

	for {
		stream, err := m.transport.Dial(ctx, m.endpoint)
		if ctx.Err() != nil {
			if stream != nil {
				stream.Close()
			}
			return
		}

		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				log.Printf("ws dial unauthorized: %v (giving up)", err)
				m.mu.Lock()
				attempt := m.retryCount + 1
				m.mu.Unlock()
				m.emit(ConnectErrorEvent{Err: err, Attempt: attempt})
				m.transition(Failed, 0)
				return
			}
			delay := bo.NextBackOff()
			attempt := m.bumpRetry()
			log.Printf("ws dial error: %v (retry in %v)", err, delay)
			m.emit(ConnectErrorEvent{Err: err, Attempt: attempt, Delay: delay})
			m.transition(Reconnecting, delay)
			if !m.wait(ctx, delay) {
				return
			}
			continue
		}

		bo.Reset()
		m.onConnected(stream)

		// Closing the stream is what unblocks Read on Disconnect.
		stop := context.AfterFunc(ctx, func() { stream.Close() })
		reason := m.readLoop(stream)
		stop()
		stream.Close()

		m.mu.Lock()
		m.sessionID = ""
		m.mu.Unlock()

		if ctx.Err() != nil {
			return
		}

		log.Printf("ws disconnected: %s", reason)
		m.emit(DisconnectEvent{Reason: reason})

		delay := bo.NextBackOff()
		m.bumpRetry()
		m.transition(Reconnecting, delay)
		if !m.wait(ctx, delay) {
			return
		}
	}
}

func (m *Manager) onConnected(stream Stream) {
	m.mu.Lock()
	m.sessionID = stream.SessionID()
	m.retryCount = 0
	reconnect := m.connected
	m.connected = true
	sid := m.sessionID
	m.mu.Unlock()

	log.Printf("ws connected to %s (sid %s)", m.endpoint, sid)
	m.transition(Connected, 0)
	m.emit(ConnectEvent{SessionID: sid, Reconnect: reconnect})
}

// readLoop dispatches messages until the stream fails and returns the
// disconnect reason.
func (m *Manager) readLoop(stream Stream) string {
	for {
		msg, err := stream.Read()
		if err != nil {
			return disconnectReason(err)
		}
		m.emit(PushEvent{Message: msg})
	}
}

func disconnectReason(err error) string {
	switch {
	case errors.Is(err, ErrServerClosed):
		return reasonServerDisconnect
	case errors.Is(err, ErrPingTimeout):
		return reasonPingTimeout
	case errors.Is(err, ErrTransportClosed):
		return reasonTransportClose
	}
	return reasonTransportError
}

func (m *Manager) bumpRetry() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCount++
	return m.retryCount
}

func (m *Manager) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-m.after(d):
		return true
	}
}

// transition applies a state change and publishes it. Transitions and
// their events are serialized by emitMu so observers see them in order.
func (m *Manager) transition(to State, delay time.Duration) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	from := m.state
	m.state = to
	retry := m.retryCount
	m.mu.Unlock()

	m.dispatch(StateEvent{From: from, To: to, RetryCount: retry, Delay: delay})
}

func (m *Manager) emit(ev Event) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	m.dispatch(ev)
}

// dispatch is the single delivery point for every event name.
func (m *Manager) dispatch(ev Event) {
	m.hmu.Lock()
	subs := append([]subscription(nil), m.handlers[ev.EventName()]...)
	m.hmu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
