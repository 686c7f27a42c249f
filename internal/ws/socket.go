package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"auction-client/internal/domain"
	"auction-client/pkg/logger"
)

// CloseAuthFailed is the reserved close code the server uses to signal that
// the connection token was rejected. It must not trigger reconnection; the
// application has to re-authenticate first.
const CloseAuthFailed = 4401

// Options configures one Socket. Zero fields fall back to the defaults
// below; all timing knobs are injectable so tests can run with short values.
type Options struct {
	URL                  string
	AutoReconnect        bool
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
	KeepaliveInterval    time.Duration
	BackoffInitial       time.Duration
	BackoffMax           time.Duration
	BackoffFactor        float64
	JitterBand           float64
	MaxReconnectAttempts int
	QueueMaxAge          time.Duration
}

func (o *Options) applyDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = 30 * time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 3 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Second
	}
	if o.BackoffFactor <= 0 {
		o.BackoffFactor = 1.5
	}
	if o.JitterBand <= 0 {
		o.JitterBand = 0.15
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 10
	}
	if o.QueueMaxAge <= 0 {
		o.QueueMaxAge = time.Minute
	}
}

type msgHandlerEntry struct {
	id int64
	fn MessageHandler
}

type evtHandlerEntry struct {
	id int64
	fn EventHandler
}

// Socket maintains exactly one logical WebSocket connection to an endpoint
// path, hiding transient network failures from callers. Sends issued while
// disconnected are queued and flushed in FIFO order after reconnect.
type Socket struct {
	opts Options
	log  logger.Logger

	writeMu sync.Mutex // serializes writes on the active connection

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	closed     bool // Disconnect was called; terminal
	attempt    int
	delay      time.Duration // previous backoff delay
	attemptCh  chan struct{} // non-nil while a connect attempt is in flight
	attemptErr error
	timer      *time.Timer // pending reconnect timer
	queue      []*pendingMessage
	handlers   map[string][]msgHandlerEntry
	events     map[Event][]evtHandlerEntry
	nextID     int64
}

func NewSocket(opts Options, log logger.Logger) *Socket {
	opts.applyDefaults()
	return &Socket{
		opts:     opts,
		log:      log,
		state:    StateDisconnected,
		delay:    opts.BackoffInitial,
		handlers: make(map[string][]msgHandlerEntry),
		events:   make(map[Event][]evtHandlerEntry),
	}
}

// State returns the current connection state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Closed reports whether Disconnect was called.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Connect is idempotent: already connected returns nil immediately, and a
// concurrent call while an attempt is in flight waits for that attempt's
// outcome. A failed attempt returns the dial error and, with auto-reconnect
// enabled, schedules the next attempt per the backoff policy.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSocketClosed
	}
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateReconnectFailed {
		// Exhaustion is terminal for the automatic machinery; an explicit
		// Connect starts over with a fresh attempt budget.
		s.attempt = 0
		s.delay = s.opts.BackoffInitial
	}
	if s.attemptCh != nil {
		ch := s.attemptCh
		s.mu.Unlock()
		select {
		case <-ch:
			s.mu.Lock()
			err := s.attemptErr
			s.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ch := make(chan struct{})
	s.attemptCh = ch
	wasReconnect := s.state == StateReconnecting
	if !wasReconnect {
		s.state = StateConnecting
	}
	url := s.opts.URL
	s.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: s.opts.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)

	s.mu.Lock()
	s.attemptErr = err
	s.attemptCh = nil
	close(ch)

	if err != nil {
		s.state = StateError
		scheduled := s.scheduleReconnectLocked()
		s.mu.Unlock()

		s.emit(EventError, EventInfo{Event: EventError, State: StateError, Err: err})
		if !scheduled {
			s.maybeEmitExhausted()
		}
		return err
	}

	s.conn = conn
	s.state = StateConnected
	s.attempt = 0
	s.delay = s.opts.BackoffInitial
	s.mu.Unlock()

	go s.readLoop(conn)
	go s.keepaliveLoop(conn)

	s.emit(EventOpen, EventInfo{Event: EventOpen, State: StateConnected})
	if wasReconnect {
		s.emit(EventReconnect, EventInfo{Event: EventReconnect, State: StateConnected})
	}
	s.flushQueue(conn)
	return nil
}

// Send transmits v as a JSON frame. While disconnected with auto-reconnect
// enabled the message is queued, a connection attempt is triggered, and the
// call blocks until the message is flushed, expires, or ctx is done. Without
// auto-reconnect a disconnected send fails immediately.
func (s *Socket) Send(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSocketClosed
	}
	if s.state == StateReconnectFailed {
		// The backoff budget is spent; queueing would wait on a reconnect
		// that will never be attempted.
		s.mu.Unlock()
		return domain.ErrReconnectFailed
	}
	if s.state == StateConnected && s.conn != nil {
		conn := s.conn
		s.mu.Unlock()
		return s.write(conn, payload)
	}
	if !s.opts.AutoReconnect {
		s.mu.Unlock()
		return domain.ErrNotConnected
	}
	pm := newPendingMessage(payload)
	s.queue = append(s.queue, pm)
	s.mu.Unlock()

	time.AfterFunc(s.opts.QueueMaxAge, func() {
		s.dropPending(pm, domain.ErrMessageExpired)
	})

	// A failed attempt here is not an error for this send; the message
	// stays queued for the next attempt.
	go func() {
		_ = s.Connect(context.Background())
	}()

	select {
	case err := <-pm.done:
		return err
	case <-ctx.Done():
		s.dropPending(pm, ctx.Err())
		return ctx.Err()
	}
}

// OnMessage registers a handler for inbound frames of the given type.
// Multiple handlers per type are permitted and run in registration order,
// the same rule as for lifecycle events. The returned unsubscribe is a
// no-op on the second call.
func (s *Socket) OnMessage(msgType string, h MessageHandler) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers[msgType] = append(s.handlers[msgType], msgHandlerEntry{id: id, fn: h})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		entries := s.handlers[msgType]
		for i, e := range entries {
			if e.id == id {
				s.handlers[msgType] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// On registers a lifecycle event handler.
func (s *Socket) On(event Event, h EventHandler) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.events[event] = append(s.events[event], evtHandlerEntry{id: id, fn: h})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		entries := s.events[event]
		for i, e := range entries {
			if e.id == id {
				s.events[event] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Disconnect closes the connection intentionally: normal close code, no
// reconnection, all timers stopped, every queued message failed.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.opts.AutoReconnect = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	conn := s.conn
	s.conn = nil
	queue := s.queue
	s.queue = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(s.opts.WriteTimeout)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
	for _, pm := range queue {
		pm.complete(domain.ErrSocketClosed)
	}
	s.emit(EventClose, EventInfo{Event: EventClose, State: StateDisconnected})
}

func (s *Socket) write(conn *websocket.Conn, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(conn, err)
			return
		}
		s.handleFrame(data)
	}
}

func (s *Socket) keepaliveLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.opts.KeepaliveInterval)
	defer ticker.Stop()

	ping, _ := json.Marshal(map[string]string{"type": domain.TypePing})
	for range ticker.C {
		s.mu.Lock()
		current := s.conn
		s.mu.Unlock()
		if current != conn {
			return
		}
		if err := s.write(conn, ping); err != nil {
			return
		}
	}
}

// handleFrame dispatches one inbound frame by its type field. Dispatch runs
// synchronously in the read loop, so handlers observe wire arrival order.
func (s *Socket) handleFrame(data []byte) {
	if !gjson.ValidBytes(data) {
		s.log.Warn("Dropping unparseable frame", "size", len(data))
		return
	}
	t := gjson.GetBytes(data, "type")
	if !t.Exists() {
		s.log.Warn("Dropping frame without type field")
		return
	}
	msgType := t.String()

	switch msgType {
	case domain.TypePong:
		// Keepalive reply, consumed silently.
		return
	case domain.TypePing:
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			pong, _ := json.Marshal(map[string]string{"type": domain.TypePong})
			_ = s.write(conn, pong)
		}
		return
	}

	s.emit(EventMessage, EventInfo{Event: EventMessage, State: StateConnected, Data: data})

	s.mu.Lock()
	entries := append([]msgHandlerEntry(nil), s.handlers[msgType]...)
	s.mu.Unlock()
	for _, e := range entries {
		s.safeDispatch(msgType, e.fn, data)
	}
}

func (s *Socket) safeDispatch(msgType string, fn MessageHandler, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Message handler panicked", "type", msgType, "panic", r)
		}
	}()
	fn(data)
}

// handleClose processes a read error on conn. Intentional closes were
// already handled by Disconnect; an auth-failed close is terminal; a normal
// server close stops cleanly; anything else drives the backoff machine.
func (s *Socket) handleClose(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		// A stale read loop from an already-replaced connection.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	if s.closed {
		s.mu.Unlock()
		return
	}

	var closeErr *websocket.CloseError
	isClose := errors.As(err, &closeErr)

	if isClose && closeErr.Code == CloseAuthFailed {
		s.state = StateAuthFailed
		s.mu.Unlock()
		s.log.Warn("Server rejected connection token", "url", s.opts.URL)
		s.emit(EventError, EventInfo{Event: EventError, State: StateAuthFailed, Err: domain.ErrAuthFailed})
		s.emit(EventClose, EventInfo{Event: EventClose, State: StateAuthFailed})
		return
	}

	if isClose && closeErr.Code == websocket.CloseNormalClosure {
		s.state = StateDisconnected
		s.mu.Unlock()
		s.emit(EventClose, EventInfo{Event: EventClose, State: StateDisconnected})
		return
	}

	s.state = StateDisconnected
	scheduled := s.scheduleReconnectLocked()
	s.mu.Unlock()

	s.log.Warn("Connection lost", "url", s.opts.URL, "error", err)
	s.emit(EventClose, EventInfo{Event: EventClose, State: StateDisconnected, Err: err})
	if !scheduled {
		s.maybeEmitExhausted()
	}
}

// scheduleReconnectLocked advances the backoff state machine. It returns
// false when no further attempt will be made, either because auto-reconnect
// is off or because the attempt budget is exhausted (the caller emits the
// terminal event outside the lock).
func (s *Socket) scheduleReconnectLocked() bool {
	if !s.opts.AutoReconnect || s.closed {
		return false
	}
	s.attempt++
	if s.attempt > s.opts.MaxReconnectAttempts {
		s.state = StateReconnectFailed
		return false
	}
	d := nextDelay(s.delay, s.opts.BackoffFactor, s.opts.JitterBand, s.opts.BackoffMax)
	s.delay = d
	s.state = StateReconnecting
	// A send-triggered attempt can fail while a timer is still pending;
	// replacing it without Stop would leave two attempt streams running.
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, s.tryReconnect)
	s.log.Info("Reconnect scheduled", "url", s.opts.URL, "attempt", s.attempt, "delay", d)
	return true
}

func (s *Socket) maybeEmitExhausted() {
	s.mu.Lock()
	exhausted := s.state == StateReconnectFailed
	s.mu.Unlock()
	if exhausted {
		s.emit(EventReconnectFailed, EventInfo{
			Event: EventReconnectFailed,
			State: StateReconnectFailed,
			Err:   domain.ErrReconnectFailed,
		})
	}
}

func (s *Socket) tryReconnect() {
	s.mu.Lock()
	if s.closed || s.state != StateReconnecting {
		// Stale timer: the socket was closed, reconnected through another
		// path, or gave up while this timer was pending.
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.HandshakeTimeout)
	defer cancel()
	// A failure here schedules the next attempt itself.
	_ = s.Connect(ctx)
}

// flushQueue delivers queued messages in enqueue order on a fresh
// connection, failing entries that aged past the queue max age.
func (s *Socket) flushQueue(conn *websocket.Conn) {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, pm := range queue {
		if pm.age() > s.opts.QueueMaxAge {
			pm.complete(domain.ErrMessageExpired)
			continue
		}
		pm.complete(s.write(conn, pm.payload))
	}
}

// dropPending removes pm from the queue if still there and completes it.
func (s *Socket) dropPending(pm *pendingMessage, err error) {
	s.mu.Lock()
	for i, q := range s.queue {
		if q == pm {
			s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	pm.complete(err)
}

func (s *Socket) emit(event Event, info EventInfo) {
	s.mu.Lock()
	entries := append([]evtHandlerEntry(nil), s.events[event]...)
	s.mu.Unlock()

	for _, e := range entries {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("Event handler panicked", "event", event.String(), "panic", r)
				}
			}()
			e.fn(info)
		}()
	}
}
