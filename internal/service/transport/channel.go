package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrNotConnected   = errors.New("transport: not connected")
	ErrAckTimeout     = errors.New("transport: acknowledgment timeout")
	ErrConnectionLost = errors.New("transport: connection lost before acknowledgment")
)

// State is the connection lifecycle of a Channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Options configures a Channel.
type Options struct {
	URL               string
	Header            http.Header
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
	AckTimeout        time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
	Logger            *zap.Logger
}

// DefaultOptions mirrors the browser client: five attempts from a one second
// base, thirty second heartbeat and acknowledgment timeout.
func DefaultOptions(url string) Options {
	return Options{
		URL:               url,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		MaxAttempts:       5,
		HeartbeatInterval: 30 * time.Second,
		AckTimeout:        30 * time.Second,
		ReadTimeout:       75 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  20 * time.Second,
	}
}

type ackResult struct {
	payload json.RawMessage
	err     error
}

// Channel owns one long-lived websocket connection with automatic reconnect,
// heartbeat and acknowledged sends. Listener callbacks run on the read
// goroutine in delivery order and must not call Disconnect.
type Channel struct {
	opts    Options
	backoff Backoff
	dialer  *websocket.Dialer
	logger  *zap.Logger

	mu            sync.Mutex
	state         State
	stateSeq      uint64
	conn          *websocket.Conn
	connCancel    context.CancelFunc
	attempts      int
	visible       bool
	stopped       bool
	reconnectStop chan struct{}
	pending       map[string]chan ackResult
	latency       time.Duration
	wg            sync.WaitGroup

	writeMu sync.Mutex

	notifyMu     sync.Mutex
	notifiedSeq  uint64
	listenerMu   sync.RWMutex
	nextListener int
	listeners    map[string]map[int]func(json.RawMessage)
	anyListeners map[int]func(Frame)
	stateFns     map[int]func(State)
}

// NewChannel creates a disconnected channel. Call Connect to start it.
func NewChannel(opts Options) *Channel {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		opts: opts,
		backoff: Backoff{
			Base:        opts.BaseDelay,
			Max:         opts.MaxDelay,
			MaxAttempts: opts.MaxAttempts,
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger:       logger.With(zap.String("component", "transport"), zap.String("url", opts.URL)),
		state:        StateDisconnected,
		visible:      true,
		stopped:      true,
		pending:      make(map[string]chan ackResult),
		listeners:    make(map[string]map[int]func(json.RawMessage)),
		anyListeners: make(map[int]func(Frame)),
		stateFns:     make(map[int]func(State)),
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Latency returns the last heartbeat round trip.
func (c *Channel) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// Connect dials the endpoint. On failure the channel keeps retrying in the
// background according to the backoff policy and the dial error is returned.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = false
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateError {
		c.attempts = 0
	}
	c.stopReconnectLocked()
	seq, state := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	c.notifyState(seq, state)

	return c.dial(ctx)
}

// Disconnect closes the connection, stops reconnecting and waits for the
// channel's goroutines to exit.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.stopped = true
	c.attempts = 0
	c.stopReconnectLocked()
	conn := c.detachLocked()
	seq, state := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	c.notifyState(seq, state)

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnecting"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.wg.Wait()
}

// SetVisible pauses (false) or resumes (true) heartbeats and reconnects.
func (c *Channel) SetVisible(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.visible == visible {
		return
	}
	c.visible = visible
	if !visible {
		c.stopReconnectLocked()
		return
	}
	if c.stopped || c.conn != nil || c.state == StateConnecting || c.reconnectStop != nil {
		return
	}
	c.attempts = 0
	c.startReconnectLocked(0)
}

// Send emits event and waits for the peer's acknowledgment.
func (c *Channel) Send(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	frame, err := NewFrame(event, payload)
	if err != nil {
		return nil, fmt.Errorf("transport: encode %s payload: %w", event, err)
	}
	frame.ID = uuid.NewString()

	c.mu.Lock()
	conn := c.conn
	if c.state != StateConnected || conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	result := make(chan ackResult, 1)
	c.pending[frame.ID] = result
	c.mu.Unlock()

	if err := c.write(conn, frame); err != nil {
		c.dropPending(frame.ID)
		return nil, fmt.Errorf("transport: write %s: %w", event, err)
	}

	timeout := c.opts.AckTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-result:
		return res.payload, res.err
	case <-timer.C:
		c.dropPending(frame.ID)
		return nil, ErrAckTimeout
	case <-ctx.Done():
		c.dropPending(frame.ID)
		return nil, ctx.Err()
	}
}

// Emit sends event without waiting for an acknowledgment.
func (c *Channel) Emit(event string, payload any) error {
	frame, err := NewFrame(event, payload)
	if err != nil {
		return fmt.Errorf("transport: encode %s payload: %w", event, err)
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, frame)
}

// On registers handler for frames named event.
func (c *Channel) On(event string, handler func(payload json.RawMessage)) func() {
	c.listenerMu.Lock()
	id := c.nextListener
	c.nextListener++
	if c.listeners[event] == nil {
		c.listeners[event] = make(map[int]func(json.RawMessage))
	}
	c.listeners[event][id] = handler
	c.listenerMu.Unlock()

	return func() {
		c.listenerMu.Lock()
		delete(c.listeners[event], id)
		c.listenerMu.Unlock()
	}
}

// OnAny registers handler for every inbound frame except acknowledgments.
func (c *Channel) OnAny(handler func(Frame)) func() {
	c.listenerMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.anyListeners[id] = handler
	c.listenerMu.Unlock()

	return func() {
		c.listenerMu.Lock()
		delete(c.anyListeners, id)
		c.listenerMu.Unlock()
	}
}

// OnState registers handler for connection state changes.
func (c *Channel) OnState(handler func(State)) func() {
	c.listenerMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.stateFns[id] = handler
	c.listenerMu.Unlock()

	return func() {
		c.listenerMu.Lock()
		delete(c.stateFns, id)
		c.listenerMu.Unlock()
	}
}

func (c *Channel) dial(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		c.logger.Warn("websocket dial failed", zap.Error(err))
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.scheduleReconnectLocked()
		seq, state := c.stateSeq, c.state
		c.mu.Unlock()
		c.notifyState(seq, state)
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrNotConnected
	}
	connCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.connCancel = cancel
	c.attempts = 0
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline(conn)
		return nil
	})
	c.wg.Add(2)
	go c.readLoop(connCtx, conn)
	go c.heartbeatLoop(connCtx, conn)
	seq, state := c.setStateLocked(StateConnected)
	c.mu.Unlock()
	c.notifyState(seq, state)

	c.logger.Info("websocket connected")
	return nil
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		c.extendReadDeadline(conn)
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(conn, err)
			return
		}
		if ctx.Err() != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("discarding malformed frame", zap.Error(err))
			continue
		}
		c.handleFrame(conn, frame)
	}
}

func (c *Channel) handleFrame(conn *websocket.Conn, frame Frame) {
	switch frame.Event {
	case EventAck:
		c.resolveAck(frame)
		return
	case EventPong:
		var hb HeartbeatPayload
		if err := json.Unmarshal(frame.Payload, &hb); err == nil && hb.Timestamp > 0 {
			latency := time.Since(time.UnixMilli(hb.Timestamp))
			c.mu.Lock()
			c.latency = latency
			c.mu.Unlock()
			c.logger.Debug("heartbeat", zap.Duration("latency", latency))
		}
	case EventPing:
		pong := Frame{Event: EventPong, Payload: frame.Payload}
		if err := c.write(conn, pong); err != nil {
			c.logger.Debug("pong write failed", zap.Error(err))
		}
	}

	c.listenerMu.RLock()
	handlers := make([]func(json.RawMessage), 0, len(c.listeners[frame.Event]))
	for _, h := range c.listeners[frame.Event] {
		handlers = append(handlers, h)
	}
	anyHandlers := make([]func(Frame), 0, len(c.anyListeners))
	for _, h := range c.anyListeners {
		anyHandlers = append(anyHandlers, h)
	}
	c.listenerMu.RUnlock()

	for _, h := range handlers {
		h(frame.Payload)
	}
	for _, h := range anyHandlers {
		h(frame)
	}
}

func (c *Channel) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	if c.opts.HeartbeatInterval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			visible := c.visible
			c.mu.Unlock()
			if !visible {
				continue
			}
			ping, _ := NewFrame(EventPing, HeartbeatPayload{Timestamp: time.Now().UnixMilli()})
			if err := c.write(conn, ping); err != nil {
				// the read loop observes the broken connection
				c.logger.Debug("heartbeat write failed", zap.Error(err))
			}
		}
	}
}

func (c *Channel) handleDrop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.detachLocked()
	c.setStateLocked(StateDisconnected)
	c.scheduleReconnectLocked()
	seq, state := c.stateSeq, c.state
	c.mu.Unlock()
	c.notifyState(seq, state)
	_ = conn.Close()

	if websocket.IsUnexpectedCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Warn("websocket dropped", zap.Error(cause))
	} else {
		c.logger.Info("websocket closed", zap.Error(cause))
	}
}

// detachLocked forgets the live connection and fails pending acks.
func (c *Channel) detachLocked() *websocket.Conn {
	conn := c.conn
	c.conn = nil
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	for id, ch := range c.pending {
		ch <- ackResult{err: ErrConnectionLost}
		delete(c.pending, id)
	}
	return conn
}

func (c *Channel) scheduleReconnectLocked() {
	if c.stopped || c.reconnectStop != nil {
		return
	}
	if !c.visible {
		c.logger.Debug("reconnect deferred until visible")
		return
	}
	if c.backoff.Exhausted(c.attempts) {
		c.logger.Error("max reconnection attempts reached", zap.Int("attempts", c.attempts))
		c.setStateLocked(StateError)
		return
	}
	delay := c.backoff.Delay(c.attempts)
	c.attempts++
	c.logger.Info("scheduling reconnect", zap.Duration("delay", delay), zap.Int("attempt", c.attempts), zap.Int("max", c.backoff.MaxAttempts))
	c.startReconnectLocked(delay)
}

func (c *Channel) startReconnectLocked(delay time.Duration) {
	stop := make(chan struct{})
	c.reconnectStop = stop
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		c.mu.Lock()
		if c.reconnectStop != stop || c.stopped {
			c.mu.Unlock()
			return
		}
		c.reconnectStop = nil
		seq, state := c.setStateLocked(StateConnecting)
		c.mu.Unlock()
		c.notifyState(seq, state)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-stop:
				cancel()
			case <-ctx.Done():
			}
		}()
		_ = c.dial(ctx)
	}()
}

func (c *Channel) stopReconnectLocked() {
	if c.reconnectStop != nil {
		close(c.reconnectStop)
		c.reconnectStop = nil
	}
}

func (c *Channel) setStateLocked(state State) (uint64, State) {
	if c.state != state {
		c.state = state
		c.stateSeq++
	}
	return c.stateSeq, c.state
}

// notifyState delivers state changes in order; stale notifications that lost
// a race with a newer one are skipped.
func (c *Channel) notifyState(seq uint64, state State) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if seq <= c.notifiedSeq {
		return
	}
	c.notifiedSeq = seq

	c.listenerMu.RLock()
	fns := make([]func(State), 0, len(c.stateFns))
	for _, fn := range c.stateFns {
		fns = append(fns, fn)
	}
	c.listenerMu.RUnlock()

	for _, fn := range fns {
		fn(state)
	}
}

func (c *Channel) resolveAck(frame Frame) {
	c.mu.Lock()
	ch, ok := c.pending[frame.AckOf]
	delete(c.pending, frame.AckOf)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("late or unknown ack", zap.String("ack_of", frame.AckOf))
		return
	}

	res := ackResult{payload: frame.Payload}
	if frame.Error != "" {
		res.err = errors.New(frame.Error)
	}
	ch <- res
}

func (c *Channel) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Channel) write(conn *websocket.Conn, frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	return conn.WriteJSON(frame)
}

func (c *Channel) extendReadDeadline(conn *websocket.Conn) {
	if c.opts.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
}
