package wsconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/webitel/im-connect/internal/domain/model"
)

// Connection is the public contract of a single managed socket.
type Connection interface {
	// Connect opens the socket, appending the auth token as a query
	// parameter. Concurrent calls while connecting or connected are no-ops.
	Connect(ctx context.Context, authToken string) error

	// Disconnect cancels timers, closes the socket with a normal-closure
	// code and clears the subscriber list. Idempotent.
	Disconnect() error

	// SendMessage fills in id/timestamp, serializes and writes the message.
	// Fails with model.ErrNotConnected unless the state is connected.
	SendMessage(ctx context.Context, m *model.Message) error

	// Subscribe registers lifecycle callbacks scoped to a feature and
	// returns the matching unsubscribe function.
	Subscribe(feature model.Feature, l Listener) (unsubscribe func())

	// Ping measures a control-frame round trip.
	Ping(ctx context.Context) (time.Duration, error)

	ID() string
	Feature() model.Feature
	IsConnected() bool
	State() model.ConnectionState
	Metrics() model.ConnectionMetrics
}

// conn implements Connection over gorilla/websocket.
type conn struct {
	id   string
	opts Options

	logger       *slog.Logger
	sink         func(*model.Message)
	sentRecorder func(*model.Message)
	subs         *subscribers

	// Write serialization.
	writeMu sync.Mutex

	mu           sync.RWMutex
	ws           *websocket.Conn
	state        model.ConnectionState
	token        string
	sessionDone  chan struct{} // closed when the current session ends
	// gen is bumped whenever ownership of the session changes hands
	// (Disconnect, explicit Connect). A dial or reconnect cycle holding a
	// stale generation must not commit its socket.
	gen          uint64
	lastActivity time.Time
	connectedAt  time.Time
	lastError    error

	pongMu sync.Mutex
	pongCh chan struct{}

	metrics struct {
		sync.Mutex
		sent       int64
		received   int64
		errors     int64
		reconnects int64
		latency    time.Duration
	}
}

var _ Connection = (*conn)(nil)

// New builds a Connection in the disconnected state.
func New(opts Options, options ...Option) Connection {
	c := &conn{
		id:     uuid.NewString(),
		opts:   opts,
		logger: slog.New(slog.NewTextHandler(os.Stdout, nil)),
		subs:   newSubscribers(),
		state:  model.StateDisconnected,
	}
	for _, o := range options {
		o(c)
	}
	c.logger = c.logger.With("conn_id", c.id, "feature", opts.Feature)
	return c
}

func (c *conn) ID() string             { return c.id }
func (c *conn) Feature() model.Feature { return c.opts.Feature }

func (c *conn) State() model.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *conn) IsConnected() bool {
	return c.State() == model.StateConnected
}

func (c *conn) Metrics() model.ConnectionMetrics {
	c.metrics.Lock()
	defer c.metrics.Unlock()

	c.mu.RLock()
	connectedAt := c.connectedAt
	c.mu.RUnlock()

	return model.ConnectionMetrics{
		MessagesSent:     c.metrics.sent,
		MessagesReceived: c.metrics.received,
		Errors:           c.metrics.errors,
		Reconnects:       c.metrics.reconnects,
		Latency:          c.metrics.latency,
		ConnectedAt:      connectedAt,
	}
}

// Connect establishes the socket at opts.URL?token=<authToken>, bounded by
// the configured connection timeout.
func (c *conn) Connect(ctx context.Context, authToken string) error {
	c.mu.Lock()
	switch c.state {
	case model.StateConnecting, model.StateConnected:
		st := c.state
		c.mu.Unlock()
		c.logger.Debug("connect skipped", "state", st.String())
		return nil
	}
	c.state = model.StateConnecting
	c.token = authToken
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	if err := c.dial(ctx, gen); err != nil {
		c.mu.Lock()
		c.state = model.StateDisconnected
		c.lastError = err
		c.mu.Unlock()
		c.recordError(err)
		return err
	}
	return nil
}

// dial performs the actual handshake and starts the session goroutines.
// The caller must have set state to connecting and pass the generation it
// took ownership under; the socket is discarded if the session ended while
// the handshake was in flight.
func (c *conn) dial(ctx context.Context, gen uint64) error {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	endpoint, err := buildEndpoint(c.opts.URL, token)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectionTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.ConnectionTimeout}
	ws, _, err := dialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: handshake exceeded %s", model.ErrConnectionTimeout, c.opts.ConnectionTimeout)
		}
		return err
	}

	done := make(chan struct{})
	now := time.Now()

	ws.SetPongHandler(func(string) error {
		c.touch()
		c.signalPong()
		return nil
	})

	c.mu.Lock()
	if c.gen != gen {
		// Disconnect ended the session while the handshake was in flight.
		c.mu.Unlock()
		ws.Close()
		return fmt.Errorf("%w: session ended during handshake", model.ErrAlreadyClosed)
	}
	c.ws = ws
	c.state = model.StateConnected
	c.sessionDone = done
	c.connectedAt = now
	c.lastActivity = now
	c.lastError = nil
	c.mu.Unlock()

	go c.readPump(ws, done)
	go c.heartbeatLoop(ws, done)

	c.logger.Debug("connected", "url", c.opts.URL)
	for _, l := range c.subs.all() {
		if l.OnConnect != nil {
			l.OnConnect()
		}
	}
	return nil
}

// Disconnect always succeeds.
func (c *conn) Disconnect() error {
	c.mu.Lock()
	c.gen++ // end the session; in-flight dials and reconnect cycles stop
	ws := c.ws
	done := c.sessionDone
	c.ws = nil
	c.sessionDone = nil
	c.state = model.StateDisconnected
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	if ws != nil {
		ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		ws.Close()
	}
	c.subs.clear()
	c.logger.Debug("disconnected")
	return nil
}

// SendMessage writes one frame. The sent counter only moves on success.
func (c *conn) SendMessage(_ context.Context, m *model.Message) error {
	c.mu.RLock()
	ws := c.ws
	connected := c.state == model.StateConnected
	c.mu.RUnlock()

	if !connected || ws == nil {
		return model.ErrNotConnected
	}

	m.Normalize()
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := m.Encode()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	if c.opts.WriteTimeout > 0 {
		ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	err = ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		c.recordError(err)
		return err
	}

	if c.opts.EnableMetrics {
		c.metrics.Lock()
		c.metrics.sent++
		c.metrics.Unlock()
	}
	if c.sentRecorder != nil {
		c.sentRecorder(m)
	}
	return nil
}

func (c *conn) Subscribe(feature model.Feature, l Listener) func() {
	return c.subs.add(feature, l)
}

// Ping measures one control-frame round trip against the live socket.
func (c *conn) Ping(ctx context.Context) (time.Duration, error) {
	c.mu.RLock()
	ws := c.ws
	connected := c.state == model.StateConnected
	c.mu.RUnlock()

	if !connected || ws == nil {
		return 0, model.ErrNotConnected
	}

	c.pongMu.Lock()
	ch := make(chan struct{}, 1)
	c.pongCh = ch
	c.pongMu.Unlock()

	start := time.Now()
	c.writeMu.Lock()
	err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	if err != nil {
		return 0, err
	}

	select {
	case <-ch:
		return time.Since(start), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *conn) signalPong() {
	c.pongMu.Lock()
	ch := c.pongCh
	c.pongCh = nil
	c.pongMu.Unlock()

	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *conn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// readPump reads frames until the session ends. Messages are dispatched in
// socket order on this goroutine; no reordering, no batching.
func (c *conn) readPump(ws *websocket.Conn, done chan struct{}) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// Intentional shutdown.
				return
			default:
			}
			c.handleReadFailure(err)
			return
		}

		c.touch()
		c.handleFrame(data)
	}
}

func (c *conn) handleFrame(data []byte) {
	msg, err := model.DecodeMessage(data)
	if err != nil {
		c.logger.Warn("dropping undecodable frame", "error", err)
		c.recordError(err)
		return
	}

	if c.opts.EnableMetrics {
		c.metrics.Lock()
		c.metrics.received++
		c.metrics.Unlock()
	}
	if sentAt, ok := msg.SentAt(); ok {
		c.observeLatency(time.Since(sentAt))
	}

	if c.sink != nil {
		c.sink(msg)
	}
	for _, l := range c.subs.snapshot(msg.Feature) {
		if l.OnMessage != nil {
			l.OnMessage(msg)
		}
	}
}

// observeLatency folds a sample into an exponential moving average,
// 0.9 old / 0.1 new, damping single-sample spikes.
func (c *conn) observeLatency(sample time.Duration) {
	if sample < 0 {
		return
	}
	c.metrics.Lock()
	if c.metrics.latency == 0 {
		c.metrics.latency = sample
	} else {
		c.metrics.latency = time.Duration(float64(c.metrics.latency)*0.9 + float64(sample)*0.1)
	}
	c.metrics.Unlock()
}

func (c *conn) recordError(err error) {
	c.metrics.Lock()
	c.metrics.errors++
	c.metrics.Unlock()

	c.mu.Lock()
	c.lastError = err
	c.mu.Unlock()

	for _, l := range c.subs.all() {
		if l.OnError != nil {
			l.OnError(err)
		}
	}
}

// handleReadFailure reacts to an unexpected read error: normal closure ends
// the session, anything else starts the reconnect cycle.
func (c *conn) handleReadFailure(err error) {
	c.mu.Lock()
	c.ws = nil
	c.state = model.StateDisconnected
	gen := c.gen
	c.mu.Unlock()

	c.recordError(err)
	for _, l := range c.subs.all() {
		if l.OnDisconnect != nil {
			l.OnDisconnect()
		}
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.logger.Debug("closed normally")
		return
	}
	if c.opts.MaxReconnectAttempts <= 0 {
		c.mu.Lock()
		if c.gen == gen {
			c.state = model.StateError
		}
		c.mu.Unlock()
		return
	}

	c.logger.Warn("abnormal closure, reconnecting", "error", err)
	go c.reconnect(gen)
}

// reconnect retries the dial with exponential backoff until it succeeds or
// the attempt cap is hit, at which point the state becomes error and
// automatic recovery stops. The cycle runs on the session generation it was
// started for and ends as soon as the generation moves on.
func (c *conn) reconnect(gen uint64) {
	bo := newReconnectBackoff(c.opts.ReconnectDelay)

	for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
		c.mu.Lock()
		if c.gen != gen || (c.state != model.StateDisconnected && c.state != model.StateReconnecting) {
			// Disconnect or a competing Connect took over the session.
			c.mu.Unlock()
			return
		}
		c.state = model.StateReconnecting
		c.mu.Unlock()

		delay := bo.NextBackOff()
		c.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
		time.Sleep(delay)

		if c.State() != model.StateReconnecting {
			return
		}

		c.metrics.Lock()
		c.metrics.reconnects++
		c.metrics.Unlock()
		for _, l := range c.subs.all() {
			if l.OnReconnect != nil {
				l.OnReconnect(attempt)
			}
		}

		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.state = model.StateConnecting
		c.mu.Unlock()

		if err := c.dial(context.Background(), gen); err != nil {
			c.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
			c.mu.Lock()
			if c.gen != gen {
				c.mu.Unlock()
				return
			}
			c.state = model.StateDisconnected
			c.lastError = err
			c.mu.Unlock()
			continue
		}

		c.logger.Info("reconnected", "attempt", attempt)
		return
	}

	c.logger.Error("reconnect attempts exhausted", "attempts", c.opts.MaxReconnectAttempts)
	c.mu.Lock()
	if c.gen == gen {
		c.state = model.StateError
	}
	c.mu.Unlock()
}

// heartbeatLoop sends a heartbeat Message on the system feature every
// interval and force-closes the socket when no traffic arrives within the
// heartbeat timeout, instead of hanging indefinitely.
func (c *conn) heartbeatLoop(ws *websocket.Conn, done chan struct{}) {
	if c.opts.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			hb := model.NewMessage(model.FeatureSystem, model.TypeHeartbeat, nil)
			hb.Metadata = map[string]any{model.MetaSentAt: time.Now().UnixMilli()}
			if err := c.SendMessage(context.Background(), hb); err != nil {
				c.logger.Debug("heartbeat send failed", "error", err)
			}

			if c.opts.HeartbeatTimeout > 0 {
				c.mu.RLock()
				stale := time.Since(c.lastActivity) > c.opts.HeartbeatTimeout
				c.mu.RUnlock()
				if stale {
					c.logger.Warn("connection stale, forcing close",
						"timeout", c.opts.HeartbeatTimeout)
					ws.Close() // read pump sees the error and drives recovery
					return
				}
			}
		}
	}
}

// newReconnectBackoff yields delays of base * 2^(attempt-1): deterministic
// (no jitter) and monotonically non-decreasing. The attempt counter bounds
// the cycle, not elapsed time.
func newReconnectBackoff(base time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = time.Hour
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// buildEndpoint appends the bearer token as a query parameter.
func buildEndpoint(base, token string) (string, error) {
	if token == "" {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", base, err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
