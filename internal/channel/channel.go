// Package channel maintains the realtime link to the relay. It dials,
// authenticates, reads and dispatches messages in arrival order, and
// reconnects with exponential backoff when the link drops.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"privcomm/internal/domain"
)

// State is the lifecycle phase of the channel.
type State string

const (
	StateDisconnected     State = "disconnected"
	StateConnecting       State = "connecting"
	StateConnected        State = "connected"
	StatePermanentFailure State = "permanent_failure"
)

// Conn is a single established link. Read blocks until a frame arrives.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// DialFunc establishes a Conn to url, authenticating with token.
type DialFunc func(ctx context.Context, url, token string) (Conn, error)

// Handler receives one inbound message. Handlers for a given channel run
// sequentially in arrival order.
type Handler func(msg domain.WireMessage)

// StateListener observes channel state transitions.
type StateListener func(s State)

const (
	defaultWriteTimeout      = 10 * time.Second
	defaultConnectTimeout    = 15 * time.Second
	defaultKeepAliveInterval = 30 * time.Second
)

// Channel is a reconnecting ordered link to the relay.
type Channel struct {
	url  string
	dial DialFunc
	log  zerolog.Logger

	writeTimeout   time.Duration
	keepAliveIvl   time.Duration
	connectTimeout time.Duration

	mu         sync.Mutex
	state      State
	conn       Conn
	token      string
	handlers   map[domain.MessageKind]Handler
	stateFn    StateListener
	bo         *backoff
	retryTimer *time.Timer
	gen        int

	notifyQueue []State
	notifying   bool
}

// Option configures a Channel.
type Option func(*Channel)

// WithBackoff overrides the reconnect schedule.
func WithBackoff(base, cap time.Duration, maxAttempts int) Option {
	return func(c *Channel) {
		c.bo = &backoff{base: base, cap: cap, maxAttempts: maxAttempts}
	}
}

// WithDialer overrides how the underlying link is established.
func WithDialer(d DialFunc) Option {
	return func(c *Channel) { c.dial = d }
}

// WithLogger sets the channel's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Channel) { c.log = log }
}

// WithStateListener registers a callback for state transitions.
func WithStateListener(fn StateListener) Option {
	return func(c *Channel) { c.stateFn = fn }
}

// WithKeepAlive sets the ping interval. Zero disables keep-alives.
func WithKeepAlive(ivl time.Duration) Option {
	return func(c *Channel) { c.keepAliveIvl = ivl }
}

// WithWriteTimeout bounds each outbound write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Channel) { c.writeTimeout = d }
}

// New returns a disconnected Channel for url.
func New(url string, opts ...Option) *Channel {
	c := &Channel{
		url:            url,
		dial:           DialWebsocket,
		log:            zerolog.Nop(),
		writeTimeout:   defaultWriteTimeout,
		keepAliveIvl:   defaultKeepAliveInterval,
		connectTimeout: defaultConnectTimeout,
		state:          StateDisconnected,
		handlers:       make(map[domain.MessageKind]Handler),
		bo:             &backoff{base: time.Second, cap: 30 * time.Second, maxAttempts: 10},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports the current lifecycle phase.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Handle registers the handler for messages of kind. Registering again for the
// same kind replaces the previous handler.
func (c *Channel) Handle(kind domain.MessageKind, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = h
}

// Connect establishes the link, authenticating with token. On failure the
// channel schedules retries on its own; the returned error reports only the
// initial attempt.
func (c *Channel) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.stopRetryLocked()
	if c.state == StatePermanentFailure {
		// An explicit Connect restarts the attempt budget.
		c.setStateLocked(StateDisconnected)
	}
	c.token = token
	c.bo.reset()
	c.mu.Unlock()

	return c.attempt(ctx)
}

// attempt dials once and either goes Connected or schedules the next retry.
func (c *Channel) attempt(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StatePermanentFailure {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateConnecting)
	gen := c.gen
	token := c.token
	c.mu.Unlock()

	conn, err := c.dial(ctx, c.url, token)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state == StateConnected {
		// Disconnected or superseded while dialing; discard the result.
		if err == nil {
			conn.Close()
		}
		return nil
	}
	if err != nil {
		c.log.Warn().Err(err).Str("url", c.url).Msg("dial failed")
		c.setStateLocked(StateDisconnected)
		c.scheduleRetryLocked()
		return err
	}

	c.conn = conn
	c.bo.reset()
	c.setStateLocked(StateConnected)
	c.log.Info().Str("url", c.url).Msg("channel connected")

	go c.readLoop(conn, gen)
	if c.keepAliveIvl > 0 {
		go c.keepAlive(conn, gen)
	}
	return nil
}

// Send writes msg if the channel is connected. It reports whether the write
// was handed to the link.
func (c *Channel) Send(msg domain.WireMessage) bool {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return false
	}
	conn := c.conn
	c.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error().Err(err).Str("kind", string(msg.Kind)).Msg("marshal outbound")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, data); err != nil {
		c.log.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("write failed")
		return false
	}
	return true
}

// Disconnect closes the link and cancels any pending reconnect. It is safe to
// call in any state.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.stopRetryLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.setStateLocked(StateDisconnected)
}

func (c *Channel) readLoop(conn Conn, gen int) {
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			c.onConnLost(conn, gen, err)
			return
		}

		var msg domain.WireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("discarding malformed frame")
			continue
		}

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		h := c.handlers[msg.Kind]
		c.mu.Unlock()

		if h == nil {
			c.log.Debug().Str("kind", string(msg.Kind)).Msg("no handler for kind")
			continue
		}
		h(msg)
	}
}

func (c *Channel) keepAlive(conn Conn, gen int) {
	t := time.NewTicker(c.keepAliveIvl)
	defer t.Stop()
	for range t.C {
		c.mu.Lock()
		stale := gen != c.gen || c.conn != conn
		c.mu.Unlock()
		if stale {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
		err := conn.Ping(ctx)
		cancel()
		if err != nil {
			c.log.Debug().Err(err).Msg("keep-alive ping failed")
			return
		}
	}
}

// onConnLost handles a read failure on conn, moving to Disconnected and
// scheduling a reconnect unless the loss was caused by Disconnect.
func (c *Channel) onConnLost(conn Conn, gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.conn != conn {
		return
	}
	if !errors.Is(err, context.Canceled) {
		c.log.Warn().Err(err).Msg("channel lost")
	}
	c.conn.Close()
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.scheduleRetryLocked()
}

// scheduleRetryLocked arms the next reconnect attempt, or transitions to
// PermanentFailure when the attempt budget is spent. Caller holds mu.
func (c *Channel) scheduleRetryLocked() {
	d, ok := c.bo.next()
	if !ok {
		c.log.Error().Err(domain.ErrReconnectExhausted).Str("url", c.url).Msg("giving up")
		c.setStateLocked(StatePermanentFailure)
		return
	}
	c.log.Info().Dur("delay", d).Msg("reconnect scheduled")
	gen := c.gen
	c.retryTimer = time.AfterFunc(d, func() {
		c.mu.Lock()
		stale := gen != c.gen
		c.mu.Unlock()
		if stale {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.connectTimeout)
		defer cancel()
		c.attempt(ctx)
	})
}

func (c *Channel) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// setStateLocked records the transition and queues it for the listener. A
// single drainer goroutine delivers queued transitions in order. Caller holds
// mu.
func (c *Channel) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.stateFn == nil {
		return
	}
	c.notifyQueue = append(c.notifyQueue, s)
	if !c.notifying {
		c.notifying = true
		go c.drainNotifications()
	}
}

func (c *Channel) drainNotifications() {
	for {
		c.mu.Lock()
		if len(c.notifyQueue) == 0 {
			c.notifying = false
			c.mu.Unlock()
			return
		}
		s := c.notifyQueue[0]
		c.notifyQueue = c.notifyQueue[1:]
		fn := c.stateFn
		c.mu.Unlock()
		fn(s)
	}
}
