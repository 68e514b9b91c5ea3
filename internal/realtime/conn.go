// Package realtime maintains the push connection that feeds live
// notification and ticket events into the local stores.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nhle/ticketdesk/internal/model"
)

// Status is the connection's position in the reconnect state machine:
//
//	disconnected -> connecting -> connected -> backoff -> connecting ...
//
// Exhausting the retry budget moves it to failed, where it stays until
// Retry or Close.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusBackoff
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusBackoff:
		return "reconnecting"
	case StatusFailed:
		return "offline"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Config controls dialing and reconnect behavior.
type Config struct {
	URL            string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// MaxRetries is the number of consecutive failed attempts tolerated
	// before giving up. Zero retries forever.
	MaxRetries int

	// Jitter spreads each delay uniformly by +/- this fraction.
	Jitter float64

	// PingInterval enables keepalive pings; the read deadline is twice
	// the interval. Zero disables both.
	PingInterval time.Duration
}

// ConfigFrom builds a Config from the application settings.
func ConfigFrom(apiCfg model.APIConfig, rt model.RealtimeConfig) Config {
	return Config{
		URL:            apiCfg.SocketEndpoint(),
		InitialBackoff: time.Duration(rt.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(rt.MaxBackoffMs) * time.Millisecond,
		MaxRetries:     rt.MaxRetries,
		Jitter:         rt.Jitter,
		PingInterval:   25 * time.Second,
	}
}

// Option customizes a Conn.
type Option func(*Conn)

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Conn) { c.dialer = d }
}

// WithClock replaces the timer used for backoff waits.
func WithClock(after func(time.Duration) <-chan time.Time) Option {
	return func(c *Conn) { c.after = after }
}

// WithRand replaces the jitter source. fn returns values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(c *Conn) { c.rand = fn }
}

// Conn is one push connection for one session.
type Conn struct {
	cfg     Config
	session model.Session
	logger  *slog.Logger
	dialer  *websocket.Dialer
	after   func(time.Duration) <-chan time.Time
	rand    func() float64

	mu          sync.Mutex
	notes       NotificationSink
	tickets     TicketSink
	status      Status
	running     bool
	closed      bool
	cancel      context.CancelFunc
	done        chan struct{}
	subscribers []chan Status
}

// NewConn creates a connection that will deliver events to notes and
// tickets once started.
func NewConn(
	cfg Config,
	session model.Session,
	notes NotificationSink,
	tickets TicketSink,
	logger *slog.Logger,
	opts ...Option,
) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(cfg.InitialBackoff, 30*time.Second)
	}
	c := &Conn{
		cfg:     cfg,
		session: session,
		logger:  logger.With("component", "realtime", "user_id", session.UserID()),
		dialer:  websocket.DefaultDialer,
		after:   time.After,
		rand:    rand.Float64,
		notes:   notes,
		tickets: tickets,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins connecting in the background. It does nothing if the
// session lacks a token or user, or if the connection is already
// running or closed.
func (c *Conn) Start() {
	if !c.session.Active() {
		c.logger.Debug("no active session, push connection stays inert")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || c.closed {
		return
	}
	c.launch()
}

// Retry restarts a connection that has given up.
func (c *Conn) Retry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.running || c.status != StatusFailed {
		return
	}
	c.launch()
}

// launch starts the run loop. Callers hold c.mu.
func (c *Conn) launch() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	go c.run(ctx, c.done)
}

// Close tears the connection down and detaches the sinks. No events
// are delivered after Close returns. Safe to call multiple times.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.notes = nil
	c.tickets = nil
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.setStatus(StatusDisconnected)
}

// Status returns the current connection state.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Subscribe returns a channel that receives every status transition.
// Transitions are dropped for subscribers whose buffer is full.
func (c *Conn) Subscribe() <-chan Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Status, 16)
	c.subscribers = append(c.subscribers, ch)
	return ch
}

func (c *Conn) setStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transition(s)
}

// transition records s and notifies subscribers. Sends never block, so
// they happen under c.mu and subscribers see transitions in order.
// Callers hold c.mu.
func (c *Conn) transition(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	for _, sub := range c.subscribers {
		select {
		case sub <- s:
		default:
		}
	}
}

// run drives the state machine until ctx is cancelled or the retry
// budget runs out. A connection that drops before it delivered a frame
// or stayed up for InitialBackoff counts as a failed attempt.
func (c *Conn) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		if c.done == done {
			c.running = false
		}
		c.mu.Unlock()
	}()

	failures := 0
	for {
		c.setStatus(StatusConnecting)
		stable, err := c.serve(ctx)
		if ctx.Err() != nil {
			return
		}
		if stable {
			failures = 0
		}
		failures++

		if c.cfg.MaxRetries > 0 && failures > c.cfg.MaxRetries {
			c.logger.Error("push connection giving up",
				"attempts", failures,
				"error", err,
			)
			c.mu.Lock()
			c.running = false
			c.transition(StatusFailed)
			c.mu.Unlock()
			return
		}

		delay := c.backoff(failures)
		c.logger.Warn("push connection lost",
			"error", err,
			"attempt", failures,
			"backoff", delay,
		)
		c.setStatus(StatusBackoff)

		select {
		case <-ctx.Done():
			return
		case <-c.after(delay):
		}
	}
}

// serve dials once, joins the user's channel and reads frames until the
// connection ends. stable reports whether the session delivered a frame
// or lasted at least InitialBackoff.
func (c *Conn) serve(ctx context.Context) (stable bool, err error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.session.Token)

	ws, _, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return false, fmt.Errorf("dialing %s: %w", c.cfg.URL, err)
	}
	defer ws.Close()
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	join, err := Encode(EventJoin, JoinPayload{UserID: c.session.UserID()})
	if err != nil {
		return false, err
	}
	if err := ws.WriteMessage(websocket.TextMessage, join); err != nil {
		return false, fmt.Errorf("sending join: %w", err)
	}

	if c.cfg.PingInterval > 0 {
		wait := 2 * c.cfg.PingInterval
		_ = ws.SetReadDeadline(time.Now().Add(wait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wait))
		})
		go c.keepalive(ctx, ws)
	}

	c.setStatus(StatusConnected)
	c.logger.Info("push connection established", "url", c.cfg.URL)

	since := time.Now()
	received := false
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			stable := received || time.Since(since) >= c.cfg.InitialBackoff
			return stable, fmt.Errorf("reading frame: %w", err)
		}
		received = true
		c.handle(frame)
	}
}

// keepalive pings until the read loop exits and closes ws.
func (c *Conn) keepalive(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.PingInterval)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (c *Conn) handle(frame []byte) {
	c.mu.Lock()
	notes, tickets := c.notes, c.tickets
	c.mu.Unlock()
	if notes == nil && tickets == nil {
		return
	}

	event, err := dispatch(frame, notes, tickets)
	switch {
	case errors.Is(err, errUnknownEvent):
		c.logger.Debug("ignoring push event", "event", event)
	case err != nil:
		c.logger.Warn("malformed push event", "event", event, "error", err)
	}
}

// backoff returns the jittered delay before the given attempt (1-based).
func (c *Conn) backoff(attempt int) time.Duration {
	d := c.cfg.InitialBackoff
	for i := 1; i < attempt && d < c.cfg.MaxBackoff; i++ {
		d *= 2
	}
	d = min(d, c.cfg.MaxBackoff)
	if j := c.cfg.Jitter; j > 0 {
		d = time.Duration(float64(d) * (1 + j*(2*c.rand()-1)))
	}
	return d
}
