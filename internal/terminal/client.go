package terminal

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection state of the terminal session client.
// Exactly one state holds at a time.
type State int

const (
	// StateInvalid means the session id was absent or not positive;
	// no connection is ever attempted.
	StateInvalid State = iota
	StateConnecting
	StateConnected
	// StateWaiting means the socket is open but the remote environment is
	// still provisioning.
	StateWaiting
	// StateFailed is terminal: the retry budget is spent or the server
	// reported an unrecoverable setup failure.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateWaiting:
		return "waiting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// setupFailedMarker in a close reason means the lab never came up and
// reconnecting is pointless.
const setupFailedMarker = "Lab setup failed"

const connectingBanner = "Connecting to your lab environment...\r\n"

// ErrInvalidSession is returned by Start when the session id is not positive.
var ErrInvalidSession = errors.New("terminal: invalid lab session id")

// Options configures a terminal session Client.
type Options struct {
	SessionID  int
	WSBaseURL  string // e.g. "ws://localhost:8080"
	NewSurface func() Surface
	Keys       KeySource

	// Resize, when non-nil, triggers a surface refit per received value.
	Resize <-chan struct{}

	// MaxAttempts is the automatic-reconnect cap (default 3).
	MaxAttempts int
	// BaseDelay and MaxDelay bound the exponential backoff
	// (defaults 1s and 10s).
	BaseDelay time.Duration
	MaxDelay  time.Duration

	Dialer *websocket.Dialer
	Logger *slog.Logger

	// OnState is invoked on every state transition. Optional.
	OnState func(State)
	// OnReady is invoked when readiness changes. Optional.
	OnReady func(bool)
}

// Client connects a Surface to the remote shell of one lab session.
// All methods are safe for concurrent use.
type Client struct {
	sessionID   int
	endpoint    string
	newSurface  func() Surface
	keys        KeySource
	resize      <-chan struct{}
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	dialer      *websocket.Dialer
	logger      *slog.Logger
	onState     func(State)
	onReady     func(bool)

	// afterFunc schedules reconnects; swapped out in tests.
	afterFunc func(time.Duration, func()) *time.Timer

	mu         sync.Mutex
	writeMu    sync.Mutex // gorilla allows one concurrent writer
	state      State
	ready      bool
	attempts   int
	conn       *websocket.Conn
	surface    Surface
	cancelKeys func()
	retryTimer *time.Timer
	started    bool
	closed     bool
	done       chan struct{}
}

// New creates a terminal session client. Nothing connects until Start.
func New(opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{
		sessionID:   opts.SessionID,
		endpoint:    fmt.Sprintf("%s/api/terminal/%d", strings.TrimRight(opts.WSBaseURL, "/"), opts.SessionID),
		newSurface:  opts.NewSurface,
		keys:        opts.Keys,
		resize:      opts.Resize,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
		dialer:      opts.Dialer,
		logger:      opts.Logger,
		onState:     opts.OnState,
		onReady:     opts.OnReady,
		afterFunc:   time.AfterFunc,
		state:       StateConnecting,
		done:        make(chan struct{}),
	}
	if c.sessionID <= 0 {
		c.state = StateInvalid
	}
	return c
}

// Start subscribes to keystrokes and begins the connect sequence. It returns
// ErrInvalidSession without side effects when the session id is not positive.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("terminal: client closed")
	}
	if c.state == StateInvalid {
		c.mu.Unlock()
		return ErrInvalidSession
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("terminal: already started")
	}
	c.started = true
	c.mu.Unlock()

	if c.keys != nil {
		cancel, err := c.keys.Subscribe(c.handleKey)
		if err != nil {
			return fmt.Errorf("subscribe keystrokes: %w", err)
		}
		c.mu.Lock()
		c.cancelKeys = cancel
		c.mu.Unlock()
	}

	if c.resize != nil {
		go c.watchResize()
	}

	go c.connect()
	return nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether the remote shell has been detected as interactive.
// Front-ends hide the status overlay once this is true.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Close tears the client down: keystroke subscription, socket, surface,
// resize watcher and any pending reconnect timer. Safe to call more than
// once and on every exit path, including mid-connect.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	surface := c.surface
	c.surface = nil
	cancel := c.cancelKeys
	c.cancelKeys = nil
	close(c.done)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if surface != nil {
		_ = surface.Close()
	}
}

// connect runs one full connect sequence: fresh surface, banner, dial,
// newline nudge, then the read loop.
func (c *Client) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.surface != nil {
		_ = c.surface.Close()
	}
	c.surface = c.newSurface()
	surface := c.surface
	c.setStateLocked(StateConnecting)
	c.setReadyLocked(false)
	c.mu.Unlock()

	_, _ = surface.Write([]byte(connectingBanner))

	conn, resp, err := c.dialer.Dial(c.endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.logger.Warn("terminal dial failed", "session", c.sessionID, "error", err)
		c.handleDisconnect(nil, "")
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.attempts = 0
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	// A single newline prompts the remote shell to print its prompt.
	c.send(conn, []byte("\n"))

	c.readLoop(conn, surface)
}

// readLoop renders inbound messages verbatim and sniffs them for readiness
// markers until the socket closes.
func (c *Client) readLoop(conn *websocket.Conn, surface Surface) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, closeReason(err))
			return
		}
		c.handleMessage(surface, data)
	}
}

func (c *Client) handleMessage(surface Surface, data []byte) {
	if frame, ok := parseControlFrame(data); ok {
		switch frame.Type {
		case "ready":
			c.markReady()
		case "provisioning":
			c.markWaiting()
		case "data":
			_, _ = surface.Write([]byte(frame.Payload))
		}
		return
	}

	// Raw passthrough: the channel carries shell bytes with no framing.
	_, _ = surface.Write(data)

	switch Classify(string(data)) {
	case VerdictReady:
		c.markReady()
	case VerdictProvisioning:
		c.markWaiting()
	}
}

// handleKey forwards one keystroke while the socket is open. Keystrokes
// arriving while it is not are dropped, never queued.
func (c *Client) handleKey(data []byte) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.send(conn, data)
}

func (c *Client) send(conn *websocket.Conn, data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("terminal write failed", "session", c.sessionID, "error", err)
	}
}

// handleDisconnect decides between permanent failure and a scheduled
// reconnect. conn is nil when the dial itself failed.
func (c *Client) handleDisconnect(conn *websocket.Conn, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if conn != nil && c.conn != conn {
		// A stale read loop from a superseded connection.
		return
	}
	c.conn = nil
	c.setReadyLocked(false)

	if strings.Contains(reason, setupFailedMarker) || c.attempts >= c.maxAttempts {
		c.logger.Warn("terminal connection failed permanently",
			"session", c.sessionID, "attempts", c.attempts, "reason", reason)
		c.setStateLocked(StateFailed)
		return
	}

	delay := c.backoffDelay(c.attempts)
	c.attempts++
	c.setStateLocked(StateConnecting)
	c.logger.Info("terminal reconnecting",
		"session", c.sessionID, "attempt", c.attempts, "delay", delay)

	if c.surface != nil {
		c.surface.Clear()
	}
	c.retryTimer = c.afterFunc(delay, c.connect)
}

// backoffDelay is min(base * 2^attempts, max).
func (c *Client) backoffDelay(attempts int) time.Duration {
	delay := c.baseDelay << uint(attempts)
	if delay > c.maxDelay || delay <= 0 {
		delay = c.maxDelay
	}
	return delay
}

func (c *Client) markReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return
	}
	c.setStateLocked(StateConnected)
	c.setReadyLocked(true)
}

func (c *Client) markWaiting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return
	}
	c.setStateLocked(StateWaiting)
	c.setReadyLocked(false)
}

// setStateLocked requires c.mu held. Callbacks run on the calling goroutine;
// they must not call back into the client.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Client) setReadyLocked(ready bool) {
	if c.ready == ready {
		return
	}
	c.ready = ready
	if c.onReady != nil {
		c.onReady(ready)
	}
}

func (c *Client) watchResize() {
	for {
		select {
		case <-c.done:
			return
		case _, ok := <-c.resize:
			if !ok {
				return
			}
			c.mu.Lock()
			surface := c.surface
			c.mu.Unlock()
			if surface != nil {
				surface.Fit()
			}
		}
	}
}

// closeReason extracts the close-frame text when the peer sent one.
func closeReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Text
	}
	return ""
}
