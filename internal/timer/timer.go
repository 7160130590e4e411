// Package timer tracks the remaining time of a lab session over a dedicated
// WebSocket. The server owns the countdown and its formatting; the client
// displays whatever it is sent and raises a one-shot expiry signal.
package timer

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Sentinel messages sent by the timer endpoint.
const (
	msgTimeUp      = "TIME_UP"
	msgSetupFailed = "SETUP_FAILED"
)

// Fixed display strings. These are user-facing copy, not states: any other
// inbound message is displayed verbatim as a preformatted countdown.
const (
	DisplayWaiting     = "Waiting..."
	DisplayInvalidID   = "Invalid ID"
	DisplayTimeUp      = "00:00"
	DisplaySetupFailed = "Setup Failed"
	DisplayError       = "Error"
	DisplayOffline     = "Offline"
)

// ErrInvalidSession is returned by Start when the session id is not positive.
var ErrInvalidSession = errors.New("timer: invalid lab session id")

// Options configures a timer Client.
type Options struct {
	SessionID int
	WSBaseURL string

	Dialer *websocket.Dialer
	Logger *slog.Logger

	// OnDisplay is invoked with every display change. Optional.
	OnDisplay func(string)
}

// Client is the session countdown client. Unlike the terminal client it
// never reconnects: a closed timer socket is terminal for this instance and
// the consumer must create a new one to retry.
type Client struct {
	sessionID int
	endpoint  string
	dialer    *websocket.Dialer
	logger    *slog.Logger
	onDisplay func(string)

	mu       sync.Mutex
	display  string
	conn     *websocket.Conn
	finished bool // a sentinel ended the countdown; later close events are ignored
	closed   bool

	expired   chan struct{}
	expireOne sync.Once
}

// New creates a timer client. Nothing connects until Start.
func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Client{
		sessionID: opts.SessionID,
		endpoint:  fmt.Sprintf("%s/ws/lab-timer/%d", strings.TrimRight(opts.WSBaseURL, "/"), opts.SessionID),
		dialer:    opts.Dialer,
		logger:    opts.Logger,
		onDisplay: opts.OnDisplay,
		display:   DisplayWaiting,
		expired:   make(chan struct{}),
	}
	if c.sessionID <= 0 {
		c.display = DisplayInvalidID
	}
	return c
}

// Start opens the timer socket. It returns ErrInvalidSession (and never
// dials) when the session id is not positive. A dial failure is reported as
// an error and leaves the display in the error state.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("timer: client closed")
	}
	if c.sessionID <= 0 {
		c.mu.Unlock()
		return ErrInvalidSession
	}
	c.setDisplayLocked(DisplayWaiting)
	c.mu.Unlock()

	conn, resp, err := c.dialer.Dial(c.endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		c.setDisplayLocked(DisplayError)
		c.mu.Unlock()
		return fmt.Errorf("dial timer socket: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return errors.New("timer: client closed")
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Display returns the current display string.
func (c *Client) Display() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.display
}

// Expired is closed exactly once, when the server reports TIME_UP.
func (c *Client) Expired() <-chan struct{} {
	return c.expired
}

// IsTimeUp reports whether the session has expired.
func (c *Client) IsTimeUp() bool {
	select {
	case <-c.expired:
		return true
	default:
		return false
	}
}

// Close releases the socket. The display is left as-is.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(err)
			return
		}
		if c.handleMessage(string(data)) {
			return
		}
	}
}

// handleMessage processes one inbound message and reports whether the
// countdown reached a terminal state.
func (c *Client) handleMessage(message string) bool {
	c.mu.Lock()

	switch message {
	case msgTimeUp:
		c.setDisplayLocked(DisplayTimeUp)
		c.finished = true
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		c.expireOne.Do(func() { close(c.expired) })
		if conn != nil {
			_ = conn.Close()
		}
		return true

	case msgSetupFailed:
		c.setDisplayLocked(DisplaySetupFailed)
		c.finished = true
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}
		return true

	default:
		// An opaque preformatted countdown string; the server owns the
		// formatting and the client does no parsing or arithmetic.
		c.setDisplayLocked(message)
		c.mu.Unlock()
		return false
	}
}

// handleClosed maps an unexpected socket end to the offline/error displays.
func (c *Client) handleClosed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished || c.closed {
		return
	}
	c.conn = nil

	if isAbnormal(err) {
		c.logger.Warn("timer socket error", "session", c.sessionID, "error", err)
		c.setDisplayLocked(DisplayError)
	}
	if c.display != DisplayTimeUp && c.display != DisplayError {
		c.setDisplayLocked(DisplayOffline)
	}
}

func (c *Client) setDisplayLocked(display string) {
	if c.display == display {
		return
	}
	c.display = display
	if c.onDisplay != nil {
		c.onDisplay(display)
	}
}

// isAbnormal distinguishes transport errors from an orderly close.
func isAbnormal(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return false
	}
	var closeErr *websocket.CloseError
	return !errors.As(err, &closeErr)
}
