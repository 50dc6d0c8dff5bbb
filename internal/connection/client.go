package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/session-monitor/internal/router"
)

// Client represents a single websocket connection to the session server.
type Client interface {
	// Connect establishes the websocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Frames returns a channel of raw frames in the order they were read.
	// It is closed when the connection terminates.
	Frames() <-chan router.Frame

	// Err returns why the connection terminated, or nil if it is still
	// running or was closed locally.
	Err() error

	// IsConnected returns current connection state.
	IsConnected() bool

	// ID returns a unique identifier for this connection, used in logs.
	ID() string
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger
	id     string

	conn *websocket.Conn

	frames   chan router.Frame
	done     chan struct{}
	readDone chan struct{}

	// Serializes control frame writes
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	connected  bool
	lastSeenAt time.Time
	closed     bool
	err        error
}

// NewClient creates a new websocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 0 {
		cfg.BufferSize = 0
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	id := uuid.NewString()
	return &client{
		cfg:    cfg,
		logger: logger.With("conn_id", id),
		id:     id,
		frames:   make(chan router.Frame, cfg.BufferSize),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

// Connect establishes the websocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrAlreadyClosed
	}

	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("handshake status %d: %w", resp.StatusCode, err)
		}
		return &TransportError{Op: "dial", URL: c.cfg.URL, Err: err}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.lastSeenAt = time.Now()
	c.mu.Unlock()

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch()

		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	// Server responds to our ping
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	if c.cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn == nil {
		// readLoop never started; it would otherwise own the channel.
		close(c.frames)
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return conn.Close()
}

// Frames returns the frames channel.
func (c *client) Frames() <-chan router.Frame {
	return c.frames
}

// Err returns the terminal error, if any.
func (c *client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// ID returns the connection id.
func (c *client) ID() string {
	return c.id
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastSeenAt = time.Now()
	c.mu.Unlock()
}

// fail records the first terminal error.
func (c *client) fail(err error) {
	c.mu.Lock()
	if c.err == nil && !c.closed {
		c.err = err
	}
	c.connected = false
	c.mu.Unlock()
}

// readLoop reads frames from the websocket and sends them to the frames channel.
func (c *client) readLoop() {
	defer close(c.readDone)
	defer close(c.frames)
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
				return
			default:
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.fail(ErrClosedByServer)
			} else {
				c.fail(&TransportError{Op: "read", URL: c.cfg.URL, Err: err})
			}
			c.logger.Debug("read loop ended", "error", err)
			return
		}

		c.touch()

		select {
		case c.frames <- router.Frame{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop pings the server and closes the connection when it goes quiet.
func (c *client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.readDone:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			if c.cfg.ReadTimeout <= 0 {
				continue
			}

			c.mu.RLock()
			lastSeen := c.lastSeenAt
			c.mu.RUnlock()

			if time.Since(lastSeen) > c.cfg.ReadTimeout {
				c.logger.Warn("no traffic received, connection stale",
					"last_seen", lastSeen,
					"timeout", c.cfg.ReadTimeout,
				)
				c.fail(ErrStaleConnection)
				// Unblocks readLoop, which then closes the frames channel.
				c.conn.Close()
				return
			}
		}
	}
}
