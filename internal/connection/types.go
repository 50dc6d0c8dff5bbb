package connection

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrClosedByServer  = errors.New("connection closed by server")
)

// TransportError is returned when dialing or reading the websocket fails.
type TransportError struct {
	Op  string // "dial" or "read"
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ClientConfig configures a websocket client.
type ClientConfig struct {
	URL              string        // Full channel URL including the session query
	PingInterval     time.Duration // How often to ping the server (0 = no heartbeat)
	ReadTimeout      time.Duration // Max time without any traffic before the connection is stale
	WriteTimeout     time.Duration // Deadline for control frames
	HandshakeTimeout time.Duration // Dial handshake deadline
	BufferSize       int           // Frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:     15 * time.Second,
		ReadTimeout:      45 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       256,
	}
}

// ReconnectConfig configures a Reconnecting channel.
type ReconnectConfig struct {
	WSURL     string        // Server websocket base URL, e.g. ws://localhost:8080
	BaseDelay time.Duration // First reconnect delay
	MaxDelay  time.Duration // Reconnect delay cap
	Client    ClientConfig  // Template for each connection; URL is filled per topic
}

// DefaultReconnectConfig returns sensible defaults.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		BaseDelay: DefaultBaseDelay,
		MaxDelay:  DefaultMaxDelay,
		Client:    DefaultClientConfig(),
	}
}

// State is the lifecycle state of a reconnecting channel.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a copy of a channel's current state.
type Status struct {
	State  State     `json:"state"`
	Reason string    `json:"reason,omitempty"` // Why the last connection closed
	Since  time.Time `json:"since"`
}

// Stats contains runtime statistics for one handle.
type Stats struct {
	Dials               int64
	Opens               int64
	ReconnectsScheduled int64
	EventsDelivered     int64
	ParseErrors         int64
	UnknownEvents       int64
	LastDelay           time.Duration
}
