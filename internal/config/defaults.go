package config

import (
	"strings"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultRestURL            = "http://127.0.0.1:8080"
	DefaultAPITimeout         = 5 * time.Second
	DefaultReconnectBaseDelay = 500 * time.Millisecond
	DefaultReconnectMaxDelay  = 8 * time.Second
	DefaultPingInterval       = 15 * time.Second
	DefaultReadTimeout        = 45 * time.Second
	DefaultBufferSize         = 256
	DefaultRecorderBatchSize  = 100
	DefaultFlushInterval      = 1 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultServerPort         = 7070
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *MonitorConfig) ApplyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	c.API.RestURL = strings.TrimRight(c.API.RestURL, "/")
	if c.API.WSURL == "" {
		c.API.WSURL = DeriveWSURL(c.API.RestURL)
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}

	// Channel defaults
	if c.Channel.ReconnectBaseDelay == 0 {
		c.Channel.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Channel.ReconnectMaxDelay == 0 {
		c.Channel.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Channel.PingInterval == 0 {
		c.Channel.PingInterval = DefaultPingInterval
	}
	if c.Channel.ReadTimeout == 0 {
		c.Channel.ReadTimeout = DefaultReadTimeout
	}
	if c.Channel.BufferSize == 0 {
		c.Channel.BufferSize = DefaultBufferSize
	}

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultRecorderBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	applyDBDefaults(&c.Recorder.Database)

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

// DeriveWSURL maps an http(s) base URL to its ws(s) counterpart.
func DeriveWSURL(restURL string) string {
	switch {
	case strings.HasPrefix(restURL, "https://"):
		return "wss://" + strings.TrimPrefix(restURL, "https://")
	case strings.HasPrefix(restURL, "http://"):
		return "ws://" + strings.TrimPrefix(restURL, "http://")
	default:
		return restURL
	}
}
