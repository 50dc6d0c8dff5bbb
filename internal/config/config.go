package config

import "time"

// MonitorConfig is the root configuration for a session monitor.
type MonitorConfig struct {
	API          APIConfig          `yaml:"api"`
	Channel      ChannelConfig      `yaml:"channel"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Recorder     RecorderConfig     `yaml:"recorder"`
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
}

// APIConfig holds session server endpoints.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"` // Derived from rest_url when empty
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"` // Mutation calls only; hydration never retries
}

// ChannelConfig holds push channel settings.
type ChannelConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// SubscriptionConfig holds controller settings.
type SubscriptionConfig struct {
	ResyncInterval time.Duration `yaml:"resync_interval"` // 0 disables periodic re-hydration
}

// RecorderConfig holds the optional observation recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ServerConfig holds the local view server settings.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
