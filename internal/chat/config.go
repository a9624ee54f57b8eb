package chat

import (
	"os"
	"strconv"
	"time"
)

const (
	defaultAddr              = ":12345"
	defaultMetricsAddr       = ":9090"
	defaultMinNicknameLength = 5
	defaultOutboxSize        = 64
	defaultRegistryBuffer    = 128
	defaultSendTimeout       = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

// Config holds the server settings.
type Config struct {
	// Addr is the TCP listen address of the chat protocol.
	Addr string
	// MetricsAddr serves Prometheus metrics. Empty disables the endpoint.
	MetricsAddr string
	// MinNicknameLength is the shortest nickname, in characters, the
	// registry accepts.
	MinNicknameLength int
	// OutboxSize bounds the lines queued per client.
	OutboxSize int
	// SendTimeout is how long a broadcast waits for room in a full client
	// queue before that client is disconnected as a slow consumer.
	SendTimeout time.Duration
	// DisconnectOnStop closes every open session when the server stops.
	// When false, sessions drain as their clients leave.
	DisconnectOnStop bool
	// ShutdownTimeout bounds how long Stop waits for sessions to drain.
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:              defaultAddr,
		MetricsAddr:       defaultMetricsAddr,
		MinNicknameLength: defaultMinNicknameLength,
		OutboxSize:        defaultOutboxSize,
		SendTimeout:       defaultSendTimeout,
		DisconnectOnStop:  true,
		ShutdownTimeout:   defaultShutdownTimeout,
	}
}

// Normalize replaces unusable values with defaults.
func (c Config) Normalize() Config {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.MinNicknameLength < 1 {
		c.MinNicknameLength = defaultMinNicknameLength
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = defaultOutboxSize
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return c
}

// ConfigFromEnv starts from DefaultConfig and applies CHAT_* environment
// variables. Malformed numeric values are ignored.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v, ok := os.LookupEnv("CHAT_ADDR"); ok && v != "" {
		cfg.Addr = v
	}
	if v, ok := os.LookupEnv("CHAT_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("CHAT_OUTBOX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.OutboxSize = n
		}
	}
	if v := os.Getenv("CHAT_SEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SendTimeout = d
		}
	}
	if v := os.Getenv("CHAT_DISCONNECT_ON_STOP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DisconnectOnStop = b
		}
	}
	if v := os.Getenv("CHAT_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ShutdownTimeout = d
		}
	}
	return cfg
}
