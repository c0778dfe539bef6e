// Package config defines the tunnel client's configuration, its
// defaults, and construction-time validation.
package config

import (
	"crypto/rand"
	"fmt"
	"log"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/tacticalchihuahua/diglet/pkg/identity"
)

// Logger is the opaque sink the tunnel writes its lifecycle and
// steady-state diagnostics to. *log.Logger satisfies it directly.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Transform maps one chunk of proxied bytes to another. The identity
// transform (the default) returns its input unchanged.
type Transform func([]byte) []byte

func identityTransform(b []byte) []byte { return b }

const (
	// DefaultMaxConnections is the default pool size.
	DefaultMaxConnections = 24
	// DefaultAutoReconnectInterval is the default heartbeat period.
	DefaultAutoReconnectInterval = 30 * time.Second
)

// fileConfig is the on-disk TOML shape loaded by LoadFile. It mirrors
// TunnelConfig but keeps wire-friendly field types (durations in
// milliseconds, raw key bytes as a file path) separate from the
// in-memory TunnelConfig an embedder builds programmatically.
type fileConfig struct {
	LocalAddress            string `toml:"local_address"`
	LocalPort               int    `toml:"local_port"`
	RemoteAddress           string `toml:"remote_address"`
	RemotePort              int    `toml:"remote_port"`
	MaxConnections          int    `toml:"max_connections,omitempty"`
	PrivateKeyPath          string `toml:"private_key,omitempty"`
	SecureLocalConnection   bool   `toml:"secure_local_connection,omitempty"`
	AutoReconnect           *bool  `toml:"auto_reconnect,omitempty"`
	AutoReconnectIntervalMs int64  `toml:"auto_reconnect_interval_ms,omitempty"`
}

// TunnelConfig is the immutable (after New) configuration for one
// tunnel. Construct it with New, which applies defaults and validates
// every field.
type TunnelConfig struct {
	LocalAddress          string
	LocalPort             int
	RemoteAddress         string
	RemotePort            int
	MaxConnections        int
	PrivateKey            []byte
	SecureLocalConnection bool
	AutoReconnect         bool
	AutoReconnectInterval time.Duration
	Transform             Transform
	Logger                Logger

	// identity is derived once from PrivateKey at construction time.
	identity *identity.Identity
}

// ConfigError reports a construction-time validation failure.
// Fatal: no tunnel is created.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Option mutates a TunnelConfig during construction, applied after
// defaults and before validation.
type Option func(*TunnelConfig)

// WithMaxConnections overrides the default pool size.
func WithMaxConnections(n int) Option {
	return func(c *TunnelConfig) { c.MaxConnections = n }
}

// WithSecureLocalConnection dials the local service over TLS instead
// of plain TCP.
func WithSecureLocalConnection(secure bool) Option {
	return func(c *TunnelConfig) { c.SecureLocalConnection = secure }
}

// WithAutoReconnect toggles the error-driven reconnect policy. The
// periodic heartbeat refresh of the pool is not affected by it.
func WithAutoReconnect(enabled bool) Option {
	return func(c *TunnelConfig) { c.AutoReconnect = enabled }
}

// WithAutoReconnectInterval overrides the heartbeat period.
func WithAutoReconnectInterval(d time.Duration) Option {
	return func(c *TunnelConfig) { c.AutoReconnectInterval = d }
}

// WithTransform installs a user-supplied byte-stream mapper applied on
// the remote-to-local leg of every bridge, after the Host-header
// rewrite.
func WithTransform(t Transform) Option {
	return func(c *TunnelConfig) { c.Transform = t }
}

// WithLogger installs the diagnostic sink. Defaults to the standard
// logger if never set.
func WithLogger(l Logger) Option {
	return func(c *TunnelConfig) { c.Logger = l }
}

// WithPrivateKey sets a fixed 32-byte private key instead of a random
// one, so the tunnel's identity is stable across restarts.
func WithPrivateKey(key []byte) Option {
	return func(c *TunnelConfig) { c.PrivateKey = key }
}

// New builds a TunnelConfig for localAddress:localPort exposed through
// remoteAddress:remotePort, applying defaults and then opts, and
// validates the result.
func New(localAddress string, localPort int, remoteAddress string, remotePort int, opts ...Option) (*TunnelConfig, error) {
	c := &TunnelConfig{
		LocalAddress:          localAddress,
		LocalPort:             localPort,
		RemoteAddress:         remoteAddress,
		RemotePort:            remotePort,
		MaxConnections:        DefaultMaxConnections,
		SecureLocalConnection: false,
		AutoReconnect:         true,
		AutoReconnectInterval: DefaultAutoReconnectInterval,
		Transform:             identityTransform,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.PrivateKey == nil {
		key := make([]byte, identity.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, &ConfigError{Field: "privateKey", Err: fmt.Errorf("generating random key: %w", err)}
		}
		c.PrivateKey = key
	}

	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Transform == nil {
		c.Transform = identityTransform
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	id, err := identity.New(c.PrivateKey)
	if err != nil {
		return nil, &ConfigError{Field: "privateKey", Err: err}
	}
	c.identity = id

	return c, nil
}

func (c *TunnelConfig) validate() error {
	if c.LocalAddress == "" {
		return &ConfigError{Field: "localAddress", Err: fmt.Errorf("must not be empty")}
	}
	if c.LocalPort < 1 || c.LocalPort > 65535 {
		return &ConfigError{Field: "localPort", Err: fmt.Errorf("must be in 1..65535, got %d", c.LocalPort)}
	}
	if c.RemoteAddress == "" {
		return &ConfigError{Field: "remoteAddress", Err: fmt.Errorf("must not be empty")}
	}
	if c.RemotePort < 1 || c.RemotePort > 65535 {
		return &ConfigError{Field: "remotePort", Err: fmt.Errorf("must be in 1..65535, got %d", c.RemotePort)}
	}
	if c.MaxConnections < 1 {
		return &ConfigError{Field: "maxConnections", Err: fmt.Errorf("must be >= 1, got %d", c.MaxConnections)}
	}
	if len(c.PrivateKey) != identity.KeySize {
		return &ConfigError{Field: "privateKey", Err: fmt.Errorf("must be %d bytes, got %d", identity.KeySize, len(c.PrivateKey))}
	}
	return nil
}

// Identity returns the TunnelIdentity derived from this config's
// private key.
func (c *TunnelConfig) Identity() *identity.Identity {
	return c.identity
}

// LoadFile reads a TOML tunnel configuration from path and turns it
// into a validated TunnelConfig.
func LoadFile(path string, privateKeyLoader func(path string) ([]byte, error)) (*TunnelConfig, error) {
	data, err := tomlDecodeFile(path)
	if err != nil {
		return nil, &ConfigError{Field: "file", Err: err}
	}

	opts := []Option{
		WithMaxConnections(orDefault(data.MaxConnections, DefaultMaxConnections)),
		WithSecureLocalConnection(data.SecureLocalConnection),
	}
	if data.AutoReconnect != nil {
		opts = append(opts, WithAutoReconnect(*data.AutoReconnect))
	}
	if data.AutoReconnectIntervalMs > 0 {
		opts = append(opts, WithAutoReconnectInterval(time.Duration(data.AutoReconnectIntervalMs)*time.Millisecond))
	}
	if data.PrivateKeyPath != "" {
		if privateKeyLoader == nil {
			return nil, &ConfigError{Field: "private_key", Err: fmt.Errorf("private_key path set but no loader supplied")}
		}
		key, err := privateKeyLoader(data.PrivateKeyPath)
		if err != nil {
			return nil, &ConfigError{Field: "private_key", Err: err}
		}
		opts = append(opts, WithPrivateKey(key))
	}

	return New(data.LocalAddress, data.LocalPort, data.RemoteAddress, data.RemotePort, opts...)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func tomlDecodeFile(path string) (*fileConfig, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	var fc fileConfig
	if err := tree.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &fc, nil
}
