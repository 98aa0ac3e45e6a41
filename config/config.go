// Package config loads the YAML configuration shared by the gateway and the backend daemon.
//
//	log_level: info
//	gateway:
//	  http_addr: ":4000"
//	  graph_path: /graphql
//	  playground: true
//	backends:
//	  products: {addr: "localhost:50051", codec: json, call_timeout: 5s}
//	  users:    {addr: "localhost:50052"}
//	etcd:
//	  endpoints: ["localhost:2379"]
//
// Environment variables (POLYGATE_*) override file values; see ApplyEnv.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"polygate/codec"
	"polygate/resource"
	"polygate/transport"
)

type Config struct {
	LogLevel string         `yaml:"log_level,omitempty"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Backends BackendsConfig `yaml:"backends"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Etcd     EtcdConfig     `yaml:"etcd"`
}

// GatewayConfig configures the public surfaces.
type GatewayConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GraphPath       string        `yaml:"graph_path"`
	Playground      bool          `yaml:"playground"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes,omitempty"`
	MetricsPath     string        `yaml:"metrics_path,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// BackendConfig is the fixed address of one backend and how to talk to it.
type BackendConfig struct {
	Addr        string        `yaml:"addr"`
	Codec       string        `yaml:"codec,omitempty"`
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"`
	CallTimeout time.Duration `yaml:"call_timeout,omitempty"`
	Heartbeat   time.Duration `yaml:"heartbeat,omitempty"`
}

type BackendsConfig struct {
	Products BackendConfig `yaml:"products"`
	Users    BackendConfig `yaml:"users"`
}

// For returns the backend configuration of kind.
func (b *BackendsConfig) For(kind resource.Kind) *BackendConfig {
	if kind == resource.KindUser {
		return &b.Users
	}
	return &b.Products
}

// CatalogConfig configures the backend daemon.
type CatalogConfig struct {
	Store       string  `yaml:"store,omitempty"`
	PostgresURL string  `yaml:"postgres_url,omitempty"`
	RateLimit   float64 `yaml:"rate_limit,omitempty"`
	RateBurst   int     `yaml:"rate_burst,omitempty"`

	// RequestTimeout caps each backend request; zero leaves only the caller's deadline.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
}

// EtcdConfig enables backend registration when Endpoints is non-empty.
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints,omitempty"`
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"`
}

// Default addresses of the two backends.
const (
	DefaultProductsAddr = "localhost:50051"
	DefaultUsersAddr    = "localhost:50052"
)

// Load reads path (if non-empty), applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides file values from the environment:
// POLYGATE_LOG_LEVEL, POLYGATE_HTTP_ADDR, POLYGATE_PLAYGROUND, POLYGATE_PRODUCTS_ADDR,
// POLYGATE_USERS_ADDR, POLYGATE_CALL_TIMEOUT, POLYGATE_POSTGRES_URL and
// POLYGATE_ETCD_ENDPOINTS (comma separated).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("POLYGATE_LOG_LEVEL", &c.LogLevel)
	str("POLYGATE_HTTP_ADDR", &c.Gateway.HTTPAddr)
	str("POLYGATE_PRODUCTS_ADDR", &c.Backends.Products.Addr)
	str("POLYGATE_USERS_ADDR", &c.Backends.Users.Addr)
	str("POLYGATE_POSTGRES_URL", &c.Catalog.PostgresURL)

	if v, ok := lookup("POLYGATE_PLAYGROUND"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("POLYGATE_PLAYGROUND: %w", err)
		}
		c.Gateway.Playground = b
	}
	if v, ok := lookup("POLYGATE_CALL_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("POLYGATE_CALL_TIMEOUT: %w", err)
		}
		c.Backends.Products.CallTimeout = d
		c.Backends.Users.CallTimeout = d
	}
	if v, ok := lookup("POLYGATE_ETCD_ENDPOINTS"); ok && v != "" {
		c.Etcd.Endpoints = strings.Split(v, ",")
	}
	return nil
}

// Validate fills in defaults and rejects inconsistent values.
func (c *Config) Validate() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	g := &c.Gateway
	if g.HTTPAddr == "" {
		g.HTTPAddr = ":4000"
	}
	if g.GraphPath == "" {
		g.GraphPath = "/graphql"
	}
	if !strings.HasPrefix(g.GraphPath, "/") {
		return errors.New("gateway.graph_path must start with /")
	}
	if g.MetricsPath == "" {
		g.MetricsPath = "/metrics"
	}
	if g.MaxBodyBytes == 0 {
		g.MaxBodyBytes = 1 << 20
	}
	if g.MaxBodyBytes < 0 {
		return errors.New("gateway.max_body_bytes must be positive")
	}
	if g.ShutdownTimeout == 0 {
		g.ShutdownTimeout = 10 * time.Second
	}

	if err := c.Backends.Products.validate("products", DefaultProductsAddr); err != nil {
		return err
	}
	if err := c.Backends.Users.validate("users", DefaultUsersAddr); err != nil {
		return err
	}

	switch c.Catalog.Store {
	case "":
		c.Catalog.Store = "memory"
	case "memory":
	case "postgres":
		if c.Catalog.PostgresURL == "" {
			return errors.New("catalog.postgres_url is required for the postgres store")
		}
	default:
		return fmt.Errorf("catalog.store: unknown store %q", c.Catalog.Store)
	}
	if c.Catalog.RateLimit < 0 {
		return errors.New("catalog.rate_limit must not be negative")
	}
	if c.Catalog.RateLimit > 0 && c.Catalog.RateBurst <= 0 {
		c.Catalog.RateBurst = int(c.Catalog.RateLimit) + 1
	}
	if c.Catalog.RequestTimeout < 0 {
		return errors.New("catalog.request_timeout must not be negative")
	}

	if c.Etcd.DialTimeout == 0 {
		c.Etcd.DialTimeout = 5 * time.Second
	}
	return nil
}

func (b *BackendConfig) validate(name, defaultAddr string) error {
	if b.Addr == "" {
		b.Addr = defaultAddr
	}
	if _, err := codec.ParseCodecType(b.Codec); err != nil {
		return fmt.Errorf("backends.%s.codec: %w", name, err)
	}
	if b.Codec == "" {
		b.Codec = "json"
	}
	if b.DialTimeout == 0 {
		b.DialTimeout = 5 * time.Second
	}
	if b.CallTimeout == 0 {
		b.CallTimeout = 10 * time.Second
	}
	if b.Heartbeat == 0 {
		b.Heartbeat = transport.DefaultHeartbeatInterval
	}
	if b.CallTimeout < 0 || b.DialTimeout < 0 || b.Heartbeat < 0 {
		return fmt.Errorf("backends.%s: timeouts must not be negative", name)
	}
	return nil
}

// CodecType returns the parsed codec. Validate has already checked the name.
func (b *BackendConfig) CodecType() codec.CodecType {
	ct, _ := codec.ParseCodecType(b.Codec)
	return ct
}

// Level returns the parsed log level.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
