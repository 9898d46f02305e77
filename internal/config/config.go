// Package config loads the TOML configuration of logrelay.
//
//	[transport]
//	kind = "http"                      # http | grpc | pebble
//	url = "http://localhost:7123"
//
//	[relay]
//	source = "coinbase-btc-usd"
//	sink = "matches"
//	follow = true
//
//	[processor]
//	filter_field = "type"
//	filter_value = "match"
//	fields = ["time", "price"]
//
//	[metrics]
//	address = ":9100"
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/rmacdonaldsmith/logrelay/internal/processor"
	"github.com/rmacdonaldsmith/logrelay/internal/relay"
)

// Transport kinds
const (
	TransportHTTP   = "http"
	TransportGRPC   = "grpc"
	TransportPebble = "pebble"
)

var (
	// ErrUnknownTransport is returned for an unsupported transport kind
	ErrUnknownTransport = errors.New("unknown transport kind")
	// ErrConflictingFilters is returned when both a field filter and a CEL expression are set
	ErrConflictingFilters = errors.New("filter_field and filter_expr are mutually exclusive")
)

// Duration is a time.Duration written as a string such as "1.5s" in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete configuration file
type Config struct {
	Transport TransportConfig `toml:"transport"`
	Relay     RelayConfig     `toml:"relay"`
	Processor ProcessorConfig `toml:"processor"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
}

// TransportConfig selects and configures the transport session
type TransportConfig struct {
	Kind string `toml:"kind"`

	// http
	URL       string   `toml:"url"`
	ClientID  string   `toml:"client_id"`
	SecretKey string   `toml:"secret_key"`
	Timeout   Duration `toml:"timeout"`

	// grpc
	Target string `toml:"target"`

	// pebble
	DataDir string `toml:"data_dir"`
}

// RelayConfig configures the relay loop
type RelayConfig struct {
	Source           string   `toml:"source"`
	Sink             string   `toml:"sink"`
	DefaultOffset    int64    `toml:"default_offset"`
	PositionField    string   `toml:"position_field"`
	Follow           *bool    `toml:"follow"`
	FailurePolicy    string   `toml:"failure_policy"`
	MaxAppendRetries int      `toml:"max_append_retries"`
	RetryBackoff     Duration `toml:"retry_backoff"`
	MaxRetryBackoff  Duration `toml:"max_retry_backoff"`
	AppendTimeout    Duration `toml:"append_timeout"`
}

// ProcessorConfig describes the record pipeline
type ProcessorConfig struct {
	// FilterField and FilterValue keep records whose field equals the value
	FilterField string `toml:"filter_field"`
	FilterValue string `toml:"filter_value"`

	// FilterExpr is a CEL expression over json, offset, size and text
	FilterExpr string `toml:"filter_expr"`

	// Fields selects the fields copied to the sink; empty copies all of them
	Fields []string `toml:"fields"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Address serves /metrics when set, e.g. ":9100"
	Address string `toml:"address"`
}

// ServerConfig configures the development log server
type ServerConfig struct {
	Store       string `toml:"store"`
	DataDir     string `toml:"data_dir"`
	HTTPAddress string `toml:"http_address"`
	GRPCAddress string `toml:"grpc_address"`
	SecretKey   string `toml:"secret_key"`
	Sync        bool   `toml:"sync"`
}

// LogConfig configures the structured logger
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Load reads a configuration file and applies defaults
func Load(path string) (*Config, error) {
	c := &Config{}
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %q in %s", undecoded[0].String(), path)
	}

	c.SetDefaults()
	return c, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportHTTP
	}
	if c.Transport.URL == "" {
		c.Transport.URL = "http://localhost:7123"
	}
	if c.Transport.Target == "" {
		c.Transport.Target = "localhost:7124"
	}
	if c.Transport.Timeout.Duration == 0 {
		c.Transport.Timeout.Duration = 30 * time.Second
	}

	if c.Relay.PositionField == "" {
		c.Relay.PositionField = processor.DefaultPositionField
	}
	if c.Relay.Follow == nil {
		follow := true
		c.Relay.Follow = &follow
	}
	if c.Relay.FailurePolicy == "" {
		c.Relay.FailurePolicy = string(relay.AdvanceOnFailure)
	}

	if c.Server.Store == "" {
		c.Server.Store = "memory"
	}
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":7123"
	}
	if c.Server.GRPCAddress == "" {
		c.Server.GRPCAddress = ":7124"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the parts of the configuration every command relies on
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportHTTP:
		if c.Transport.URL == "" {
			return errors.New("transport.url cannot be empty")
		}
	case TransportGRPC:
		if c.Transport.Target == "" {
			return errors.New("transport.target cannot be empty")
		}
	case TransportPebble:
		if c.Transport.DataDir == "" {
			return errors.New("transport.data_dir cannot be empty")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport.Kind)
	}

	if c.Processor.FilterExpr != "" && c.Processor.FilterField != "" {
		return ErrConflictingFilters
	}
	if _, err := relay.ParseFailurePolicy(c.Relay.FailurePolicy); err != nil {
		return err
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// RelayLoopConfig converts the [relay] section to a relay.Config
func (c *Config) RelayLoopConfig() (relay.Config, error) {
	policy, err := relay.ParseFailurePolicy(c.Relay.FailurePolicy)
	if err != nil {
		return relay.Config{}, err
	}

	rc := relay.Config{
		SourceLog:        c.Relay.Source,
		SinkLog:          c.Relay.Sink,
		DefaultOffset:    c.Relay.DefaultOffset,
		PositionField:    c.Relay.PositionField,
		Follow:           c.Relay.Follow == nil || *c.Relay.Follow,
		FailurePolicy:    policy,
		MaxAppendRetries: c.Relay.MaxAppendRetries,
		RetryBackoff:     c.Relay.RetryBackoff.Duration,
		MaxRetryBackoff:  c.Relay.MaxRetryBackoff.Duration,
		AppendTimeout:    c.Relay.AppendTimeout.Duration,
	}
	rc.SetDefaults()
	return rc, rc.Validate()
}

// BuildProcessor builds the pipeline described by the [processor] section.
// The pipeline stamps the same position field the checkpoint is read from.
func (c *Config) BuildProcessor() (*processor.Pipeline, error) {
	if c.Processor.FilterExpr != "" && c.Processor.FilterField != "" {
		return nil, ErrConflictingFilters
	}

	opts := []processor.Option{processor.WithPositionField(c.Relay.PositionField)}

	switch {
	case c.Processor.FilterExpr != "":
		pred, err := processor.CEL(c.Processor.FilterExpr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, processor.WithFilter(pred))
	case c.Processor.FilterField != "":
		opts = append(opts, processor.WithFilter(processor.FieldEquals(c.Processor.FilterField, c.Processor.FilterValue)))
	}

	if len(c.Processor.Fields) > 0 {
		opts = append(opts, processor.WithMapper(processor.Select(c.Processor.Fields...)))
	}

	return processor.NewPipeline(opts...), nil
}
