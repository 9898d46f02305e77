package grpclog

import (
	"errors"

	"google.golang.org/grpc"
)

var (
	// ErrEmptyListenAddress is returned when a server has no listen address
	ErrEmptyListenAddress = errors.New("listen address cannot be empty")
	// ErrEmptyTarget is returned when a client has no target
	ErrEmptyTarget = errors.New("target cannot be empty")
)

// ServerConfig holds configuration for the gRPC log server
type ServerConfig struct {
	ListenAddress  string
	MaxMessageSize int
}

// Validate checks if the configuration is valid
func (c *ServerConfig) Validate() error {
	if c.ListenAddress == "" {
		return ErrEmptyListenAddress
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *ServerConfig) SetDefaults() {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4 * 1024 * 1024 // 4MB
	}
}

// ClientConfig holds configuration for the gRPC transport session
type ClientConfig struct {
	// Target is the gRPC dial target, e.g. "localhost:9090"
	Target string

	MaxMessageSize int

	// BufferSize is the number of records read ahead of a subscriber
	BufferSize int

	// DialOptions are appended to the transport's own options
	DialOptions []grpc.DialOption
}

// Validate checks if the configuration is valid
func (c *ClientConfig) Validate() error {
	if c.Target == "" {
		return ErrEmptyTarget
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *ClientConfig) SetDefaults() {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4 * 1024 * 1024 // 4MB
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
}
