package httpclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

// PositionHeader carries the offset of a record returned by a point read
const PositionHeader = "X-Log-Position"

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the log server (e.g., "http://localhost:7123")
	ServerURL string

	// ClientID is the identifier put in the client_id claim of bearer tokens
	ClientID string

	// SecretKey signs bearer tokens; requests are unauthenticated when empty
	SecretKey string

	// TokenTTL is the lifetime of signed tokens
	TokenTTL time.Duration

	// Timeout for HTTP requests
	Timeout time.Duration

	// HandshakeTimeout for WebSocket upgrades
	HandshakeTimeout time.Duration

	// MaxRetries for failed idempotent requests
	MaxRetries int

	// RetryDelay between retries of idempotent requests
	RetryDelay time.Duration

	// BufferSize is the number of records read ahead of a subscriber
	BufferSize int
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "logrelay"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = time.Hour
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.BufferSize == 0 {
		c.BufferSize = 64
	}
}

// APIError is an error returned by the log server
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Is lets errors.Is match server errors against logclient sentinels
func (e *APIError) Is(target error) bool {
	switch target {
	case logclient.ErrLogNotFound:
		return e.Code == "log_not_found"
	default:
		return false
	}
}

// IsNotFound reports whether err is a log_not_found server error
func IsNotFound(err error) bool {
	return errors.Is(err, logclient.ErrLogNotFound)
}

// WriteRecordResponse is returned after appending a record. Position is the
// end of the log after the write.
type WriteRecordResponse struct {
	Position int64 `json:"position"`
	Count    int64 `json:"count"`
}

// readParams are the query parameters of record reads
type readParams struct {
	Whence   string `schema:"whence"`
	Position int64  `schema:"position"`
	Follow   bool   `schema:"follow,omitempty"`
}

type createLogRequest struct {
	Name string `json:"name"`
}
