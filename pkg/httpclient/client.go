// Package httpclient is a logclient.Transport for log servers speaking the
// Styx HTTP API: JSON log metadata, raw record reads and writes over HTTP,
// and record streams over WebSocket.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/schema"
	"github.com/gorilla/websocket"

	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

// Client provides an HTTP client for a log server
type Client struct {
	config     Config
	httpClient *http.Client
	dialer     *websocket.Dialer
	encoder    *schema.Encoder
	baseURL    *url.URL

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a new log server HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("invalid ServerURL: scheme must be http or https, got %q", baseURL.Scheme)
	}

	client := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		encoder: schema.NewEncoder(),
		baseURL: baseURL,
	}

	return client, nil
}

// GetLog returns information about a log
func (c *Client) GetLog(ctx context.Context, name string) (logclient.LogInfo, error) {
	var info logclient.LogInfo
	if err := c.doJSON(ctx, http.MethodGet, logPath(name), nil, &info); err != nil {
		return logclient.LogInfo{}, err
	}
	return info, nil
}

// ListLogs returns information about all logs
func (c *Client) ListLogs(ctx context.Context) ([]logclient.LogInfo, error) {
	var logs []logclient.LogInfo
	if err := c.doJSON(ctx, http.MethodGet, "/logs", nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// CreateLog creates an empty log
func (c *Client) CreateLog(ctx context.Context, name string) (logclient.LogInfo, error) {
	var info logclient.LogInfo
	if err := c.doJSON(ctx, http.MethodPost, "/logs", createLogRequest{Name: name}, &info); err != nil {
		return logclient.LogInfo{}, err
	}
	return info, nil
}

// ReadRecord reads the record at (position, whence). It returns nil when the
// position is at the end of the log. The offset is UnknownOffset when the
// server does not report it.
func (c *Client) ReadRecord(ctx context.Context, log string, position int64, whence logclient.Whence) (*logclient.Record, error) {
	query, err := c.query(readParams{Whence: string(whence), Position: position})
	if err != nil {
		return nil, err
	}

	var rec *logclient.Record
	err = c.withRetries(ctx, func() error {
		req, err := c.newRequest(ctx, http.MethodGet, recordsPath(log), query, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/octet-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode >= 400 {
			return decodeError(resp.StatusCode, body)
		}
		if len(body) == 0 {
			rec = nil
			return nil
		}

		offset := logclient.UnknownOffset
		if h := resp.Header.Get(PositionHeader); h != "" {
			offset, err = strconv.ParseInt(h, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid %s header %q: %w", PositionHeader, h, err)
			}
		}
		r := logclient.Record{Offset: offset, Payload: body}
		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ReadLast returns the last record of log, nil for an empty log
func (c *Client) ReadLast(ctx context.Context, log string) (*logclient.Record, error) {
	return c.ReadRecord(ctx, log, -1, logclient.SeekEnd)
}

// OpenWriter checks that log exists and returns a Writer posting records to it.
// Records are written one request at a time so every failure is reported for
// the record it concerns.
func (c *Client) OpenWriter(ctx context.Context, log string) (logclient.Writer, error) {
	if _, err := c.GetLog(ctx, log); err != nil {
		return nil, err
	}
	return &writer{client: c, log: log}, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// appendRecord posts one raw record and returns its offset
func (c *Client) appendRecord(ctx context.Context, log string, payload []byte) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodPost, recordsPath(log), nil, bytes.NewReader(payload))
	if err != nil {
		return logclient.UnknownOffset, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp WriteRecordResponse
	if err := c.do(req, &resp); err != nil {
		return logclient.UnknownOffset, err
	}
	if resp.Count != 1 {
		return logclient.UnknownOffset, fmt.Errorf("server wrote %d records, expected 1", resp.Count)
	}
	return resp.Position - 1, nil
}

// doJSON performs a request with an optional JSON body and decodes a JSON response
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	send := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := c.newRequest(ctx, method, path, nil, bodyReader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.do(req, respBody)
	}

	if method == http.MethodGet {
		return c.withRetries(ctx, send)
	}
	return send()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := &url.URL{Path: path}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.authorize(req.Header); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Client) do(req *http.Request, respBody interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, bodyBytes)
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// withRetries retries fn on transport failures and server errors; client
// errors (4xx) are returned at once.
func (c *Client) withRetries(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(c.config.RetryDelay):
			}
		}

		err = fn()
		if err == nil || !retryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return true
}

func (c *Client) query(params readParams) (url.Values, error) {
	values := url.Values{}
	if err := c.encoder.Encode(params, values); err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}
	return values, nil
}

type tokenClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// authorize sets a bearer token when a secret key is configured. Tokens are
// reused until they are about to expire.
func (c *Client) authorize(h http.Header) error {
	if c.config.SecretKey == "" {
		return nil
	}

	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	now := time.Now()
	if c.token == "" || now.Add(c.config.TokenTTL/10).After(c.tokenExpiry) {
		expiresAt := now.Add(c.config.TokenTTL)
		claims := tokenClaims{
			ClientID: c.config.ClientID,
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.config.SecretKey))
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		c.token = token
		c.tokenExpiry = expiresAt
	}

	h.Set("Authorization", "Bearer "+c.token)
	return nil
}

func decodeError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, apiErr); err != nil {
		apiErr.Message = string(bytes.TrimSpace(body))
	}
	return apiErr
}

func logPath(name string) string {
	return "/logs/" + url.PathEscape(name)
}

func recordsPath(name string) string {
	return logPath(name) + "/records"
}

type writer struct {
	client *Client
	log    string

	mu     sync.Mutex
	closed bool
}

func (w *writer) Append(ctx context.Context, payload []byte) (int64, error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return logclient.UnknownOffset, logclient.ErrClosed
	}
	if len(payload) == 0 {
		return logclient.UnknownOffset, logclient.ErrEmptyPayload
	}
	return w.client.appendRecord(ctx, w.log, payload)
}

func (w *writer) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

var _ logclient.Transport = (*Client)(nil)
