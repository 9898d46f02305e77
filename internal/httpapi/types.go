package httpapi

import (
	"fmt"

	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

// PositionHeader carries the offset of a record returned by a point read
const PositionHeader = "X-Log-Position"

// ErrorResponse is the JSON body of every error
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	errUnknown          = ErrorResponse{Code: "unknown_error", Message: "api: unknown error"}
	errNotFound         = ErrorResponse{Code: "not_found", Message: "api: not found"}
	errMethodNotAllowed = ErrorResponse{Code: "method_not_allowed", Message: "api: method not allowed"}
	errLogExist         = ErrorResponse{Code: "log_exist", Message: "api: log already exists"}
	errLogNotFound      = ErrorResponse{Code: "log_not_found", Message: "api: log not found"}
	errLogInvalidName   = ErrorResponse{Code: "log_invalid_name", Message: "api: log name invalid"}
	errUnauthorized     = ErrorResponse{Code: "unauthorized", Message: "api: unauthorized"}
	errPayloadTooLarge  = ErrorResponse{Code: "payload_too_large", Message: "api: payload too large"}
)

func paramsError(err error) ErrorResponse {
	return ErrorResponse{Code: "invalid_params", Message: fmt.Sprintf("api: params: %s", err)}
}

// CreateLogRequest is the body of POST /logs
type CreateLogRequest struct {
	Name string `json:"name"`
}

// WriteRecordResponse is returned after appending a record. Position is the
// end of the log after the write, so the record's offset is Position-1.
type WriteRecordResponse struct {
	Position int64 `json:"position"`
	Count    int64 `json:"count"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy bool `json:"healthy"`
	Logs    int  `json:"logs"`
}

// ReadRecordParams are the query parameters of a single record read
type ReadRecordParams struct {
	Whence   string `schema:"whence"`
	Position int64  `schema:"position"`
}

// Options converts the params to store read options
func (p ReadRecordParams) Options() (logclient.ReadOptions, error) {
	whence := logclient.Whence(p.Whence)
	if whence == "" {
		whence = logclient.SeekOrigin
	}
	if !whence.Valid() {
		return logclient.ReadOptions{}, fmt.Errorf("%w %q", logclient.ErrInvalidWhence, p.Whence)
	}
	return logclient.ReadOptions{Position: p.Position, Whence: whence}, nil
}

// ReadRecordsWSParams are the query parameters of a WebSocket read
type ReadRecordsWSParams struct {
	Whence   string `schema:"whence"`
	Position int64  `schema:"position"`
	Count    int64  `schema:"count"`
	Follow   bool   `schema:"follow"`
}

// Options converts the params to store read options
func (p ReadRecordsWSParams) Options() (logclient.ReadOptions, error) {
	opts, err := ReadRecordParams{Whence: p.Whence, Position: p.Position}.Options()
	if err != nil {
		return opts, err
	}
	if p.Count < -1 {
		return opts, fmt.Errorf("count must be -1 or non-negative, got %d", p.Count)
	}
	opts.Follow = p.Follow
	return opts, nil
}
