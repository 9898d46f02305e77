package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/rmacdonaldsmith/logrelay/internal/eventlog"
	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

// Health handles GET /health
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.ListLogs(r.Context())
	if err != nil {
		writeJSON(w, HealthResponse{Healthy: false}, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, HealthResponse{Healthy: true, Logs: len(logs)}, http.StatusOK)
}

// ListLogs handles GET /logs
func (s *Server) ListLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.ListLogs(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	if logs == nil {
		logs = []logclient.LogInfo{}
	}
	writeJSON(w, logs, http.StatusOK)
}

// CreateLog handles POST /logs
func (s *Server) CreateLog(w http.ResponseWriter, r *http.Request) {
	var req CreateLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, paramsError(err))
		return
	}

	if err := s.store.CreateLog(r.Context(), req.Name); err != nil {
		s.storeError(w, err)
		return
	}

	info, err := s.store.Describe(r.Context(), req.Name)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, info, http.StatusCreated)
}

// GetLog handles GET /logs/{name}
func (s *Server) GetLog(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.Describe(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, info, http.StatusOK)
}

// ReadRecord handles GET /logs/{name}/records. It returns the raw bytes of
// the record at the requested position and its offset in X-Log-Position.
// Reading at the end of the log returns 200 with an empty body.
func (s *Server) ReadRecord(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var params ReadRecordParams
	if err := s.decoder.Decode(&params, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, paramsError(err))
		return
	}
	opts, err := params.Options()
	if err != nil {
		writeError(w, http.StatusBadRequest, paramsError(err))
		return
	}

	sub, err := s.store.Subscribe(r.Context(), name, opts)
	if err != nil {
		s.storeError(w, err)
		return
	}
	defer sub.Close()

	rec, err := sub.Next(r.Context())
	if errors.Is(err, io.EOF) {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		s.storeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(rec.Payload)))
	w.Header().Set(PositionHeader, strconv.FormatInt(rec.Offset, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.Payload)
}

// WriteRecord handles POST /logs/{name}/records with the raw record as body.
// An empty body writes nothing and reports a count of 0.
func (s *Server) WriteRecord(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxRecordSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errPayloadTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, paramsError(err))
		return
	}

	if len(body) == 0 {
		info, err := s.store.Describe(r.Context(), name)
		if err != nil {
			s.storeError(w, err)
			return
		}
		writeJSON(w, WriteRecordResponse{Position: info.EndPosition, Count: 0}, http.StatusOK)
		return
	}

	offset, err := s.store.Append(r.Context(), name, body)
	if err != nil {
		s.storeError(w, err)
		return
	}

	writeJSON(w, WriteRecordResponse{Position: offset + 1, Count: 1}, http.StatusOK)
}

// ReadRecordsWS handles GET /logs/{name}/records with a WebSocket upgrade.
// Each record is sent as one binary message. Without follow the server sends
// a normal close at the end of the log; with follow it streams until the
// client goes away.
func (s *Server) ReadRecordsWS(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	params := ReadRecordsWSParams{Count: -1}
	if err := s.decoder.Decode(&params, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, paramsError(err))
		return
	}
	opts, err := params.Options()
	if err != nil {
		writeError(w, http.StatusBadRequest, paramsError(err))
		return
	}

	// The subscription outlives the request context once the connection is hijacked
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := s.store.Subscribe(ctx, name, opts)
	if err != nil {
		s.storeError(w, err)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "log", name, "error", err)
		return
	}
	defer conn.Close()

	// Reading is only used to notice the client closing the connection
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	err = s.streamRecords(ctx, conn, sub, params.Count)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("websocket read stream ended", "log", name, "error", err)
		}
		return
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) streamRecords(ctx context.Context, conn *websocket.Conn, sub logclient.Subscription, limit int64) error {
	for count := int64(0); count != limit; count++ {
		rec, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := conn.WriteMessage(websocket.BinaryMessage, rec.Payload); err != nil {
			return err
		}
	}
	return nil
}

// storeError maps store errors to HTTP responses
func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, logclient.ErrLogNotFound):
		writeError(w, http.StatusNotFound, errLogNotFound)
	case errors.Is(err, eventlog.ErrLogExists):
		writeError(w, http.StatusConflict, errLogExist)
	case errors.Is(err, eventlog.ErrInvalidLogName), errors.Is(err, logclient.ErrEmptyLogName):
		writeError(w, http.StatusBadRequest, errLogInvalidName)
	case errors.Is(err, logclient.ErrNegativeOffset), errors.Is(err, logclient.ErrInvalidWhence):
		writeError(w, http.StatusBadRequest, paramsError(err))
	default:
		s.logger.Error("store request failed", "error", err)
		writeError(w, http.StatusInternalServerError, errUnknown)
	}
}
