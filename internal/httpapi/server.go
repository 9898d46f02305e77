// Package httpapi serves an event log store over HTTP and WebSocket with the
// routes and wire format of the Styx log server:
//
//	GET  /logs                        list logs
//	POST /logs                        create a log
//	GET  /logs/{name}                 describe a log
//	GET  /logs/{name}/records         read one record (position, whence)
//	GET  /logs/{name}/records + WS    stream records (position, whence, count, follow)
//	POST /logs/{name}/records         append one record (raw body)
//	GET  /health                      health check
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	"github.com/gorilla/websocket"

	"github.com/rmacdonaldsmith/logrelay/internal/eventlog"
)

// Config holds server configuration
type Config struct {
	// ListenAddress is the address the server listens on, e.g. ":7123"
	ListenAddress string

	// SecretKey enables bearer token authentication when set
	SecretKey string

	// MaxRecordSize bounds the body of a record write
	MaxRecordSize int64

	WSReadBufferSize  int
	WSWriteBufferSize int
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":7123"
	}
	if c.MaxRecordSize <= 0 {
		c.MaxRecordSize = 1024 * 1024 // 1MB
	}
	if c.WSReadBufferSize <= 0 {
		c.WSReadBufferSize = 1 << 12
	}
	if c.WSWriteBufferSize <= 0 {
		c.WSWriteBufferSize = 1 << 16
	}
}

// Server represents the HTTP API server
type Server struct {
	config     Config
	store      eventlog.Store
	logger     *slog.Logger
	jwtAuth    *JWTAuth
	middleware *Middleware
	decoder    *schema.Decoder
	upgrader   websocket.Upgrader
	router     *mux.Router
	server     *http.Server
}

// NewServer creates a new HTTP API server over store
func NewServer(store eventlog.Store, config Config, logger *slog.Logger) *Server {
	config.SetDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	var jwtAuth *JWTAuth
	if config.SecretKey != "" {
		jwtAuth = NewJWTAuth(config.SecretKey)
	}

	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	s := &Server{
		config:     config,
		store:      store,
		logger:     logger,
		jwtAuth:    jwtAuth,
		middleware: NewMiddleware(jwtAuth, logger),
		decoder:    decoder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.WSReadBufferSize,
			WriteBufferSize: config.WSWriteBufferSize,
		},
	}
	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:              config.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	return s
}

// Handler returns the root handler, for use with httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	s.logger.Info("http log server listening", "address", s.config.ListenAddress)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve serves on an existing listener until Stop
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("http log server listening", "address", lis.Addr().String())
	err := s.server.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.middleware.Recovery, s.middleware.Logging)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errNotFound)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
	})

	router.HandleFunc("/health", s.Health).Methods(http.MethodGet)

	logs := router.PathPrefix("/logs").Subrouter()
	logs.Use(s.middleware.AuthRequired)

	logs.HandleFunc("", s.ListLogs).Methods(http.MethodGet)
	logs.HandleFunc("", s.CreateLog).Methods(http.MethodPost)
	logs.HandleFunc("/{name}", s.GetLog).Methods(http.MethodGet)

	logs.HandleFunc("/{name}/records", s.ReadRecordsWS).
		Methods(http.MethodGet).
		Headers("Upgrade", "websocket")
	logs.HandleFunc("/{name}/records", s.ReadRecord).Methods(http.MethodGet)
	logs.HandleFunc("/{name}/records", s.WriteRecord).Methods(http.MethodPost)

	return router
}

// writeError writes an error response as JSON
func writeError(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	writeJSON(w, resp, statusCode)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
