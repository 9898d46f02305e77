// Package grpclog serves an event log store over gRPC and provides the
// matching logclient.Transport.
//
// The service is logrelay.v1.LogService with a server-streaming Read and
// unary ReadLast, Append and Describe methods. Messages travel in protobuf
// wire format through a codec forced on both ends.
package grpclog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rmacdonaldsmith/logrelay/internal/eventlog"
	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

const serviceName = "logrelay.v1.LogService"

const (
	readMethod     = "/" + serviceName + "/Read"
	readLastMethod = "/" + serviceName + "/ReadLast"
	appendMethod   = "/" + serviceName + "/Append"
	describeMethod = "/" + serviceName + "/Describe"
)

// logService is the handler type of the service description
type logService interface {
	read(req *readRequest, stream grpc.ServerStream) error
	readLast(ctx context.Context, req *logRequest) (*lastResponse, error)
	append(ctx context.Context, req *appendRequest) (*appendResponse, error)
	describe(ctx context.Context, req *logRequest) (*logInfo, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*logService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReadLast", Handler: readLastHandler},
		{MethodName: "Append", Handler: appendHandler},
		{MethodName: "Describe", Handler: describeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Read", Handler: readHandler, ServerStreams: true},
	},
	Metadata: "logrelay/v1/log.proto",
}

func readHandler(srv any, stream grpc.ServerStream) error {
	req := new(readRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(logService).read(req, stream)
}

func readLastHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(logRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(logService).readLast(ctx, req.(*logRequest))
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: readLastMethod}, handler)
}

func appendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(appendRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(logService).append(ctx, req.(*appendRequest))
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: appendMethod}, handler)
}

func describeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(logRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(logService).describe(ctx, req.(*logRequest))
	}
	if interceptor == nil {
		return handler(ctx, req)
	}
	return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: describeMethod}, handler)
}

// Server exposes an eventlog.Store over gRPC
type Server struct {
	config *ServerConfig
	store  eventlog.Store
	logger *slog.Logger
	server *grpc.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a gRPC log server for store. Call Start or Serve to accept connections.
func NewServer(config *ServerConfig, store eventlog.Store, logger *slog.Logger) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	configCopy := *config
	configCopy.SetDefaults()

	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: &configCopy,
		store:  store,
		logger: logger,
		server: grpc.NewServer(
			grpc.ForceServerCodec(codec{}),
			grpc.MaxRecvMsgSize(configCopy.MaxMessageSize),
			grpc.MaxSendMsgSize(configCopy.MaxMessageSize),
		),
	}
	s.server.RegisterService(&serviceDesc, s)

	return s, nil
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	lis, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	go func() {
		if err := s.Serve(lis); err != nil {
			s.logger.Error("grpc server stopped", "error", err)
		}
	}()
	return nil
}

// Serve accepts connections on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info("grpc log server listening", "address", lis.Addr().String())
	err := s.server.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Addr returns the listening address, or "" before Serve
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the server; in-flight subscriptions are cancelled
func (s *Server) Stop() {
	s.server.Stop()
}

func (s *Server) read(req *readRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()

	sub, err := s.store.Subscribe(ctx, req.Log, req.options())
	if err != nil {
		return toStatus(err)
	}
	defer sub.Close()

	for {
		rec, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return toStatus(err)
		}

		if err := stream.SendMsg(&record{Offset: rec.Offset, Payload: rec.Payload}); err != nil {
			return err
		}
	}
}

func (s *Server) readLast(ctx context.Context, req *logRequest) (*lastResponse, error) {
	rec, err := s.store.ReadLast(ctx, req.Log)
	if err != nil {
		return nil, toStatus(err)
	}
	if rec == nil {
		return &lastResponse{}, nil
	}
	return &lastResponse{Found: true, Record: record{Offset: rec.Offset, Payload: rec.Payload}}, nil
}

func (s *Server) append(ctx context.Context, req *appendRequest) (*appendResponse, error) {
	offset, err := s.store.Append(ctx, req.Log, req.Payload)
	if err != nil {
		return nil, toStatus(err)
	}
	return &appendResponse{Offset: offset}, nil
}

func (s *Server) describe(ctx context.Context, req *logRequest) (*logInfo, error) {
	info, err := s.store.Describe(ctx, req.Log)
	if err != nil {
		return nil, toStatus(err)
	}
	out := logInfo(info)
	return &out, nil
}

// toStatus maps store errors onto gRPC status codes
func toStatus(err error) error {
	switch {
	case errors.Is(err, logclient.ErrLogNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, logclient.ErrNegativeOffset),
		errors.Is(err, logclient.ErrEmptyPayload),
		errors.Is(err, logclient.ErrEmptyLogName),
		errors.Is(err, logclient.ErrInvalidWhence),
		errors.Is(err, eventlog.ErrInvalidLogName):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, logclient.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

var _ logService = (*Server)(nil)
