package main

import (
	"fmt"
	"log/slog"

	"github.com/rmacdonaldsmith/logrelay/internal/config"
	"github.com/rmacdonaldsmith/logrelay/internal/eventlog"
	"github.com/rmacdonaldsmith/logrelay/internal/grpclog"
	"github.com/rmacdonaldsmith/logrelay/pkg/httpclient"
	"github.com/rmacdonaldsmith/logrelay/pkg/logclient"
)

// openTransport opens the transport session selected by the [transport] section
func openTransport(c *config.Config, logger *slog.Logger) (logclient.Transport, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	t := c.Transport
	switch t.Kind {
	case config.TransportHTTP:
		logger.Debug("using http transport", "url", t.URL)
		return httpclient.NewClient(httpclient.Config{
			ServerURL: t.URL,
			ClientID:  t.ClientID,
			SecretKey: t.SecretKey,
			Timeout:   t.Timeout.Duration,
		})

	case config.TransportGRPC:
		logger.Debug("using grpc transport", "target", t.Target)
		return grpclog.Dial(&grpclog.ClientConfig{Target: t.Target})

	case config.TransportPebble:
		logger.Debug("using pebble transport", "data_dir", t.DataDir)
		return eventlog.OpenPebbleEventLog(eventlog.PebbleOptions{DataDir: t.DataDir})

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownTransport, t.Kind)
	}
}
