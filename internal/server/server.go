package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vhqtvn/vh-mail-hook/internal/config"
	"github.com/vhqtvn/vh-mail-hook/internal/logging"
	"github.com/vhqtvn/vh-mail-hook/internal/metrics"
	"github.com/vhqtvn/vh-mail-hook/internal/ratelimit"
)

// Server coordinates multiple listeners and hands admitted connections
// to the session handler.
type Server struct {
	cfg       *config.Config
	tlsConfig *tls.Config
	logger    *slog.Logger
	collector metrics.Collector
	handler   ConnectionHandler
	perIP     *ratelimit.PerIP
	gate      *ratelimit.ConnGate

	listeners []*Listener
	mu        sync.Mutex
}

// New creates a new Server with the given configuration. A nil
// collector disables metrics.
func New(cfg *config.Config, logger *slog.Logger, collector metrics.Collector) (*Server, error) {
	if logger == nil {
		logger = logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
	}

	if cfg.RateLimit.Enabled {
		s.perIP = ratelimit.NewPerIP(cfg.RateLimit.ConnectionsPerMin, cfg.RateLimit.Burst)
	}
	if cfg.Limits.MaxConnections > 0 {
		s.gate = ratelimit.NewConnGate(cfg.Limits.MaxConnections)
	}

	// Load TLS configuration if certificates are specified
	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading TLS certificate: %w", err)
		}

		s.tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   cfg.TLS.MinTLSVersion(),
		}
		logger.Info("TLS configured",
			slog.String("cert", cfg.TLS.CertFile),
			slog.String("min_version", cfg.TLS.MinVersion),
		)
	}

	return s, nil
}

// SetHandler sets the connection handler for all listeners.
// Must be called before Run.
func (s *Server) SetHandler(handler ConnectionHandler) {
	s.handler = handler
}

// SetTLSConfig overrides the TLS configuration. Used by tests that
// build certificates in memory.
func (s *Server) SetTLSConfig(tlsConfig *tls.Config) {
	s.tlsConfig = tlsConfig
}

// Run starts all configured listeners and blocks until the context is cancelled.
// All listeners run in their own goroutines.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()

	if s.handler == nil {
		s.handler = s.defaultHandler
	}

	// Create listeners
	for _, lc := range s.cfg.Listeners {
		var tlsCfg *tls.Config
		if lc.Mode == config.ModeSmtps {
			if s.tlsConfig == nil {
				s.mu.Unlock()
				return fmt.Errorf("listener %s: TLS required for SMTPS mode but not configured", lc.Address)
			}
			tlsCfg = s.tlsConfig
		} else if s.tlsConfig != nil {
			// Make TLS available for STARTTLS on plain listeners
			tlsCfg = s.tlsConfig
		}

		listener := NewListener(ListenerConfig{
			Address:        lc.Address,
			Mode:           lc.Mode,
			TLSConfig:      tlsCfg,
			IdleTimeout:    s.cfg.Timeouts.ConnectionTimeout(),
			CommandTimeout: s.cfg.Timeouts.CommandTimeout(),
			SessionTimeout: s.cfg.Timeouts.SessionTimeout(),
			LogTransaction: s.cfg.LogLevel == "debug",
			Logger:         s.logger,
			Handler:        s.handler,
			Collector:      s.collector,
			PerIP:          s.perIP,
			Gate:           s.gate,
		})
		s.listeners = append(s.listeners, listener)
	}

	s.mu.Unlock()

	s.logger.Info("starting server",
		slog.String("hostname", s.cfg.Hostname),
		slog.Int("listener_count", len(s.listeners)),
	)

	// Evict idle rate-limit entries in the background.
	if s.perIP != nil {
		go s.evictLoop(ctx)
	}

	// Start all listeners in goroutines
	var wg sync.WaitGroup
	errChan := make(chan error, len(s.listeners))

	for _, l := range s.listeners {
		wg.Add(1)
		go func(listener *Listener) {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && err != context.Canceled {
				errChan <- fmt.Errorf("listener %s: %w", listener.Address(), err)
			}
		}(l)
	}

	// Wait for context cancellation
	<-ctx.Done()

	s.logger.Info("server shutting down")

	// Wait for all listeners to stop
	wg.Wait()

	// Check for any errors
	close(errChan)
	var firstErr error
	for err := range errChan {
		if firstErr == nil {
			firstErr = err
		}
		s.logger.Error("listener error", slog.String("error", err.Error()))
	}

	s.logger.Info("server stopped")

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// evictLoop periodically drops rate-limit state for IPs not seen in a
// while.
func (s *Server) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped := s.perIP.Evict(30 * time.Minute)
			if dropped > 0 {
				s.logger.Debug("evicted idle rate-limit entries",
					slog.Int("count", dropped),
				)
			}
		}
	}
}

// Shutdown gracefully stops the server.
// It closes all listeners and waits for connections to complete.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.listeners {
		_ = l.Close()
	}
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// TLSConfig returns the server's TLS configuration, if any.
func (s *Server) TLSConfig() *tls.Config {
	return s.tlsConfig
}

// Config returns the server's configuration.
func (s *Server) Config() *config.Config {
	return s.cfg
}

// defaultHandler closes connections when no session handler was
// installed.
func (s *Server) defaultHandler(ctx context.Context, conn *Connection) {
	logger := logging.FromContext(ctx)
	logger.Info("connection handler not installed - closing connection")
}
