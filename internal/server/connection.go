package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/vhqtvn/vh-mail-hook/internal/logging"
)

// Connection wraps a net.Conn with timeout management and optional
// transaction logging.
type Connection struct {
	logger         *slog.Logger
	idleTimeout    time.Duration
	commandTimeout time.Duration
	logTx          bool

	// sessionDeadline is the absolute point past which no deadline is
	// extended, whatever the client does.
	sessionDeadline time.Time

	mu           sync.Mutex
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	traceReader  *logging.TransactionReader
	lastActivity time.Time
	closed       bool
}

// ConnectionConfig holds configuration for a new connection.
type ConnectionConfig struct {
	IdleTimeout    time.Duration
	CommandTimeout time.Duration
	// SessionTimeout caps the total lifetime of the connection.
	SessionTimeout time.Duration
	LogTransaction bool
	Logger         *slog.Logger
}

// NewConnection creates a new Connection wrapper.
func NewConnection(conn net.Conn, cfg ConnectionConfig) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Create connection-scoped logger with remote address
	connLogger := logging.WithConnection(logger, conn.RemoteAddr().String())

	c := &Connection{
		conn:           conn,
		logger:         connLogger,
		idleTimeout:    cfg.IdleTimeout,
		commandTimeout: cfg.CommandTimeout,
		logTx:          cfg.LogTransaction,
		lastActivity:   time.Now(),
	}

	if cfg.SessionTimeout > 0 {
		c.sessionDeadline = time.Now().Add(cfg.SessionTimeout)
	}

	c.bindStreams(conn)

	return c
}

// bindStreams builds the buffered reader/writer over conn, wrapping
// them with transaction logging when enabled. Callers must hold c.mu or
// have exclusive access.
func (c *Connection) bindStreams(conn net.Conn) {
	var r io.Reader = conn
	var w io.Writer = conn

	c.traceReader = nil
	if c.logTx {
		tr := logging.NewTransactionReader(conn, c.logger)
		c.traceReader = tr
		r = tr
		w = logging.NewTransactionWriter(conn, c.logger)
	}

	c.reader = bufio.NewReader(r)
	c.writer = bufio.NewWriter(w)
}

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() *slog.Logger {
	return c.logger
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local address of the connection.
func (c *Connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Reader returns the buffered reader for the connection.
func (c *Connection) Reader() *bufio.Reader {
	return c.reader
}

// Writer returns the buffered writer for the connection.
func (c *Connection) Writer() *bufio.Writer {
	return c.writer
}

// Flush flushes the write buffer.
func (c *Connection) Flush() error {
	return c.writer.Flush()
}

// SuppressTrace stops transaction logging of inbound bytes. Used
// around the message body so its content never reaches the logs.
func (c *Connection) SuppressTrace() {
	if c.traceReader != nil {
		c.traceReader.Suppress()
	}
}

// ResumeTrace re-enables inbound transaction logging.
func (c *Connection) ResumeTrace() {
	if c.traceReader != nil {
		c.traceReader.Resume()
	}
}

// capDeadline clamps t to the absolute session deadline.
func (c *Connection) capDeadline(t time.Time) time.Time {
	if !c.sessionDeadline.IsZero() && t.After(c.sessionDeadline) {
		return c.sessionDeadline
	}
	return t
}

// SetDeadline sets the read and write deadlines.
func (c *Connection) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(c.capDeadline(t))
}

// SetReadDeadline sets the read deadline.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(c.capDeadline(t))
}

// SetWriteDeadline sets the write deadline.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(c.capDeadline(t))
}

// ResetIdleTimeout resets the idle timeout deadline.
// Should be called after each successful read/write operation.
func (c *Connection) ResetIdleTimeout() error {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()

	if c.idleTimeout > 0 {
		return c.conn.SetDeadline(c.capDeadline(time.Now().Add(c.idleTimeout)))
	}
	return nil
}

// SetCommandTimeout sets a deadline for the next command read.
func (c *Connection) SetCommandTimeout() error {
	if c.commandTimeout > 0 {
		return c.conn.SetReadDeadline(c.capDeadline(time.Now().Add(c.commandTimeout)))
	}
	return nil
}

// Close closes the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.logger.Debug("connection closed")
	return c.conn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Underlying returns the underlying net.Conn.
// Use with caution; prefer the Connection methods.
func (c *Connection) Underlying() net.Conn {
	return c.conn
}

// IsTLS returns true if the connection is encrypted with TLS.
func (c *Connection) IsTLS() bool {
	_, ok := c.conn.(*tls.Conn)
	return ok
}

// UpgradeTLS wraps the connection in a server-side TLS handshake. The
// caller must have flushed its final plaintext reply first; any bytes
// buffered in the reader are discarded since a client speaking early
// would break the handshake anyway.
func (c *Connection) UpgradeTLS(tlsConfig *tls.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tlsConn := tls.Server(c.conn, tlsConfig)

	deadline := c.capDeadline(time.Now().Add(30 * time.Second))
	_ = tlsConn.SetDeadline(deadline)
	if err := tlsConn.Handshake(); err != nil {
		return err
	}
	_ = tlsConn.SetDeadline(c.capDeadline(time.Now().Add(c.idleTimeout)))

	c.conn = tlsConn
	c.bindStreams(tlsConn)

	c.logger.Debug("connection upgraded to TLS")
	return nil
}

// IdleMonitor runs in a goroutine to monitor for idle connections.
// It will close the connection if idle timeout is exceeded.
// The monitor stops when the context is cancelled or the connection is closed.
func (c *Connection) IdleMonitor(ctx context.Context) {
	if c.idleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(c.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			idle := time.Since(c.lastActivity)
			c.mu.Unlock()

			if idle >= c.idleTimeout {
				c.logger.Info("closing idle connection",
					slog.Duration("idle_time", idle),
				)
				if err := c.Close(); err != nil {
					c.logger.Debug("error closing idle connection",
						slog.String("error", err.Error()),
					)
				}
				return
			}
		}
	}
}
