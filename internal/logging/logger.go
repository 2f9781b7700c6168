// Package logging provides centralized logging for the mail receiver.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// contextKey is used for storing loggers in context.
type contextKey struct{}

var loggerKey = contextKey{}

// connectionCounter is used to generate unique connection IDs.
var connectionCounter atomic.Uint64

// NewLogger creates a new slog.Logger with the specified level and
// format. Format is "text" or "json"; anything else falls back to text.
func NewLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: lvl,
	}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// WithConnection returns a new logger with connection-specific
// attributes. It generates a unique connection ID for log correlation.
func WithConnection(logger *slog.Logger, remoteAddr string) *slog.Logger {
	connID := connectionCounter.Add(1)
	return logger.With(
		slog.Uint64("conn_id", connID),
		slog.String("remote_addr", remoteAddr),
	)
}

// WithListener returns a new logger with listener-specific attributes.
func WithListener(logger *slog.Logger, address string, mode string) *slog.Logger {
	return logger.With(
		slog.String("listener", address),
		slog.String("mode", mode),
	)
}

// FromContext retrieves the logger from the context.
// Returns the default logger if none is found.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// NewContext returns a new context with the logger attached.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// TransactionWriter wraps an io.Writer to log server replies at debug
// level. Replies never contain message content so they are always safe
// to log.
type TransactionWriter struct {
	w      io.Writer
	logger *slog.Logger
}

// NewTransactionWriter creates a writer that logs outbound replies.
func NewTransactionWriter(w io.Writer, logger *slog.Logger) *TransactionWriter {
	return &TransactionWriter{
		w:      w,
		logger: logger,
	}
}

// Write writes data and logs it.
func (tw *TransactionWriter) Write(p []byte) (n int, err error) {
	n, err = tw.w.Write(p)
	if n > 0 {
		tw.logger.Debug("transaction",
			slog.String("direction", "send"),
			slog.String("data", string(p[:n])),
		)
	}
	return n, err
}

// TransactionReader wraps an io.Reader to log client commands at debug
// level. The session suppresses it for the duration of the DATA phase;
// message content must never reach the logs, not even at debug level.
type TransactionReader struct {
	r          io.Reader
	logger     *slog.Logger
	suppressed atomic.Bool
}

// NewTransactionReader creates a reader that logs inbound commands.
func NewTransactionReader(r io.Reader, logger *slog.Logger) *TransactionReader {
	return &TransactionReader{
		r:      r,
		logger: logger,
	}
}

// Suppress stops logging reads until Resume is called. Bytes read while
// suppressed are counted but never recorded.
func (tr *TransactionReader) Suppress() {
	tr.suppressed.Store(true)
}

// Resume re-enables logging after Suppress.
func (tr *TransactionReader) Resume() {
	tr.suppressed.Store(false)
}

// Read reads data and logs it unless suppressed.
func (tr *TransactionReader) Read(p []byte) (n int, err error) {
	n, err = tr.r.Read(p)
	if n > 0 && !tr.suppressed.Load() {
		tr.logger.Debug("transaction",
			slog.String("direction", "recv"),
			slog.String("data", string(p[:n])),
		)
	}
	return n, err
}
