package smtp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/vhqtvn/vh-mail-hook/internal/logging"
	"github.com/vhqtvn/vh-mail-hook/internal/metrics"
	"github.com/vhqtvn/vh-mail-hook/internal/server"
)

const (
	// maxCommandLineLen bounds a single command line. RFC 5321 allows
	// 512 octets; the margin covers long MAIL parameter lists.
	maxCommandLineLen = 1024
	// maxDataLineLen bounds a DATA line when no message size limit is
	// configured.
	maxDataLineLen = 1 << 20
)

// HandlerConfig configures the session handler.
type HandlerConfig struct {
	Hostname  string
	Registry  *CommandRegistry
	Pipeline  *Pipeline
	Collector metrics.Collector
	Session   SessionConfig
	TLSConfig *tls.Config // enables STARTTLS upgrades
}

// Handler returns a ConnectionHandler that runs the SMTP session state
// machine over a connection.
func Handler(cfg HandlerConfig) server.ConnectionHandler {
	collector := cfg.Collector
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	return func(ctx context.Context, conn *server.Connection) {
		logger := logging.FromContext(ctx)

		// Create session
		connInfo := ConnectionInfo{
			ClientIP: extractIP(conn.RemoteAddr()),
		}
		session := NewSession(connInfo, cfg.Session)

		// Implicit-TLS listeners hand us an already encrypted conn.
		if conn.IsTLS() {
			session.SetTLSActive(true)
		}

		// Send greeting
		if err := writeResult(conn, Result{Code: 220, Message: cfg.Hostname + " ESMTP ready"}); err != nil {
			logger.Debug("failed to send greeting", "error", err.Error())
			return
		}

		if err := conn.ResetIdleTimeout(); err != nil {
			logger.Debug("failed to reset idle timeout", "error", err.Error())
			return
		}

		// Command loop
		for !session.State().Terminal() {
			line, tooLong, err := readLimitedLine(conn.Reader(), maxCommandLineLen)
			if err != nil {
				if err != io.EOF {
					logger.Debug("failed to read command", "error", err.Error())
				}
				session.Abort()
				return
			}

			if tooLong {
				if err := writeResult(conn, Result{Code: 500, Message: "Line too long"}); err != nil {
					session.Abort()
					return
				}
				_ = conn.ResetIdleTimeout()
				continue
			}

			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				continue
			}

			cmd, matches, err := cfg.Registry.Match(line)
			if err != nil {
				if err := writeResult(conn, Result{Code: 500, Message: "Syntax error, command unrecognized"}); err != nil {
					session.Abort()
					return
				}
				_ = conn.ResetIdleTimeout()
				continue
			}

			collector.CommandProcessed(extractCommandName(line))

			result, execErr := cmd.Execute(ctx, session, matches)
			if execErr != nil {
				logger.Debug("command execution failed", "error", execErr.Error())
				if err := writeResult(conn, Result{Code: 451, Message: "Requested action aborted"}); err != nil {
					session.Abort()
					return
				}
				_ = conn.ResetIdleTimeout()
				continue
			}

			if err := writeResult(conn, result); err != nil {
				logger.Debug("failed to write response", "error", err.Error())
				session.Abort()
				return
			}
			_ = conn.ResetIdleTimeout()

			// STARTTLS: the 220 is the last plaintext reply; everything
			// known about the session is discarded after the handshake.
			if stls, ok := cmd.(*STARTTLSCommand); ok && result.Code == 220 {
				if err := conn.UpgradeTLS(stls.TLSConfig()); err != nil {
					logger.Info("TLS upgrade failed", slog.String("error", err.Error()))
					session.Abort()
					return
				}
				session.ResetForTLS()
				session.SetTLSActive(true)
				collector.TLSConnectionEstablished()
				logger.Info("session upgraded to TLS")
				continue
			}

			// DATA accepted: stream the message body and commit.
			if session.InData() {
				runDataPhase(ctx, conn, session, cfg.Pipeline, collector, logger)
				if session.State().Terminal() {
					return
				}
				_ = conn.ResetIdleTimeout()
			}
		}
	}
}

// runDataPhase collects the message content and commits it. The
// transaction trace is suppressed for the duration: message content
// must never appear in logs.
func runDataPhase(ctx context.Context, conn *server.Connection, session *Session, pipeline *Pipeline, collector metrics.Collector, logger *slog.Logger) {
	conn.SuppressTrace()
	raw, tooLarge, err := collectMessageData(conn, session.Config().MaxMessageSize)
	conn.ResumeTrace()

	if err != nil {
		logger.Debug("failed to collect message data", "error", err.Error())
		session.Abort()
		return
	}

	session.SetState(StateCommitting)

	if tooLarge {
		for _, r := range session.Recipients() {
			collector.MessageRejected(domainOf(r.Match.Canonical), "too_large")
		}
		if err := writeResult(conn, Result{Code: 552, Message: "5.3.4 Message size exceeds fixed maximum"}); err != nil {
			session.Abort()
			return
		}
		session.Reset()
		return
	}

	result := pipeline.Commit(ctx, session, raw)
	if err := writeResult(conn, result); err != nil {
		logger.Debug("failed to write commit reply", "error", err.Error())
		session.Abort()
		return
	}

	session.Reset()
}

// writeResult writes an SMTP reply, multi-line aware, and flushes.
func writeResult(conn *server.Connection, r Result) error {
	if _, err := conn.Writer().WriteString(formatReply(r)); err != nil {
		return err
	}
	return conn.Flush()
}

// collectMessageData reads message content until the terminating dot,
// handling dot-stuffing per RFC 5321. When the size limit is exceeded,
// whether across lines or within a single newline-free stream, buffering
// stops and the rest of the message is drained and discarded so the
// final 552 lands at the right point in the dialogue.
func collectMessageData(conn *server.Connection, maxSize int64) (data []byte, tooLarge bool, err error) {
	var buf bytes.Buffer
	var totalSize int64

	// Any single line longer than the whole message limit is oversized
	// on its own, so the line bound and the message bound coincide.
	lineLimit := maxDataLineLen
	if maxSize > 0 {
		lineLimit = int(maxSize)
	}

	for {
		line, tooLong, err := readLimitedLine(conn.Reader(), lineLimit)
		if err != nil {
			return nil, false, err
		}

		if tooLong {
			tooLarge = true
			buf.Reset()
			continue
		}

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		// Terminating dot
		if line == "." {
			break
		}

		// Dot-stuffing: lines starting with "." have it removed
		line = strings.TrimPrefix(line, ".")

		if tooLarge {
			continue
		}

		if maxSize > 0 {
			totalSize += int64(len(line)) + 2 // +2 for CRLF
			if totalSize > maxSize {
				tooLarge = true
				buf.Reset()
				continue
			}
		}

		buf.WriteString(line)
		buf.WriteString("\r\n")
	}

	if tooLarge {
		return nil, true, nil
	}
	return buf.Bytes(), false, nil
}

// readLimitedLine reads one LF-terminated line without ever holding more
// than limit bytes of it. Once a line exceeds the limit the remainder is
// drained but not buffered, so a client streaming arbitrary data with no
// newline cannot grow memory with the input.
func readLimitedLine(r *bufio.Reader, limit int) (line string, tooLong bool, err error) {
	var sb strings.Builder

	for {
		chunk, err := r.ReadSlice('\n')
		if err != nil && err != bufio.ErrBufferFull {
			return "", false, err
		}

		if !tooLong {
			if sb.Len()+len(chunk) > limit {
				tooLong = true
				sb.Reset()
			} else {
				sb.Write(chunk)
			}
		}

		if err == nil {
			return sb.String(), tooLong, nil
		}
	}
}

// extractIP extracts the IP address string from a net.Addr.
func extractIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}

	switch v := addr.(type) {
	case *net.TCPAddr:
		return v.IP.String()
	case *net.UDPAddr:
		return v.IP.String()
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String()
		}
		return host
	}
}

// extractCommandName extracts the command verb from a line for metrics.
func extractCommandName(line string) string {
	line = strings.ToUpper(line)
	if idx := strings.Index(line, " "); idx > 0 {
		return line[:idx]
	}
	return line
}
