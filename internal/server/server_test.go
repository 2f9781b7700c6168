package server

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/vhqtvn/vh-mail-hook/internal/config"
)

func testConfig(addr string) *config.Config {
	cfg := config.Default()
	cfg.Hostname = "mx.example.com"
	cfg.Domains.Names = []string{"example.com"}
	cfg.Listeners = []config.ListenerConfig{
		{Address: addr, Mode: config.ModeSmtp},
	}
	return &cfg
}

func TestNewServer(t *testing.T) {
	cfg := testConfig("127.0.0.1:0")

	s, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s == nil {
		t.Fatal("expected server, got nil")
	}
	if s.Logger() == nil {
		t.Error("expected logger")
	}
	if s.TLSConfig() != nil {
		t.Error("expected no TLS config without certificates")
	}
	if s.Config() != cfg {
		t.Error("expected config to round-trip")
	}
}

func TestNewServerBadCertificate(t *testing.T) {
	cfg := testConfig("127.0.0.1:0")
	cfg.TLS.CertFile = "/nonexistent/cert.pem"
	cfg.TLS.KeyFile = "/nonexistent/key.pem"

	_, err := New(cfg, nil, nil)
	if err == nil {
		t.Fatal("expected error for missing certificate files")
	}
}

func TestServerRunAndShutdown(t *testing.T) {
	cfg := testConfig(freeAddr(t))

	s, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop in time")
	}
}

func TestServerHandlesConnection(t *testing.T) {
	addr := freeAddr(t)
	cfg := testConfig(addr)

	s, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.SetHandler(func(ctx context.Context, conn *Connection) {
		_, _ = conn.Writer().WriteString("220 mx.example.com ready\r\n")
		_ = conn.Flush()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("reading greeting: %v", err)
	}
	if !strings.HasPrefix(line, "220 ") {
		t.Errorf("greeting = %q, want 220 reply", line)
	}
}

func TestServerSmtpsWithoutTLS(t *testing.T) {
	cfg := testConfig("127.0.0.1:0")
	cfg.Listeners = []config.ListenerConfig{
		{Address: "127.0.0.1:0", Mode: config.ModeSmtps},
	}

	s, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); err == nil {
		t.Error("expected error for smtps listener without TLS config")
	}
}

func TestServerShutdownBeforeRun(t *testing.T) {
	cfg := testConfig("127.0.0.1:0")

	s, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Shutdown with no listeners must be safe.
	s.Shutdown()
}
