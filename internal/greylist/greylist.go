// Package greylist implements SMTP greylisting. A previously unseen
// (client IP, sender, recipient) triple is deferred with a transient
// failure; legitimate servers retry after a delay, most spam cannons do
// not. Once a triple has waited out the delay it passes for the rest of
// its tracking window.
package greylist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Verdict is the outcome of a greylist check.
type Verdict int

const (
	// Pass means the triple has completed its delay and may proceed.
	Pass Verdict = iota
	// Defer means the triple is new or still inside its delay and the
	// client should be told to retry later.
	Defer
)

func (v Verdict) String() string {
	if v == Pass {
		return "pass"
	}
	return "defer"
}

// List tracks delivery triples. Implementations must be safe for
// concurrent use.
type List interface {
	// Check records an attempt for the triple and returns whether it
	// should pass or be deferred.
	Check(ctx context.Context, ip, from, to string) (Verdict, error)
	Close() error
}

// Config holds the timing knobs shared by all implementations.
type Config struct {
	// Delay is how long a new triple must wait before it passes.
	Delay time.Duration
	// Window is how long a triple is remembered, counted from when it
	// was first seen. Once the window lapses the triple is forgotten
	// and its next delivery is deferred again.
	Window time.Duration
}

// DefaultConfig mirrors common greylisting practice: a short delay and
// a multi-day memory so retried senders are not deferred twice.
func DefaultConfig() Config {
	return Config{
		Delay:  5 * time.Minute,
		Window: 36 * time.Hour,
	}
}

func (c *Config) normalize() {
	if c.Delay <= 0 {
		c.Delay = 5 * time.Minute
	}
	if c.Window <= c.Delay {
		c.Window = 36 * time.Hour
	}
}

// key collapses a triple into a fixed-size lookup key. Sender and
// recipient are lowercased so case games do not reset the clock.
func key(ip, from, to string) string {
	h := sha256.New()
	h.Write([]byte(ip))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(from)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(to)))
	return hex.EncodeToString(h.Sum(nil))
}

// Memory is an in-process List for single-instance deployments and
// tests.
type Memory struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemory creates an in-memory greylist.
func NewMemory(cfg Config) *Memory {
	cfg.normalize()
	return &Memory{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
}

// Check implements List.
func (m *Memory) Check(_ context.Context, ip, from, to string) (Verdict, error) {
	k := key(ip, from, to)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	firstSeen, ok := m.entries[k]
	if !ok || now.Sub(firstSeen) > m.cfg.Window {
		m.entries[k] = now
		return Defer, nil
	}
	if now.Sub(firstSeen) < m.cfg.Delay {
		return Defer, nil
	}
	return Pass, nil
}

// Close implements List.
func (m *Memory) Close() error { return nil }

// Sweep drops entries older than the tracking window and returns how
// many were removed.
func (m *Memory) Sweep() int {
	cutoff := m.now().Add(-m.cfg.Window)

	m.mu.Lock()
	defer m.mu.Unlock()

	var dropped int
	for k, firstSeen := range m.entries {
		if firstSeen.Before(cutoff) {
			delete(m.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked triples.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
