// Package ratelimit provides the admission-control primitives shared by
// all SMTP sessions: a global concurrent-connection gate and a per-source
// IP token-bucket limiter. Instances are constructed once and injected;
// there is no package-level state.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PerIP hands out one token-bucket limiter per source IP. Idle entries are
// evicted so a scanner sweep does not grow the map forever.
type PerIP struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*ipEntry
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPerIP creates a per-IP limiter allowing the given number of events
// per minute with the given burst.
func NewPerIP(perMinute float64, burst int) *PerIP {
	if burst < 1 {
		burst = 1
	}
	return &PerIP{
		limit:   rate.Limit(perMinute / 60.0),
		burst:   burst,
		entries: make(map[string]*ipEntry),
	}
}

// Allow reports whether an event from ip is within its rate budget.
func (p *PerIP) Allow(ip string) bool {
	p.mu.Lock()
	e, ok := p.entries[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.entries[ip] = e
	}
	e.lastSeen = time.Now()
	p.mu.Unlock()

	return e.limiter.Allow()
}

// Evict removes entries idle for longer than maxIdle and returns how many
// were dropped. Called periodically by the server.
func (p *PerIP) Evict(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	p.mu.Lock()
	defer p.mu.Unlock()

	var dropped int
	for ip, e := range p.entries {
		if e.lastSeen.Before(cutoff) {
			delete(p.entries, ip)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked IPs.
func (p *PerIP) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// ConnGate caps the number of concurrent sessions. Acquire is
// non-blocking: over-cap connections are refused, not queued, so a
// connection flood cannot pile up goroutines.
type ConnGate struct {
	mu      sync.Mutex
	current int
	max     int
}

// NewConnGate creates a gate admitting at most max concurrent holders.
// max <= 0 means unlimited.
func NewConnGate(max int) *ConnGate {
	return &ConnGate{max: max}
}

// Acquire claims a slot, reporting false when the gate is full.
func (g *ConnGate) Acquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.max > 0 && g.current >= g.max {
		return false
	}
	g.current++
	return true
}

// Release returns a slot claimed by Acquire.
func (g *ConnGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current > 0 {
		g.current--
	}
}

// Current returns the number of held slots.
func (g *ConnGate) Current() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}
