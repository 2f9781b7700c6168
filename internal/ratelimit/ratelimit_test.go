package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestPerIP_BurstThenRefuse(t *testing.T) {
	// 60/min refills one token per second; with burst 3 the first three
	// connections pass and the fourth is refused.
	p := NewPerIP(60, 3)

	for i := 0; i < 3; i++ {
		if !p.Allow("10.0.0.1") {
			t.Fatalf("connection %d refused within burst", i+1)
		}
	}
	if p.Allow("10.0.0.1") {
		t.Error("connection allowed beyond burst")
	}
}

func TestPerIP_IsolatedPerSource(t *testing.T) {
	p := NewPerIP(60, 1)

	if !p.Allow("10.0.0.1") {
		t.Fatal("first IP refused")
	}
	if p.Allow("10.0.0.1") {
		t.Error("first IP allowed beyond burst")
	}
	// A different source has its own bucket.
	if !p.Allow("10.0.0.2") {
		t.Error("second IP refused; buckets not isolated")
	}
}

func TestPerIP_Evict(t *testing.T) {
	p := NewPerIP(60, 1)
	p.Allow("10.0.0.1")
	p.Allow("10.0.0.2")

	if got := p.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}
	if dropped := p.Evict(time.Hour); dropped != 0 {
		t.Errorf("Evict(1h) dropped %d fresh entries", dropped)
	}
	if dropped := p.Evict(0); dropped != 2 {
		t.Errorf("Evict(0) dropped %d, want 2", dropped)
	}
	if got := p.Len(); got != 0 {
		t.Errorf("Len after eviction = %d, want 0", got)
	}
}

func TestConnGate_Cap(t *testing.T) {
	g := NewConnGate(2)

	if !g.Acquire() || !g.Acquire() {
		t.Fatal("acquire within cap refused")
	}
	if g.Acquire() {
		t.Error("acquire beyond cap succeeded")
	}

	g.Release()
	if !g.Acquire() {
		t.Error("acquire after release refused")
	}
}

func TestConnGate_Unlimited(t *testing.T) {
	g := NewConnGate(0)
	for i := 0; i < 100; i++ {
		if !g.Acquire() {
			t.Fatalf("unlimited gate refused at %d", i)
		}
	}
}

func TestConnGate_ReleaseNeverNegative(t *testing.T) {
	g := NewConnGate(1)
	g.Release()
	g.Release()
	if got := g.Current(); got != 0 {
		t.Errorf("Current = %d, want 0", got)
	}
	if !g.Acquire() {
		t.Error("gate broken by spurious releases")
	}
}

func TestConnGate_Concurrent(t *testing.T) {
	g := NewConnGate(10)
	var wg sync.WaitGroup
	var mu sync.Mutex
	peak := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !g.Acquire() {
				return
			}
			mu.Lock()
			if c := g.Current(); c > peak {
				peak = c
			}
			mu.Unlock()
			g.Release()
		}()
	}
	wg.Wait()

	if peak > 10 {
		t.Errorf("peak concurrent holders = %d, want <= 10", peak)
	}
}
