package greylist

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemory_DeferThenPass(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewMemory(Config{Delay: 5 * time.Minute, Window: time.Hour})
	g.now = func() time.Time { return clock }
	ctx := context.Background()

	v, err := g.Check(ctx, "203.0.113.7", "sender@example.org", "box@example.com")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if v != Defer {
		t.Fatalf("first sight = %v, want defer", v)
	}

	// An immediate retry is still inside the delay.
	clock = clock.Add(time.Minute)
	if v, _ = g.Check(ctx, "203.0.113.7", "sender@example.org", "box@example.com"); v != Defer {
		t.Errorf("retry at 1m = %v, want defer", v)
	}

	clock = clock.Add(5 * time.Minute)
	if v, _ = g.Check(ctx, "203.0.113.7", "sender@example.org", "box@example.com"); v != Pass {
		t.Errorf("retry at 6m = %v, want pass", v)
	}
}

func TestMemory_TriplesAreIndependent(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewMemory(Config{Delay: 5 * time.Minute, Window: time.Hour})
	g.now = func() time.Time { return clock }
	ctx := context.Background()

	g.Check(ctx, "203.0.113.7", "a@example.org", "box@example.com")
	clock = clock.Add(10 * time.Minute)

	// Same IP, different sender: its own clock.
	if v, _ := g.Check(ctx, "203.0.113.7", "b@example.org", "box@example.com"); v != Defer {
		t.Errorf("new sender = %v, want defer", v)
	}
	if v, _ := g.Check(ctx, "203.0.113.7", "a@example.org", "box@example.com"); v != Pass {
		t.Errorf("known sender = %v, want pass", v)
	}
}

func TestMemory_SenderCaseDoesNotResetClock(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewMemory(Config{Delay: 5 * time.Minute, Window: time.Hour})
	g.now = func() time.Time { return clock }
	ctx := context.Background()

	g.Check(ctx, "203.0.113.7", "Sender@Example.Org", "box@example.com")
	clock = clock.Add(10 * time.Minute)

	if v, _ := g.Check(ctx, "203.0.113.7", "sender@example.org", "box@example.com"); v != Pass {
		t.Errorf("case-folded retry = %v, want pass", v)
	}
}

func TestMemory_WindowLapseRestartsDelay(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewMemory(Config{Delay: 5 * time.Minute, Window: time.Hour})
	g.now = func() time.Time { return clock }
	ctx := context.Background()

	g.Check(ctx, "203.0.113.7", "a@example.org", "box@example.com")
	clock = clock.Add(2 * time.Hour)

	if v, _ := g.Check(ctx, "203.0.113.7", "a@example.org", "box@example.com"); v != Defer {
		t.Errorf("after window lapse = %v, want defer", v)
	}
}

func TestMemory_Sweep(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewMemory(Config{Delay: 5 * time.Minute, Window: time.Hour})
	g.now = func() time.Time { return clock }
	ctx := context.Background()

	g.Check(ctx, "203.0.113.7", "a@example.org", "box@example.com")
	clock = clock.Add(30 * time.Minute)
	g.Check(ctx, "203.0.113.8", "b@example.org", "box@example.com")

	clock = clock.Add(45 * time.Minute)
	if dropped := g.Sweep(); dropped != 1 {
		t.Errorf("Sweep dropped %d, want 1", dropped)
	}
	if g.Len() != 1 {
		t.Errorf("Len = %d, want 1", g.Len())
	}
}

func TestRedis_DeferThenPass(t *testing.T) {
	srv := miniredis.RunT(t)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	g, err := NewRedis(context.Background(),
		Config{Delay: 5 * time.Minute, Window: time.Hour},
		RedisOptions{Addr: srv.Addr()})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer g.Close()
	g.now = func() time.Time { return clock }
	ctx := context.Background()

	if v, err := g.Check(ctx, "203.0.113.7", "a@example.org", "box@example.com"); err != nil || v != Defer {
		t.Fatalf("first sight = %v, %v; want defer, nil", v, err)
	}

	clock = clock.Add(time.Minute)
	if v, _ := g.Check(ctx, "203.0.113.7", "a@example.org", "box@example.com"); v != Defer {
		t.Errorf("retry at 1m = %v, want defer", v)
	}

	clock = clock.Add(5 * time.Minute)
	if v, _ := g.Check(ctx, "203.0.113.7", "a@example.org", "box@example.com"); v != Pass {
		t.Errorf("retry at 6m = %v, want pass", v)
	}
}

func TestRedis_WindowExpiryViaTTL(t *testing.T) {
	srv := miniredis.RunT(t)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	g, err := NewRedis(context.Background(),
		Config{Delay: 5 * time.Minute, Window: time.Hour},
		RedisOptions{Addr: srv.Addr()})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer g.Close()
	g.now = func() time.Time { return clock }
	ctx := context.Background()

	g.Check(ctx, "203.0.113.7", "a@example.org", "box@example.com")

	// Let the key's TTL lapse. The triple is forgotten and deferred
	// again.
	srv.FastForward(2 * time.Hour)
	clock = clock.Add(2 * time.Hour)

	if v, _ := g.Check(ctx, "203.0.113.7", "a@example.org", "box@example.com"); v != Defer {
		t.Errorf("after TTL lapse = %v, want defer", v)
	}
}

func TestRedis_ConnectFailure(t *testing.T) {
	_, err := NewRedis(context.Background(), DefaultConfig(),
		RedisOptions{Addr: "127.0.0.1:1"})
	if err == nil {
		t.Fatal("NewRedis to a closed port succeeded")
	}
}
