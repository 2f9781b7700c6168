package greylist

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Redis is a List backed by a shared Redis instance so several receiving
// servers see the same triples.
type Redis struct {
	cfg    Config
	client *goredis.Client
	prefix string
	now    func() time.Time
}

// RedisOptions configures the Redis-backed greylist.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces greylist keys. Defaults to "greylist:".
	KeyPrefix string
}

// NewRedis connects to Redis and verifies the connection before
// returning.
func NewRedis(ctx context.Context, cfg Config, opts RedisOptions) (*Redis, error) {
	cfg.normalize()
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "greylist:"
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("greylist: connecting to redis at %s: %w", opts.Addr, err)
	}

	return &Redis{
		cfg:    cfg,
		client: client,
		prefix: opts.KeyPrefix,
		now:    time.Now,
	}, nil
}

// Check implements List. The first sight of a triple stores its
// timestamp with the tracking window as TTL; the TTL also handles
// expiry so no sweeper is needed.
func (r *Redis) Check(ctx context.Context, ip, from, to string) (Verdict, error) {
	k := r.prefix + key(ip, from, to)
	now := r.now()

	created, err := r.client.SetNX(ctx, k, now.Unix(), r.cfg.Window).Result()
	if err != nil {
		return Defer, fmt.Errorf("greylist: recording triple: %w", err)
	}
	if created {
		return Defer, nil
	}

	firstSeen, err := r.client.Get(ctx, k).Int64()
	if err != nil {
		// The key expired between SetNX and Get. Treat as new.
		if err == goredis.Nil {
			return Defer, nil
		}
		return Defer, fmt.Errorf("greylist: reading triple: %w", err)
	}

	if now.Sub(time.Unix(firstSeen, 0)) < r.cfg.Delay {
		return Defer, nil
	}
	return Pass, nil
}

// Close implements List.
func (r *Redis) Close() error {
	return r.client.Close()
}
