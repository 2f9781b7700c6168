package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/vhqtvn/vh-mail-hook/internal/address"
	"github.com/vhqtvn/vh-mail-hook/internal/config"
	"github.com/vhqtvn/vh-mail-hook/internal/dkim"
	"github.com/vhqtvn/vh-mail-hook/internal/greylist"
	"github.com/vhqtvn/vh-mail-hook/internal/logging"
	"github.com/vhqtvn/vh-mail-hook/internal/mailbox"
	"github.com/vhqtvn/vh-mail-hook/internal/message"
	"github.com/vhqtvn/vh-mail-hook/internal/metrics"
	"github.com/vhqtvn/vh-mail-hook/internal/retention"
	"github.com/vhqtvn/vh-mail-hook/internal/server"
	"github.com/vhqtvn/vh-mail-hook/internal/smtp"
)

func runServe() {
	flags := config.ParseFlags()

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(&cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening storage: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("error closing storage", "error", err)
		}
	}()

	var collector metrics.Collector = &metrics.NoopCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	gl, err := buildGreylist(ctx, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error connecting greylist backend: %v\n", err)
		os.Exit(1)
	}
	if gl != nil {
		defer func() {
			if err := gl.Close(); err != nil {
				logger.Error("error closing greylist", "error", err)
			}
		}()
	}

	srv, err := server.New(&cfg, logger, collector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating server: %v\n", err)
		os.Exit(1)
	}

	directory := mailbox.NewStoreDirectory(store, cfg.Domains.Names)
	matcher := address.NewMatcher(directory, addressPolicy(&cfg))
	verifier := dkim.NewVerifier(dkim.GetMode(cfg.DKIM.Mode))
	parser := message.NewParser(int64(cfg.Limits.MaxMessageSize))
	pipeline := smtp.NewPipeline(parser, store, verifier, collector, cfg.Retention.ExpiryDuration())

	sessionCfg := smtp.DefaultSessionConfig()
	sessionCfg.MaxRecipients = cfg.Limits.MaxRecipients
	sessionCfg.MaxMessageSize = int64(cfg.Limits.MaxMessageSize)

	srv.SetHandler(smtp.Handler(smtp.HandlerConfig{
		Hostname: cfg.Hostname,
		Registry: smtp.NewCommandRegistry(smtp.RegistryDeps{
			Hostname:       cfg.Hostname,
			Matcher:        matcher,
			Greylist:       gl,
			Collector:      collector,
			MaxMessageSize: int64(cfg.Limits.MaxMessageSize),
			TLSConfig:      srv.TLSConfig(),
		}),
		Pipeline:  pipeline,
		Collector: collector,
		Session:   sessionCfg,
		TLSConfig: srv.TLSConfig(),
	}))

	scheduler := retention.New(retention.Config{
		Store:     store,
		Interval:  cfg.Retention.SweepEvery(),
		Collector: collector,
		Logger:    logger,
	})

	logger.Info("starting mailhookd",
		"hostname", cfg.Hostname,
		"listeners", len(cfg.Listeners),
		"domains", cfg.Domains.Names,
		"storage", cfg.Storage.Driver)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewPrometheusServer(cfg.Metrics.Address, cfg.Metrics.Path)
		g.Go(func() error { return metricsServer.Start(ctx) })
	}

	if mem, ok := gl.(*greylist.Memory); ok {
		g.Go(func() error { return runGreylistSweeper(ctx, mem, cfg.Greylist.WindowDuration()) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// addressPolicy translates the domains section into a matcher policy.
func addressPolicy(cfg *config.Config) address.Policy {
	policy := address.DefaultPolicy()
	if cfg.Domains.TagSeparator != "" {
		policy.TagSeparator = cfg.Domains.TagSeparator[0]
	}
	policy.StripTags = !cfg.Domains.KeepTags
	return policy
}

// buildGreylist creates the configured greylist backend, or nil when
// greylisting is disabled.
func buildGreylist(ctx context.Context, cfg *config.Config) (greylist.List, error) {
	if !cfg.Greylist.Enabled {
		return nil, nil
	}

	gcfg := greylist.Config{
		Delay:  cfg.Greylist.DelayDuration(),
		Window: cfg.Greylist.WindowDuration(),
	}

	if cfg.Greylist.RedisAddr != "" {
		return greylist.NewRedis(ctx, gcfg, greylist.RedisOptions{
			Addr:     cfg.Greylist.RedisAddr,
			Password: cfg.Greylist.RedisPassword,
			DB:       cfg.Greylist.RedisDB,
		})
	}
	return greylist.NewMemory(gcfg), nil
}

// runGreylistSweeper drops lapsed in-memory greylist entries. The Redis
// backend expires entries by TTL and needs no sweeper.
func runGreylistSweeper(ctx context.Context, mem *greylist.Memory, window time.Duration) error {
	interval := window / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			mem.Sweep()
		}
	}
}
