package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vhqtvn/vh-mail-hook/internal/config"
	"github.com/vhqtvn/vh-mail-hook/internal/retention"
)

// runSweep performs a single expiry pass and exits. Useful from cron or
// for operators who want a sweep outside the regular schedule.
func runSweep() {
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

	store, err := openStore(&cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	scheduler := retention.New(retention.Config{Store: store})
	deleted, err := scheduler.Sweep(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("expired %d emails\n", deleted)
}
