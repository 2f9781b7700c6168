package main

import (
	"fmt"

	"github.com/vhqtvn/vh-mail-hook/internal/config"
	"github.com/vhqtvn/vh-mail-hook/internal/storage"
	"github.com/vhqtvn/vh-mail-hook/internal/storage/gormstore"
	"github.com/vhqtvn/vh-mail-hook/internal/storage/memory"
)

// openStore creates the configured storage backend.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite", "postgres":
		return gormstore.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
