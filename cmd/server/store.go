package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xtding233/gratonite-lab/internal/config"
	"github.com/xtding233/gratonite-lab/internal/storage"
	"github.com/xtding233/gratonite-lab/internal/storage/file"
	"github.com/xtding233/gratonite-lab/internal/storage/memory"
	"github.com/xtding233/gratonite-lab/internal/storage/postgres"
	"github.com/xtding233/gratonite-lab/internal/storage/sqlite"
)

// openStore builds the adapter named by cfg.Driver. The returned close func is
// never nil.
func openStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Store, func(), error) {
	noop := func() {}
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory storage, progress is lost on exit")
		return memory.New(), noop, nil
	case "file":
		s, err := file.Open(cfg.Path)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.Path, cfg.Profile)
		if err != nil {
			return nil, noop, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("closing sqlite store", zap.Error(err))
			}
		}, nil
	case "postgres":
		s, err := postgres.Open(ctx, cfg.DSN, cfg.Profile)
		if err != nil {
			return nil, noop, err
		}
		if err := s.Health(ctx, cfg.SaveTimeout); err != nil {
			s.Close()
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
