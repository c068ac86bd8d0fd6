package main

import (
	"context"
	"log/slog"

	"github.com/Shivanand-hulikatti/event-registration/internal/config"
	"github.com/Shivanand-hulikatti/event-registration/internal/database"
	"github.com/Shivanand-hulikatti/event-registration/internal/repository"
	"github.com/Shivanand-hulikatti/event-registration/internal/repository/memstore"
)

// openStore connects the store selected by STORE_DRIVER. The returned
// close function releases its resources.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (repository.Store, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using in-memory store; data is lost on exit")
		return memstore.New(), func() {}, nil
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, database.Options{MaxConns: cfg.DBMaxConns})
	if err != nil {
		return nil, nil, err
	}
	log.Info("connected to postgres")
	return repository.NewPostgres(pool), pool.Close, nil
}
