package app

import (
	"context"

	"xalpha/internal/storage"
)

// Migrate applies pending schema migrations to the configured store.
func (a *App) Migrate(ctx context.Context) error {
	cfg := a.Config.Database
	cfg.AutoMigrate = false

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	event := a.Logger.Info().Str("driver", cfg.Driver)
	if sqlite, ok := store.(*storage.SQLiteStore); ok {
		event = event.Str("path", sqlite.Path())
	}
	event.Msg("schema up to date")
	return nil
}
