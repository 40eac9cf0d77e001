package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"xalpha/internal/api"
	"xalpha/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// Serve runs the read-only query API until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	return a.serve(ctx, store)
}

func (a *App) serve(ctx context.Context, store storage.Store) error {
	if a.Config.App.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := api.NewHandler(store, a.Config.Roster, a.Metrics, a.Logger)
	engine := api.NewServer(handler, api.Options{
		SecretKey: a.Config.API.SecretKey,
		Metrics:   a.Config.API.Metrics,
	})

	srv := &http.Server{
		Addr:              a.Config.API.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("query api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.Logger.Info().Msg("query api stopped")
	return nil
}
