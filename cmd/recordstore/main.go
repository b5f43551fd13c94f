// cmd/recordstore/main.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"recordstore/internal/cache"
	"recordstore/internal/catalog"
	"recordstore/internal/clients"
	"recordstore/internal/config"
	"recordstore/internal/logging"
	"recordstore/internal/ordering"
	"recordstore/internal/server"
	"recordstore/internal/store"
	"recordstore/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("record store stopped")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logging.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	c, err := cache.OpenBadger(cfg.Cache.Dir)
	if err != nil {
		return err
	}
	defer c.Close()

	records := st.Collection(catalog.RecordsCollection)
	catalogSvc := catalog.NewService(records, c, clients.NewMusicBrainzClient(cfg.MusicBrainz))
	orderingSvc := ordering.NewService(records, st.Collection(ordering.OrdersCollection), catalogSvc)

	if err := catalogSvc.EnsureIndexes(ctx); err != nil {
		logging.Warn().Err(err).Msg("failed to ensure indexes")
	}
	if cfg.Seed.Enabled {
		entries, err := catalog.LoadSeedFile(cfg.Seed.Path)
		if err != nil {
			return err
		}
		if _, err := catalogSvc.Seed(ctx, entries); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr: net.JoinHostPort("", cfg.Server.Port),
		Handler: server.NewRouter(server.Options{
			Catalog:           catalogSvc,
			Ordering:          orderingSvc,
			Health:            st.Ping,
			RateLimitRequests: cfg.Server.RateLimitRequests,
			RateLimitWindow:   cfg.Server.RateLimitWindow,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Str("driver", cfg.Database.Driver).Msg("record store listening")
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

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
