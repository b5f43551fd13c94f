// cmd/seed/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"recordstore/internal/cache"
	"recordstore/internal/catalog"
	"recordstore/internal/clients"
	"recordstore/internal/config"
	"recordstore/internal/logging"
	"recordstore/internal/store"
)

func main() {
	path := flag.String("file", "", "seed file (JSON array); defaults to the built-in catalog")
	clean := flag.Bool("clean", false, "delete every record before seeding")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := seed(ctx, cfg, *path, *clean); err != nil {
		logging.Fatal().Err(err).Msg("seeding failed")
	}
}

func seed(ctx context.Context, cfg *config.Config, path string, clean bool) error {
	if path == "" {
		path = cfg.Seed.Path
	}
	entries, err := catalog.LoadSeedFile(path)
	if err != nil {
		return err
	}

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

	svc := catalog.NewService(st.Collection(catalog.RecordsCollection), c, clients.NewMusicBrainzClient(cfg.MusicBrainz))
	if clean {
		removed, err := svc.Reset(ctx)
		if err != nil {
			return err
		}
		logging.Info().Int("removed", removed).Msg("catalog cleared")
	}

	inserted, err := svc.Seed(ctx, entries)
	if err != nil {
		return err
	}
	logging.Info().Int("inserted", inserted).Int("entries", len(entries)).Msg("seed complete")
	return nil
}
