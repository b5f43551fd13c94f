// internal/catalog/seed.go
package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	"recordstore/internal/logging"
	"recordstore/internal/store"
)

//go:embed data/records.json
var defaultSeed []byte

// DefaultSeed returns the built-in initial catalog.
func DefaultSeed() ([]SeedEntry, error) {
	var entries []SeedEntry
	if err := json.Unmarshal(defaultSeed, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode built-in seed: %w", err)
	}
	return entries, nil
}

// LoadSeed decodes a JSON array of seed entries.
func LoadSeed(r io.Reader) ([]SeedEntry, error) {
	var entries []SeedEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode seed: %w", err)
	}
	return entries, nil
}

// LoadSeedFile reads seed entries from path, or the built-in set when path
// is empty.
func LoadSeedFile(path string) ([]SeedEntry, error) {
	if path == "" {
		return DefaultSeed()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadSeed(f)
}

// EnsureIndexes creates the unique (artist, album) index and the lookup
// indexes. Every index is attempted even if an earlier one fails.
func (s *service) EnsureIndexes(ctx context.Context) error {
	specs := []store.IndexSpec{
		{Name: ArtistAlbumIndex, Fields: []string{"artist", "album"}, Kind: store.IndexUnique},
		{Name: MBIDIndex, Fields: []string{"mbid"}},
		{Name: FormatIndex, Fields: []string{"format"}},
		{Name: CategoryIndex, Fields: []string{"category"}},
	}
	var errs []error
	for _, spec := range specs {
		if err := s.records.EnsureIndex(ctx, spec); err != nil {
			errs = append(errs, fmt.Errorf("index %s: %w", spec.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Seed loads entries into an empty catalog. Entries that collide with an
// existing (artist, album) are skipped; the rest are inserted.
func (s *service) Seed(ctx context.Context, entries []SeedEntry) (int, error) {
	ctx, span := tracer.Start(ctx, "catalog.Seed")
	defer span.End()
	log := logging.Ctx(ctx)

	if err := s.EnsureIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to ensure record indexes")
	}

	n, err := s.records.Count(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	if n > 0 {
		log.Info().Int("existing", n).Msg("catalog not empty, skipping seed")
		return 0, nil
	}

	now := s.now()
	docs := make([]store.Document, 0, len(entries))
	for _, e := range entries {
		doc, err := store.Encode(e.record(now))
		if err != nil {
			return 0, err
		}
		docs = append(docs, doc)
	}

	inserted, err := s.records.InsertMany(ctx, docs, store.InsertManyOptions{ContinueOnError: true})
	var bulk *store.BulkError
	if errors.As(err, &bulk) {
		for _, f := range bulk.Failures {
			if !errors.Is(f.Err, store.ErrDuplicate) {
				return len(inserted), fmt.Errorf("failed to seed records: %w", err)
			}
			log.Warn().
				Str("artist", entries[f.Index].Artist).
				Str("album", entries[f.Index].Album).
				Msg("skipping duplicate seed record")
		}
	} else if err != nil {
		return len(inserted), fmt.Errorf("failed to seed records: %w", err)
	}

	s.invalidate(ctx, "")
	log.Info().Int("inserted", len(inserted)).Msg("catalog seeded")
	return len(inserted), nil
}

// Reset deletes every record and flushes the cache.
func (s *service) Reset(ctx context.Context) (int, error) {
	docs, err := s.records.Find(ctx, nil, []string{store.IDField}, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list records: %w", err)
	}
	for _, d := range docs {
		if err := s.records.DeleteByID(ctx, d.ID()); err != nil {
			return 0, fmt.Errorf("failed to delete record %s: %w", d.ID(), err)
		}
	}
	if err := s.cache.Clear(ctx); err != nil {
		return len(docs), fmt.Errorf("failed to clear cache: %w", err)
	}
	return len(docs), nil
}
