// internal/catalog/service.go
package catalog

import (
	"context"

	"recordstore/internal/metadata"
)

// Service defines the interface for the catalog service.
type Service interface {
	Create(ctx context.Context, in CreateInput) (*Record, error)
	Update(ctx context.Context, id string, in UpdateInput) (*Record, error)
	Delete(ctx context.Context, id string) error
	FindOne(ctx context.Context, id string) (*Record, error)
	FindByMBID(ctx context.Context, mbid string) (*Record, error)
	Query(ctx context.Context, params QueryParams) (*Page, error)

	LookupMetadata(ctx context.Context, mbid string) (*metadata.Release, error)
	SearchMetadata(ctx context.Context, query string) ([]metadata.SearchResult, error)

	// InvalidateRecord drops the cached views of a record after an
	// out-of-band change such as an order decrementing its stock.
	InvalidateRecord(ctx context.Context, id, mbid string) error

	EnsureIndexes(ctx context.Context) error
	Seed(ctx context.Context, entries []SeedEntry) (int, error)
	Reset(ctx context.Context) (int, error)
}

// Fetcher retrieves raw MusicBrainz payloads.
type Fetcher interface {
	FetchRelease(ctx context.Context, mbid string) (string, error)
	SearchReleases(ctx context.Context, query string) (string, error)
}
