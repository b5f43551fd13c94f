// internal/catalog/domain.go
package catalog

import (
	"errors"
	"time"

	"recordstore/internal/metadata"
	"recordstore/internal/store"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrConflict   = errors.New("record with this artist and album already exists")
	ErrValidation = errors.New("invalid record")
)

// Collection names.
const (
	RecordsCollection = "records"
)

// Index names.
const (
	TextIndex        = "textIndex"
	ArtistAlbumIndex = "artist_album"
	MBIDIndex        = "mbid"
	FormatIndex      = "format"
	CategoryIndex    = "category"
)

type Format string

const (
	FormatVinyl    Format = "Vinyl"
	FormatCD       Format = "CD"
	FormatCassette Format = "Cassette"
	FormatDigital  Format = "Digital"
)

type Category string

const (
	CategoryRock        Category = "Rock"
	CategoryJazz        Category = "Jazz"
	CategoryHipHop      Category = "Hip-Hop"
	CategoryClassical   Category = "Classical"
	CategoryPop         Category = "Pop"
	CategoryAlternative Category = "Alternative"
	CategoryIndie       Category = "Indie"
)

// Track is owned by its record and replaced wholesale on re-enrichment.
type Track = metadata.Track

// Record is a catalog entry.
type Record struct {
	ID            string    `json:"id,omitempty"`
	Artist        string    `json:"artist"`
	Album         string    `json:"album"`
	Price         float64   `json:"price"`
	Qty           int       `json:"qty"`
	Format        Format    `json:"format"`
	Category      Category  `json:"category"`
	MBID          string    `json:"mbid,omitempty"`
	TrackList     []Track   `json:"trackList"`
	Created       time.Time `json:"created"`
	LastModified  time.Time `json:"lastModified"`
	IsUserCreated bool      `json:"isUserCreated"`
}

// CreateInput holds the fields accepted when creating a record.
type CreateInput struct {
	Artist    string   `json:"artist" validate:"required"`
	Album     string   `json:"album" validate:"required"`
	Price     float64  `json:"price" validate:"gte=0,lte=10000"`
	Qty       int      `json:"qty" validate:"gte=0,lte=100"`
	Format    Format   `json:"format" validate:"required,oneof=Vinyl CD Cassette Digital"`
	Category  Category `json:"category" validate:"required,oneof=Rock Jazz Hip-Hop Classical Pop Alternative Indie"`
	MBID      string   `json:"mbid,omitempty"`
	TrackList []Track  `json:"trackList,omitempty"`
}

// UpdateInput is a partial update. Nil fields are left unchanged.
type UpdateInput struct {
	Artist    *string   `json:"artist,omitempty" validate:"omitempty,min=1"`
	Album     *string   `json:"album,omitempty" validate:"omitempty,min=1"`
	Price     *float64  `json:"price,omitempty" validate:"omitempty,gte=0,lte=10000"`
	Qty       *int      `json:"qty,omitempty" validate:"omitempty,gte=0,lte=100"`
	Format    *Format   `json:"format,omitempty" validate:"omitempty,oneof=Vinyl CD Cassette Digital"`
	Category  *Category `json:"category,omitempty" validate:"omitempty,oneof=Rock Jazz Hip-Hop Classical Pop Alternative Indie"`
	MBID      *string   `json:"mbid,omitempty"`
	TrackList *[]Track  `json:"trackList,omitempty"`
}

// QueryParams are the optional filters of a catalog query. Empty strings are
// the same as absent.
type QueryParams struct {
	Q        string
	Artist   string
	Album    string
	Format   string
	Category string
	Page     int
	Limit    int
	// Fields restricts returned attributes; the id is always included.
	Fields []string
}

// Page is one page of query results.
type Page struct {
	Records    []store.Document `json:"records"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	TotalPages int              `json:"totalPages"`
}

// SeedEntry is one record of the initial catalog.
type SeedEntry struct {
	Artist    string   `json:"artist"`
	Album     string   `json:"album"`
	Price     float64  `json:"price"`
	Qty       int      `json:"qty"`
	Format    Format   `json:"format"`
	Category  Category `json:"category"`
	MBID      string   `json:"mbid,omitempty"`
	TrackList []Track  `json:"trackList,omitempty"`
}
