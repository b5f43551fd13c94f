// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"recordstore/internal/cache"
	"recordstore/internal/logging"
	"recordstore/internal/metadata"
	"recordstore/internal/metrics"
	"recordstore/internal/store"
	"recordstore/internal/validation"
)

var errMalformedPayload = errors.New("malformed musicbrainz payload")

var tracer = otel.Tracer("recordstore/catalog")

// service implements the Service interface.
type service struct {
	records store.Collection
	cache   cache.Cache
	fetcher Fetcher
	now     func() time.Time

	textIndexReady atomic.Bool
}

// NewService creates a new catalog service instance.
func NewService(records store.Collection, c cache.Cache, fetcher Fetcher) Service {
	return &service{
		records: records,
		cache:   c,
		fetcher: fetcher,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a new user-created record, enriching it first when an
// MBID is supplied.
func (s *service) Create(ctx context.Context, in CreateInput) (*Record, error) {
	ctx, span := tracer.Start(ctx, "catalog.Create", trace.WithAttributes(
		attribute.String("record.mbid", in.MBID),
	))
	defer span.End()

	if err := validation.Struct(&in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	_, err := s.records.FindOne(ctx, store.Filter{
		store.Where("artist", store.Equals, in.Artist),
		store.Where("album", store.Equals, in.Album),
	})
	switch {
	case err == nil:
		return nil, ErrConflict
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to check for duplicate record: %w", err)
	}

	if in.MBID != "" {
		in.enrich(s.enrichment(ctx, in.MBID))
	}

	doc, err := store.Encode(in.record(s.now()))
	if err != nil {
		return nil, err
	}
	saved, err := s.records.Insert(ctx, doc)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrConflict
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to insert record: %w", err)
	}

	s.invalidate(ctx, "")
	return decodeRecord(saved)
}

// Update applies a partial update. A changed MBID triggers re-enrichment; an
// unchanged one never reaches MusicBrainz.
func (s *service) Update(ctx context.Context, id string, in UpdateInput) (*Record, error) {
	ctx, span := tracer.Start(ctx, "catalog.Update", trace.WithAttributes(
		attribute.String("record.id", id),
	))
	defer span.End()

	if err := validation.Struct(&in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	current, err := s.records.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	previousMBID, _ := current["mbid"].(string)

	if in.MBID != nil && *in.MBID != "" && *in.MBID != previousMBID {
		in.enrich(s.enrichment(ctx, *in.MBID))
	}

	updated, err := s.records.UpdateByID(ctx, id, in.patch(s.now()))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, store.ErrDuplicate):
			return nil, ErrConflict
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to update record: %w", err)
	}

	mbids := []string{previousMBID}
	if in.MBID != nil {
		mbids = append(mbids, *in.MBID)
	}
	s.invalidate(ctx, id, mbids...)
	return decodeRecord(updated)
}

// Delete removes a record and every cached view of it. Deleting an unknown
// id is a no-op.
func (s *service) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "catalog.Delete", trace.WithAttributes(
		attribute.String("record.id", id),
	))
	defer span.End()

	var mbid string
	current, err := s.records.FindByID(ctx, id)
	switch {
	case err == nil:
		mbid, _ = current["mbid"].(string)
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("failed to get record: %w", err)
	}

	if err := s.records.DeleteByID(ctx, id); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete record: %w", err)
	}

	s.invalidate(ctx, id, mbid)
	return nil
}

func (s *service) FindOne(ctx context.Context, id string) (*Record, error) {
	return s.lookup(ctx, cache.RecordKey(id), func() (store.Document, error) {
		return s.records.FindByID(ctx, id)
	})
}

func (s *service) FindByMBID(ctx context.Context, mbid string) (*Record, error) {
	return s.lookup(ctx, cache.RecordMBIDKey(mbid), func() (store.Document, error) {
		return s.records.FindOne(ctx, store.Filter{store.Where("mbid", store.Equals, mbid)})
	})
}

// lookup is cache-aside for single records. Only hits are cached.
func (s *service) lookup(ctx context.Context, key string, load func() (store.Document, error)) (*Record, error) {
	var rec Record
	ok, err := cache.GetJSON(ctx, s.cache, key, &rec)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache read failed")
	} else if ok {
		return &rec, nil
	}

	doc, err := load()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	found, err := decodeRecord(doc)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, found, cache.RecordTTL); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return found, nil
}

// Query returns one page of records matching params. Results are cached by
// query signature and may be stale for up to cache.QueryTTL.
func (s *service) Query(ctx context.Context, params QueryParams) (*Page, error) {
	ctx, span := tracer.Start(ctx, "catalog.Query")
	defer span.End()

	p := params.normalize()
	key := cache.QueryKey(Signature(p))
	span.SetAttributes(attribute.String("query.signature", key))

	var page Page
	ok, err := cache.GetJSON(ctx, s.cache, key, &page)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache read failed")
	} else if ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return &page, nil
	}

	filter := p.filter()
	skip, inRange := p.skip()
	var (
		total int
		docs  []store.Document
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.records.Count(gctx, filter)
		total = n
		return err
	})
	g.Go(func() error {
		if !inRange {
			return nil
		}
		found, err := s.records.Find(gctx, filter, p.Fields, skip, p.Limit)
		docs = found
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, store.ErrInvalidField) {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	s.ensureTextIndex(ctx)

	if docs == nil {
		docs = []store.Document{}
	}
	page = Page{
		Records:    docs,
		Total:      total,
		Page:       p.Page,
		TotalPages: totalPages(total, p.Limit),
	}
	if err := cache.SetJSON(ctx, s.cache, key, page, cache.QueryTTL); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return &page, nil
}

// ensureTextIndex creates TextIndex on first use. Failure only costs
// performance, so it is logged and retried on a later query.
func (s *service) ensureTextIndex(ctx context.Context) {
	if s.textIndexReady.Load() {
		return
	}
	log := logging.Ctx(ctx)
	if exists, err := s.records.IndexExists(ctx, TextIndex); err == nil && exists {
		s.textIndexReady.Store(true)
		return
	}
	err := s.records.EnsureIndex(ctx, store.IndexSpec{
		Name:   TextIndex,
		Fields: textFields,
		Kind:   store.IndexText,
	})
	if err != nil {
		log.Warn().Err(err).Str("index", TextIndex).Msg("failed to ensure text index")
		return
	}
	s.textIndexReady.Store(true)
	log.Info().Str("index", TextIndex).Msg("text index created")
}

// LookupMetadata resolves a release directly. Unlike enrichment, any
// failure is reported as ErrNotFound.
func (s *service) LookupMetadata(ctx context.Context, mbid string) (*metadata.Release, error) {
	ctx, span := tracer.Start(ctx, "catalog.LookupMetadata", trace.WithAttributes(
		attribute.String("record.mbid", mbid),
	))
	defer span.End()

	rel, err := s.release(ctx, mbid)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("mbid", mbid).Msg("musicbrainz lookup failed")
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return rel, nil
}

func (s *service) SearchMetadata(ctx context.Context, query string) ([]metadata.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "catalog.SearchMetadata")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is required", ErrValidation)
	}
	key := cache.MusicBrainzSearchKey(strings.ToLower(query))

	var results []metadata.SearchResult
	ok, err := cache.GetJSON(ctx, s.cache, key, &results)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache read failed")
	} else if ok {
		return results, nil
	}

	payload, err := s.fetcher.SearchReleases(ctx, query)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("query", query).Msg("musicbrainz search failed")
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	results = metadata.ParseSearch(payload)
	if results == nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, errMalformedPayload)
	}
	if err := cache.SetJSON(ctx, s.cache, key, results, cache.MusicBrainzTTL); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return results, nil
}

func (s *service) InvalidateRecord(ctx context.Context, id, mbid string) error {
	return s.purge(ctx, id, mbid)
}

// enrichment fetches release metadata for a mutation. Failures are logged
// and yield nil so the mutation proceeds with the caller's fields.
func (s *service) enrichment(ctx context.Context, mbid string) *metadata.Release {
	rel, err := s.release(ctx, mbid)
	if err != nil {
		metrics.EnrichmentSkipped.Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("mbid", mbid).Msg("continuing without musicbrainz metadata")
		return nil
	}
	return rel
}

// release returns the parsed release for mbid. The raw payload is cached
// once it parses; the fetch delay is only paid on a miss.
func (s *service) release(ctx context.Context, mbid string) (*metadata.Release, error) {
	key := cache.MusicBrainzKey(mbid)
	payload, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache read failed")
	} else if ok {
		if rel := metadata.ParseRelease(string(payload)); rel != nil {
			return rel, nil
		}
	}

	body, err := s.fetcher.FetchRelease(ctx, mbid)
	if err != nil {
		return nil, err
	}
	rel := metadata.ParseRelease(body)
	if rel == nil {
		return nil, errMalformedPayload
	}
	if err := s.cache.Set(ctx, key, []byte(body), cache.MusicBrainzTTL); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return rel, nil
}

// invalidate purges after a mutation has been persisted; cache failures are
// logged rather than failing the mutation.
func (s *service) invalidate(ctx context.Context, id string, mbids ...string) {
	if err := s.purge(ctx, id, mbids...); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("record_id", id).Msg("cache invalidation failed")
	}
}

// purge drops the list namespace, the id entry (when id is set) and the
// entry of every distinct non-empty mbid.
func (s *service) purge(ctx context.Context, id string, mbids ...string) error {
	var errs []error
	if id != "" {
		errs = append(errs, s.cache.Delete(ctx, cache.RecordKey(id)))
	}
	seen := make(map[string]bool, len(mbids))
	for _, mbid := range mbids {
		if mbid == "" || seen[mbid] {
			continue
		}
		seen[mbid] = true
		errs = append(errs, s.cache.Delete(ctx, cache.RecordMBIDKey(mbid)))
	}
	errs = append(errs, s.cache.DeletePrefix(ctx, cache.PrefixRecords))
	return errors.Join(errs...)
}

func decodeRecord(doc store.Document) (*Record, error) {
	var rec Record
	if err := store.Decode(doc, &rec); err != nil {
		return nil, err
	}
	if rec.TrackList == nil {
		rec.TrackList = []Track{}
	}
	return &rec, nil
}
