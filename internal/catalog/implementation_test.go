package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"recordstore/internal/cache"
	"recordstore/internal/clients"
	"recordstore/internal/store"
)

const (
	abbeyRoadMBID = "b84ee12a-09ef-421b-82de-0441a926375b"
	letItBeMBID   = "a5a4d1c4-3f5d-4c2e-9d3a-6c1b1c9e7e0f"
)

// noTitleRelease credits an artist and one track but carries no title.
const noTitleRelease = `<metadata><release>
	<artist-credit><name-credit><artist><name>The Beatles</name></artist></name-credit></artist-credit>
	<medium-list><medium><track-list><track>
		<position>1</position><length>259946</length><recording><title>Come Together</title></recording>
	</track></track-list></medium></medium-list>
</release></metadata>`

const letItBeRelease = `<metadata><release>
	<title>Let It Be</title>
	<artist-credit><name-credit><artist><name>The Beatles</name></artist></name-credit></artist-credit>
	<medium-list><medium><track-list>
		<track><position>1</position><title>Two of Us</title><length>216000</length></track>
		<track><position>2</position><title>Dig a Pony</title><length>234000</length></track>
	</track-list></medium></medium-list>
</release></metadata>`

type fixture struct {
	svc     *service
	records store.Collection
	cache   *spyCache
	fetcher *fakeFetcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	records := store.NewMemory().Collection(RecordsCollection)
	c := newSpyCache()
	f := &fakeFetcher{releases: map[string]string{
		abbeyRoadMBID: noTitleRelease,
		letItBeMBID:   letItBeRelease,
	}}
	svc := NewService(records, c, f).(*service)
	require.NoError(t, svc.EnsureIndexes(context.Background()))
	return &fixture{svc: svc, records: records, cache: c, fetcher: f}
}

func sampleInput() CreateInput {
	return CreateInput{
		Artist:   "Beatles",
		Album:    "Abbey Road (caller)",
		Price:    25,
		Qty:      10,
		Format:   FormatVinyl,
		Category: CategoryRock,
	}
}

func TestClamping(t *testing.T) {
	pages := map[int]int{-3: 1, 0: 1, 1: 1, 7: 7}
	for in, want := range pages {
		assert.Equal(t, want, ClampPage(in), "page %d", in)
	}
	limits := map[int]int{-1: 1, 0: 1, 1: 1, 20: 20, 100: 100, 101: 100, 500: 100}
	for in, want := range limits {
		assert.Equal(t, want, ClampLimit(in), "limit %d", in)
	}
}

func TestSignatureNormalizes(t *testing.T) {
	a := Signature(QueryParams{Q: " jazz ", Page: 0, Limit: 500, Fields: []string{"album", "artist", "album", " "}})
	b := Signature(QueryParams{Q: "jazz", Artist: "", Page: 1, Limit: 100, Fields: []string{"artist", "album"}})
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, Signature(QueryParams{Q: "jazz", Page: 2, Limit: 100, Fields: []string{"artist", "album"}}))
	assert.NotEqual(t,
		Signature(QueryParams{Artist: "a:b", Limit: 20}),
		Signature(QueryParams{Artist: "a", Album: "b", Limit: 20}),
	)
}

func TestCreateOverlaysPresentFieldsOnly(t *testing.T) {
	fx := newFixture(t)
	in := sampleInput()
	in.MBID = abbeyRoadMBID

	rec, err := fx.svc.Create(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "The Beatles", rec.Artist)
	assert.Equal(t, "Abbey Road (caller)", rec.Album)
	require.Len(t, rec.TrackList, 1)
	assert.Equal(t, Track{Title: "Come Together", Position: "1", Duration: 259946}, rec.TrackList[0])
	assert.True(t, rec.IsUserCreated)
	assert.False(t, rec.Created.IsZero())
	assert.Equal(t, rec.Created, rec.LastModified)
	assert.NotEmpty(t, rec.ID)

	assert.True(t, fx.cache.has(cache.MusicBrainzKey(abbeyRoadMBID)))
	assert.Contains(t, fx.cache.prefixes, cache.PrefixRecords)
}

func TestCreateProceedsWhenEnrichmentFails(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.err = fmt.Errorf("%w: connection refused", clients.ErrNetwork)
	in := sampleInput()
	in.MBID = abbeyRoadMBID

	rec, err := fx.svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "Beatles", rec.Artist)
	assert.Equal(t, "Abbey Road (caller)", rec.Album)
	assert.NotNil(t, rec.TrackList)
	assert.Empty(t, rec.TrackList)
	assert.Equal(t, abbeyRoadMBID, rec.MBID)
}

func TestCreateDuplicateConflicts(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	dup := sampleInput()
	dup.MBID = letItBeMBID
	_, err = fx.svc.Create(ctx, dup)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Zero(t, fx.fetcher.total(), "duplicate check must run before enrichment")
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	fx := newFixture(t)
	in := sampleInput()
	in.Format = "8-Track"
	in.Qty = 101

	_, err := fx.svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateWithUnchangedMBIDSkipsFetch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	in := sampleInput()
	in.MBID = letItBeMBID
	rec, err := fx.svc.Create(ctx, in)
	require.NoError(t, err)
	require.Equal(t, 1, fx.fetcher.total())

	require.NoError(t, fx.cache.Clear(ctx))

	mbid := letItBeMBID
	price := 31.5
	updated, err := fx.svc.Update(ctx, rec.ID, UpdateInput{MBID: &mbid, Price: &price})
	require.NoError(t, err)
	assert.Equal(t, 1, fx.fetcher.total())
	assert.Equal(t, 31.5, updated.Price)
	assert.True(t, updated.LastModified.After(rec.Created) || updated.LastModified.Equal(rec.Created))
}

func TestUpdateWithChangedMBIDFetchesOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	rec, err := fx.svc.Create(ctx, sampleInput())
	require.NoError(t, err)
	require.Zero(t, fx.fetcher.total())
	fx.cache.reset()

	mbid := letItBeMBID
	updated, err := fx.svc.Update(ctx, rec.ID, UpdateInput{MBID: &mbid})
	require.NoError(t, err)

	assert.Equal(t, 1, fx.fetcher.total())
	assert.Equal(t, 1, fx.fetcher.callsFor(letItBeMBID))
	assert.Equal(t, "Let It Be", updated.Album)
	assert.Equal(t, "The Beatles", updated.Artist)
	assert.Len(t, updated.TrackList, 2)
	assert.Equal(t, letItBeMBID, updated.MBID)

	deleted := fx.cache.deletedKeys()
	assert.Contains(t, deleted, cache.RecordKey(rec.ID))
	assert.Contains(t, deleted, cache.RecordMBIDKey(letItBeMBID))
	assert.Contains(t, fx.cache.prefixes, cache.PrefixRecords)
}

func TestUpdateMissingRecord(t *testing.T) {
	fx := newFixture(t)
	album := "x"
	_, err := fx.svc.Update(context.Background(), "missing", UpdateInput{Album: &album})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateIntoExistingPairConflicts(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	_, err := fx.svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	other := sampleInput()
	other.Album = "Revolver"
	rec, err := fx.svc.Create(ctx, other)
	require.NoError(t, err)

	album := "Abbey Road (caller)"
	_, err = fx.svc.Update(ctx, rec.ID, UpdateInput{Album: &album})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestDeletePurgesIDAndMBIDKeys(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	in := sampleInput()
	in.MBID = letItBeMBID
	rec, err := fx.svc.Create(ctx, in)
	require.NoError(t, err)

	_, err = fx.svc.FindOne(ctx, rec.ID)
	require.NoError(t, err)
	_, err = fx.svc.FindByMBID(ctx, letItBeMBID)
	require.NoError(t, err)
	require.True(t, fx.cache.has(cache.RecordKey(rec.ID)))
	fx.cache.reset()

	require.NoError(t, fx.svc.Delete(ctx, rec.ID))

	deleted := fx.cache.deletedKeys()
	assert.Contains(t, deleted, cache.RecordKey(rec.ID))
	assert.Contains(t, deleted, cache.RecordMBIDKey(letItBeMBID))
	assert.Contains(t, fx.cache.prefixes, cache.PrefixRecords)

	_, err = fx.svc.FindOne(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, fx.cache.has(cache.MusicBrainzKey(letItBeMBID)), "external metadata survives local deletes")
}

func TestDeleteUnknownIsNoop(t *testing.T) {
	fx := newFixture(t)
	assert.NoError(t, fx.svc.Delete(context.Background(), "missing"))
	assert.Contains(t, fx.cache.deletedKeys(), cache.RecordKey("missing"))
}

func TestLookupsCacheOnlyHits(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.FindOne(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, fx.cache.has(cache.RecordKey("nope")))

	_, err = fx.svc.FindByMBID(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, fx.cache.has(cache.RecordMBIDKey("nope")))

	rec, err := fx.svc.Create(ctx, sampleInput())
	require.NoError(t, err)
	got, err := fx.svc.FindOne(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Album, got.Album)
	assert.True(t, fx.cache.has(cache.RecordKey(rec.ID)))

	// A write that bypasses the service is not seen until the entry expires.
	_, err = fx.records.UpdateByID(ctx, rec.ID, store.Document{"album": "changed"})
	require.NoError(t, err)
	got, err = fx.svc.FindOne(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Album, got.Album)
}

func TestQueryFiltersAndPaginates(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	entries, err := DefaultSeed()
	require.NoError(t, err)
	_, err = fx.svc.Seed(ctx, entries)
	require.NoError(t, err)

	page, err := fx.svc.Query(ctx, QueryParams{Category: "Jazz", Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Records, 2)

	page, err = fx.svc.Query(ctx, QueryParams{Category: "Jazz", Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, 2, page.Page)

	page, err = fx.svc.Query(ctx, QueryParams{Q: "hip-hop", Format: "CD", Limit: DefaultLimit})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "Kendrick Lamar", page.Records[0]["artist"])

	page, err = fx.svc.Query(ctx, QueryParams{Artist: "floyd", Album: "MOON", Limit: DefaultLimit, Fields: []string{"album"}})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, store.Document{"id": page.Records[0]["id"], "album": "The Dark Side of the Moon"}, page.Records[0])
}

func TestQueryServesCachedPageUntilMutation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	params := QueryParams{Q: "beatles", Limit: DefaultLimit}

	page, err := fx.svc.Query(ctx, params)
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	_, err = fx.records.Insert(ctx, store.Document{"artist": "Beatles", "album": "Help!"})
	require.NoError(t, err)
	page, err = fx.svc.Query(ctx, params)
	require.NoError(t, err)
	assert.Zero(t, page.Total, "cached page is served until invalidated")

	_, err = fx.svc.Create(ctx, sampleInput())
	require.NoError(t, err)
	page, err = fx.svc.Query(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestQuerySucceedsWhenIndexCreationFails(t *testing.T) {
	records := &noIndexCollection{Collection: store.NewMemory().Collection(RecordsCollection)}
	svc := NewService(records, newSpyCache(), &fakeFetcher{})
	ctx := context.Background()

	_, err := svc.Create(ctx, sampleInput())
	require.NoError(t, err)

	page, err := svc.Query(ctx, QueryParams{Q: "abbey", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1, records.attempts)
}

func TestQueryCreatesTextIndexOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Query(ctx, QueryParams{Limit: 5})
	require.NoError(t, err)
	ok, err := fx.records.IndexExists(ctx, TextIndex)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, fx.svc.textIndexReady.Load())
}

// total must equal the store's own count for the same predicate.
func TestQueryTotalMatchesStoreCount(t *testing.T) {
	artists := []string{"Miles Davis", "Davis Trio", "Radiohead", "Nas"}
	formats := []Format{FormatVinyl, FormatCD, FormatCassette, FormatDigital}
	categories := []Category{CategoryJazz, CategoryRock, CategoryHipHop, CategoryIndie}

	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		records := store.NewMemory().Collection(RecordsCollection)
		svc := NewService(records, newSpyCache(), &fakeFetcher{})

		n := rapid.IntRange(0, 30).Draw(t, "n")
		for i := 0; i < n; i++ {
			_, err := svc.Create(ctx, CreateInput{
				Artist:   rapid.SampledFrom(artists).Draw(t, "artist"),
				Album:    fmt.Sprintf("Album %d", i),
				Format:   rapid.SampledFrom(formats).Draw(t, "format"),
				Category: rapid.SampledFrom(categories).Draw(t, "category"),
			})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
		}

		params := QueryParams{
			Q:      rapid.SampledFrom([]string{"", "davis", "ROCK", "album 1"}).Draw(t, "q"),
			Artist: rapid.SampledFrom([]string{"", "da", "nas"}).Draw(t, "artistFilter"),
			Format: rapid.SampledFrom([]string{"", "CD", "Vinyl"}).Draw(t, "formatFilter"),
			Page:   rapid.IntRange(-1, 4).Draw(t, "page"),
			Limit:  rapid.IntRange(-5, 150).Draw(t, "limit"),
		}
		page, err := svc.Query(ctx, params)
		if err != nil {
			t.Fatalf("query: %v", err)
		}

		want, err := records.Count(ctx, params.normalize().filter())
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if page.Total != want {
			t.Fatalf("total %d, store count %d", page.Total, want)
		}
		if len(page.Records) > ClampLimit(params.Limit) {
			t.Fatalf("page holds %d records, limit %d", len(page.Records), ClampLimit(params.Limit))
		}
	})
}

func TestSeed(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	entries := []SeedEntry{
		{Artist: "A", Album: "One", Format: FormatCD, Category: CategoryPop},
		{Artist: "A", Album: "One", Format: FormatCD, Category: CategoryPop},
		{Artist: "B", Album: "Two", Format: FormatVinyl, Category: CategoryJazz},
	}

	n, err := fx.svc.Seed(ctx, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	docs, err := fx.records.Find(ctx, nil, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, false, d["isUserCreated"])
	}

	n, err = fx.svc.Seed(ctx, entries)
	require.NoError(t, err)
	assert.Zero(t, n, "non-empty catalog is not reseeded")

	removed, err := fx.svc.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	count, err := fx.records.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLookupMetadata(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	rel, err := fx.svc.LookupMetadata(ctx, letItBeMBID)
	require.NoError(t, err)
	assert.Equal(t, "Let It Be", *rel.Album)

	_, err = fx.svc.LookupMetadata(ctx, letItBeMBID)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.fetcher.callsFor(letItBeMBID), "second lookup is served from cache")

	_, err = fx.svc.LookupMetadata(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	fx.fetcher.releases["garbled"] = "<metadata><release>"
	_, err = fx.svc.LookupMetadata(ctx, "garbled")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, fx.cache.has(cache.MusicBrainzKey("garbled")), "unparseable payloads are not cached")
}

func TestSearchMetadata(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.fetcher.search = `{"releases":[{"id":"r1","score":100,"title":"Let It Be","artist-credit":[{"name":"The Beatles"}]}]}`

	results, err := fx.svc.SearchMetadata(ctx, "Let It Be")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "The Beatles", results[0].Artist)

	_, err = fx.svc.SearchMetadata(ctx, "let it be")
	require.NoError(t, err)
	assert.Equal(t, 1, fx.fetcher.total())

	_, err = fx.svc.SearchMetadata(ctx, "  ")
	assert.ErrorIs(t, err, ErrValidation)

	fx.fetcher.err = errors.New("boom")
	_, err = fx.svc.SearchMetadata(ctx, "something else")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidateRecord(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.svc.InvalidateRecord(context.Background(), "r1", "m1"))
	assert.ElementsMatch(t, []string{cache.RecordKey("r1"), cache.RecordMBIDKey("m1")}, fx.cache.deletedKeys())
	assert.Equal(t, []string{cache.PrefixRecords}, fx.cache.prefixes)
}

func TestCacheWritesUseCategoryTTLs(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	in := sampleInput()
	in.MBID = letItBeMBID
	rec, err := fx.svc.Create(ctx, in)
	require.NoError(t, err)
	d, ok := fx.cache.ttl(cache.MusicBrainzKey(letItBeMBID))
	require.True(t, ok, "enrichment payload cached")
	assert.Equal(t, 24*time.Hour, d)

	_, err = fx.svc.FindOne(ctx, rec.ID)
	require.NoError(t, err)
	d, ok = fx.cache.ttl(cache.RecordKey(rec.ID))
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, d)

	_, err = fx.svc.FindByMBID(ctx, letItBeMBID)
	require.NoError(t, err)
	d, ok = fx.cache.ttl(cache.RecordMBIDKey(letItBeMBID))
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, d)

	_, err = fx.svc.Query(ctx, QueryParams{Q: "beatles", Limit: 5})
	require.NoError(t, err)
	queries := fx.cache.ttlsUnder(cache.PrefixRecords)
	require.Len(t, queries, 1)
	for key, d := range queries {
		assert.Equal(t, time.Minute, d, key)
	}

	fx.fetcher.search = `{"releases":[]}`
	_, err = fx.svc.SearchMetadata(ctx, "Abbey Road")
	require.NoError(t, err)
	d, ok = fx.cache.ttl(cache.MusicBrainzSearchKey("abbey road"))
	require.True(t, ok)
	assert.Equal(t, 24*time.Hour, d)
}

func TestQueryPageBeyondAddressableOffset(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	for _, album := range []string{"One", "Two", "Three"} {
		in := sampleInput()
		in.Album = album
		_, err := fx.svc.Create(ctx, in)
		require.NoError(t, err)
	}

	for _, pg := range []int{math.MaxInt / 10, math.MaxInt} {
		page, err := fx.svc.Query(ctx, QueryParams{Page: pg, Limit: 20})
		require.NoError(t, err)
		assert.Equal(t, pg, page.Page)
		assert.Equal(t, 3, page.Total)
		assert.Equal(t, 1, page.TotalPages)
		assert.Empty(t, page.Records, "page %d", pg)
		assert.NotNil(t, page.Records)
	}

	page, err := fx.svc.Query(ctx, QueryParams{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
}

func TestQueryRejectsInvalidProjection(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.Query(context.Background(), QueryParams{Limit: 5, Fields: []string{"artist", "bad!name"}})
	assert.ErrorIs(t, err, ErrValidation)
}
