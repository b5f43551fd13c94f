package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCollectionContract exercises the behaviour every Collection must share.
// newCollection must return an empty collection each call.
func runCollectionContract(t *testing.T, newCollection func(t *testing.T) Collection) {
	ctx := context.Background()

	seed := func(t *testing.T, c Collection) []Document {
		t.Helper()
		docs, err := c.InsertMany(ctx, []Document{
			{"artist": "The Beatles", "album": "Abbey Road", "format": "Vinyl", "category": "Rock", "qty": 10},
			{"artist": "Miles Davis", "album": "Kind of Blue", "format": "CD", "category": "Jazz", "qty": 3},
			{"artist": "Radiohead", "album": "OK Computer", "format": "Vinyl", "category": "Alternative", "qty": 0},
			{"artist": "The Cure", "album": "Disintegration", "format": "Cassette", "category": "Rock", "qty": 5},
		}, InsertManyOptions{})
		require.NoError(t, err)
		require.Len(t, docs, 4)
		return docs
	}

	t.Run("insert assigns id and find by id round trips", func(t *testing.T) {
		c := newCollection(t)
		doc, err := c.Insert(ctx, Document{"artist": "Björk", "album": "Homogenic"})
		require.NoError(t, err)
		require.NotEmpty(t, doc.ID())

		got, err := c.FindByID(ctx, doc.ID())
		require.NoError(t, err)
		assert.Equal(t, "Björk", got["artist"])

		_, err = c.FindByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("filters are ANDed clauses of ORed conditions", func(t *testing.T) {
		c := newCollection(t)
		seed(t, c)

		docs, err := c.Find(ctx, Filter{AnyOf(ContainsFold, "rock", "artist", "album", "category")}, nil, 0, 0)
		require.NoError(t, err)
		assert.Len(t, docs, 2)

		docs, err = c.Find(ctx, Filter{
			AnyOf(ContainsFold, "the", "artist", "album"),
			Where("format", Equals, "Vinyl"),
		}, nil, 0, 0)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "Abbey Road", docs[0]["album"])

		n, err := c.Count(ctx, Filter{Where("category", Equals, "rock")})
		require.NoError(t, err)
		assert.Zero(t, n, "equality is case sensitive")
	})

	t.Run("substring match treats pattern characters literally", func(t *testing.T) {
		c := newCollection(t)
		seed(t, c)

		n, err := c.Count(ctx, Filter{Where("artist", ContainsFold, "%")})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("pagination follows insertion order", func(t *testing.T) {
		c := newCollection(t)
		seed(t, c)

		page, err := c.Find(ctx, nil, nil, 1, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "Kind of Blue", page[0]["album"])
		assert.Equal(t, "OK Computer", page[1]["album"])
	})

	t.Run("projection keeps id", func(t *testing.T) {
		c := newCollection(t)
		seed(t, c)

		docs, err := c.Find(ctx, Filter{Where("album", Equals, "Abbey Road")}, []string{"artist"}, 0, 10)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Len(t, docs[0], 2)
		assert.NotEmpty(t, docs[0].ID())
		assert.Equal(t, "The Beatles", docs[0]["artist"])
	})

	t.Run("unique index rejects duplicates and bulk insert continues", func(t *testing.T) {
		c := newCollection(t)
		require.NoError(t, c.EnsureIndex(ctx, IndexSpec{Name: "artist_album", Fields: []string{"artist", "album"}, Kind: IndexUnique}))
		exists, err := c.IndexExists(ctx, "artist_album")
		require.NoError(t, err)
		assert.True(t, exists)

		_, err = c.Insert(ctx, Document{"artist": "A", "album": "B"})
		require.NoError(t, err)
		_, err = c.Insert(ctx, Document{"artist": "A", "album": "B"})
		assert.ErrorIs(t, err, ErrDuplicate)

		inserted, err := c.InsertMany(ctx, []Document{
			{"artist": "A", "album": "B"},
			{"artist": "A", "album": "C"},
		}, InsertManyOptions{ContinueOnError: true})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicate)
		var bulk *BulkError
		require.True(t, errors.As(err, &bulk))
		assert.Equal(t, 0, bulk.Failures[0].Index)
		assert.Len(t, inserted, 1)
	})

	t.Run("update merges patch and reports missing ids", func(t *testing.T) {
		c := newCollection(t)
		docs := seed(t, c)

		updated, err := c.UpdateByID(ctx, docs[0].ID(), Document{"qty": 7, "id": "ignored"})
		require.NoError(t, err)
		assert.Equal(t, docs[0].ID(), updated.ID())
		assert.EqualValues(t, 7, updated["qty"])
		assert.Equal(t, "Abbey Road", updated["album"])

		_, err = c.UpdateByID(ctx, "missing", Document{"qty": 1})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("decrement is conditional", func(t *testing.T) {
		c := newCollection(t)
		docs := seed(t, c)

		doc, err := c.DecrementField(ctx, docs[1].ID(), "qty", 2)
		require.NoError(t, err)
		assert.EqualValues(t, 1, doc["qty"])

		_, err = c.DecrementField(ctx, docs[1].ID(), "qty", 2)
		assert.ErrorIs(t, err, ErrConditionFailed)

		doc, err = c.DecrementField(ctx, docs[1].ID(), "qty", -2)
		require.NoError(t, err)
		assert.EqualValues(t, 3, doc["qty"])

		_, err = c.DecrementField(ctx, "missing", "qty", 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		c := newCollection(t)
		docs := seed(t, c)

		require.NoError(t, c.DeleteByID(ctx, docs[0].ID()))
		require.NoError(t, c.DeleteByID(ctx, docs[0].ID()))
		n, err := c.Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("invalid field names are rejected", func(t *testing.T) {
		c := newCollection(t)
		_, err := c.Find(ctx, Filter{Where("artist'); DROP TABLE documents; --", Equals, "x")}, nil, 0, 1)
		assert.ErrorIs(t, err, ErrInvalidField)

		_, err = c.Find(ctx, nil, []string{"artist", "bad!name"}, 0, 1)
		assert.ErrorIs(t, err, ErrInvalidField)
	})
}
