// internal/catalog/merge.go
package catalog

import (
	"time"

	"recordstore/internal/metadata"
	"recordstore/internal/store"
)

// MusicBrainz is authoritative once an identifier is given: every field the
// release provides replaces the caller's value, and absent fields leave the
// caller's value alone.

func (in *CreateInput) enrich(rel *metadata.Release) {
	if rel == nil {
		return
	}
	if rel.Artist != nil {
		in.Artist = *rel.Artist
	}
	if rel.Album != nil {
		in.Album = *rel.Album
	}
	if rel.TrackList != nil {
		in.TrackList = rel.TrackList
	}
}

func (in *UpdateInput) enrich(rel *metadata.Release) {
	if rel == nil {
		return
	}
	if rel.Artist != nil {
		artist := *rel.Artist
		in.Artist = &artist
	}
	if rel.Album != nil {
		album := *rel.Album
		in.Album = &album
	}
	if rel.TrackList != nil {
		tracks := rel.TrackList
		in.TrackList = &tracks
	}
}

func (in CreateInput) record(now time.Time) Record {
	tracks := in.TrackList
	if tracks == nil {
		tracks = []Track{}
	}
	return Record{
		Artist:        in.Artist,
		Album:         in.Album,
		Price:         in.Price,
		Qty:           in.Qty,
		Format:        in.Format,
		Category:      in.Category,
		MBID:          in.MBID,
		TrackList:     tracks,
		Created:       now,
		LastModified:  now,
		IsUserCreated: true,
	}
}

// patch renders the supplied fields as a partial document.
func (in UpdateInput) patch(now time.Time) store.Document {
	p := store.Document{"lastModified": now.Format(time.RFC3339Nano)}
	if in.Artist != nil {
		p["artist"] = *in.Artist
	}
	if in.Album != nil {
		p["album"] = *in.Album
	}
	if in.Price != nil {
		p["price"] = *in.Price
	}
	if in.Qty != nil {
		p["qty"] = *in.Qty
	}
	if in.Format != nil {
		p["format"] = string(*in.Format)
	}
	if in.Category != nil {
		p["category"] = string(*in.Category)
	}
	if in.MBID != nil {
		p["mbid"] = *in.MBID
	}
	if in.TrackList != nil {
		tracks := make([]any, len(*in.TrackList))
		for i, t := range *in.TrackList {
			tracks[i] = map[string]any{
				"title":    t.Title,
				"position": t.Position,
				"duration": t.Duration,
			}
		}
		p["trackList"] = tracks
	}
	return p
}

func (s SeedEntry) record(now time.Time) Record {
	in := CreateInput(s)
	r := in.record(now)
	r.IsUserCreated = false
	return r
}
