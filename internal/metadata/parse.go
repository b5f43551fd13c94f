// internal/metadata/parse.go

// Package metadata normalizes MusicBrainz release payloads into the shape the
// catalog merges into records. The service omits array wrappers when a result
// has a single element, so every ambiguous node goes through asList before it
// is mapped.
package metadata

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Track is one entry of a release track list.
type Track struct {
	Title    string `json:"title"`
	Position string `json:"position"`
	Duration int    `json:"duration"`
}

// Release is the normalized result of a release lookup. A nil Artist or
// Album means the payload did not provide one. A nil TrackList means the
// release carried no media at all; a non-nil empty slice means the media
// were present but held no tracks.
type Release struct {
	Artist    *string `json:"artist,omitempty"`
	Album     *string `json:"album,omitempty"`
	TrackList []Track `json:"trackList"`
}

// ParseRelease accepts an XML (metadata > release) or JSON release payload.
// It returns nil when the payload is malformed or has no release.
func ParseRelease(payload string) *Release {
	rel, ok := releaseNode(payload)
	if !ok {
		return nil
	}
	return mapRelease(rel)
}

func releaseNode(payload string) (map[string]any, bool) {
	data := bytes.TrimSpace([]byte(payload))
	if len(data) == 0 {
		return nil, false
	}

	if data[0] == '<' {
		root, tree, err := decodeXML(data)
		if err != nil {
			return nil, false
		}
		m, _ := tree.(map[string]any)
		switch root {
		case "release":
			return m, m != nil
		case "metadata":
			rel, ok := m["release"].(map[string]any)
			return rel, ok
		}
		return nil, false
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		return nil, false
	}
	if rel, ok := doc["release"].(map[string]any); ok {
		return rel, true
	}
	for _, k := range []string{"title", "artist-credit", "media"} {
		if _, ok := doc[k]; ok {
			return doc, true
		}
	}
	return nil, false
}

func mapRelease(rel map[string]any) *Release {
	out := &Release{}
	if album := text(rel["title"]); album != "" {
		out.Album = &album
	}
	if artist := creditedArtist(rel["artist-credit"]); artist != "" {
		out.Artist = &artist
	}
	out.TrackList = trackList(rel)
	return out
}

// creditedArtist returns the first credited name. XML nests credits in
// name-credit elements; JSON lists them directly.
func creditedArtist(v any) string {
	for _, credit := range asList(v) {
		m, ok := credit.(map[string]any)
		if !ok {
			continue
		}
		if nc, ok := m["name-credit"]; ok {
			for _, c := range asList(nc) {
				if cm, ok := c.(map[string]any); ok {
					return creditName(cm)
				}
			}
			continue
		}
		return creditName(m)
	}
	return ""
}

func creditName(m map[string]any) string {
	if name := text(m["name"]); name != "" {
		return name
	}
	if a, ok := m["artist"].(map[string]any); ok {
		return text(a["name"])
	}
	return ""
}

func trackList(rel map[string]any) []Track {
	var media []any
	present := false

	if v, ok := rel["media"]; ok && v != nil {
		present = true
		for _, item := range asList(v) {
			if m, ok := item.(map[string]any); ok {
				if inner, ok := m["medium"]; ok {
					media = append(media, asList(inner)...)
					continue
				}
			}
			media = append(media, item)
		}
	}
	if v, ok := rel["medium-list"]; ok && v != nil {
		present = true
		if m, ok := v.(map[string]any); ok {
			media = append(media, asList(m["medium"])...)
		}
	}
	if v, ok := rel["track-list"]; ok && v != nil {
		present = true
		media = append(media, map[string]any{"track-list": v})
	}

	if !present {
		return nil
	}

	tracks := []Track{}
	for _, medium := range media {
		m, ok := medium.(map[string]any)
		if !ok {
			continue
		}
		for _, t := range asList(m["tracks"]) {
			if tm, ok := t.(map[string]any); ok {
				tracks = append(tracks, mapTrack(tm))
			}
		}
		for _, tl := range asList(m["track-list"]) {
			tlm, ok := tl.(map[string]any)
			if !ok {
				continue
			}
			for _, t := range asList(tlm["track"]) {
				if tm, ok := t.(map[string]any); ok {
					tracks = append(tracks, mapTrack(tm))
				}
			}
		}
	}
	return tracks
}

func mapTrack(t map[string]any) Track {
	rec, _ := t["recording"].(map[string]any)

	title := text(rec["title"])
	if title == "" {
		title = text(t["title"])
	}

	length, ok := integer(t["length"])
	if !ok {
		length, _ = integer(rec["length"])
	}

	return Track{
		Title:    title,
		Position: text(t["position"]),
		Duration: length,
	}
}

// asList normalizes a node that may be absent, a single value or a list.
func asList(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	default:
		return []any{x}
	}
}

func text(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

func integer(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
