// internal/metadata/search.go
package metadata

import (
	"bytes"

	"github.com/goccy/go-json"
)

// SearchResult is one release match from a MusicBrainz search.
type SearchResult struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist,omitempty"`
	Date   string `json:"date,omitempty"`
	Score  int    `json:"score"`
}

// ParseSearch maps a JSON release search response. It returns nil for a
// malformed payload and an empty slice when nothing matched.
func ParseSearch(payload string) []SearchResult {
	var resp struct {
		Releases []map[string]any `json:"releases"`
	}
	data := bytes.TrimSpace([]byte(payload))
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil
	}

	out := make([]SearchResult, 0, len(resp.Releases))
	for _, r := range resp.Releases {
		id := text(r["id"])
		if id == "" {
			continue
		}
		score, _ := integer(r["score"])
		out = append(out, SearchResult{
			ID:     id,
			Title:  text(r["title"]),
			Artist: creditedArtist(r["artist-credit"]),
			Date:   text(r["date"]),
			Score:  score,
		})
	}
	return out
}
