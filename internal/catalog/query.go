// internal/catalog/query.go
package catalog

import (
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"recordstore/internal/store"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

// textFields are matched by the free-text q parameter and covered by TextIndex.
var textFields = []string{"artist", "album", "category"}

// ClampPage treats anything below 1 as the first page.
func ClampPage(page int) int {
	if page < 1 {
		return DefaultPage
	}
	return page
}

// ClampLimit bounds limit to [1, MaxLimit]. Callers pass DefaultLimit when
// the parameter was not supplied.
func ClampLimit(limit int) int {
	switch {
	case limit < 1:
		return 1
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// normalize trims every filter and puts the projection in canonical order so
// equivalent parameter sets compare equal.
func (p QueryParams) normalize() QueryParams {
	out := QueryParams{
		Q:        strings.TrimSpace(p.Q),
		Artist:   strings.TrimSpace(p.Artist),
		Album:    strings.TrimSpace(p.Album),
		Format:   strings.TrimSpace(p.Format),
		Category: strings.TrimSpace(p.Category),
		Page:     ClampPage(p.Page),
		Limit:    ClampLimit(p.Limit),
	}
	for _, f := range p.Fields {
		if f = strings.TrimSpace(f); f != "" {
			out.Fields = append(out.Fields, f)
		}
	}
	slices.Sort(out.Fields)
	out.Fields = slices.Compact(out.Fields)
	return out
}

// Signature is the canonical cache identity of a query.
func Signature(p QueryParams) string {
	n := p.normalize()
	parts := []string{
		"q=" + url.QueryEscape(n.Q),
		"artist=" + url.QueryEscape(n.Artist),
		"album=" + url.QueryEscape(n.Album),
		"format=" + url.QueryEscape(n.Format),
		"category=" + url.QueryEscape(n.Category),
		"page=" + strconv.Itoa(n.Page),
		"limit=" + strconv.Itoa(n.Limit),
		"fields=" + url.QueryEscape(strings.Join(n.Fields, ",")),
	}
	return strings.Join(parts, ":")
}

// filter builds the store predicate. Supplied terms are ANDed; q is one
// OR-group across the text fields.
func (p QueryParams) filter() store.Filter {
	var f store.Filter
	if p.Q != "" {
		f = append(f, store.AnyOf(store.ContainsFold, p.Q, textFields...))
	}
	if p.Artist != "" {
		f = append(f, store.Where("artist", store.ContainsFold, p.Artist))
	}
	if p.Album != "" {
		f = append(f, store.Where("album", store.ContainsFold, p.Album))
	}
	if p.Format != "" {
		f = append(f, store.Where("format", store.Equals, p.Format))
	}
	if p.Category != "" {
		f = append(f, store.Where("category", store.Equals, p.Category))
	}
	return f
}

// skip is the number of matches before the page. ok is false when the page
// starts past any representable offset, so it cannot hold records.
func (p QueryParams) skip() (n int, ok bool) {
	if p.Page-1 > math.MaxInt/p.Limit {
		return 0, false
	}
	return (p.Page - 1) * p.Limit, true
}

func totalPages(total, limit int) int {
	if total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
