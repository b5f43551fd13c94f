// internal/cache/keys.go
package cache

import "time"

// Key prefixes. Every record mutation invalidates PrefixRecord+id and the
// whole PrefixRecords namespace; PrefixMusicBrainz is never invalidated by
// local changes.
const (
	PrefixRecord      = "record:"
	PrefixRecordMBID  = "record:mbid:"
	PrefixRecords     = "records:"
	PrefixMusicBrainz = "musicbrainz:"
	PrefixMBSearch    = "musicbrainz:search:"
)

const (
	RecordTTL      = 5 * time.Minute
	QueryTTL       = time.Minute
	MusicBrainzTTL = 24 * time.Hour
)

func RecordKey(id string) string       { return PrefixRecord + id }
func RecordMBIDKey(mbid string) string { return PrefixRecordMBID + mbid }
func QueryKey(signature string) string { return PrefixRecords + signature }
func MusicBrainzKey(mbid string) string {
	return PrefixMusicBrainz + mbid
}
func MusicBrainzSearchKey(query string) string {
	return PrefixMBSearch + query
}
