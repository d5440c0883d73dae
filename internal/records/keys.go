// Package records defines the keyspace conventions the application uses on top
// of the record store: how keys for each kind of record are built and how
// loosely typed documents are read and stamped.
package records

import "strings"

// Sep joins key segments.
const Sep = ":"

// Prefixes for record kinds listed in full.
const (
	MusicalPrefix = "musical" + Sep
	ActorPrefix   = "actor" + Sep
)

// ValidSegment reports whether s can be used as one key segment. A segment
// containing the separator could make one prefix match a sibling's records.
func ValidSegment(s string) bool {
	return s != "" && !strings.Contains(s, Sep)
}

func join(segments ...string) string {
	return strings.Join(segments, Sep)
}

func MusicalKey(id string) string { return MusicalPrefix + id }

func ActorKey(id string) string { return ActorPrefix + id }

func PerformanceKey(musicalID, id string) string { return PerformancePrefix(musicalID) + id }

// PerformancePrefix selects every performance of one musical.
func PerformancePrefix(musicalID string) string { return join("performance", musicalID) + Sep }

func ReviewKey(kind, targetID, id string) string { return ReviewPrefix(kind, targetID) + id }

// ReviewPrefix selects every review of one target, e.g. ("musical", id).
func ReviewPrefix(kind, targetID string) string { return join("review", kind, targetID) + Sep }

func SeatViewKey(venueID, id string) string { return SeatViewPrefix(venueID) + id }

// SeatViewPrefix selects every seat view photo of one venue.
func SeatViewPrefix(venueID string) string { return join("seatview", venueID) + Sep }

func ProfileKey(userID string) string { return join("user", "profile", userID) }

func WatchedKey(userID, id string) string { return WatchedPrefix(userID) + id }

// WatchedPrefix selects a user's watched history.
func WatchedPrefix(userID string) string { return join("user", "watched", userID) + Sep }

// AccountKey addresses the login account for an email address. Emails are
// case-insensitive, so the key uses the lowered form.
func AccountKey(email string) string {
	return join("auth", "user", strings.ToLower(strings.TrimSpace(email)))
}
