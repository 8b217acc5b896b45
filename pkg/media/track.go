// ABOUTME: Track domain type
// ABOUTME: Immutable catalog metadata referenced by playback sessions
package media

import (
	"strings"
	"time"
)

// Track identifies a playable item in the catalog. Tracks are loaded by the
// browsing layer and are immutable; the player only holds references.
type Track struct {
	ID       string
	Title    string
	Artists  []string
	Duration time.Duration
}

// ArtistLine joins the artist list for display.
func (t Track) ArtistLine() string {
	return strings.Join(t.Artists, ", ")
}

// String renders "Artist - Title" the way the now-playing line shows it.
func (t Track) String() string {
	if len(t.Artists) == 0 {
		return t.Title
	}
	return t.ArtistLine() + " - " + t.Title
}
