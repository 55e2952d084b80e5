package device

import (
	"sync/atomic"

	"github.com/yavdr/vdr/internal/contracts"
)

// MaxTracks bounds how many tracks of a single kind a device tracks at
// once, matching the original's fixed per-kind track table.
const MaxTracks = 32

// Track is one selectable audio/dolby/subtitle stream.
type Track struct {
	Kind        contracts.TrackKind
	PID         contracts.PID
	Language    string
	Description string
}

// trackTable holds a fixed set of tracks plus the index of the currently
// selected one. Resolves the "setting id last to avoid extensive
// locking" comment from the original track-update code: readers observe
// a consistent (tracks-snapshot, current-index) pair by publishing the
// index last, via atomic.Int32, instead of relying on write ordering the
// Go memory model does not guarantee for plain fields.
type trackTable struct {
	tracks  []Track
	current atomic.Int32 // -1 means "none selected"
}

func newTrackTable() *trackTable {
	t := &trackTable{}
	t.current.Store(-1)
	return t
}

// Set replaces the full track list, clearing the current selection.
// Tracks beyond MaxTracks are dropped.
func (t *trackTable) Set(tracks []Track) {
	if len(tracks) > MaxTracks {
		tracks = tracks[:MaxTracks]
	}
	t.tracks = tracks
	t.current.Store(-1)
}

// Count returns the number of tracks currently available.
func (t *trackTable) Count() int { return len(t.tracks) }

// At returns the track at index i, or the zero Track and false if out of
// range.
func (t *trackTable) At(i int) (Track, bool) {
	if i < 0 || i >= len(t.tracks) {
		return Track{}, false
	}
	return t.tracks[i], true
}

// Current returns the currently selected track index, or -1 if none.
func (t *trackTable) Current() int {
	return int(t.current.Load())
}

// SetCurrent publishes a new current track index. The index is the last
// field written, so a concurrent reader calling Current never observes
// a half-updated selection.
func (t *trackTable) SetCurrent(i int) {
	t.current.Store(int32(i))
}

// IndexByPID returns the first track index carrying pid, or -1.
func (t *trackTable) IndexByPID(pid contracts.PID) int {
	for i, tr := range t.tracks {
		if tr.PID == pid {
			return i
		}
	}
	return -1
}

// IndexByLanguagePreference returns the first track whose language
// matches, in order, one of prefs; falls back to index 0 if none match
// and at least one track exists, or -1 if the table is empty.
func (t *trackTable) IndexByLanguagePreference(prefs []string) int {
	for _, want := range prefs {
		for i, tr := range t.tracks {
			if tr.Language == want {
				return i
			}
		}
	}
	if len(t.tracks) > 0 {
		return 0
	}
	return -1
}
