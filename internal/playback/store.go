package playback

import (
	"bytes"
	"math"
	"sync"
)

// SampleRate is the RTP clock rate of progress timestamps.
const SampleRate = 44100

// Snapshot is a point-in-time copy of the playback state.
type Snapshot struct {
	Active       bool    `json:"active"`
	Artist       string  `json:"artist"`
	Album        string  `json:"album"`
	Title        string  `json:"title"`
	Genre        string  `json:"genre"`
	Volume       string  `json:"volume"`
	ClientName   string  `json:"client_name"`
	HasCover     bool    `json:"has_cover"`
	CoverVersion int64   `json:"cover_version"`
	Duration     float64 `json:"duration"`
	Elapsed      float64 `json:"elapsed"`
	Remaining    float64 `json:"remaining"`
}

// Store is the single source of truth for what is playing.
// All methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex

	active     bool
	artist     string
	album      string
	title      string
	genre      string
	volume     string
	clientName string

	cover     []byte
	coverType string
	coverVer  int64

	progress Progress
}

func NewStore() *Store {
	return &Store{coverType: MimeJPEG}
}

// Restore seeds the device identity that survives sessions.
func (s *Store) Restore(volume, clientName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = volume
	s.clientName = clientName
}

// Apply folds ev into the state and reports whether the snapshot changed.
func (s *Store) Apply(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.snapshotLocked()

	switch ev.Kind {
	case MetadataField:
		s.setField(ev.Field, ev.Text)
	case CoverUpdate:
		if len(ev.Cover) == 0 {
			return false
		}
		s.cover = bytes.Clone(ev.Cover)
		s.coverType = DetectImageType(ev.Cover, s.coverType)
		s.coverVer++
	case ProgressUpdate:
		s.progress = ev.Progress
		// progress only arrives while audio is flowing
		s.active = true
	case SessionStart, PlayStart:
		s.active = true
	case SessionEnd:
		s.active = false
		s.artist, s.album, s.title, s.genre = "", "", "", ""
		s.cover = nil
		s.coverVer++
	case PlaybackEnd:
		s.active = false
	case PlayEnd, Ignored:
		return false
	default:
		return false
	}

	return s.snapshotLocked() != before
}

func (s *Store) setField(name, text string) {
	switch name {
	case FieldArtist:
		s.artist = text
	case FieldAlbum:
		s.album = text
	case FieldTitle:
		s.title = text
	case FieldGenre:
		s.genre = text
	case FieldVolume:
		s.volume = text
	case FieldClientName:
		s.clientName = text
	}
}

// Snapshot returns a consistent copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Cover returns the current cover art, or false when none is set.
func (s *Store) Cover() (Cover, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cover == nil {
		return Cover{}, false
	}
	return Cover{Data: s.cover, MimeType: s.coverType, Version: s.coverVer}, true
}

func (s *Store) snapshotLocked() Snapshot {
	duration, elapsed, remaining := s.progress.times()
	return Snapshot{
		Active:       s.active,
		Artist:       s.artist,
		Album:        s.album,
		Title:        s.title,
		Genre:        s.genre,
		Volume:       s.volume,
		ClientName:   s.clientName,
		HasCover:     s.cover != nil,
		CoverVersion: s.coverVer,
		Duration:     duration,
		Elapsed:      elapsed,
		Remaining:    remaining,
	}
}

// times derives duration, elapsed and remaining seconds, rounded to a tenth.
// An empty or inverted window yields zeros.
func (p Progress) times() (duration, elapsed, remaining float64) {
	if p.End <= p.Start {
		return 0, 0, 0
	}
	duration = round1(float64(p.End-p.Start) / SampleRate)
	elapsed = round1(math.Max(0, float64(p.Current-p.Start)/SampleRate))
	remaining = round1(math.Max(0, duration-elapsed))
	return duration, elapsed, remaining
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
