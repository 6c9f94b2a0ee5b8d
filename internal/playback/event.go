package playback

// Kind identifies what a decoded feed message means for the playback state.
type Kind int

const (
	Ignored Kind = iota
	MetadataField
	CoverUpdate
	ProgressUpdate
	SessionStart
	SessionEnd
	PlayStart
	PlayEnd
	PlaybackEnd
)

var kindNames = [...]string{
	Ignored:        "ignored",
	MetadataField:  "metadata",
	CoverUpdate:    "cover",
	ProgressUpdate: "progress",
	SessionStart:   "session_start",
	SessionEnd:     "session_end",
	PlayStart:      "play_start",
	PlayEnd:        "play_end",
	PlaybackEnd:    "playback_end",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Metadata field names as they appear in feed topics.
const (
	FieldArtist     = "artist"
	FieldAlbum      = "album"
	FieldTitle      = "title"
	FieldGenre      = "genre"
	FieldVolume     = "volume"
	FieldClientName = "client_name"
)

// Progress is a window of RTP timestamps reported by the receiver.
type Progress struct {
	Start   int64
	Current int64
	End     int64
}

// Event is the typed form of one feed message.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind     Kind
	Field    string
	Text     string
	Cover    []byte
	Progress Progress

	// Err is set when the payload was recognised but could not be parsed.
	// The event is then Ignored.
	Err error
}
