package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

var ErrMalformedProgress = errors.New("malformed progress payload")

// Decode maps a feed topic and its payload to an Event.
// Topics outside base are ignored. Nested namespaces under base are tolerated:
// only the last path segment selects the event.
func Decode(base, topic string, payload []byte) Event {
	prefix := base + "/"
	if !strings.HasPrefix(topic, prefix) {
		return Event{Kind: Ignored}
	}
	sub := topic[len(prefix):]
	key := sub[strings.LastIndex(sub, "/")+1:]

	switch key {
	case FieldArtist, FieldAlbum, FieldTitle, FieldGenre, FieldVolume, FieldClientName:
		return Event{Kind: MetadataField, Field: key, Text: decodeText(payload)}
	case "cover":
		if len(payload) == 0 {
			return Event{Kind: Ignored}
		}
		return Event{Kind: CoverUpdate, Cover: payload}
	case "prgr":
		p, err := parseProgress(payload)
		if err != nil {
			return Event{Kind: Ignored, Err: err}
		}
		return Event{Kind: ProgressUpdate, Progress: p}
	case "active_start", "pbeg":
		return Event{Kind: SessionStart}
	case "active_end":
		return Event{Kind: SessionEnd}
	case "play_start":
		return Event{Kind: PlayStart}
	case "play_end":
		return Event{Kind: PlayEnd}
	case "pend":
		return Event{Kind: PlaybackEnd}
	default:
		return Event{Kind: Ignored}
	}
}

// decodeText drops invalid UTF-8 sequences instead of failing.
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "")
}

// parseProgress parses "start/current/end".
func parseProgress(b []byte) (Progress, error) {
	if !utf8.Valid(b) {
		return Progress{}, fmt.Errorf("%w: invalid utf-8", ErrMalformedProgress)
	}
	parts := strings.Split(strings.TrimSpace(string(b)), "/")
	if len(parts) != 3 {
		return Progress{}, fmt.Errorf("%w: %q has %d fields", ErrMalformedProgress, b, len(parts))
	}
	var vals [3]int64
	for i, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return Progress{}, fmt.Errorf("%w: %q: %v", ErrMalformedProgress, b, err)
		}
		vals[i] = v
	}
	return Progress{Start: vals[0], Current: vals[1], End: vals[2]}, nil
}
