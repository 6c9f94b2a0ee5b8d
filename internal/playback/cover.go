package playback

import "bytes"

const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
)

// Cover is the current cover art as held by the Store.
// Data must not be modified by callers.
type Cover struct {
	Data     []byte
	MimeType string
	Version  int64
}

// DetectImageType returns the MIME type announced by the leading magic bytes
// of b, or fallback when they match neither JPEG nor PNG.
func DetectImageType(b []byte, fallback string) string {
	switch {
	case bytes.HasPrefix(b, jpegMagic):
		return MimeJPEG
	case bytes.HasPrefix(b, pngMagic):
		return MimePNG
	default:
		return fallback
	}
}
