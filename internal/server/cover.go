package server

import (
	"bytes"
	"net/http"
	"strconv"
	"time"
)

const placeholderPath = "/static/placeholder.svg"

func coverETag(version int64) string {
	return `"cover-` + strconv.FormatInt(version, 10) + `"`
}

// handleCover serves the current artwork. ServeContent answers conditional
// requests against the version ETag, so an unchanged cover costs a 304.
func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	cover, ok := s.state.Cover()
	if !ok {
		http.Redirect(w, r, placeholderPath, http.StatusFound)
		return
	}

	h := w.Header()
	h.Set("Content-Type", cover.MimeType)
	h.Set("ETag", coverETag(cover.Version))
	h.Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(cover.Data))
}
