package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/treefix50/nowplaying/internal/control"
)

type controlResponse struct {
	Success bool   `json:"success"`
	Command string `json:"command"`
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"commands": control.Commands()})
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if ok, wait := s.limiter.Allow(clientKey(r)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		writeError(w, http.StatusTooManyRequests, "too many commands")
		return
	}

	if s.control == nil {
		writeError(w, http.StatusServiceUnavailable, control.ErrNotConnected.Error())
		return
	}

	token, err := s.control.Send(r.Context(), r.PathValue("command"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, controlResponse{Success: true, Command: token})
	case errors.Is(err, control.ErrUnknownCommand):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, control.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, control.ErrNotConnected.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
