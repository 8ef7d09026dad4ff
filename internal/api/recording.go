package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/directout-bridge/internal/audit"
)

// maxRecordedLimit caps ?limit= on GET /recording/actions.
const maxRecordedLimit = 5000

// recorderAvailable writes 503 when no recorder is configured.
func (s *Server) recorderAvailable(w http.ResponseWriter) bool {
	if s.recorder == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "recording is not configured")
		return false
	}
	return true
}

// handleRecordingStatus reports whether a recording session is open.
func (s *Server) handleRecordingStatus(w http.ResponseWriter, _ *http.Request) {
	if !s.recorderAvailable(w) {
		return
	}
	id, started, open := s.recorder.Current()
	resp := map[string]any{
		"recording": open,
		"device":    s.device.Recording(),
	}
	if open {
		resp["session_id"] = id
		resp["started_at"] = started
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRecordingStart opens a recording session. Starting while a
// session is open returns the open session.
func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if !s.recorderAvailable(w) {
		return
	}
	id := s.recorder.Start()
	s.recordCommand(r, audit.CommandRecordingStart, id, nil, nil)
	_, started, _ := s.recorder.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"started_at": started,
	})
}

// handleRecordingStop closes the open recording session.
func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if !s.recorderAvailable(w) {
		return
	}
	id := s.recorder.Stop()
	if id == "" {
		writeError(w, http.StatusConflict, ErrCodeBadRequest, "no recording in progress")
		return
	}
	s.recordCommand(r, audit.CommandRecordingStop, id, nil, nil)
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id})
}

// handleRecordedActions lists recorded actions of ?session_id= (default
// the open session, or all when none is open), optionally after ?since=
// (RFC 3339) and capped by ?limit=.
func (s *Server) handleRecordedActions(w http.ResponseWriter, r *http.Request) {
	if !s.recorderAvailable(w) {
		return
	}
	q := r.URL.Query()

	var since time.Time
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRecordedLimit {
			writeBadRequest(w, "limit must be between 1 and "+strconv.Itoa(maxRecordedLimit))
			return
		}
		limit = n
	}

	sessionID := q.Get("session_id")
	entries, err := s.recorder.Actions(r.Context(), sessionID, since, limit)
	if err != nil {
		s.logger.Error("listing recorded actions failed", "session_id", sessionID, "error", err)
		writeInternalError(w, "listing recorded actions failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actions": entries,
		"count":   len(entries),
	})
}

// handleRecordingSessions lists recording sessions, newest first.
func (s *Server) handleRecordingSessions(w http.ResponseWriter, r *http.Request) {
	if !s.recorderAvailable(w) {
		return
	}
	sessions, err := s.recorder.Sessions(r.Context())
	if err != nil {
		s.logger.Error("listing recording sessions failed", "error", err)
		writeInternalError(w, "listing recording sessions failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}
