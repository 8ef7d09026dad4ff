package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/directout-bridge/internal/audit"
	"github.com/nerrad567/directout-bridge/internal/directout"
)

// optionsRequest is the request body of action and feedback calls.
type optionsRequest struct {
	Options directout.Options `json:"options"`
}

// decodeOptions reads the optional options body.
func decodeOptions(w http.ResponseWriter, r *http.Request) (directout.Options, bool) {
	var req optionsRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return nil, false
	}
	if req.Options == nil {
		req.Options = directout.Options{}
	}
	return req.Options, true
}

// handleListActions lists the actions generated for the connected device.
func (s *Server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	actions := s.device.Actions()
	writeJSON(w, http.StatusOK, map[string]any{
		"actions": actions,
		"count":   len(actions),
	})
}

// handleExecuteAction runs one action.
func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	opts, ok := decodeOptions(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	err := s.device.ExecuteAction(ctx, id, opts)
	s.recordCommand(r, audit.CommandAction, id, optionDetails(opts), err)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "executed",
		"action_id": id,
	})
}

// handleLearnAction fills the action's value options from the current state.
func (s *Server) handleLearnAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	opts, ok := decodeOptions(w, r)
	if !ok {
		return
	}
	learned, changed, err := s.device.LearnAction(id, opts)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"action_id": id,
		"options":   learned,
		"learned":   changed,
	})
}

// handleListFeedbacks lists the feedbacks generated for the connected device.
func (s *Server) handleListFeedbacks(w http.ResponseWriter, _ *http.Request) {
	feedbacks := s.device.Feedbacks()
	writeJSON(w, http.StatusOK, map[string]any{
		"feedbacks": feedbacks,
		"count":     len(feedbacks),
	})
}

// handleCheckFeedback evaluates one feedback against the current state.
func (s *Server) handleCheckFeedback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	opts, ok := decodeOptions(w, r)
	if !ok {
		return
	}
	result, err := s.device.CheckFeedback(id, opts)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feedback_id": id,
		"result":      result,
	})
}

// handleLearnFeedback fills the feedback's compared value from the current
// state.
func (s *Server) handleLearnFeedback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	opts, ok := decodeOptions(w, r)
	if !ok {
		return
	}
	learned, changed, err := s.device.LearnFeedback(id, opts)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feedback_id": id,
		"options":     learned,
		"learned":     changed,
	})
}

// optionDetails converts action options into audit details.
func optionDetails(opts directout.Options) map[string]any {
	if len(opts) == 0 {
		return nil
	}
	details := make(map[string]any, len(opts))
	for k, v := range opts {
		details[k] = v.Interface()
	}
	return details
}
