package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/nerrad567/directout-bridge/internal/audit"
	"github.com/nerrad567/directout-bridge/internal/directout"
)

// setRequest is the request body for POST /set.
type setRequest struct {
	Path        string            `json:"path"`
	Value       *directout.Scalar `json:"value"`
	Translation string            `json:"translation,omitempty"`
}

// handleDevice describes the connected device and the session state.
func (s *Server) handleDevice(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"ready":     s.device.Ready(),
		"type":      s.device.DeviceType(),
		"info":      s.device.DeviceInfo(),
		"recording": s.device.Recording(),
		"seq":       s.device.Seq(),
	}
	if change, ok := s.device.LastChange(); ok {
		resp["last_change"] = change
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetState returns the subtree at ?path= (default the whole tree).
// With ?translation= the leaf is mapped through that category instead.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		writeBadRequest(w, "path must be a JSON pointer starting with '/'")
		return
	}

	if translation := r.URL.Query().Get("translation"); translation != "" {
		value, ok := s.device.GetState(path, translation)
		if !ok {
			writeNotFound(w, "no translated value at "+path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"path":        path,
			"translation": translation,
			"value":       value,
		})
		return
	}

	node, ok := s.device.Snapshot(path)
	if !ok {
		writeNotFound(w, "path not found: "+path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":  path,
		"value": node,
	})
}

// handleSet writes one value to the device.
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.Path == "" || req.Value == nil {
		writeBadRequest(w, "path and value are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	err := s.device.SendSet(ctx, req.Path, *req.Value, req.Translation)
	details := map[string]any{"value": req.Value.Interface()}
	if req.Translation != "" {
		details["translation"] = req.Translation
	}
	s.recordCommand(r, audit.CommandSet, req.Path, details, err)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "sent",
		"path":   req.Path,
	})
}

// handleCmd sends a raw command object. The device echoes the assigned
// sequence number in its response.
func (s *Server) handleCmd(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeBody(r, &raw); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if len(raw) == 0 || !gjson.ParseBytes(raw).IsObject() {
		writeBadRequest(w, "command must be a JSON object")
		return
	}
	if !gjson.GetBytes(raw, "type").Exists() {
		writeBadRequest(w, "command type is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	seq, err := s.device.SendCmd(ctx, raw)
	s.recordCommand(r, audit.CommandRaw, gjson.GetBytes(raw, "type").String(),
		map[string]any{"command": json.RawMessage(raw)}, err)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"seq": seq})
}

// handleListSubscriptions lists the subscription registry.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, _ *http.Request) {
	subs := s.device.Subscriptions()
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// handleListVariables returns variable definitions and current values.
func (s *Server) handleListVariables(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"definitions": s.device.Variables(),
		"values":      s.device.VariableValues(),
	})
}

// handleGetVariable returns one variable value.
func (s *Server) handleGetVariable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	value, ok := s.device.Variable(name)
	if !ok {
		writeNotFound(w, "variable not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":  name,
		"value": value,
	})
}

// handleChoices returns every dynamic choice list, or the one named by
// ?list=.
func (s *Server) handleChoices(w http.ResponseWriter, r *http.Request) {
	choices := s.device.Choices()
	name := r.URL.Query().Get("list")
	if name == "" {
		writeJSON(w, http.StatusOK, choices)
		return
	}
	list, ok := choices[name]
	if !ok {
		writeNotFound(w, "choice list not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"list":    name,
		"choices": list,
	})
}

// handleTranslate maps ?value= through ?category= in ?direction=
// (incoming by default). Without a category it lists the categories.
// A value that is not a JSON literal is taken as a string.
func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := q.Get("category")
	if category == "" {
		writeJSON(w, http.StatusOK, map[string]any{"categories": s.device.Translations()})
		return
	}

	dir := directout.Direction(q.Get("direction"))
	if dir == "" {
		dir = directout.Incoming
	}
	if dir != directout.Incoming && dir != directout.Outgoing {
		writeBadRequest(w, "direction must be incoming or outgoing")
		return
	}
	if !q.Has("value") {
		writeBadRequest(w, "value is required")
		return
	}
	value, err := directout.ParseScalar(q.Get("value"))
	if err != nil {
		value = directout.StringValue(q.Get("value"))
	}

	result, ok := s.device.Translate(dir, category, value)
	if !ok {
		writeNotFound(w, "no translation for "+value.String()+" in "+category)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category":  category,
		"direction": dir,
		"value":     value,
		"result":    result,
	})
}
