package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/directout-bridge/internal/audit"
)

// auditTimeout bounds one audit insert.
const auditTimeout = 2 * time.Second

// recordCommand appends a write request to the audit trail. It is a no-op
// without an audit repository; a failed insert is logged and does not
// affect the response.
func (s *Server) recordCommand(r *http.Request, command, target string, details map[string]any, cmdErr error) {
	if s.audit == nil {
		return
	}

	e := &audit.Entry{
		Command: command,
		Target:  target,
		Source:  "api",
		Outcome: audit.OutcomeOK,
		Details: details,
	}
	if claims := claimsFromContext(r.Context()); claims != nil {
		e.Subject = claims.Subject
		e.Role = string(claims.Role)
	}
	if cmdErr != nil {
		_, e.Outcome = deviceErrorStatus(cmdErr)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditTimeout)
	defer cancel()
	if err := s.audit.Create(ctx, e); err != nil {
		s.logger.Warn("audit write failed", "command", command, "error", err)
	}
}

// handleAuditLog lists the audit trail, newest first. Query parameters:
// command, subject, since (RFC 3339), limit, offset.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit trail not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Command: q.Get("command"),
		Subject: q.Get("subject"),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit trail", "error", err)
		writeInternalError(w, "failed to list audit trail")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
