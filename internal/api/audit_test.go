package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/nerrad567/directout-bridge/internal/audit"
	"github.com/nerrad567/directout-bridge/internal/auth"
	"github.com/nerrad567/directout-bridge/internal/directout"
)

// mockAudit keeps entries in memory.
type mockAudit struct {
	mu        sync.Mutex
	entries   []audit.Entry
	createErr error
	lastQuery audit.Filter
}

func (m *mockAudit) Create(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockAudit) List(_ context.Context, f audit.Filter) (*audit.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuery = f
	out := []audit.Entry{}
	for _, e := range m.entries {
		if f.Command != "" && e.Command != f.Command {
			continue
		}
		out = append(out, e)
	}
	return &audit.ListResult{Entries: out, Total: len(out), Limit: f.Limit, Offset: f.Offset}, nil
}

func (m *mockAudit) all() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}

func auditServer(t *testing.T) (*Server, *mockDevice, *mockAudit) {
	t.Helper()
	srv, dev, _ := testServer(t)
	trail := &mockAudit{}
	srv.audit = trail
	return srv, dev, trail
}

func TestAudit_Set(t *testing.T) {
	srv, _, trail := auditServer(t)
	router := srv.buildRouter()

	w := do(t, router, auth.RoleOperator, http.MethodPost, "/api/v1/set",
		`{"path":"/settings/input_mute/1","value":true}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}

	entries := trail.all()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Command != audit.CommandSet || e.Target != "/settings/input_mute/1" {
		t.Errorf("entry = %+v", e)
	}
	if e.Subject != "tester" || e.Role != string(auth.RoleOperator) {
		t.Errorf("subject/role = %q/%q, want tester/operator", e.Subject, e.Role)
	}
	if e.Outcome != audit.OutcomeOK || e.Details["value"] != true {
		t.Errorf("outcome = %q, details = %v", e.Outcome, e.Details)
	}
}

func TestAudit_FailedCommand(t *testing.T) {
	srv, dev, trail := auditServer(t)
	router := srv.buildRouter()

	dev.mu.Lock()
	dev.sendErr = directout.ErrNotConnected
	dev.mu.Unlock()

	w := do(t, router, auth.RoleOperator, http.MethodPost, "/api/v1/set", `{"path":"/a","value":1}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	entries := trail.all()
	if len(entries) != 1 || entries[0].Outcome != ErrCodeUnavailable {
		t.Errorf("entries = %+v, want one %s entry", entries, ErrCodeUnavailable)
	}
}

func TestAudit_RejectedRequestNotRecorded(t *testing.T) {
	srv, _, trail := auditServer(t)
	router := srv.buildRouter()

	do(t, router, auth.RoleOperator, http.MethodPost, "/api/v1/set", `{"path":"/a"}`)
	do(t, router, auth.RoleViewer, http.MethodPost, "/api/v1/set", `{"path":"/a","value":1}`)

	if n := len(trail.all()); n != 0 {
		t.Errorf("entries = %d, want 0", n)
	}
}

func TestAudit_ActionCmdRecording(t *testing.T) {
	srv, dev, trail := auditServer(t)
	router := srv.buildRouter()
	dev.setReady(true)

	do(t, router, auth.RoleOperator, http.MethodPost, "/api/v1/actions/input_mute",
		`{"options":{"channel":3,"value":"%%toggle%%"}}`)
	do(t, router, auth.RoleAdmin, http.MethodPost, "/api/v1/cmd", `{"type":"get","path":"/"}`)
	do(t, router, auth.RoleAdmin, http.MethodPost, "/api/v1/recording/start", "")
	do(t, router, auth.RoleAdmin, http.MethodPost, "/api/v1/recording/stop", "")
	do(t, router, auth.RoleAdmin, http.MethodPost, "/api/v1/recording/stop", "")

	entries := trail.all()
	want := []struct{ command, target string }{
		{audit.CommandAction, "input_mute"},
		{audit.CommandRaw, "get"},
		{audit.CommandRecordingStart, ""},
		{audit.CommandRecordingStop, ""},
	}
	if len(entries) != len(want) {
		t.Fatalf("entries = %+v, want %d", entries, len(want))
	}
	for i, w := range want {
		if entries[i].Command != w.command {
			t.Errorf("entries[%d].Command = %q, want %q", i, entries[i].Command, w.command)
		}
		if w.target != "" && entries[i].Target != w.target {
			t.Errorf("entries[%d].Target = %q, want %q", i, entries[i].Target, w.target)
		}
	}
	if entries[0].Details["channel"] != float64(3) {
		t.Errorf("action details = %v", entries[0].Details)
	}
	if entries[2].Target == "" || entries[2].Target != entries[3].Target {
		t.Errorf("recording session ids = %q, %q", entries[2].Target, entries[3].Target)
	}
}

func TestAudit_WriteFailureIgnored(t *testing.T) {
	srv, _, trail := auditServer(t)
	trail.createErr = errors.New("disk full")

	w := do(t, srv.buildRouter(), auth.RoleOperator, http.MethodPost, "/api/v1/set", `{"path":"/a","value":1}`)
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
}

func TestAuditLog(t *testing.T) {
	srv, _, trail := auditServer(t)
	router := srv.buildRouter()
	trail.entries = []audit.Entry{
		{ID: "a1", Command: audit.CommandSet},
		{ID: "a2", Command: audit.CommandAction},
	}

	tests := []struct {
		name   string
		role   auth.Role
		target string
		want   int
	}{
		{"viewer forbidden", auth.RoleViewer, "/api/v1/audit", http.StatusForbidden},
		{"operator forbidden", auth.RoleOperator, "/api/v1/audit", http.StatusForbidden},
		{"admin", auth.RoleAdmin, "/api/v1/audit", http.StatusOK},
		{"filtered", auth.RoleAdmin, "/api/v1/audit?command=set&limit=10&offset=0", http.StatusOK},
		{"bad since", auth.RoleAdmin, "/api/v1/audit?since=yesterday", http.StatusBadRequest},
		{"bad limit", auth.RoleAdmin, "/api/v1/audit?limit=-1", http.StatusBadRequest},
		{"bad offset", auth.RoleAdmin, "/api/v1/audit?offset=x", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.role, http.MethodGet, tt.target, "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	resp := decode(t, do(t, router, auth.RoleAdmin, http.MethodGet, "/api/v1/audit?command=set&limit=10", ""))
	if resp["total"] != float64(1) {
		t.Errorf("total = %v, want 1", resp["total"])
	}
	trail.mu.Lock()
	q := trail.lastQuery
	trail.mu.Unlock()
	if q.Command != audit.CommandSet || q.Limit != 10 {
		t.Errorf("filter = %+v", q)
	}
}

func TestAuditLog_NotConfigured(t *testing.T) {
	srv, _, _ := testServer(t)
	w := do(t, srv.buildRouter(), auth.RoleAdmin, http.MethodGet, "/api/v1/audit", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
