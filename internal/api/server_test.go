package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/directout-bridge/internal/auth"
	"github.com/nerrad567/directout-bridge/internal/directout"
	"github.com/nerrad567/directout-bridge/internal/infrastructure/config"
	"github.com/nerrad567/directout-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/directout-bridge/internal/metrics"
	"github.com/nerrad567/directout-bridge/internal/recording"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type setCall struct {
	path     string
	value    directout.Scalar
	category string
}

type actionCall struct {
	id   string
	opts directout.Options
}

// mockDevice is a test implementation of Device and recording.Controller.
type mockDevice struct {
	mu        sync.Mutex
	ready     bool
	recording bool
	seq       int

	nodes      map[string]*directout.Node
	translated map[string]directout.Scalar // "path|category"
	vars       map[string]any
	choices    directout.ChoiceLists

	sets     []setCall
	cmds     []string
	executed []actionCall

	// Error injection
	sendErr error
}

func newMockDevice(t *testing.T) *mockDevice {
	t.Helper()
	root, err := directout.ParseNode([]byte(`{
		"settings": {"input_mute": [false, true]},
		"status": {"fading": [1]}
	}`))
	if err != nil {
		t.Fatalf("ParseNode: %v", err)
	}
	return &mockDevice{
		seq: 7,
		nodes: map[string]*directout.Node{
			"/":                       root,
			"/settings/input_mute/1": directout.NewLeaf(directout.BoolValue(true)),
		},
		translated: map[string]directout.Scalar{
			"/status/fading/0|fadingStates": directout.StringValue("faded_out"),
		},
		vars: map[string]any{
			"device_samplerate": directout.NumberValue(48000),
		},
		choices: directout.ChoiceLists{
			"inputChoices": {{ID: directout.StringValue("madi1_1"), Label: "MADI 1 Ch 1"}},
		},
	}
}

func (m *mockDevice) setReady(ready bool) {
	m.mu.Lock()
	m.ready = ready
	m.mu.Unlock()
}

func (m *mockDevice) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *mockDevice) DeviceType() directout.DeviceType { return directout.DeviceProdigyMP }

func (m *mockDevice) DeviceInfo() directout.DeviceInfo {
	return directout.DeviceInfo{Model: directout.DeviceProdigyMP, SerialNumber: "12345"}
}

func (m *mockDevice) SetRecording(on bool) {
	m.mu.Lock()
	m.recording = on
	m.mu.Unlock()
}

func (m *mockDevice) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

func (m *mockDevice) Seq() int { return m.seq }

func (m *mockDevice) LastChange() (directout.Change, bool) {
	return directout.Change{}, false
}

func (m *mockDevice) GetState(path, translation string) (directout.Scalar, bool) {
	v, ok := m.translated[path+"|"+translation]
	return v, ok
}

func (m *mockDevice) Snapshot(path string) (*directout.Node, bool) {
	n, ok := m.nodes[path]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

func (m *mockDevice) SendSet(_ context.Context, path string, value directout.Scalar, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sets = append(m.sets, setCall{path: path, value: value, category: category})
	return nil
}

func (m *mockDevice) SendCmd(_ context.Context, cmd any) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	raw, err := json.Marshal(cmd)
	if err != nil {
		return 0, err
	}
	m.cmds = append(m.cmds, string(raw))
	return m.seq, nil
}

func (m *mockDevice) Subscriptions() []directout.SubscriptionInfo {
	return []directout.SubscriptionInfo{{Key: "device_samplerate", Pattern: "^/status/ref_frequency$", System: true}}
}

func (m *mockDevice) Actions() []directout.ActionDefinition {
	return []directout.ActionDefinition{{ID: "input_mute", Name: "Input mute", Learnable: true}}
}

func (m *mockDevice) ExecuteAction(_ context.Context, id string, opts directout.Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return directout.ErrNotReady
	}
	if id != "input_mute" {
		return fmt.Errorf("%w: %s", directout.ErrUnknownAction, id)
	}
	m.executed = append(m.executed, actionCall{id: id, opts: opts})
	return nil
}

func (m *mockDevice) LearnAction(id string, opts directout.Options) (directout.Options, bool, error) {
	if id != "input_mute" {
		return nil, false, fmt.Errorf("%w: %s", directout.ErrUnknownAction, id)
	}
	out := opts.Clone()
	out["value"] = directout.BoolValue(true)
	return out, true, nil
}

func (m *mockDevice) Feedbacks() []directout.FeedbackDefinition {
	return []directout.FeedbackDefinition{{ID: "input_mute", Name: "Input mute"}}
}

func (m *mockDevice) CheckFeedback(id string, opts directout.Options) (bool, error) {
	if id != "input_mute" {
		return false, fmt.Errorf("%w: %s", directout.ErrUnknownFeedback, id)
	}
	return opts["channel"] == directout.IntValue(1), nil
}

func (m *mockDevice) LearnFeedback(id string, opts directout.Options) (directout.Options, bool, error) {
	if id != "input_mute" {
		return nil, false, fmt.Errorf("%w: %s", directout.ErrUnknownFeedback, id)
	}
	return opts, false, nil
}

func (m *mockDevice) Variables() []directout.VariableDefinition {
	return []directout.VariableDefinition{{Name: "device_samplerate", Label: "Sample rate"}}
}

func (m *mockDevice) VariableValues() map[string]any { return m.vars }

func (m *mockDevice) Variable(name string) (any, bool) {
	v, ok := m.vars[name]
	return v, ok
}

func (m *mockDevice) Choices() directout.ChoiceLists { return m.choices }

func (m *mockDevice) Translate(dir directout.Direction, category string, value directout.Scalar) (directout.Scalar, bool) {
	if category != "fadingStates" {
		return directout.Null(), false
	}
	switch {
	case dir == directout.Incoming && value == directout.IntValue(1):
		return directout.StringValue("faded_out"), true
	case dir == directout.Outgoing && value == directout.StringValue("faded_out"):
		return directout.IntValue(1), true
	}
	return directout.Null(), false
}

func (m *mockDevice) Translations() []string { return []string{"fadingStates", "input"} }

// testServer creates a Server around a mock device with an in-memory
// recording service and a running hub.
func testServer(t *testing.T) (*Server, *mockDevice, *recording.Service) {
	t.Helper()

	dev := newMockDevice(t)
	rec := recording.NewService(dev, nil, nil)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{
				Secret:         testSecret,
				AccessTokenTTL: 15,
			},
		},
		Metrics:        config.MetricsConfig{Enabled: true, Path: "/metrics"},
		MetricsHandler: metrics.New().Handler(),
		Logger:         logging.Discard(),
		Device:         dev,
		Recorder:       rec,
		Version:        "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.hub = NewHub(srv.wsCfg, srv.logger)
	go srv.hub.Run(ctx)

	return srv, dev, rec
}

// tokenFor mints a token for role. An empty role returns "".
func tokenFor(t *testing.T, role auth.Role) string {
	t.Helper()
	if role == "" {
		return ""
	}
	token, err := auth.GenerateAccessToken("tester", role, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	return token
}

// do sends a request through h, authenticated as role when role is set.
func do(t *testing.T, h http.Handler, role auth.Role, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token := tokenFor(t, role); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

// ─── Server Construction ───────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	dev := newMockDevice(t)
	sec := config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}}

	tests := []struct {
		name string
		deps Deps
	}{
		{"missing logger", Deps{Device: dev, Security: sec}},
		{"missing device", Deps{Logger: logging.Discard(), Security: sec}},
		{"missing secret", Deps{Logger: logging.Discard(), Device: dev}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

func TestHealthCheck_NotStarted(t *testing.T) {
	srv, _, _ := testServer(t)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start expected error")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}
}

// ─── Health & Middleware ───────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, dev, _ := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, "", http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	resp := decode(t, w)
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded before the snapshot", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}

	dev.setReady(true)
	resp = decode(t, do(t, router, "", http.MethodGet, "/api/v1/health", ""))
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
}

func TestRequestID_Generated(t *testing.T) {
	srv, _, _ := testServer(t)
	w := do(t, srv.buildRouter(), "", http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-id-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-id-123" {
		t.Errorf("X-Request-ID = %q, want client-id-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/state", nil)
	req.Header.Set("Origin", "http://console.local")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://console.local" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.cfg.CORS.AllowedOrigins = []string{"http://console.local"}
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/state", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want none", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _, _ := testServer(t)
	w := do(t, srv.buildRouter(), auth.RoleAdmin, http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRecovery(t *testing.T) {
	srv, _, _ := testServer(t)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

// ─── Authentication & Permissions ──────────────────────────────────

func TestAuth(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	foreign, err := auth.GenerateAccessToken("tester", auth.RoleAdmin, "another-secret-another-secret-000", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"foreign secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"valid", "Bearer " + tokenFor(t, auth.RoleViewer), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/device", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestPermissions(t *testing.T) {
	srv, dev, _ := testServer(t)
	dev.setReady(true)
	router := srv.buildRouter()

	tests := []struct {
		name   string
		role   auth.Role
		method string
		target string
		body   string
		want   int
	}{
		{"viewer reads", auth.RoleViewer, http.MethodGet, "/api/v1/actions", "", http.StatusOK},
		{"viewer cannot set", auth.RoleViewer, http.MethodPost, "/api/v1/set", `{"path":"/a","value":1}`, http.StatusForbidden},
		{"viewer cannot run actions", auth.RoleViewer, http.MethodPost, "/api/v1/actions/input_mute", "", http.StatusForbidden},
		{"operator sets", auth.RoleOperator, http.MethodPost, "/api/v1/set", `{"path":"/a","value":1}`, http.StatusAccepted},
		{"operator cannot send raw", auth.RoleOperator, http.MethodPost, "/api/v1/cmd", `{"type":"get"}`, http.StatusForbidden},
		{"operator cannot record", auth.RoleOperator, http.MethodPost, "/api/v1/recording/start", "", http.StatusForbidden},
		{"admin sends raw", auth.RoleAdmin, http.MethodPost, "/api/v1/cmd", `{"type":"get"}`, http.StatusAccepted},
		{"admin records", auth.RoleAdmin, http.MethodPost, "/api/v1/recording/start", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.role, tt.method, tt.target, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

// ─── State ─────────────────────────────────────────────────────────

func TestDevice(t *testing.T) {
	srv, _, _ := testServer(t)
	resp := decode(t, do(t, srv.buildRouter(), auth.RoleViewer, http.MethodGet, "/api/v1/device", ""))

	if resp["type"] != "PRODIGY.MP" {
		t.Errorf("type = %v, want PRODIGY.MP", resp["type"])
	}
	if resp["seq"] != float64(7) {
		t.Errorf("seq = %v, want 7", resp["seq"])
	}
	info, _ := resp["info"].(map[string]any)
	if info["serial_number"] != "12345" {
		t.Errorf("info = %v", info)
	}
	if _, ok := resp["last_change"]; ok {
		t.Error("last_change present with no recorded change")
	}
}

func TestGetState(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	tests := []struct {
		name      string
		target    string
		wantCode  int
		wantValue any
	}{
		{"leaf", "/api/v1/state?path=/settings/input_mute/1", http.StatusOK, true},
		{"translated", "/api/v1/state?path=/status/fading/0&translation=fadingStates", http.StatusOK, "faded_out"},
		{"missing path", "/api/v1/state?path=/settings/nothing", http.StatusNotFound, nil},
		{"untranslatable", "/api/v1/state?path=/settings/input_mute/1&translation=input", http.StatusNotFound, nil},
		{"relative path", "/api/v1/state?path=settings", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, auth.RoleViewer, http.MethodGet, tt.target, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantValue == nil {
				return
			}
			if got := decode(t, w)["value"]; got != tt.wantValue {
				t.Errorf("value = %v, want %v", got, tt.wantValue)
			}
		})
	}
}

func TestGetState_Root(t *testing.T) {
	srv, _, _ := testServer(t)
	w := do(t, srv.buildRouter(), auth.RoleViewer, http.MethodGet, "/api/v1/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode(t, w)
	if resp["path"] != "/" {
		t.Errorf("path = %v, want /", resp["path"])
	}
	tree, _ := resp["value"].(map[string]any)
	settings, _ := tree["settings"].(map[string]any)
	mutes, _ := settings["input_mute"].([]any)
	if len(mutes) != 2 || mutes[1] != true {
		t.Errorf("tree = %v", tree)
	}
}

func TestSet(t *testing.T) {
	srv, dev, _ := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, auth.RoleOperator, http.MethodPost, "/api/v1/set",
		`{"path":"/settings/input_mute/1","value":"madi1_1","translation":"input"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	dev.mu.Lock()
	calls := dev.sets
	dev.mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("SendSet called %d times, want 1", len(calls))
	}
	want := setCall{path: "/settings/input_mute/1", value: directout.StringValue("madi1_1"), category: "input"}
	if calls[0] != want {
		t.Errorf("SendSet(%+v), want %+v", calls[0], want)
	}
}

func TestSet_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		sendErr error
		want    int
	}{
		{"invalid JSON", `{bad`, nil, http.StatusBadRequest},
		{"missing value", `{"path":"/a"}`, nil, http.StatusBadRequest},
		{"missing path", `{"value":1}`, nil, http.StatusBadRequest},
		{"object value", `{"path":"/a","value":{"x":1}}`, nil, http.StatusBadRequest},
		{"not connected", `{"path":"/a","value":1}`, directout.ErrNotConnected, http.StatusServiceUnavailable},
		{"invalid path", `{"path":"/a","value":1}`, fmt.Errorf("%w: /a", directout.ErrInvalidPath), http.StatusUnprocessableEntity},
		{"untranslatable", `{"path":"/a","value":1}`, directout.ErrUntranslatable, http.StatusUnprocessableEntity},
		{"timeout", `{"path":"/a","value":1}`, context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", `{"path":"/a","value":1}`, errors.New("socket closed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, dev, _ := testServer(t)
			dev.sendErr = tt.sendErr
			w := do(t, srv.buildRouter(), auth.RoleOperator, http.MethodPost, "/api/v1/set", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestCmd(t *testing.T) {
	srv, dev, _ := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, auth.RoleAdmin, http.MethodPost, "/api/v1/cmd", `{"type":"cmd","payload":"identify"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	if seq := decode(t, w)["seq"]; seq != float64(7) {
		t.Errorf("seq = %v, want 7", seq)
	}
	dev.mu.Lock()
	cmds := dev.cmds
	dev.mu.Unlock()
	if len(cmds) != 1 || cmds[0] != `{"type":"cmd","payload":"identify"}` {
		t.Errorf("SendCmd got %v", cmds)
	}

	for _, body := range []string{`[1,2]`, `"get"`, `{"obj":[]}`} {
		w := do(t, router, auth.RoleAdmin, http.MethodPost, "/api/v1/cmd", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want %d", body, w.Code, http.StatusBadRequest)
		}
	}
}

func TestListSubscriptions(t *testing.T) {
	srv, _, _ := testServer(t)
	resp := decode(t, do(t, srv.buildRouter(), auth.RoleViewer, http.MethodGet, "/api/v1/subscriptions", ""))
	if resp["count"] != float64(1) {
		t.Errorf("count = %v, want 1", resp["count"])
	}
}

// ─── Actions & Feedbacks ───────────────────────────────────────────

func TestActions(t *testing.T) {
	srv, dev, _ := testServer(t)
	router := srv.buildRouter()

	resp := decode(t, do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/actions", ""))
	if resp["count"] != float64(1) {
		t.Errorf("count = %v, want 1", resp["count"])
	}

	body := `{"options":{"channel":3,"value":"%%toggle%%"}}`
	w := do(t, router, auth.RoleOperator, http.MethodPost, "/api/v1/actions/input_mute", body)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("before ready: status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	dev.setReady(true)
	w = do(t, router, auth.RoleOperator, http.MethodPost, "/api/v1/actions/input_mute", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	dev.mu.Lock()
	executed := dev.executed
	dev.mu.Unlock()
	if len(executed) != 1 {
		t.Fatalf("executed %d actions, want 1", len(executed))
	}
	if executed[0].opts["channel"] != directout.IntValue(3) ||
		executed[0].opts["value"] != directout.StringValue(directout.TokenToggle) {
		t.Errorf("options = %v", executed[0].opts)
	}

	w = do(t, router, auth.RoleOperator, http.MethodPost, "/api/v1/actions/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown action: status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = do(t, router, auth.RoleOperator, http.MethodPost, "/api/v1/actions/input_mute", `{"options":{"channel":{}}}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("object option: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestLearnAction(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := do(t, router, auth.RoleViewer, http.MethodPost, "/api/v1/actions/input_mute/learn", `{"options":{"channel":1}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decode(t, w)
	if resp["learned"] != true {
		t.Errorf("learned = %v, want true", resp["learned"])
	}
	opts, _ := resp["options"].(map[string]any)
	if opts["value"] != true || opts["channel"] != float64(1) {
		t.Errorf("options = %v", opts)
	}

	w = do(t, router, auth.RoleViewer, http.MethodPost, "/api/v1/actions/nope/learn", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown action: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestFeedbacks(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	resp := decode(t, do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/feedbacks", ""))
	if resp["count"] != float64(1) {
		t.Errorf("count = %v, want 1", resp["count"])
	}

	tests := []struct {
		name   string
		target string
		body   string
		code   int
		result any
	}{
		{"match", "/api/v1/feedbacks/input_mute/check", `{"options":{"channel":1}}`, http.StatusOK, true},
		{"no match", "/api/v1/feedbacks/input_mute/check", `{"options":{"channel":2}}`, http.StatusOK, false},
		{"empty body", "/api/v1/feedbacks/input_mute/check", "", http.StatusOK, false},
		{"unknown", "/api/v1/feedbacks/nope/check", "", http.StatusNotFound, nil},
		{"learn unknown", "/api/v1/feedbacks/nope/learn", "", http.StatusNotFound, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, auth.RoleViewer, http.MethodPost, tt.target, tt.body)
			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.code, w.Body.String())
			}
			if tt.result != nil {
				if got := decode(t, w)["result"]; got != tt.result {
					t.Errorf("result = %v, want %v", got, tt.result)
				}
			}
		})
	}
}

// ─── Variables, Choices, Translations ──────────────────────────────

func TestVariables(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	resp := decode(t, do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/variables", ""))
	values, _ := resp["values"].(map[string]any)
	if values["device_samplerate"] != float64(48000) {
		t.Errorf("values = %v", values)
	}

	w := do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/variables/device_samplerate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decode(t, w)["value"]; got != float64(48000) {
		t.Errorf("value = %v, want 48000", got)
	}

	w = do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/variables/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestChoices(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	resp := decode(t, do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/choices", ""))
	if _, ok := resp["inputChoices"]; !ok {
		t.Errorf("choices = %v, want inputChoices", resp)
	}

	resp = decode(t, do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/choices?list=inputChoices", ""))
	list, _ := resp["choices"].([]any)
	if len(list) != 1 {
		t.Fatalf("choices = %v", resp["choices"])
	}
	if first, _ := list[0].(map[string]any); first["label"] != "MADI 1 Ch 1" {
		t.Errorf("first choice = %v", first)
	}

	w := do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/choices?list=nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestTranslate(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	resp := decode(t, do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/translate", ""))
	if cats, _ := resp["categories"].([]any); len(cats) != 2 {
		t.Errorf("categories = %v", resp["categories"])
	}

	tests := []struct {
		name   string
		query  string
		code   int
		result any
	}{
		{"incoming", "category=fadingStates&value=1", http.StatusOK, "faded_out"},
		{"outgoing bare string", "category=fadingStates&direction=outgoing&value=faded_out", http.StatusOK, float64(1)},
		{"outgoing quoted string", "category=fadingStates&direction=outgoing&value=%22faded_out%22", http.StatusOK, float64(1)},
		{"unmapped", "category=fadingStates&value=9", http.StatusNotFound, nil},
		{"bad direction", "category=fadingStates&direction=sideways&value=1", http.StatusBadRequest, nil},
		{"missing value", "category=fadingStates", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/translate?"+tt.query, "")
			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.code, w.Body.String())
			}
			if tt.result != nil {
				if got := decode(t, w)["result"]; got != tt.result {
					t.Errorf("result = %v, want %v", got, tt.result)
				}
			}
		})
	}
}

// ─── Recording ─────────────────────────────────────────────────────

func TestRecording(t *testing.T) {
	srv, dev, rec := testServer(t)
	router := srv.buildRouter()

	resp := decode(t, do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/recording", ""))
	if resp["recording"] != false {
		t.Errorf("recording = %v before start", resp["recording"])
	}

	w := do(t, router, auth.RoleAdmin, http.MethodPost, "/api/v1/recording/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d; body: %s", w.Code, w.Body.String())
	}
	sessionID, _ := decode(t, w)["session_id"].(string)
	if sessionID == "" {
		t.Fatal("start returned no session_id")
	}
	if !dev.Recording() {
		t.Error("device recording not switched on")
	}

	rec.Handle(directout.RecordedAction{
		ID:         "r1",
		ActionID:   "input_mute",
		Options:    map[string]directout.Scalar{"channel": directout.IntValue(2)},
		RecordedAt: time.Now().UTC(),
	})

	resp = decode(t, do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/recording/actions", ""))
	if resp["count"] != float64(1) {
		t.Errorf("actions count = %v, want 1", resp["count"])
	}
	resp = decode(t, do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/recording/actions?session_id="+sessionID+"&limit=10", ""))
	if resp["count"] != float64(1) {
		t.Errorf("actions of session count = %v, want 1", resp["count"])
	}
	resp = decode(t, do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/recording/sessions", ""))
	if resp["count"] != float64(1) {
		t.Errorf("sessions count = %v, want 1", resp["count"])
	}

	w = do(t, router, auth.RoleAdmin, http.MethodPost, "/api/v1/recording/stop", "")
	if got := decode(t, w)["session_id"]; got != sessionID {
		t.Errorf("stop session_id = %v, want %s", got, sessionID)
	}
	if dev.Recording() {
		t.Error("device still recording after stop")
	}
	w = do(t, router, auth.RoleAdmin, http.MethodPost, "/api/v1/recording/stop", "")
	if w.Code != http.StatusConflict {
		t.Errorf("second stop status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestRecordedActions_BadQuery(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	for _, q := range []string{"limit=0", "limit=abc", "limit=999999", "since=yesterday"} {
		w := do(t, router, auth.RoleViewer, http.MethodGet, "/api/v1/recording/actions?"+q, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", q, w.Code, http.StatusBadRequest)
		}
	}
}

func TestRecording_NotConfigured(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.recorder = nil
	w := do(t, srv.buildRouter(), auth.RoleAdmin, http.MethodPost, "/api/v1/recording/start", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// ─── Metrics ───────────────────────────────────────────────────────

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)
	w := do(t, srv.buildRouter(), "", http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("metrics body missing go_goroutines")
	}
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.metricsCfg.Enabled = false
	w := do(t, srv.buildRouter(), "", http.MethodGet, "/metrics", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
