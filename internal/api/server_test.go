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

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/proflame-bridge/internal/bridges/proflame"
	"github.com/nerrad567/proflame-bridge/internal/history"
	"github.com/nerrad567/proflame-bridge/internal/infrastructure/config"
	"github.com/nerrad567/proflame-bridge/internal/infrastructure/logging"
)

// fakeClient is an in-memory proflame.Connector.
type fakeClient struct {
	mu        sync.Mutex
	state     map[proflame.Attribute]int
	writes    []proflame.Change
	subs      []proflame.Subscriber
	connected bool
	setErr    error
}

func newFakeClient(initial map[proflame.Attribute]int) *fakeClient {
	c := &fakeClient{state: make(map[proflame.Attribute]int), connected: true}
	for k, v := range initial {
		c.state[k] = v
	}
	return c
}

func (c *fakeClient) GetState(attr proflame.Attribute) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.state[attr]
	return v, ok
}

func (c *fakeClient) SetState(attr proflame.Attribute, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.writes = append(c.writes, proflame.Change{Attribute: attr, Value: value})
	return nil
}

func (c *fakeClient) Subscribe(fn proflame.Subscriber) {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
}

func (c *fakeClient) Snapshot() map[proflame.Attribute]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[proflame.Attribute]int, len(c.state))
	for k, v := range c.state {
		out[k] = v
	}
	return out
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Stats() proflame.ClientStats {
	return proflame.ClientStats{Connected: c.IsConnected(), FramesRx: 7}
}

func (c *fakeClient) Close() error { return nil }

// report stores a change and notifies subscribers like the listener does.
func (c *fakeClient) report(attr proflame.Attribute, value int) {
	c.mu.Lock()
	c.state[attr] = value
	subs := append([]proflame.Subscriber(nil), c.subs...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(attr, value)
	}
}

func (c *fakeClient) takeWrites() []proflame.Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.writes
	c.writes = nil
	return w
}

type fakeHistory struct {
	entries   []history.Entry
	err       error
	attribute string
	limit     int
}

func (h *fakeHistory) GetHistory(_ context.Context, _, attribute string, limit int) ([]history.Entry, error) {
	h.attribute = attribute
	h.limit = limit
	return h.entries, h.err
}

// fakeMQTT stands in for any optional ConnectionChecker.
type fakeMQTT struct{ connected bool }

func (m fakeMQTT) IsConnected() bool { return m.connected }

type fakeBridge struct{}

func (fakeBridge) GetMetrics() proflame.BridgeMetrics {
	return proflame.BridgeMetrics{MQTTConnected: true, ChangesPublished: 3}
}

func (fakeBridge) Health() proflame.HealthMessage {
	return proflame.HealthMessage{Status: proflame.HealthHealthy}
}

func testDeps(client *fakeClient) Deps {
	return Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:         config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:     logging.Discard(),
		Version:    "test",
		DeviceID:   "living-room",
		DeviceName: "Living Room",
		Client:     client,
		Fireplace:  proflame.NewFireplace(client),
	}
}

func testServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestNew_Validation(t *testing.T) {
	client := newFakeClient(nil)
	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"missing logger", func(d *Deps) { d.Logger = nil }},
		{"missing client", func(d *Deps) { d.Client = nil }},
		{"missing fireplace", func(d *Deps) { d.Fireplace = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps(client)
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	client := newFakeClient(nil)
	srv := testServer(t, testDeps(client))

	w := doRequest(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	resp := decodeBody(t, w)
	if resp["status"] != "ok" || resp["version"] != "test" || resp["fireplace_connected"] != true {
		t.Errorf("health = %v", resp)
	}
	if _, ok := resp["mqtt_connected"]; ok {
		t.Error("mqtt_connected should be absent without MQTT")
	}

	client.mu.Lock()
	client.connected = false
	client.mu.Unlock()

	resp = decodeBody(t, doRequest(t, srv, http.MethodGet, "/api/v1/health", ""))
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
}

func TestHealth_WithBridge(t *testing.T) {
	deps := testDeps(newFakeClient(nil))
	deps.MQTT = fakeMQTT{connected: true}
	deps.Bridge = fakeBridge{}
	deps.Telemetry = fakeMQTT{connected: false}
	srv := testServer(t, deps)

	resp := decodeBody(t, doRequest(t, srv, http.MethodGet, "/api/v1/health", ""))
	if resp["mqtt_connected"] != true || resp["bridge_status"] != "healthy" {
		t.Errorf("health = %v", resp)
	}
	if resp["influxdb_connected"] != false {
		t.Errorf("influxdb_connected = %v, want false", resp["influxdb_connected"])
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	srv := testServer(t, testDeps(newFakeClient(nil)))

	tests := []struct {
		name     string
		header   string
		wantSame bool
	}{
		{"generated", "", false},
		{"client supplied", "client-123", true},
		{"oversized replaced", strings.Repeat("x", maxRequestIDLen+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			w := httptest.NewRecorder()
			srv.buildRouter().ServeHTTP(w, req)

			got := w.Header().Get("X-Request-ID")
			if tt.wantSame {
				if got != tt.header {
					t.Errorf("X-Request-ID = %q, want %q", got, tt.header)
				}
				return
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Errorf("X-Request-ID = %q, want a UUID", got)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	deps := testDeps(newFakeClient(nil))
	deps.Config.CORS.AllowedOrigins = []string{"http://panel.local"}
	srv := testServer(t, deps)

	tests := []struct {
		origin   string
		wantACAO string
	}{
		{"http://panel.local", "http://panel.local"},
		{"http://evil.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			srv.buildRouter().ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantACAO {
				t.Errorf("ACAO = %q, want %q", got, tt.wantACAO)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := testServer(t, testDeps(newFakeClient(nil)))
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestBodySizeLimit(t *testing.T) {
	srv := testServer(t, testDeps(newFakeClient(nil)))

	body := `{"command":"turn_on","parameters":{"pad":"` + strings.Repeat("x", maxRequestBodySize) + `"}}`
	w := doRequest(t, srv, http.MethodPost, "/api/v1/fireplace/commands", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestNotFound(t *testing.T) {
	srv := testServer(t, testDeps(newFakeClient(nil)))
	if w := doRequest(t, srv, http.MethodGet, "/api/v1/nonexistent", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Fireplace Tests ───────────────────────────────────────────────

func TestGetFireplace(t *testing.T) {
	client := newFakeClient(map[proflame.Attribute]int{
		proflame.AttrOperatingMode: int(proflame.ModeManual),
		proflame.AttrFlameHeight:   3,
	})
	srv := testServer(t, testDeps(client))

	w := doRequest(t, srv, http.MethodGet, "/api/v1/fireplace", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp FireplaceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.DeviceID != "living-room" || resp.Name != "Living Room" || !resp.Connected {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Status.FlameHeight != 3 {
		t.Errorf("FlameHeight = %d, want 3", resp.Status.FlameHeight)
	}
	if resp.Remembered.FanSpeed != 6 || resp.Remembered.LightBrightness != 6 {
		t.Errorf("Remembered = %+v, want defaults of 6", resp.Remembered)
	}
}

func TestGetState(t *testing.T) {
	client := newFakeClient(map[proflame.Attribute]int{proflame.AttrFanSpeed: 2})
	srv := testServer(t, testDeps(client))

	resp := decodeBody(t, doRequest(t, srv, http.MethodGet, "/api/v1/fireplace/state", ""))
	state, ok := resp["state"].(map[string]any)
	if !ok || state["fan_control"] != float64(2) || resp["count"] != float64(1) {
		t.Errorf("resp = %v", resp)
	}
}

func TestGetAttribute(t *testing.T) {
	client := newFakeClient(map[proflame.Attribute]int{proflame.AttrFanSpeed: 4})
	srv := testServer(t, testDeps(client))

	tests := []struct {
		path     string
		wantCode int
	}{
		{"/api/v1/fireplace/state/fan_control", http.StatusOK},
		{"/api/v1/fireplace/state/lamp_control", http.StatusNotFound},
		{"/api/v1/fireplace/state/bogus", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := doRequest(t, srv, http.MethodGet, tt.path, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusOK {
				if resp := decodeBody(t, w); resp["value"] != float64(4) {
					t.Errorf("value = %v, want 4", resp["value"])
				}
			}
		})
	}
}

func TestSetAttribute(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		body      string
		setErr    error
		wantCode  int
		wantWrite bool
	}{
		{"queued", "/api/v1/fireplace/state/flame_control", `{"value":4}`, nil, http.StatusAccepted, true},
		{"missing value", "/api/v1/fireplace/state/flame_control", `{}`, nil, http.StatusBadRequest, false},
		{"fractional value", "/api/v1/fireplace/state/flame_control", `{"value":2.5}`, nil, http.StatusBadRequest, false},
		{"invalid json", "/api/v1/fireplace/state/flame_control", `{`, nil, http.StatusBadRequest, false},
		{"unknown attribute", "/api/v1/fireplace/state/bogus", `{"value":1}`, nil, http.StatusNotFound, false},
		{"client closed", "/api/v1/fireplace/state/flame_control", `{"value":1}`, proflame.ErrClientClosed, http.StatusServiceUnavailable, false},
		{"unexpected error", "/api/v1/fireplace/state/flame_control", `{"value":1}`, errors.New("boom"), http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient(nil)
			client.setErr = tt.setErr
			srv := testServer(t, testDeps(client))

			w := doRequest(t, srv, http.MethodPut, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}

			writes := client.takeWrites()
			if tt.wantWrite {
				want := proflame.Change{Attribute: proflame.AttrFlameHeight, Value: 4}
				if len(writes) != 1 || writes[0] != want {
					t.Errorf("writes = %v, want [%v]", writes, want)
				}
				if resp := decodeBody(t, w); resp["status"] != "queued" {
					t.Errorf("status = %v, want queued", resp["status"])
				}
			} else if len(writes) != 0 {
				t.Errorf("unexpected writes %v", writes)
			}

			if tt.wantCode >= 400 {
				var apiErr Error
				if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil || apiErr.Status != tt.wantCode || apiErr.Code == "" {
					t.Errorf("error body = %s", w.Body.String())
				}
			}
		})
	}
}

func TestFireplaceErrorBody(t *testing.T) {
	tests := []struct {
		name     string
		setErr   error
		wantCode int
		wantErr  string
	}{
		{"unknown attribute", fmt.Errorf("set: %w", proflame.ErrUnknownAttribute), http.StatusBadRequest, ErrCodeUnknownAttribute},
		{"invalid parameter", proflame.ErrInvalidParameter, http.StatusBadRequest, ErrCodeInvalidCommand},
		{"client closed", proflame.ErrClientClosed, http.StatusServiceUnavailable, ErrCodeClientClosed},
		{"queue closed", proflame.ErrQueueClosed, http.StatusServiceUnavailable, ErrCodeClientClosed},
		{"unmapped", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient(nil)
			client.setErr = tt.setErr
			srv := testServer(t, testDeps(client))

			w := doRequest(t, srv, http.MethodPut, "/api/v1/fireplace/state/fan_control", `{"value":2}`)

			var apiErr Error
			if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil {
				t.Fatalf("unmarshal %s: %v", w.Body.String(), err)
			}
			if w.Code != tt.wantCode || apiErr.Status != tt.wantCode || apiErr.Code != tt.wantErr {
				t.Errorf("got %d %+v, want %d %s", w.Code, apiErr, tt.wantCode, tt.wantErr)
			}
			if apiErr.RequestID == "" || apiErr.RequestID != w.Header().Get("X-Request-ID") {
				t.Errorf("request_id = %q, header %q", apiErr.RequestID, w.Header().Get("X-Request-ID"))
			}
		})
	}
}

func TestCommand(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantCode   int
		wantWrites []proflame.Change
	}{
		{
			name:       "flame height",
			body:       `{"command":"set_flame_height","parameters":{"height":4}}`,
			wantCode:   http.StatusAccepted,
			wantWrites: []proflame.Change{{Attribute: proflame.AttrFlameHeight, Value: 4}},
		},
		{
			name:       "light off",
			body:       `{"command":"light_off"}`,
			wantCode:   http.StatusAccepted,
			wantWrites: []proflame.Change{{Attribute: proflame.AttrLightBrightness, Value: 0}},
		},
		{name: "unknown command", body: `{"command":"explode"}`, wantCode: http.StatusBadRequest},
		{name: "missing command", body: `{"parameters":{}}`, wantCode: http.StatusBadRequest},
		{name: "bad parameter", body: `{"command":"set_fan_speed","parameters":{"speed":"fast"}}`, wantCode: http.StatusBadRequest},
		{name: "invalid json", body: `nope`, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient(map[proflame.Attribute]int{proflame.AttrOperatingMode: int(proflame.ModeManual)})
			srv := testServer(t, testDeps(client))

			w := doRequest(t, srv, http.MethodPost, "/api/v1/fireplace/commands", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}

			writes := client.takeWrites()
			if len(writes) != len(tt.wantWrites) {
				t.Fatalf("writes = %v, want %v", writes, tt.wantWrites)
			}
			for i := range writes {
				if writes[i] != tt.wantWrites[i] {
					t.Errorf("write[%d] = %v, want %v", i, writes[i], tt.wantWrites[i])
				}
			}

			if tt.wantCode == http.StatusAccepted {
				resp := decodeBody(t, w)
				if id, _ := resp["command_id"].(string); id == "" {
					t.Error("command_id missing")
				}
			}
		})
	}
}

func TestListCommands(t *testing.T) {
	srv := testServer(t, testDeps(newFakeClient(nil)))

	resp := decodeBody(t, doRequest(t, srv, http.MethodGet, "/api/v1/fireplace/commands", ""))
	cmds, ok := resp["commands"].([]any)
	if !ok || len(cmds) != len(proflame.Commands()) {
		t.Errorf("commands = %v", resp["commands"])
	}
}

func TestHistory(t *testing.T) {
	entries := []history.Entry{
		{ID: 2, DeviceID: "living-room", Attribute: "fan_control", Value: 3, RecordedAt: time.Unix(200, 0).UTC()},
		{ID: 1, DeviceID: "living-room", Attribute: "fan_control", Value: 1, RecordedAt: time.Unix(100, 0).UTC()},
	}

	tests := []struct {
		name          string
		query         string
		wantCode      int
		wantAttribute string
		wantLimit     int
	}{
		{"defaults", "", http.StatusOK, "", defaultHistoryLimit},
		{"filtered", "?attribute=fan_control&limit=10", http.StatusOK, "fan_control", 10},
		{"clamped", "?limit=5000", http.StatusOK, "", maxHistoryLimit},
		{"unknown attribute", "?attribute=bogus", http.StatusBadRequest, "", 0},
		{"bad limit", "?limit=-1", http.StatusBadRequest, "", 0},
		{"non-numeric limit", "?limit=ten", http.StatusBadRequest, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hist := &fakeHistory{entries: entries}
			deps := testDeps(newFakeClient(nil))
			deps.History = hist
			srv := testServer(t, deps)

			w := doRequest(t, srv, http.MethodGet, "/api/v1/fireplace/history"+tt.query, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if hist.attribute != tt.wantAttribute || hist.limit != tt.wantLimit {
				t.Errorf("query attribute=%q limit=%d, want %q %d", hist.attribute, hist.limit, tt.wantAttribute, tt.wantLimit)
			}
			if resp := decodeBody(t, w); resp["count"] != float64(2) {
				t.Errorf("count = %v, want 2", resp["count"])
			}
		})
	}
}

func TestHistory_Unavailable(t *testing.T) {
	srv := testServer(t, testDeps(newFakeClient(nil)))
	if w := doRequest(t, srv, http.MethodGet, "/api/v1/fireplace/history", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}

	deps := testDeps(newFakeClient(nil))
	deps.History = &fakeHistory{err: errors.New("disk gone")}
	srv = testServer(t, deps)
	if w := doRequest(t, srv, http.MethodGet, "/api/v1/fireplace/history", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		probeErr      error
		wantCode      int
		wantPort      int
		wantReachable bool
	}{
		{"reachable default port", `{"host":"10.0.0.5"}`, nil, http.StatusOK, proflame.DefaultPort, true},
		{"explicit port", `{"host":"10.0.0.5","port":8088}`, nil, http.StatusOK, 8088, true},
		{"unreachable", `{"host":"10.0.0.6"}`, proflame.ErrConnectionFailed, http.StatusOK, proflame.DefaultPort, false},
		{"missing host", `{"port":88}`, nil, http.StatusUnprocessableEntity, 0, false},
		{"bad port", `{"host":"10.0.0.5","port":70000}`, nil, http.StatusUnprocessableEntity, 0, false},
		{"invalid json", `[`, nil, http.StatusBadRequest, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotHost string
			var gotPort int
			deps := testDeps(newFakeClient(nil))
			deps.Probe = func(_ context.Context, host string, port int) error {
				gotHost, gotPort = host, port
				return tt.probeErr
			}
			srv := testServer(t, deps)

			w := doRequest(t, srv, http.MethodPost, "/api/v1/probe", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				if gotHost != "" {
					t.Error("probe should not run for invalid requests")
				}
				return
			}
			if gotPort != tt.wantPort {
				t.Errorf("probed port = %d, want %d", gotPort, tt.wantPort)
			}
			if resp := decodeBody(t, w); resp["reachable"] != tt.wantReachable {
				t.Errorf("reachable = %v, want %v", resp["reachable"], tt.wantReachable)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	deps := testDeps(newFakeClient(nil))
	srv := testServer(t, deps)

	var m SystemMetrics
	w := doRequest(t, srv, http.MethodGet, "/api/v1/metrics", "")
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Version != "test" || m.Fireplace.FramesRx != 7 || m.MQTT != nil || m.InfluxDB != nil || m.Database != nil {
		t.Errorf("metrics = %+v", m)
	}

	deps.MQTT = fakeMQTT{connected: true}
	deps.Bridge = fakeBridge{}
	deps.Telemetry = fakeMQTT{connected: true}
	deps.DBStats = func(context.Context) DatabaseMetrics {
		return DatabaseMetrics{OpenConnections: 1, SchemaVersion: "20260101_000000"}
	}
	srv = testServer(t, deps)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/metrics", "")
	m = SystemMetrics{}
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.MQTT == nil || !m.MQTT.Connected || m.MQTT.Bridge == nil || m.MQTT.Bridge.ChangesPublished != 3 {
		t.Errorf("MQTT = %+v", m.MQTT)
	}
	if m.InfluxDB == nil || !m.InfluxDB.Connected {
		t.Errorf("InfluxDB = %+v", m.InfluxDB)
	}
	if m.Database == nil || m.Database.OpenConnections != 1 || m.Database.SchemaVersion != "20260101_000000" {
		t.Errorf("Database = %+v", m.Database)
	}
}

// ─── Hub Tests ─────────────────────────────────────────────────────

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	go hub.Run(t.Context())
	return hub
}

func TestHub_Defaults(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	if hub.maxMessage != defaultWSMaxMessageSize || hub.pingInterval != defaultWSPingInterval || hub.pongWait != defaultWSPongTimeout {
		t.Errorf("hub = %+v", hub)
	}
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := newTestHub(t)

	subscribed := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{EventStateChanged: {}},
	}
	other := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"something.else": {}},
	}
	hub.Register(subscribed)
	hub.Register(other)

	hub.Broadcast(EventStateChanged, StateChangedEvent{DeviceID: "living-room", Attribute: "fan_control", Value: 2})

	select {
	case msg := <-subscribed.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != EventStateChanged {
			t.Errorf("msg = %+v", wsMsg)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{}}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}

	// Sending to a departed client must not panic.
	client.trySend([]byte("late"))
}

// ─── Live Server Tests ─────────────────────────────────────────────

func startServer(t *testing.T, client *fakeClient) *Server {
	t.Helper()
	srv := testServer(t, testDeps(client))
	if err := srv.Start(t.Context()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() {
		if err := srv.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return srv
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	return msg
}

func TestServer_StartAndClose(t *testing.T) {
	srv := startServer(t, newFakeClient(nil))

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_StartSubscribesBeforeClientConnects(t *testing.T) {
	client := newFakeClient(nil)
	client.connected = false
	srv := startServer(t, client)

	client.mu.Lock()
	subs := len(client.subs)
	client.mu.Unlock()
	if subs != 1 {
		t.Fatalf("subscribers after Start = %d, want 1", subs)
	}

	srv.subscribeStateUpdates()
	client.mu.Lock()
	subs = len(client.subs)
	client.mu.Unlock()
	if subs != 1 {
		t.Errorf("subscribers after second registration = %d, want 1", subs)
	}
}

func TestServer_CloseBeforeStart(t *testing.T) {
	srv := testServer(t, testDeps(newFakeClient(nil)))
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if srv.Addr() != "" {
		t.Errorf("Addr() before Start = %q, want empty", srv.Addr())
	}
}

func TestWebSocket_SnapshotAndStateChanges(t *testing.T) {
	client := newFakeClient(map[proflame.Attribute]int{proflame.AttrFanSpeed: 1})
	srv := startServer(t, client)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	snap := readWS(t, ws)
	if snap.EventType != EventSnapshot {
		t.Fatalf("first event = %+v, want snapshot", snap)
	}
	payload, _ := snap.Payload.(map[string]any)
	state, _ := payload["state"].(map[string]any)
	if state["fan_control"] != float64(1) {
		t.Errorf("snapshot state = %v", payload)
	}

	// Wait for the hub to register the client before reporting.
	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub().ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	client.report(proflame.AttrFanSpeed, 3)

	ev := readWS(t, ws)
	if ev.EventType != EventStateChanged {
		t.Fatalf("event = %+v, want state change", ev)
	}
	change, _ := ev.Payload.(map[string]any)
	if change["attribute"] != "fan_control" || change["value"] != float64(3) || change["device_id"] != "living-room" {
		t.Errorf("change = %v", change)
	}
}

func TestWebSocket_Messages(t *testing.T) {
	srv := startServer(t, newFakeClient(nil))

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws?channels=none", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()
	readWS(t, ws) // snapshot

	tests := []struct {
		name     string
		send     any
		wantType string
	}{
		{"ping", WSMessage{Type: WSTypePing, ID: "p1"}, WSTypePong},
		{"subscribe", WSMessage{Type: WSTypeSubscribe, ID: "s1", Payload: WSSubscribePayload{Channels: []string{EventStateChanged}}}, WSTypeResponse},
		{"unsubscribe", WSMessage{Type: WSTypeUnsubscribe, ID: "u1", Payload: WSSubscribePayload{Channels: []string{EventStateChanged}}}, WSTypeResponse},
		{"unknown type", WSMessage{Type: "dance", ID: "d1"}, WSTypeError},
		{"invalid json", "not an object", WSTypeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteJSON(tt.send); err != nil {
				t.Fatalf("write: %v", err)
			}
			if got := readWS(t, ws); got.Type != tt.wantType {
				t.Errorf("reply = %+v, want type %s", got, tt.wantType)
			}
		})
	}
}
