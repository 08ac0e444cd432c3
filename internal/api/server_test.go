package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ImGhostCode/smart-garden/internal/address"
	"github.com/ImGhostCode/smart-garden/internal/gateway"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/config"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/logging"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/mqtt"
	"github.com/ImGhostCode/smart-garden/internal/packet"
	"github.com/ImGhostCode/smart-garden/internal/registry"
)

const testCommandTopic = "smartgarden/area1/node/+/pump"

// mockStore is a hand-written registry double.
type mockStore struct {
	mu        sync.Mutex
	nodes     []registry.Node
	latest    map[int]*registry.Reading
	readings  []registry.Reading
	commands  []registry.CommandRecord
	err       error
	lastQuery registry.ReadingQuery
	lastNode  int
	lastLimit int
}

func newMockStore() *mockStore {
	created := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	return &mockStore{
		nodes: []registry.Node{
			{ID: 1, Address: "1NODE", Pipe: 1, CreatedAt: created},
			{ID: 2, Address: "2NODE", Pipe: 2, CreatedAt: created},
		},
		latest: make(map[int]*registry.Reading),
	}
}

func (m *mockStore) ListNodes(context.Context) ([]registry.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.nodes, nil
}

func (m *mockStore) GetNode(_ context.Context, id int) (*registry.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.nodes {
		if m.nodes[i].ID == id {
			n := m.nodes[i]
			return &n, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", registry.ErrNodeNotFound, id)
}

func (m *mockStore) LatestReading(_ context.Context, nodeID int) (*registry.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.latest[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: node %d", registry.ErrNoReadings, nodeID)
	}
	return r, nil
}

func (m *mockStore) Readings(_ context.Context, q registry.ReadingQuery) ([]registry.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuery = q
	if m.err != nil {
		return nil, m.err
	}
	return m.readings, nil
}

func (m *mockStore) Commands(_ context.Context, nodeID, limit int) ([]registry.CommandRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastNode, m.lastLimit = nodeID, limit
	return m.commands, nil
}

// mockPublisher records pump publishes.
type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	err       error
	topics    []string
	payloads  []string
}

func (m *mockPublisher) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.topics = append(m.topics, topic)
	m.payloads = append(m.payloads, string(payload))
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// mockRecorder records API command events.
type mockRecorder struct {
	mu     sync.Mutex
	events []gateway.CommandEvent
}

func (m *mockRecorder) RecordCommand(_ context.Context, ev gateway.CommandEvent) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

type testDeps struct {
	store     *mockStore
	publisher *mockPublisher
	recorder  *mockRecorder
}

// testServer builds a Server with hand-written doubles. mutate may adjust
// the dependencies before New is called.
func testServer(t *testing.T, mutate func(*Deps)) (*Server, testDeps) {
	t.Helper()

	td := testDeps{
		store:     newMockStore(),
		publisher: &mockPublisher{connected: true},
		recorder:  &mockRecorder{},
	}

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:       logging.Discard(),
		Store:        td.store,
		Table:        address.Default(),
		CommandTopic: testCommandTopic,
		Publisher:    td.publisher,
		Commands:     td.recorder,
		Version:      "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	srv.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return srv, td
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func TestNew_RequiresDeps(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"no logger", func(d *Deps) { d.Logger = nil }},
		{"no store", func(d *Deps) { d.Store = nil }},
		{"no table", func(d *Deps) { d.Table = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Deps{Logger: logging.Discard(), Store: newMockStore(), Table: address.Default()}
			tt.mutate(&d)
			if _, err := New(d); err == nil {
				t.Error("New() error = nil")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Checks = []HealthCheck{{Name: "database", Check: func(context.Context) error { return nil }}}
	})

	rec := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "ok" || body["version"] != "test" || body["mqtt_connected"] != true {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestHealth_Degraded(t *testing.T) {
	srv, td := testServer(t, func(d *Deps) {
		d.Checks = []HealthCheck{{Name: "influxdb", Check: func(context.Context) error { return errors.New("unreachable") }}}
	})
	td.publisher.connected = false

	rec := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decode(t, rec)
	checks, _ := body["checks"].(map[string]any)
	if body["status"] != "degraded" || checks["influxdb"] != "unreachable" {
		t.Errorf("body = %v", body)
	}
}

func TestListNodes(t *testing.T) {
	srv, _ := testServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/nodes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode(t, rec)
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}
}

func TestGetNode(t *testing.T) {
	srv, _ := testServer(t, nil)

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/nodes/2", http.StatusOK},
		{"/api/v1/nodes/abc", http.StatusBadRequest},
		{"/api/v1/nodes/0", http.StatusBadRequest},
		{"/api/v1/nodes/6", http.StatusBadRequest},
		// Configured but never seeded.
		{"/api/v1/nodes/4", http.StatusNotFound},
		{"/api/v1/nodes/1/latest", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if rec := do(t, srv, http.MethodGet, tt.path, ""); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestLatestReading(t *testing.T) {
	srv, td := testServer(t, nil)
	temp := 24.5
	td.store.latest[3] = &registry.Reading{ID: "r1", NodeID: 3, Temperature: &temp, LDR: 512, Soil: 300}

	rec := do(t, srv, http.MethodGet, "/api/v1/nodes/3/latest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode(t, rec)
	if body["temperature"] != 24.5 || body["humidity"] != nil || body["soil"] != float64(300) {
		t.Errorf("body = %v", body)
	}
}

func TestPump_PublishesToCommandTopic(t *testing.T) {
	srv, td := testServer(t, nil)

	rec := do(t, srv, http.MethodPost, "/api/v1/nodes/2/pump", `{"command":"on"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", rec.Code, rec.Body.String())
	}

	if len(td.publisher.topics) != 1 {
		t.Fatalf("publishes = %d, want 1", len(td.publisher.topics))
	}
	if td.publisher.topics[0] != "smartgarden/area1/node/2/pump" || td.publisher.payloads[0] != "ON" {
		t.Errorf("published %q to %q", td.publisher.payloads[0], td.publisher.topics[0])
	}

	if len(td.recorder.events) != 1 {
		t.Fatalf("recorded events = %d, want 1", len(td.recorder.events))
	}
	ev := td.recorder.events[0]
	if ev.Node != 2 || ev.Command != "ON" || ev.Source != gateway.SourceAPI || ev.Status != gateway.CommandRequested {
		t.Errorf("event = %+v", ev)
	}

	body := decode(t, rec)
	if body["status"] != gateway.CommandRequested || body["topic"] != "smartgarden/area1/node/2/pump" {
		t.Errorf("body = %v", body)
	}
}

func TestPump_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		body  string
		setup func(td testDeps)
		want  int
	}{
		{"bad json", "/api/v1/nodes/1/pump", `{`, nil, http.StatusBadRequest},
		{"unknown command", "/api/v1/nodes/1/pump", `{"command":"TOGGLE"}`, nil, http.StatusUnprocessableEntity},
		{"empty command", "/api/v1/nodes/1/pump", `{"command":""}`, nil, http.StatusUnprocessableEntity},
		{"node out of range", "/api/v1/nodes/9/pump", `{"command":"ON"}`, nil, http.StatusBadRequest},
		{"broker down", "/api/v1/nodes/1/pump", `{"command":"ON"}`,
			func(td testDeps) { td.publisher.connected = false }, http.StatusServiceUnavailable},
		{"session lost mid publish", "/api/v1/nodes/1/pump", `{"command":"OFF"}`,
			func(td testDeps) { td.publisher.err = fmt.Errorf("%w: gone", mqtt.ErrSessionLost) }, http.StatusServiceUnavailable},
		{"publish error", "/api/v1/nodes/1/pump", `{"command":"OFF"}`,
			func(td testDeps) { td.publisher.err = mqtt.ErrPublishFailed }, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, td := testServer(t, nil)
			if tt.setup != nil {
				tt.setup(td)
			}
			rec := do(t, srv, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
			if len(td.recorder.events) != 0 {
				t.Errorf("recorded %d events, want 0", len(td.recorder.events))
			}
		})
	}
}

func TestPump_NoPublisher(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.Publisher = nil })
	rec := do(t, srv, http.MethodPost, "/api/v1/nodes/1/pump", `{"command":"ON"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestListReadings_Query(t *testing.T) {
	srv, td := testServer(t, nil)

	rec := do(t, srv, http.MethodGet,
		"/api/v1/readings?node_id=3&from=2026-05-01T00:00:00Z&to=2026-05-02T00:00:00Z&limit=50", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	q := td.store.lastQuery
	if q.NodeID != 3 || q.Limit != 50 {
		t.Errorf("query = %+v", q)
	}
	if !q.From.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)) || !q.To.Equal(time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("range = %v .. %v", q.From, q.To)
	}
}

func TestListReadings_BadParams(t *testing.T) {
	srv, _ := testServer(t, nil)

	for _, path := range []string{
		"/api/v1/readings?node_id=x",
		"/api/v1/readings?node_id=7",
		"/api/v1/readings?from=yesterday",
		"/api/v1/readings?to=2026-13-01",
		"/api/v1/readings?limit=0",
		"/api/v1/readings?limit=-5",
	} {
		if rec := do(t, srv, http.MethodGet, path, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestListReadings_StoreErrors(t *testing.T) {
	srv, td := testServer(t, nil)

	td.store.err = fmt.Errorf("%w: limit 20000", registry.ErrInvalidQuery)
	if rec := do(t, srv, http.MethodGet, "/api/v1/readings?limit=20000", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid query status = %d, want 400", rec.Code)
	}

	td.store.err = errors.New("disk I/O error")
	if rec := do(t, srv, http.MethodGet, "/api/v1/readings", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("store failure status = %d, want 500", rec.Code)
	}
}

func TestListCommands(t *testing.T) {
	srv, td := testServer(t, nil)
	td.store.commands = []registry.CommandRecord{{ID: "c1", NodeID: 2, Command: "ON", Source: "mqtt", Status: "sent"}}

	rec := do(t, srv, http.MethodGet, "/api/v1/commands?node_id=2&limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if td.store.lastNode != 2 || td.store.lastLimit != 10 {
		t.Errorf("store called with node=%d limit=%d", td.store.lastNode, td.store.lastLimit)
	}
	if body := decode(t, rec); body["count"] != float64(1) {
		t.Errorf("body = %v", body)
	}
}

func TestDashboardMount(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Dashboard = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("garden dashboard"))
		})
	})

	rec := do(t, srv, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "garden dashboard" {
		t.Errorf("GET / = %d %q", rec.Code, rec.Body.String())
	}

	// API routes still win over the dashboard.
	rec = do(t, srv, http.MethodGet, "/api/v1/nodes", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count"`) {
		t.Errorf("GET /api/v1/nodes = %d %q", rec.Code, rec.Body.String())
	}
	rec = do(t, srv, http.MethodGet, "/api/v1/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /api/v1/nope = %d, want 404", rec.Code)
	}
}

func TestNoDashboard_NotFound(t *testing.T) {
	srv, _ := testServer(t, nil)

	rec := do(t, srv, http.MethodGet, "/", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET / without dashboard = %d, want 404", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "smartgarden_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	srv, _ := testServer(t, func(d *Deps) { d.Gatherer = reg })
	rec := do(t, srv, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "smartgarden_test_total 3") {
		t.Errorf("metrics body missing counter:\n%s", rec.Body.String())
	}
}

func TestSystem(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.GatewayStats = func() map[string]any { return map[string]any{"readings": 4} }
	})

	rec := do(t, srv, http.MethodGet, "/api/v1/system", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode(t, rec)
	gw, _ := body["gateway"].(map[string]any)
	if gw["readings"] != float64(4) || body["database"] != nil {
		t.Errorf("body = %v", body)
	}
}

func TestCORS(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://garden.local"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/nodes/1/pump", nil)
	req.Header.Set("Origin", "http://garden.local")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://garden.local" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/nodes", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for foreign origin = %q, want empty", got)
	}
}

func TestRecovery(t *testing.T) {
	srv, td := testServer(t, nil)
	srv.store = panicStore{td.store}

	rec := do(t, srv, http.MethodGet, "/api/v1/nodes", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

type panicStore struct{ *mockStore }

func (panicStore) ListNodes(context.Context) ([]registry.Node, error) { panic("boom") }

// dialHub connects a WebSocket client to a live test server and waits until
// the hub has registered it.
func dialHub(t *testing.T, srv *Server, query string) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub().ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	return msg
}

func TestWebSocket_ReadingEvent(t *testing.T) {
	srv, _ := testServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Hub().Run(ctx)

	conn := dialHub(t, srv, "")

	err := srv.Hub().OnReading(context.Background(), gateway.Reading{
		Telemetry:  packet.Telemetry{NodeID: 3, Temperature: float32(math.NaN()), Humidity: 61, LDR: 512, Soil: 300},
		Node:       3,
		Pipe:       3,
		ReceivedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Published:  true,
	})
	if err != nil {
		t.Fatalf("OnReading() error: %v", err)
	}

	msg := readEvent(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelReading {
		t.Fatalf("message = %+v", msg)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["node_id"] != float64(3) || payload["temperature"] != nil || payload["humidity"] != float64(61) {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_ChannelFilter(t *testing.T) {
	srv, _ := testServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Hub().Run(ctx)

	conn := dialHub(t, srv, "?channels=command")

	hub := srv.Hub()
	_ = hub.OnReading(context.Background(), gateway.Reading{Node: 1, Pipe: 1})
	_ = hub.OnCommand(context.Background(), gateway.CommandEvent{
		Node: 2, Command: "ON", Source: gateway.SourceMQTT, Status: gateway.CommandSent,
		At: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	})

	msg := readEvent(t, conn)
	if msg.EventType != ChannelCommand {
		t.Fatalf("first event = %q, want command", msg.EventType)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["command"] != "ON" || payload["status"] != gateway.CommandSent {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_SubscribeAndPing(t *testing.T) {
	srv, _ := testServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Hub().Run(ctx)

	conn := dialHub(t, srv, "?channels=none")

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}
	if msg := readEvent(t, conn); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Fatalf("ping reply = %+v", msg)
	}

	sub := WSMessage{Type: WSTypeSubscribe, ID: "s1", Payload: WSSubscribePayload{Channels: []string{ChannelReading}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}
	if msg := readEvent(t, conn); msg.Type != WSTypeResponse || msg.ID != "s1" {
		t.Fatalf("subscribe reply = %+v", msg)
	}

	_ = srv.Hub().OnReading(context.Background(), gateway.Reading{Node: 5, Pipe: 5})
	if msg := readEvent(t, conn); msg.EventType != ChannelReading {
		t.Errorf("event = %+v", msg)
	}
}

func TestWebSocket_HubShutdownDisconnects(t *testing.T) {
	srv, _ := testServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Hub().Run(ctx)

	conn := dialHub(t, srv, "")
	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage() after hub shutdown error = nil")
	}
}

func TestServer_StartClose(t *testing.T) {
	srv, _ := testServer(t, nil)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start error = nil")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}
