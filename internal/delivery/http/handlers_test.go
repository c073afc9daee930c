package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/delivery/ws"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/domain"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/journal"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/middleware"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/usecase"
)

type testEnv struct {
	handler *Handler
	router  http.Handler
	coord   *ws.Coordinator
	engine  *usecase.Engine
	journal *journal.Store
}

func setupTestEnv(t *testing.T, withJournal bool) *testEnv {
	t.Helper()
	engine := usecase.NewEngine(60)

	var (
		store    *journal.Store
		recorder ws.Recorder
		events   EventLister
	)
	if withJournal {
		var err error
		store, err = journal.Open(":memory:")
		if err != nil {
			t.Fatalf("open journal: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		recorder, events = store, store
	}

	coord := ws.NewCoordinator(ws.NewRegistry(10), recorder, nil, engine)
	h := NewHandler(coord, engine, HandlerOptions{
		AllowedOrigins: []string{"http://localhost:3000"},
		Client:         ws.ClientOptions{FeedInterval: 20 * time.Millisecond},
		Events:         events,
	})
	return &testEnv{
		handler: h,
		router:  NewRouter(RouterDeps{Handler: h, AllowedOrigins: []string{"http://localhost:3000"}}),
		coord:   coord,
		engine:  engine,
		journal: store,
	}
}

func TestIsOriginAllowed(t *testing.T) {
	allowed := []string{"http://localhost:7070", "http://localhost:3000"}
	tests := []struct {
		origin   string
		expected bool
	}{
		{"http://localhost:7070", true},
		{"http://localhost:3000", true},
		{"", true}, // Empty origin allowed (same-origin)
		{"http://evil.com", false},
		{"https://attacker.com", false},
	}

	for _, tc := range tests {
		result := isOriginAllowed(allowed, tc.origin)
		if result != tc.expected {
			t.Errorf("isOriginAllowed(%s) = %v, expected %v", tc.origin, result, tc.expected)
		}
	}

	if !isOriginAllowed([]string{"*"}, "http://anything.example") {
		t.Error("Expected wildcard to allow any origin")
	}
}

func TestHandleStatus(t *testing.T) {
	env := setupTestEnv(t, false)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Collaborative Engine Server OK") || !strings.Contains(body, "/telemetry") {
		t.Errorf("Unexpected status page: %s", body)
	}
	if !strings.Contains(body, `<dd id="pmw">0.500</dd>`) || !strings.Contains(body, `<dd id="sessions">0</dd>`) {
		t.Errorf("Expected live counts on the status page: %s", body)
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("Expected security headers on the status page")
	}
}

func TestHandleHealth(t *testing.T) {
	env := setupTestEnv(t, false)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("Unexpected health response: %d %s", w.Code, w.Body.String())
	}
}

func postControl(t *testing.T, env *testEnv, body string) (*httptest.ResponseRecorder, controlResponse) {
	t.Helper()
	req := httptest.NewRequest("POST", "/control", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	var res controlResponse
	if w.Code == http.StatusOK {
		if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return w, res
}

func TestHandleControl(t *testing.T) {
	env := setupTestEnv(t, false)

	w, res := postControl(t, env, `{"set":{"pmw":0.8},"pulse":{"k":3,"amp":1.2,"decay":0.9}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !res.OK || res.PMW != 0.8 || res.Pulses != 1 {
		t.Errorf("Unexpected response: %+v", res)
	}
	if env.engine.PMW() != 0.8 {
		t.Errorf("Engine PMW not updated: %v", env.engine.PMW())
	}
}

func TestHandleControl_PulseDefaults(t *testing.T) {
	env := setupTestEnv(t, false)

	_, res := postControl(t, env, `{"pulse":{}}`)
	if res.Pulses != 1 || res.PMW != usecase.DefaultPMW {
		t.Errorf("Unexpected response: %+v", res)
	}

	_, res = postControl(t, env, `{}`)
	if !res.OK || res.Pulses != 1 {
		t.Errorf("Empty control body should be a no-op, got %+v", res)
	}
}

func TestHandleControl_Malformed(t *testing.T) {
	env := setupTestEnv(t, false)

	for _, body := range []string{``, `not json`, `{"set":{"pmw":"high"}}`, `{"pulse":{"k":"x"}}`, `[1,2,3]`} {
		w, _ := postControl(t, env, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Body %q: expected 400, got %d", body, w.Code)
		}
	}
	if env.engine.PulseCount() != 0 {
		t.Error("Malformed requests must not change the engine")
	}
}

func TestHandleControl_RejectsUnboundedValues(t *testing.T) {
	env := setupTestEnv(t, false)

	for _, body := range []string{
		`{"pulse":{"k":3,"amp":0.5,"decay":2.0}}`,
		`{"pulse":{"decay":1}}`,
		`{"pulse":{"decay":0}}`,
		`{"pulse":{"amp":1e200}}`,
		`{"set":{"pmw":1e200}}`,
		`{"set":{"pmw":0.9},"pulse":{"decay":-1}}`,
	} {
		w, _ := postControl(t, env, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Body %q: expected 400, got %d", body, w.Code)
		}
	}
	if env.engine.PulseCount() != 0 || env.engine.PMW() != usecase.DefaultPMW {
		t.Errorf("Rejected requests changed the engine: pulses=%d pmw=%v",
			env.engine.PulseCount(), env.engine.PMW())
	}

	// a huge mode index is clamped, not rejected
	w, res := postControl(t, env, `{"pulse":{"k":1e30}}`)
	if w.Code != http.StatusOK || res.Pulses != 1 {
		t.Errorf("Expected clamped pulse to be accepted, got %d %+v", w.Code, res)
	}
	for i := 0; i < 3; i++ {
		frame, err := env.coord.FeedFrame(domain.NewParticipant("listener", nil, "s"))
		if err != nil || len(frame) == 0 {
			t.Fatalf("Feed frame failed after control: %v", err)
		}
	}
}

func TestHandleSessions(t *testing.T) {
	env := setupTestEnv(t, false)
	env.coord.Join(context.Background(), "alice", ws.NewClient(nil, ws.ClientOptions{}), "jam")
	env.coord.Join(context.Background(), "bob", ws.NewClient(nil, ws.ClientOptions{}), "jam")

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/sessions", nil))

	var out []sessionView
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].SessionID != "jam" || out[0].UsersCount != 2 {
		t.Errorf("Unexpected sessions: %+v", out)
	}
}

func TestHandleSessionEvents_Disabled(t *testing.T) {
	env := setupTestEnv(t, false)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/sessions/jam/events", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

func TestHandleSessionEvents(t *testing.T) {
	env := setupTestEnv(t, true)
	p := env.coord.Join(context.Background(), "alice", ws.NewClient(nil, ws.ClientOptions{}), "jam")
	env.coord.Leave(context.Background(), p)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/sessions/jam/events?limit=10", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var events []journal.Event
	if err := json.NewDecoder(w.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Kind != journal.KindJoin || events[1].Kind != journal.KindLeave {
		t.Errorf("Unexpected events: %+v", events)
	}

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/sessions/jam/events?limit=-1", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad limit, got %d", w.Code)
	}
}

func TestHandleWebSocket_InvalidIDs(t *testing.T) {
	env := setupTestEnv(t, false)

	for _, q := range []string{"?session_id=bad%20id", "?user_id=" + strings.Repeat("x", 65)} {
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, httptest.NewRequest("GET", "/telemetry"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("Query %q: expected 400, got %d", q, w.Code)
		}
	}
}

func TestHandleWebSocket_RejectsForeignOrigin(t *testing.T) {
	env := setupTestEnv(t, false)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	header := http.Header{"Origin": []string{"http://evil.com"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/telemetry", header)
	if err == nil {
		t.Fatal("Expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %v", resp)
	}
}

func TestHandleWebSocket_TelemetryFeed(t *testing.T) {
	env := setupTestEnv(t, false)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/telemetry?session_id=lab", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var greeting map[string]any
	if err := conn.ReadJSON(&greeting); err != nil {
		t.Fatal(err)
	}
	if greeting["type"] != "connection_established" || greeting["session_id"] != "lab" {
		t.Fatalf("Unexpected greeting: %v", greeting)
	}
	userID := greeting["user_info"].(map[string]any)["user_id"].(string)
	if len(userID) != 36 {
		t.Errorf("Expected a generated UUID user id, got %q", userID)
	}

	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame["type"] != "telemetry" || frame["session_id"] != "lab" {
		t.Fatalf("Unexpected telemetry frame: %v", frame)
	}
	collab := frame["collaboration"].(map[string]any)
	if collab["users_count"] != 1.0 {
		t.Errorf("Expected users_count 1, got %v", collab["users_count"])
	}
	if _, ok := frame["modes"]; !ok {
		t.Error("Expected the engine snapshot in the telemetry frame")
	}
}

func TestRouter_RateLimitsTelemetry(t *testing.T) {
	env := setupTestEnv(t, false)
	router := NewRouter(RouterDeps{
		Handler:   env.handler,
		WSLimiter: middleware.NewIPRateLimiter(1, 1),
	})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/telemetry?session_id=bad%20id", nil)
		req.RemoteAddr = "10.1.1.1:5555"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusBadRequest || codes[1] != http.StatusTooManyRequests {
		t.Errorf("Expected [400 429], got %v", codes)
	}
}

func TestHandler_DrainWaitsForConnections(t *testing.T) {
	env := setupTestEnv(t, false)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/telemetry?user_id=drainer", nil)
	if err != nil {
		t.Fatal(err)
	}

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := env.handler.Drain(short); err == nil {
		t.Fatal("Drain returned while a connection was open")
	}

	conn.Close()
	ctx, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	if err := env.handler.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if env.coord.Registry().Participant("drainer") != nil {
		t.Error("Expected the participant to have left")
	}
}
