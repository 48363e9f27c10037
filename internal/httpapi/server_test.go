package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/paserver/internal/assistant"
	"github.com/ent0n29/paserver/internal/config"
	"github.com/ent0n29/paserver/internal/history"
	"github.com/ent0n29/paserver/internal/llm"
	"github.com/ent0n29/paserver/internal/observability"
	"github.com/ent0n29/paserver/internal/profile"
	"github.com/ent0n29/paserver/internal/session"
)

type testServer struct {
	ts  *httptest.Server
	ctl *session.Controller
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	metrics := observability.NewMetrics("test_httpapi")
	store := history.NewInMemoryStore()
	reg := profile.NewRegistry()
	p := profile.New("Ava", profile.Settings{
		Model:            "test-model",
		ConnectedMessage: profile.DefaultConnectedMessage,
	}, "", history.New("Ava", store, time.UTC))
	if err := reg.Add(p); err != nil {
		t.Fatal(err)
	}
	runner := assistant.NewRunner(llm.NewMockClient("Hello", " there."), nil, nil, assistant.Config{}, nil, metrics)
	ctl := session.NewController(reg, runner, nil, metrics)

	ts := httptest.NewServer(New(cfg, ctl, reg, metrics, nil).Router())
	t.Cleanup(ts.Close)
	return &testServer{ts: ts, ctl: ctl}
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/socket"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// waitUnbound waits for the server to notice a closed client.
func waitUnbound(t *testing.T, s *testServer) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.ctl.Status().Bound {
		if time.Now().After(deadline) {
			t.Fatalf("client still bound after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	if err := ws.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func read(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func expect(t *testing.T, ws *websocket.Conn, event string) frame {
	t.Helper()
	f := read(t, ws)
	if f.Event != event {
		t.Fatalf("event = %q (%s), want %q", f.Event, f.Data, event)
	}
	return f
}

func TestHTTPRoutes(t *testing.T) {
	s := newTestServer(t, config.Config{AllowAnyOrigin: true})

	cases := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/", `"data":"Hello World"`},
		{http.MethodPost, "/", `"data":"post test"`},
		{http.MethodGet, "/profiles", `["Ava"]`},
		{http.MethodGet, "/healthz", `"status":"ok"`},
		{http.MethodGet, "/metrics", "test_httpapi_session_events_total"},
	}
	for _, tc := range cases {
		if tc.path == "/metrics" {
			// The counter only appears once something was observed.
			ws := s.dial(t)
			expect(t, ws, "message")
		}
		req, _ := http.NewRequest(tc.method, s.ts.URL+tc.path, nil)
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s error = %v", tc.method, tc.path, err)
		}
		body, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			t.Fatalf("%s %s read body: %v", tc.method, tc.path, err)
		}
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s %s status = %d, want 200", tc.method, tc.path, res.StatusCode)
		}
		if !strings.Contains(string(body), tc.want) {
			t.Fatalf("%s %s body = %s, want it to contain %s", tc.method, tc.path, body, tc.want)
		}
	}
}

func TestProfilesRouteListsNames(t *testing.T) {
	s := newTestServer(t, config.Config{AllowAnyOrigin: true})
	res, err := http.Get(s.ts.URL + "/profiles")
	if err != nil {
		t.Fatalf("GET /profiles error = %v", err)
	}
	defer res.Body.Close()

	var names []string
	if err := json.NewDecoder(res.Body).Decode(&names); err != nil {
		t.Fatalf("decode /profiles: %v", err)
	}
	if len(names) != 1 || names[0] != "Ava" {
		t.Fatalf("names = %v, want [Ava]", names)
	}
}

func TestSocketPipelinedEventsKeepOrder(t *testing.T) {
	s := newTestServer(t, config.Config{AllowAnyOrigin: true})
	for i := 0; i < 20; i++ {
		ws := s.dial(t)
		expect(t, ws, "message")

		send(t, ws, "init", map[string]any{"platform": "PC"})
		send(t, ws, "loadProfile", map[string]any{"profile": "Ava"})
		send(t, ws, "addHistory", map[string]any{"msg": map[string]any{"name": "user", "role": "user", "content": "hi"}})
		for _, ev := range []string{"init", "loadProfile", "addHistory"} {
			if f := read(t, ws); f.Event != "success" {
				t.Fatalf("round %d: %s answered with %q (%s), want success", i, ev, f.Event, f.Data)
			}
		}
		ws.Close()
		waitUnbound(t, s)
	}
}

func TestSocketChatFlow(t *testing.T) {
	s := newTestServer(t, config.Config{AllowAnyOrigin: true})
	ws := s.dial(t)

	hello := expect(t, ws, "message")
	if string(hello.Data) != `{"type":"textRes","msg":"OK"}` {
		t.Fatalf("hello = %s", hello.Data)
	}

	send(t, ws, "init", map[string]any{"platform": "PC"})
	if f := expect(t, ws, "success"); string(f.Data) != "null" && len(f.Data) != 0 {
		t.Fatalf("init success data = %s, want null", f.Data)
	}

	send(t, ws, "loadProfile", map[string]any{"profile": "Ava"})
	expect(t, ws, "success")

	send(t, ws, "addChat", map[string]any{"msg": map[string]any{"name": "user", "role": "user", "content": "hi"}})
	expect(t, ws, "streamStart")
	var text strings.Builder
	for {
		f := read(t, ws)
		if f.Event == "streamEnd" {
			break
		}
		if f.Event != "streamDelta" {
			t.Fatalf("event = %q during stream", f.Event)
		}
		var chunk struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(f.Data, &chunk); err != nil {
			t.Fatalf("decode chunk %s: %v", f.Data, err)
		}
		text.WriteString(chunk.Text)
	}
	if text.String() != "Hello there." {
		t.Fatalf("streamed text = %q, want %q", text.String(), "Hello there.")
	}
	expect(t, ws, "success")

	send(t, ws, "listProfiles", nil)
	if f := expect(t, ws, "profilesData"); !strings.Contains(string(f.Data), `"Ava"`) {
		t.Fatalf("profilesData = %s", f.Data)
	}
}

func TestSocketReplaceClient(t *testing.T) {
	s := newTestServer(t, config.Config{AllowAnyOrigin: true})
	first := s.dial(t)
	expect(t, first, "message")
	send(t, first, "init", map[string]any{"platform": "PC"})
	expect(t, first, "success")

	second := s.dial(t)
	expect(t, second, "message")
	send(t, second, "init", map[string]any{"platform": "phone"})
	expect(t, second, "replaceClientConfirm")

	send(t, second, "init", map[string]any{"platform": "phone", "confirm": true})
	expect(t, first, "connectionReplaced")
	expect(t, second, "success")

	_ = first.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatalf("replaced connection still open")
	}
}

func TestSocketRejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t, config.Config{AllowAnyOrigin: false})
	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/socket"

	header := http.Header{"Origin": []string{"http://evil.example"}}
	if _, res, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatalf("dial with foreign origin succeeded")
	} else if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("dial error = %v, want 403", err)
	}

	same := http.Header{"Origin": []string{s.ts.URL}}
	ws, _, err := websocket.DefaultDialer.Dial(url, same)
	if err != nil {
		t.Fatalf("dial with same origin error = %v", err)
	}
	ws.Close()
}

func TestSocketConnectRateLimit(t *testing.T) {
	s := newTestServer(t, config.Config{AllowAnyOrigin: true, WSConnectRate: 0.001, WSConnectBurst: 1})
	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/socket"

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("first dial error = %v", err)
	}
	defer ws.Close()

	_, res, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil || res == nil || res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second dial = %v, want 429", err)
	}
}

func TestConnectLimiterExpiresHosts(t *testing.T) {
	l := newConnectLimiter(0.001, 1)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	if !l.allow("10.0.0.1") || l.allow("10.0.0.1") {
		t.Fatalf("burst of one not enforced")
	}
	if !l.allow("10.0.0.2") {
		t.Fatalf("limits leaked across hosts")
	}
	now = now.Add(limiterExpiry + time.Second)
	if !l.allow("10.0.0.1") {
		t.Fatalf("expired host still limited")
	}
	if newConnectLimiter(0, 0) != nil {
		t.Fatalf("zero rate should disable limiting")
	}
}
