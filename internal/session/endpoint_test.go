package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/emberfield/waystone/internal/auth"
	authmock "github.com/emberfield/waystone/internal/auth/mock"
	"github.com/emberfield/waystone/internal/bus"
	busmock "github.com/emberfield/waystone/internal/bus/mock"
	"github.com/emberfield/waystone/internal/command"
	"github.com/emberfield/waystone/internal/session"
	"github.com/emberfield/waystone/pkg/wire"
)

type stubAOI struct {
	mu    sync.Mutex
	calls []wire.GPS
	err   error
}

func (s *stubAOI) Build(_ context.Context, _, _ string, pos wire.GPS) (*wire.AOIFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, pos)
	if s.err != nil {
		return nil, s.err
	}
	return &wire.AOIFrame{
		Type:            wire.TypeAreaOfInterest,
		SnapshotVersion: 7,
		Areas:           map[string]wire.AreaRecord{},
	}, nil
}

type stubDispatcher struct {
	mu       sync.Mutex
	requests []*command.Request
	result   *command.Result
}

func (s *stubDispatcher) Dispatch(_ context.Context, req *command.Request) *command.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.result != nil {
		return s.result
	}
	return &command.Result{Success: true, Message: "done"}
}

func (s *stubDispatcher) AdminOnly(verb string) bool {
	return strings.HasPrefix(command.Resolve(verb), "@")
}

func (s *stubDispatcher) last(t *testing.T) *command.Request {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatal("no request dispatched")
	}
	return s.requests[len(s.requests)-1]
}

type harness struct {
	server     *httptest.Server
	bus        *busmock.Bus
	aoi        *stubAOI
	dispatcher *stubDispatcher
	registry   *session.Registry
}

func newHarness(t *testing.T, opts ...session.Option) *harness {
	t.Helper()
	verifier := &authmock.Verifier{
		Identities: map[string]auth.Identity{
			"ada-token":   {UserID: "ada"},
			"grace-token": {UserID: "grace", IsAdmin: true},
		},
	}
	h := &harness{
		bus:        &busmock.Bus{},
		aoi:        &stubAOI{},
		dispatcher: &stubDispatcher{},
		registry:   session.NewRegistry(),
	}
	endpoint := session.NewEndpoint(verifier, h.bus, h.aoi, h.dispatcher, h.registry, "emberwood", opts...)

	mux := http.NewServeMux()
	mux.Handle("/ws", endpoint)
	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)
	return h
}

// dial connects and consumes the welcome frame.
func (h *harness) dial(t *testing.T, token string) (*websocket.Conn, wire.ConnectedFrame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })

	var welcome wire.ConnectedFrame
	readFrame(t, conn, &welcome)
	if welcome.Type != wire.TypeConnected {
		t.Fatalf("first frame type = %q, want connected", welcome.Type)
	}
	return conn, welcome
}

func readFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestSessionWelcome(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, welcome := h.dial(t, "ada-token")
	if welcome.UserID != "ada" {
		t.Errorf("welcome user = %q, want ada", welcome.UserID)
	}
	if welcome.Experience != "emberwood" {
		t.Errorf("welcome experience = %q, want the default", welcome.Experience)
	}
	if welcome.ConnectionID == "" {
		t.Error("welcome carries no connection id")
	}
	if got := h.registry.ActiveConnections(); got != 1 {
		t.Errorf("active connections = %d, want 1", got)
	}
}

func TestSessionRejectsInvalidToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?token=wrong"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, _, err = conn.Read(ctx)
	if err == nil {
		t.Fatal("connection survived an invalid token")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		t.Errorf("close status = %v, want policy violation", status)
	}
	if got := h.registry.ActiveConnections(); got != 0 {
		t.Errorf("active connections = %d after rejected connect", got)
	}
}

func TestSessionPingPong(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn, _ := h.dial(t, "ada-token")

	sendFrame(t, conn, map[string]any{"type": "ping", "timestamp": 42})
	var pong wire.PongFrame
	readFrame(t, conn, &pong)
	if pong.Type != wire.TypePong || pong.Timestamp != 42 {
		t.Errorf("pong = %+v, want echoed timestamp 42", pong)
	}
}

func TestSessionActionDispatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn, _ := h.dial(t, "grace-token")

	sendFrame(t, conn, map[string]any{
		"type":    "action",
		"action":  "collect",
		"item_id": "dream_bottle_1",
	})
	var res wire.ActionResponseFrame
	readFrame(t, conn, &res)
	if res.Type != wire.TypeActionResponse || !res.Success {
		t.Errorf("response = %+v", res)
	}
	if res.Action != "collect" {
		t.Errorf("response action = %q, want collect", res.Action)
	}

	req := h.dispatcher.last(t)
	if req.UserID != "grace" || req.Verb != "collect" || req.ItemID != "dream_bottle_1" {
		t.Errorf("dispatched request = %+v", req)
	}
	if !req.IsAdmin {
		t.Error("admin claim not propagated to the request")
	}
}

func TestSessionClosesOnAdminVerbWithoutClaim(t *testing.T) {
	t.Parallel()
	frames := map[string]map[string]any{
		"action": {"type": "action", "action": "@reset"},
		"chat":   {"type": "chat", "text": "@reset everything"},
	}
	for name, frame := range frames {
		frame := frame
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			conn, _ := h.dial(t, "ada-token")

			sendFrame(t, conn, frame)
			var errFrame wire.ErrorFrame
			readFrame(t, conn, &errFrame)
			if errFrame.Code != wire.CodeUnauthorized {
				t.Errorf("code = %q, want unauthorized", errFrame.Code)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _, err := conn.Read(ctx)
			if err == nil {
				t.Fatal("connection survived an admin verb without the claim")
			}
			if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
				t.Errorf("close status = %v, want policy violation", status)
			}

			h.dispatcher.mu.Lock()
			defer h.dispatcher.mu.Unlock()
			if len(h.dispatcher.requests) != 0 {
				t.Errorf("admin verb reached the dispatcher: %+v", h.dispatcher.requests[0])
			}
		})
	}
}

func TestSessionAdminVerbWithClaim(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn, _ := h.dial(t, "grace-token")

	sendFrame(t, conn, map[string]any{"type": "action", "action": "@stats"})
	var res wire.ActionResponseFrame
	readFrame(t, conn, &res)
	if res.Type != wire.TypeActionResponse || !res.Success {
		t.Errorf("response = %+v", res)
	}
	if req := h.dispatcher.last(t); req.Verb != "@stats" || !req.IsAdmin {
		t.Errorf("dispatched request = %+v", req)
	}
}

func TestSessionUpdateLocation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn, _ := h.dial(t, "ada-token")

	sendFrame(t, conn, map[string]any{"type": "update_location", "lat": 37.7793, "lng": -122.4193})
	var aoiFrame wire.AOIFrame
	readFrame(t, conn, &aoiFrame)
	if aoiFrame.Type != wire.TypeAreaOfInterest {
		t.Fatalf("frame type = %q, want area_of_interest", aoiFrame.Type)
	}
	if aoiFrame.SnapshotVersion != 7 {
		t.Errorf("snapshot version = %d, want the builder's", aoiFrame.SnapshotVersion)
	}

	h.aoi.mu.Lock()
	defer h.aoi.mu.Unlock()
	if len(h.aoi.calls) != 1 || h.aoi.calls[0].Lat != 37.7793 {
		t.Errorf("aoi calls = %+v", h.aoi.calls)
	}
}

func TestSessionMalformedFrames(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn, _ := h.dial(t, "ada-token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errFrame wire.ErrorFrame
	readFrame(t, conn, &errFrame)
	if errFrame.Code != wire.CodeInvalidJSON {
		t.Errorf("code = %q, want invalid_json", errFrame.Code)
	}

	sendFrame(t, conn, map[string]any{"type": "warp"})
	readFrame(t, conn, &errFrame)
	if errFrame.Code != wire.CodeUnknownType {
		t.Errorf("code = %q, want unknown_type", errFrame.Code)
	}

	// The connection survived both bad frames.
	sendFrame(t, conn, map[string]any{"type": "ping", "timestamp": 1})
	var pong wire.PongFrame
	readFrame(t, conn, &pong)
	if pong.Type != wire.TypePong {
		t.Errorf("connection unusable after protocol errors: %+v", pong)
	}
}

func TestSessionBridgesWorldUpdates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn, _ := h.dial(t, "ada-token")

	payload, _ := json.Marshal(wire.WorldUpdateFrame{
		Type:            wire.TypeWorldUpdate,
		Version:         wire.WorldUpdateVersion,
		UserID:          "ada",
		BaseVersion:     3,
		SnapshotVersion: 4,
	})
	h.bus.Emit(bus.UserSubject("ada"), payload)

	var update wire.WorldUpdateFrame
	readFrame(t, conn, &update)
	if update.Type != wire.TypeWorldUpdate || update.SnapshotVersion != 4 {
		t.Errorf("bridged frame = %+v", update)
	}
}

func TestSessionChatToNPC(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn, _ := h.dial(t, "ada-token")

	sendFrame(t, conn, map[string]any{"type": "chat", "npc_id": "keeper", "text": "hello"})
	var res wire.ActionResponseFrame
	readFrame(t, conn, &res)
	if res.Type != wire.TypeActionResponse {
		t.Fatalf("frame type = %q", res.Type)
	}
	req := h.dispatcher.last(t)
	if req.Verb != "talk" || req.NPCID != "keeper" || req.Message != "hello" {
		t.Errorf("chat mapped to %+v, want a talk request", req)
	}
}

func TestSingleSessionPerUser(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	first, _ := h.dial(t, "ada-token")
	second, _ := h.dial(t, "ada-token")

	// The first socket is evicted; its next read reports the close.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := first.Read(ctx); err == nil {
		t.Fatal("evicted session still readable")
	}

	// The replacement stays healthy.
	sendFrame(t, second, map[string]any{"type": "ping", "timestamp": 9})
	var pong wire.PongFrame
	readFrame(t, second, &pong)
	if pong.Timestamp != 9 {
		t.Errorf("pong = %+v", pong)
	}
	if got := h.registry.ActiveConnections(); got != 1 {
		t.Errorf("active connections = %d, want 1 after eviction", got)
	}
}

func TestSessionHeartbeat(t *testing.T) {
	t.Parallel()
	h := newHarness(t, session.WithHeartbeatInterval(50*time.Millisecond))
	conn, _ := h.dial(t, "ada-token")

	var beat wire.HeartbeatFrame
	readFrame(t, conn, &beat)
	if beat.Type != wire.TypeHeartbeat {
		t.Errorf("frame type = %q, want heartbeat", beat.Type)
	}
}
