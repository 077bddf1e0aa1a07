package api

import (
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"skirmish/internal/catalog"
	"skirmish/internal/game"
	"skirmish/internal/game/action"
	"skirmish/internal/game/world"
	"skirmish/internal/logger"
	"skirmish/internal/replication"
	"skirmish/internal/stats"
)

func init() {
	logger.Silence()
}

var testRateLimit = &RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000}

func newTestEngine(t *testing.T, hooks game.Hooks) *game.Engine {
	t.Helper()
	spells, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default failed: %v", err)
	}
	return game.NewEngine(game.EngineConfig{Seed: 1, Spells: spells, Hooks: hooks})
}

func newTestRouter(t *testing.T, cfg RouterConfig) http.Handler {
	t.Helper()
	if cfg.Engine == nil {
		cfg.Engine = newTestEngine(t, game.Hooks{})
	}
	if cfg.RateLimiter == nil {
		rl := NewIPRateLimiter(*testRateLimit)
		t.Cleanup(rl.Stop)
		cfg.RateLimiter = rl
	}
	cfg.DisableLogging = true
	return NewRouter(cfg)
}

func do(h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		r.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func spawn(t *testing.T, h http.Handler, name string, team int) world.StateData {
	t.Helper()
	body := `{"name":"` + name + `","team":` + strconv.Itoa(team) + `,"position":{"X":0,"Y":0,"Z":0}}`
	w := do(h, "POST", "/api/entities", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 from spawn, got %d: %s", w.Code, w.Body.String())
	}
	var s world.StateData
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatalf("decode spawn: %v", err)
	}
	return s
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})
	w := do(h, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

// TestSpawnAndGetEntity verifies the entity lifecycle endpoints
func TestSpawnAndGetEntity(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})
	s := spawn(t, h, "alice", 1)
	if s.ID <= 0 || s.Name != "alice" || s.Health <= 0 {
		t.Fatalf("Expected a live entity named alice, got %+v", s)
	}

	path := "/api/entities/" + strconv.Itoa(s.ID)
	if w := do(h, "GET", path, ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200 for existing entity, got %d", w.Code)
	}
	if w := do(h, "GET", "/api/entities/999", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown entity, got %d", w.Code)
	}
	if w := do(h, "GET", "/api/entities/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed id, got %d", w.Code)
	}
	if w := do(h, "POST", "/api/entities", `{"team":1}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing name, got %d", w.Code)
	}

	w := do(h, "GET", "/api/entities", "")
	var list struct {
		Entities []world.StateData `json:"entities"`
	}
	json.NewDecoder(w.Body).Decode(&list)
	if len(list.Entities) != 1 {
		t.Errorf("Expected 1 entity listed, got %d", len(list.Entities))
	}

	if w := do(h, "DELETE", path, ""); w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 from remove, got %d", w.Code)
	}
	if w := do(h, "DELETE", path, ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 removing twice, got %d", w.Code)
	}
}

// TestCastErrors verifies engine errors map onto status codes
func TestCastErrors(t *testing.T) {
	h := newTestRouter(t, RouterConfig{})
	s := spawn(t, h, "caster", 1)
	path := "/api/entities/" + strconv.Itoa(s.ID) + "/cast"

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown spell", `{"spell":"meteor"}`, http.StatusBadRequest},
		{"bad body", `{`, http.StatusBadRequest},
		{"first punch", `{"spell":"punch","target":{"X":0,"Y":0,"Z":5}}`, http.StatusOK},
		{"still casting", `{"spell":"punch","target":{"X":0,"Y":0,"Z":5}}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(h, "POST", path, tt.body); w.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	if w := do(h, "POST", "/api/entities/77/cast", `{"spell":"punch"}`); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 casting for unknown entity, got %d", w.Code)
	}
}

// TestWalkQueued verifies walk goes through the intake
func TestWalkQueued(t *testing.T) {
	engine := newTestEngine(t, game.Hooks{})
	h := newTestRouter(t, RouterConfig{Engine: engine})
	s := spawn(t, h, "walker", 1)

	w := do(h, "POST", "/api/entities/"+strconv.Itoa(s.ID)+"/walk", `{"direction":{"X":1,"Y":0,"Z":0}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	if got := engine.IntakeStats().Enqueued; got != 1 {
		t.Errorf("Expected 1 enqueued intent, got %d", got)
	}

	engine.Step()
	after, _ := engine.Entity(s.ID)
	if after.Position.X <= s.Position.X {
		t.Errorf("Expected entity to move along +X, got %v", after.Position)
	}
}

// TestAdminToken verifies mutating routes require the token when set
func TestAdminToken(t *testing.T) {
	h := newTestRouter(t, RouterConfig{AdminToken: "secret"})
	body := `{"name":"bob","team":2}`

	if w := do(h, "POST", "/api/entities", body); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
	if w := do(h, "POST", "/api/entities", body, "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong token, got %d", w.Code)
	}
	if w := do(h, "POST", "/api/entities", body, "Authorization", "Bearer secret"); w.Code != http.StatusCreated {
		t.Errorf("Expected 201 with bearer token, got %d", w.Code)
	}
	if w := do(h, "POST", "/api/entities", body, AdminTokenHeader, "secret"); w.Code != http.StatusCreated {
		t.Errorf("Expected 201 with header token, got %d", w.Code)
	}
	if w := do(h, "GET", "/api/entities", ""); w.Code != http.StatusOK {
		t.Errorf("Expected reads to stay open, got %d", w.Code)
	}
}

// TestRateLimitMiddleware verifies requests beyond the burst get 429
func TestRateLimitMiddleware(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2})
	defer rl.Stop()
	h := newTestRouter(t, RouterConfig{RateLimiter: rl})

	for i := 0; i < 2; i++ {
		if w := do(h, "GET", "/health", ""); w.Code != http.StatusOK {
			t.Fatalf("Expected 200 within burst, got %d", w.Code)
		}
	}
	w := do(h, "GET", "/health", "")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 past burst, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}

	// A different client has its own bucket
	if w := do(h, "GET", "/health", "", "X-Forwarded-For", "198.51.100.7"); w.Code != http.StatusOK {
		t.Errorf("Expected 200 for another IP, got %d", w.Code)
	}

	st := rl.Stats()
	if st.Allowed != 3 || st.Rejected != 1 || st.Tracked != 2 {
		t.Errorf("Expected 3 allowed, 1 rejected, 2 tracked, got %+v", st)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, CleanupInterval: time.Hour})
	defer rl.Stop()
	rl.Allow("10.0.0.1")
	rl.cleanup(time.Now().Add(time.Minute))
	if got := rl.Stats().Tracked; got != 0 {
		t.Errorf("Expected stale limiter removed, got %d tracked", got)
	}
}

func TestConnLimiter(t *testing.T) {
	c := NewConnLimiter(2)
	if !c.Acquire("a") || !c.Acquire("a") {
		t.Fatal("Expected two slots for a")
	}
	if c.Acquire("a") {
		t.Error("Expected third slot refused")
	}
	c.Release("a")
	if !c.Acquire("a") {
		t.Error("Expected slot after release")
	}
	c.Release("a")
	c.Release("a")
	if got := c.Count("a"); got != 0 {
		t.Errorf("Expected 0 open, got %d", got)
	}
}

func TestIsAllowedOrigin(t *testing.T) {
	allowed := []string{"https://arena.example.com", "https://*.example.net"}
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:3000", true},
		{"https://arena.example.com", true},
		{"https://play.example.net", true},
		{"http://play.example.net", false},
		{"https://example.net.evil.com", false},
		{"https://evil.com", false},
	}
	for _, tt := range tests {
		if got := IsAllowedOrigin(tt.origin, allowed); got != tt.want {
			t.Errorf("IsAllowedOrigin(%q) = %v, expected %v", tt.origin, got, tt.want)
		}
	}
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:4000"
	if got := GetClientIP(r); got != "203.0.113.9" {
		t.Errorf("Expected remote host, got %q", got)
	}
	r.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	if got := GetClientIP(r); got != "198.51.100.1" {
		t.Errorf("Expected first forwarded address, got %q", got)
	}
}

// TestDebugBasicAuth verifies the debug handler is gated by basic auth
func TestDebugBasicAuth(t *testing.T) {
	h := DebugHandler(ObservabilityConfig{BasicAuthUser: "ops", BasicAuthPass: "pw"})

	if w := do(h, "GET", "/health", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", w.Code)
	}

	r := httptest.NewRequest("GET", "/metrics", nil)
	r.SetBasicAuth("ops", "pw")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with credentials, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "sim_tick_duration_seconds") {
		t.Error("Expected simulation metrics in /metrics output")
	}
}

func TestLoopbackOnly(t *testing.T) {
	t.Setenv("ALLOW_DEBUG_EXTERNAL", "")
	if got := loopbackOnly("0.0.0.0:6060"); got != "127.0.0.1:6060" {
		t.Errorf("Expected forced loopback, got %q", got)
	}
	if got := loopbackOnly("localhost:7070"); got != "localhost:7070" {
		t.Errorf("Expected localhost kept, got %q", got)
	}
}

func TestWorldImage(t *testing.T) {
	h := newTestRouter(t, RouterConfig{ArenaSize: 400})
	w := do(h, "GET", "/api/world.png?size=128", "")
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("Expected image/png, got %q", ct)
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if img.Bounds().Dx() != 128 {
		t.Errorf("Expected 128px image, got %d", img.Bounds().Dx())
	}
}

// TestStateAndStatus verifies the frame endpoints after a tick
func TestStateAndStatus(t *testing.T) {
	engine := newTestEngine(t, game.Hooks{})
	h := newTestRouter(t, RouterConfig{Engine: engine})
	spawn(t, h, "a", 1)
	spawn(t, h, "b", 2)
	engine.Step()

	var f game.Frame
	json.NewDecoder(do(h, "GET", "/api/state", "").Body).Decode(&f)
	if f.EntityCount != 2 || len(f.Entities) != 2 {
		t.Errorf("Expected 2 entities in frame, got %d/%d", f.EntityCount, len(f.Entities))
	}

	var status map[string]interface{}
	json.NewDecoder(do(h, "GET", "/api/status", "").Body).Decode(&status)
	if status["tick"].(float64) != 1 {
		t.Errorf("Expected tick 1, got %v", status["tick"])
	}

	var spells struct {
		Spells []string `json:"spells"`
	}
	json.NewDecoder(do(h, "GET", "/api/spells", "").Body).Decode(&spells)
	if len(spells.Spells) == 0 || spells.Spells[0] != "punch" {
		t.Errorf("Expected spell book starting with punch, got %v", spells.Spells)
	}
}

type fakeStats struct{}

func (fakeStats) Totals(ctx context.Context, id int) (stats.Totals, error) {
	return stats.Totals{EntityID: id, Hits: 3, Dealt: 42}, nil
}

func (fakeStats) Leaderboard(ctx context.Context, limit int) ([]stats.Totals, error) {
	return []stats.Totals{{EntityID: 1, Dealt: 100}, {EntityID: 2, Dealt: 50}}[:min(limit, 2)], nil
}

func TestStatsRoutes(t *testing.T) {
	if w := do(newTestRouter(t, RouterConfig{}), "GET", "/api/stats/damage", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without a stats store, got %d", w.Code)
	}

	h := newTestRouter(t, RouterConfig{Stats: fakeStats{}})
	var board struct {
		Leaderboard []stats.Totals `json:"leaderboard"`
	}
	json.NewDecoder(do(h, "GET", "/api/stats/damage?limit=1", "").Body).Decode(&board)
	if len(board.Leaderboard) != 1 || board.Leaderboard[0].EntityID != 1 {
		t.Errorf("Expected top entry only, got %+v", board.Leaderboard)
	}

	var totals stats.Totals
	json.NewDecoder(do(h, "GET", "/api/stats/damage/5", "").Body).Decode(&totals)
	if totals.EntityID != 5 || totals.Dealt != 42 {
		t.Errorf("Expected totals for 5, got %+v", totals)
	}
}

// TestWebSocketFrames verifies frames reach clients as snapshot envelopes
// and client intents reach the intake
func TestWebSocketFrames(t *testing.T) {
	var engine *game.Engine
	hub := NewWebSocketHub(nil, func(in game.Intent) bool { return engine.Submit(in) })
	engine = newTestEngine(t, game.Hooks{OnFrame: hub.PublishFrame})

	srv := NewServer(ServerConfig{
		Router: RouterConfig{Engine: engine, RateLimitConfig: testRateLimit, DisableLogging: true},
		Hub:    hub,
	})
	go hub.Run()
	ts := httptest.NewServer(srv.Router())
	defer func() {
		ts.Close()
		srv.Shutdown(context.Background())
	}()

	s, err := engine.Spawn(game.SpawnRequest{Name: "ws", Team: 1})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("Expected 1 registered client, got %d", hub.ClientCount())
	}

	engine.Step()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Errorf("Expected binary frame, got %d", kind)
	}
	env, err := replication.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Type != replication.FrameSnapshot || env.Tick != 1 || len(env.States) != 1 || env.States[0].ID != s.ID {
		t.Errorf("Expected snapshot of entity %d at tick 1, got %+v", s.ID, env)
	}

	intent := `{"entityId":` + strconv.Itoa(s.ID) + `,"kind":"stop"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(intent)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for engine.IntakeStats().Enqueued == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := engine.IntakeStats().Enqueued; got != 1 {
		t.Errorf("Expected client intent enqueued, got %d", got)
	}
}

// TestPublishFrameCarriesRemovals verifies removals in dropped frames are
// not lost
func TestPublishFrameCarriesRemovals(t *testing.T) {
	hub := NewWebSocketHub(nil, nil)
	for i := 0; i < frameQueueSize; i++ {
		hub.PublishFrame(game.Frame{Tick: uint64(i)})
	}
	hub.PublishFrame(game.Frame{Tick: 99, Removed: []int{7}})

	if got := hub.Dropped(); got != 1 {
		t.Errorf("Expected 1 dropped frame, got %d", got)
	}
	if got := hub.takePending(); len(got) != 1 || got[0] != 7 {
		t.Errorf("Expected pending removal 7, got %v", got)
	}
}

// TestActionCommands verifies play_action commands follow action changes
func TestActionCommands(t *testing.T) {
	hub := NewWebSocketHub(nil, nil)

	idle := world.StateData{ID: 3, Action: action.NoTypeID}
	if cmds := hub.actionCommands(game.Frame{Tick: 1, Entities: []world.StateData{idle}}); len(cmds) != 0 {
		t.Errorf("Expected no commands for an idle entity, got %v", cmds)
	}

	casting := world.StateData{ID: 3, Action: 5}
	cmds := hub.actionCommands(game.Frame{Tick: 2, Entities: []world.StateData{casting}})
	if len(cmds) != 1 {
		t.Fatalf("Expected 1 command, got %d", len(cmds))
	}
	c := cmds[0]
	if c.EntityID != 3 || c.Command.Type != world.CommandPlayAction || c.Command.ActionTypeID != 5 || c.Command.Seq != 2 {
		t.Errorf("Expected play_action 5 for entity 3 at seq 2, got %+v", c)
	}

	if cmds := hub.actionCommands(game.Frame{Tick: 3, Entities: []world.StateData{casting}}); len(cmds) != 0 {
		t.Errorf("Expected no command for an unchanged action, got %v", cmds)
	}

	hub.actionCommands(game.Frame{Tick: 4, Removed: []int{3}})
	if _, ok := hub.actions[3]; ok {
		t.Error("Expected removed entity forgotten")
	}
}

// TestActionCommandsReachReplica verifies a replica learns the action from
// the command envelope
func TestActionCommandsReachReplica(t *testing.T) {
	hub := NewWebSocketHub(nil, nil)
	s := world.StateData{ID: 4, Tick: 7, Kind: "character", Team: 1, Health: 100, HealthMax: 100, Action: 9}

	r := replication.NewReplica(world.Config{})
	if err := r.Apply(replication.Snapshot(1, 7, []world.StateData{s}, nil)); err != nil {
		t.Fatalf("Apply snapshot failed: %v", err)
	}
	cmds := hub.actionCommands(game.Frame{Tick: 7, Entities: []world.StateData{s}})
	if err := r.Apply(replication.Commands(2, 7, cmds...)); err != nil {
		t.Fatalf("Apply commands failed: %v", err)
	}

	got, err := r.Entity(4)
	if err != nil {
		t.Fatalf("Entity failed: %v", err)
	}
	if got.Action != 9 {
		t.Errorf("Expected action 9 on replica, got %d", got.Action)
	}
	if r.Stats().Commands != 1 {
		t.Errorf("Expected 1 command applied, got %d", r.Stats().Commands)
	}
}
