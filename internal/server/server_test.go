package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/lazypower/parley/internal/config"
	"github.com/lazypower/parley/internal/journal"
	"github.com/lazypower/parley/internal/llm"
	"github.com/lazypower/parley/internal/scope"
	"github.com/lazypower/parley/internal/supervisor"
	"github.com/lazypower/parley/internal/translate"
)

type fakeSupervisor struct {
	state    supervisor.State
	startErr error
	starts   int
	stops    int
}

func (f *fakeSupervisor) Start(ctx context.Context) error {
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.state = supervisor.Running
	return nil
}
func (f *fakeSupervisor) Stop()                   { f.stops++; f.state = supervisor.Stopped }
func (f *fakeSupervisor) State() supervisor.State { return f.state }
func (f *fakeSupervisor) IsRunning() bool         { return f.state == supervisor.Running }
func (f *fakeSupervisor) PID() int {
	if f.IsRunning() {
		return 4242
	}
	return 0
}
func (f *fakeSupervisor) Command() []string { return []string{"llama-server", "--port", "8080"} }

type testEnv struct {
	srv  *Server
	pipe *translate.Pipeline
	sup  *fakeSupervisor
	db   *journal.DB
	llm  *llm.MockClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.AutoTranslateOutgoing = true
	router := scope.NewRouter(scope.Options{MaxEntries: 100, HistorySize: 10})

	mock := &llm.MockClient{
		Healthy: true,
		Respond: func(req *llm.Request) (*llm.Response, error) {
			return &llm.Response{Content: req.TargetLanguage + ":" + req.Text}, nil
		},
	}

	db, err := journal.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	pipe, err := translate.New(translate.Options{Config: config.New(cfg), Router: router, Client: mock})
	if err != nil {
		t.Fatalf("translate.New: %v", err)
	}
	sup := &fakeSupervisor{}

	return &testEnv{
		srv:  New(Options{Pipeline: pipe, Supervisor: sup, Journal: db, Version: "test-version"}),
		pipe: pipe,
		sup:  sup,
		db:   db,
		llm:  mock,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)

	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decode body %q: %v", method, path, w.Body.String(), err)
	}
	return w, out
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.pipe.OnJoin("mc.example.com")

	w, body := env.do(t, "GET", "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
	if body["llm"] != true {
		t.Errorf("llm = %v, want true", body["llm"])
	}
	if body["server"] != "mc_example_com" {
		t.Errorf("server = %v", body["server"])
	}
	if body["llama_state"] != "stopped" {
		t.Errorf("llama_state = %v", body["llama_state"])
	}
}

func TestTranslateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "POST", "/api/servers/join", `{"address":"mc.example.com"}`)

	w, body := env.do(t, "POST", "/api/translate", `{"direction":"incoming","speaker":"alice","text":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["text"] != "Japanese:hello" || body["source"] != "model" {
		t.Errorf("body = %v", body)
	}

	_, body = env.do(t, "POST", "/api/translate", `{"direction":"outgoing","speaker":"me","text":"やあ"}`)
	if body["text"] != "English:やあ" {
		t.Errorf("outgoing text = %v", body["text"])
	}

	_, body = env.do(t, "POST", "/api/translate", `{"direction":"incoming","speaker":"alice","text":"hello"}`)
	if body["source"] != "cache" {
		t.Errorf("repeat source = %v, want cache", body["source"])
	}
	if env.llm.CallCount() != 2 {
		t.Errorf("llm calls = %d, want 2", env.llm.CallCount())
	}
}

func TestTranslateBadRequests(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, "POST", "/api/translate", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid json: status = %d", w.Code)
	}
	w, _ = env.do(t, "POST", "/api/translate", `{"direction":"sideways","text":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad direction: status = %d", w.Code)
	}
}

func TestTranslateWithoutScopeIsPassthrough(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.do(t, "POST", "/api/translate", `{"speaker":"alice","text":"hello"}`)
	if body["text"] != "hello" || body["source"] != "passthrough" {
		t.Errorf("body = %v", body)
	}
}

func TestServerScopeRoutes(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, "POST", "/api/servers/join", "")
	if w.Code != http.StatusOK || body["server"] != scope.Singleplayer {
		t.Fatalf("join empty: %d %v", w.Code, body)
	}
	_, body = env.do(t, "POST", "/api/servers/join", `{"address":"Play.Hub.net"}`)
	if body["server"] != "play_hub_net" {
		t.Errorf("join: %v", body)
	}

	_, body = env.do(t, "GET", "/api/servers", "")
	if body["current"] != "play_hub_net" {
		t.Errorf("current = %v", body["current"])
	}
	if servers, _ := body["servers"].([]any); len(servers) != 2 {
		t.Errorf("servers = %v", body["servers"])
	}

	if w, _ := env.do(t, "POST", "/api/servers/save", ""); w.Code != http.StatusOK {
		t.Errorf("save: %d", w.Code)
	}
	env.do(t, "POST", "/api/servers/leave", "")
	_, body = env.do(t, "GET", "/api/stats", "")
	if body["connected"] != false {
		t.Errorf("stats after leave = %v", body)
	}
	if w, _ := env.do(t, "GET", "/api/history", ""); w.Code != http.StatusConflict {
		t.Errorf("history without scope: %d", w.Code)
	}
}

func TestRAGSearchAndClear(t *testing.T) {
	env := newTestEnv(t)
	sc := env.pipe.OnJoin("mc.example.com")
	sc.Retrieval.Upsert("good morning everyone", "皆さんおはよう", "alice")
	sc.Retrieval.Upsert("good night", "おやすみ", "bob")

	w, body := env.do(t, "GET", "/api/rag/search?q=good+morning&k=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	matches, _ := body["matches"].([]any)
	if len(matches) != 1 {
		t.Fatalf("matches = %v", body["matches"])
	}
	first := matches[0].(map[string]any)
	if first["key"] != "good morning everyone" {
		t.Errorf("top match = %v", first["key"])
	}

	if w, _ := env.do(t, "GET", "/api/rag/search", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing q: %d", w.Code)
	}
	if w, _ := env.do(t, "GET", "/api/rag/search?q=x&server=nowhere", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown server: %d", w.Code)
	}

	env.do(t, "DELETE", "/api/rag", "")
	if sc.Retrieval.Size() != 0 {
		t.Errorf("rag not cleared: %d", sc.Retrieval.Size())
	}
}

func TestClearCacheAndHistory(t *testing.T) {
	env := newTestEnv(t)
	env.pipe.OnJoin("")
	env.do(t, "POST", "/api/translate", `{"speaker":"a","text":"one"}`)

	_, body := env.do(t, "GET", "/api/history?n=5", "")
	if lines, _ := body["lines"].([]any); len(lines) != 1 {
		t.Errorf("history lines = %v", body["lines"])
	}

	env.do(t, "DELETE", "/api/cache", "")
	env.do(t, "DELETE", "/api/history", "")
	st := env.pipe.Stats()
	if st.CacheSize != 0 || st.HistorySize != 0 {
		t.Errorf("stats after clear = %+v", st)
	}
}

func TestLlamaRoutes(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, "POST", "/api/llama/start", "")
	if w.Code != http.StatusOK || body["state"] != "running" {
		t.Fatalf("start: %d %v", w.Code, body)
	}
	_, body = env.do(t, "GET", "/api/llama", "")
	if body["pid"] != float64(4242) {
		t.Errorf("pid = %v", body["pid"])
	}
	_, body = env.do(t, "POST", "/api/llama/stop", "")
	if body["state"] != "stopped" || env.sup.stops != 1 {
		t.Errorf("stop: %v stops=%d", body, env.sup.stops)
	}

	env.sup.startErr = supervisor.ErrModelMissing
	if w, _ := env.do(t, "POST", "/api/llama/start", ""); w.Code != http.StatusConflict {
		t.Errorf("failed start: %d", w.Code)
	}
}

func TestLlamaRoutesWithoutSupervisor(t *testing.T) {
	env := newTestEnv(t)
	srv := New(Options{Pipeline: env.pipe, Version: "v"})

	for _, path := range []string{"/api/llama/start", "/api/llama/stop"} {
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest("POST", path, nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d", path, w.Code)
		}
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest("GET", "/api/journal", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("journal: status = %d", w.Code)
	}
}

func TestJournalRoutes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.db.Record(ctx, journal.Event{ServerID: "a", Direction: "incoming", Original: "x", Translated: "y", Source: "model", LatencyMS: 50})
	env.db.Record(ctx, journal.Event{ServerID: "b", Direction: "incoming", Original: "x", Translated: "y", Source: "cache"})

	_, body := env.do(t, "GET", "/api/journal?server=a", "")
	if events, _ := body["events"].([]any); len(events) != 1 {
		t.Errorf("events = %v", body["events"])
	}

	_, body = env.do(t, "GET", "/api/journal/summary", "")
	if body["total"] != float64(2) {
		t.Errorf("summary = %v", body)
	}
}
