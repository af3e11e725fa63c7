package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/lazypower/parley/internal/journal"
	"github.com/lazypower/parley/internal/supervisor"
	"github.com/lazypower/parley/internal/translate"
)

// Supervisor is the slice of the llama-server supervisor the API drives.
type Supervisor interface {
	Start(ctx context.Context) error
	Stop()
	State() supervisor.State
	IsRunning() bool
	PID() int
	Command() []string
}

// Journal is the read/write surface of the translation journal.
type Journal interface {
	Recent(ctx context.Context, limit int, serverID string) ([]journal.Event, error)
	Summary(ctx context.Context) (*journal.Summary, error)
}

// Server is the parley control API used by the host integration.
type Server struct {
	pipeline   *translate.Pipeline
	supervisor Supervisor // nil when running against an online API
	journal    Journal    // nil when the journal is disabled
	router     chi.Router
	version    string
	started    time.Time
}

// Options wires a Server.
type Options struct {
	Pipeline   *translate.Pipeline
	Supervisor Supervisor
	Journal    Journal
	Version    string
}

// New creates a new Server.
func New(opts Options) *Server {
	s := &Server{
		pipeline:   opts.Pipeline,
		supervisor: opts.Supervisor,
		journal:    opts.Journal,
		version:    opts.Version,
		started:    time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/translate", s.handleTranslate)

		r.Get("/servers", s.handleListServers)
		r.Post("/servers/join", s.handleJoin)
		r.Post("/servers/leave", s.handleLeave)
		r.Post("/servers/save", s.handleSave)

		r.Get("/stats", s.handleStats)
		r.Get("/history", s.handleHistory)
		r.Get("/rag/search", s.handleRAGSearch)

		r.Delete("/cache", s.handleClearCache)
		r.Delete("/history", s.handleClearHistory)
		r.Delete("/rag", s.handleClearRAG)

		r.Get("/llama", s.handleLlamaStatus)
		r.Post("/llama/start", s.handleLlamaStart)
		r.Post("/llama/stop", s.handleLlamaStop)

		r.Get("/journal", s.handleJournal)
		r.Get("/journal/summary", s.handleJournalSummary)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	body := map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"llm":     s.pipeline.Health(ctx),
	}
	if sc := s.pipeline.Router().CurrentScope(); sc != nil {
		body["server"] = sc.ID
	}
	if s.supervisor != nil {
		body["llama_state"] = s.supervisor.State().String()
		body["llama_running"] = s.supervisor.IsRunning()
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
