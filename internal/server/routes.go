package server

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/lazypower/parley/internal/history"
	"github.com/rs/zerolog/log"
)

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction string `json:"direction"`
		Speaker   string `json:"speaker"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	dir, err := history.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := s.pipeline.Translate(r.Context(), dir, req.Speaker, req.Text)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"servers": s.pipeline.Router().Scopes()}
	if sc := s.pipeline.Router().CurrentScope(); sc != nil {
		body["current"] = sc.ID
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	// an empty body joins singleplayer
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	sc := s.pipeline.OnJoin(req.Address)
	writeJSON(w, http.StatusOK, map[string]any{
		"server":         sc.ID,
		"retrieval_size": sc.Retrieval.Size(),
		"history_size":   sc.History.Len(),
	})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	s.pipeline.OnLeave()
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.SaveAll(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Stats())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sc := s.pipeline.Router().CurrentScope()
	if sc == nil {
		writeError(w, http.StatusConflict, "not connected to a server")
		return
	}
	n := intParam(r, "n", sc.History.Max())
	lines := sc.History.Recent(n)
	if speaker := r.URL.Query().Get("speaker"); speaker != "" {
		lines = filterSpeaker(lines, speaker)
	}
	writeJSON(w, http.StatusOK, map[string]any{"server": sc.ID, "lines": lines})
}

func filterSpeaker(lines []history.ChatLine, speaker string) []history.ChatLine {
	out := lines[:0]
	for _, l := range lines {
		if l.Speaker == speaker {
			out = append(out, l)
		}
	}
	return out
}

func (s *Server) handleRAGSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q required")
		return
	}
	sc := s.pipeline.Router().CurrentScope()
	if server := r.URL.Query().Get("server"); server != "" {
		sc = s.pipeline.Router().Lookup(server)
	}
	if sc == nil {
		writeError(w, http.StatusNotFound, "no such server scope")
		return
	}

	matches := sc.Retrieval.Search(q, intParam(r, "k", 5))
	writeJSON(w, http.StatusOK, map[string]any{
		"server":  sc.ID,
		"query":   q,
		"matches": matches,
	})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.pipeline.ClearCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	s.pipeline.ClearHistory()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleClearRAG(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.ClearRetrieval(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleLlamaStatus(w http.ResponseWriter, r *http.Request) {
	if s.supervisor == nil {
		writeError(w, http.StatusServiceUnavailable, "llama-server supervisor not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":   s.supervisor.State().String(),
		"running": s.supervisor.IsRunning(),
		"pid":     s.supervisor.PID(),
		"command": s.supervisor.Command(),
	})
}

func (s *Server) handleLlamaStart(w http.ResponseWriter, r *http.Request) {
	if s.supervisor == nil {
		writeError(w, http.StatusServiceUnavailable, "llama-server supervisor not configured")
		return
	}
	if err := s.supervisor.Start(r.Context()); err != nil {
		log.Warn().Err(err).Msg("llama-server start via api")
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state": s.supervisor.State().String(),
		"pid":   s.supervisor.PID(),
	})
}

func (s *Server) handleLlamaStop(w http.ResponseWriter, r *http.Request) {
	if s.supervisor == nil {
		writeError(w, http.StatusServiceUnavailable, "llama-server supervisor not configured")
		return
	}
	s.supervisor.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"state": s.supervisor.State().String()})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	events, err := s.journal.Recent(r.Context(), intParam(r, "limit", 50), r.URL.Query().Get("server"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleJournalSummary(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	sum, err := s.journal.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// intParam parses a positive integer query parameter, falling back to def.
func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
