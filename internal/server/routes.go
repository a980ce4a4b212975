package server

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/mnemos/internal/engine"
	"github.com/lazypower/mnemos/internal/store"
	"github.com/lazypower/mnemos/internal/transcript"
)

const sessionWorkTimeout = 5 * time.Minute

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	var req engine.RememberRequest
	if !decode(w, r, &req) {
		return
	}
	got, err := s.eng.Remember(r.Context(), scopeOf(r), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, got)
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.MemoryFilter{
		Gate:            store.Gate(q.Get("gate")),
		Person:          q.Get("person"),
		Project:         q.Get("project"),
		IncludeArchived: queryBool(r, "archived"),
		Limit:           queryInt(r, "limit", 50),
	}
	if f.Gate != "" && !f.Gate.Valid() {
		writeError(w, http.StatusBadRequest, "unknown gate "+string(f.Gate))
		return
	}
	mems, err := s.eng.List(r.Context(), scopeOf(r), f)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(mems), "memories": mems})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	m, err := s.eng.Get(r.Context(), scopeOf(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if !decode(w, r, &req) {
		return
	}
	m, err := s.eng.Update(r.Context(), scopeOf(r), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Forget(r.Context(), scopeOf(r), chi.URLParam(r, "id"), r.URL.Query().Get("reason")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "deleted"})
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Pinned *bool `json:"pinned"`
	}{}
	if !decode(w, r, &req) {
		return
	}
	pinned := req.Pinned == nil || *req.Pinned
	if err := s.eng.Pin(r.Context(), scopeOf(r), chi.URLParam(r, "id"), pinned); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"pinned": pinned})
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query    string `json:"query"`
		Limit    int    `json:"limit"`
		BudgetMS int    `json:"budget_ms"`
		NoTouch  bool   `json:"no_touch"`
	}
	if r.Method == http.MethodGet {
		req.Query = r.URL.Query().Get("q")
		req.Limit = queryInt(r, "limit", 0)
		req.BudgetMS = queryInt(r, "budget_ms", 0)
		req.NoTouch = queryBool(r, "no_touch")
	} else if !decode(w, r, &req) {
		return
	}

	rec, err := s.eng.Recall(r.Context(), scopeOf(r), engine.RecallRequest{
		Query:   req.Query,
		Limit:   req.Limit,
		Budget:  time.Duration(req.BudgetMS) * time.Millisecond,
		NoTouch: req.NoTouch,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.eng.Rules(r.Context(), scopeOf(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
		Team bool   `json:"team"`
	}
	if !decode(w, r, &req) {
		return
	}
	rule, err := s.eng.AddRule(r.Context(), scopeOf(r), req.Text, req.Team)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.DeleteRule(r.Context(), scopeOf(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "deleted"})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	entries, err := s.eng.Journal(r.Context(), scopeOf(r).OwnerID, queryBool(r, "all"), queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	card, err := s.eng.IdentityCard(r.Context(), scopeOf(r).OwnerID, q.Get("person"), q.Get("project"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if card == nil {
		writeError(w, http.StatusNotFound, "no identity card yet")
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Person  string `json:"person"`
		Project string `json:"project"`
	}
	if !decode(w, r, &req) {
		return
	}
	if s.eng.LLM == nil {
		writeError(w, http.StatusServiceUnavailable, "no llm configured")
		return
	}
	card, err := s.eng.Synthesize(r.Context(), scopeOf(r).OwnerID, req.Person, req.Project)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleGetOnboarding(w http.ResponseWriter, r *http.Request) {
	o, err := s.eng.Onboarding(r.Context(), scopeOf(r).OwnerID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if o == nil {
		o = &store.Onboarding{OwnerID: scopeOf(r).OwnerID}
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleSetOnboarding(w http.ResponseWriter, r *http.Request) {
	var o store.Onboarding
	if !decode(w, r, &o) {
		return
	}
	o.OwnerID = scopeOf(r).OwnerID
	if err := s.eng.SetOnboarding(r.Context(), &o); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	rep, err := s.eng.RunMaintenance(r.Context(), scopeOf(r).OwnerID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}
	j, err := s.eng.Checkpoint(r.Context(), scopeOf(r).OwnerID, chi.URLParam(r, "sessionID"), req.Content)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

// handleObserve records a compressed tool output. A skipped output replies
// 200 with "skipped".
func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	var req engine.ObserveRequest
	if !decode(w, r, &req) {
		return
	}
	req.SessionID = chi.URLParam(r, "sessionID")
	j, err := s.eng.Observe(r.Context(), scopeOf(r).OwnerID, req)
	if err != nil {
		s.fail(w, err)
		return
	}
	if j == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (s *Server) handleListObservations(w http.ResponseWriter, r *http.Request) {
	entries, err := s.eng.Observations(r.Context(), scopeOf(r).OwnerID, r.URL.Query().Get("session"), queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": entries})
}

// handleEndSession condenses the session transcript and hands it to the
// engine in the background. Either a transcript path or pre-condensed text
// is accepted.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req struct {
		TranscriptPath string `json:"transcript_path"`
		Condensed      string `json:"condensed"`
	}
	if !decode(w, r, &req) {
		return
	}

	condensed := req.Condensed
	if condensed == "" && req.TranscriptPath != "" {
		entries, err := transcript.ParseFile(req.TranscriptPath)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read transcript: "+err.Error())
			return
		}
		if transcript.CountUserMessages(entries) == 0 || transcript.Internal(entries) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
			return
		}
		condensed = transcript.Condense(entries)
	}
	if strings.TrimSpace(condensed) == "" {
		writeError(w, http.StatusBadRequest, "transcript_path or condensed required")
		return
	}

	scope := scopeOf(r)
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sessionWorkTimeout)
		defer cancel()
		rep, err := s.eng.EndSession(ctx, scope, sessionID, condensed)
		if err != nil {
			log.Printf("server: end session %s: %v", sessionID, err)
			return
		}
		log.Printf("server: session %s ended, remembered %d, skipped %d", sessionID, len(rep.Remembered), rep.Skipped)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing"})
}
