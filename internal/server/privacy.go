package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/mnemos/internal/engine"
	"github.com/lazypower/mnemos/internal/store"
)

func (s *Server) handlePrivate(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	mems, err := s.eng.Private(r.Context(), scopeOf(r).OwnerID, r.URL.Query().Get("level"), queryInt(r, "limit", 50), offset)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": mems, "offset": offset})
}

func (s *Server) handlePrivacyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.eng.PrivacyStats(r.Context(), scopeOf(r).OwnerID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReclassify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level store.Sensitivity `json:"level"`
	}
	if !decode(w, r, &req) {
		return
	}
	m, err := s.eng.Reclassify(r.Context(), scopeOf(r), chi.URLParam(r, "id"), req.Level)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req engine.BulkRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.eng.Bulk(r.Context(), scopeOf(r), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res.String(), "detail": res})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	rep, err := s.eng.Scan(r.Context(), scopeOf(r).OwnerID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.eng.Stats(r.Context(), scopeOf(r).OwnerID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "no changes")
		return
	}
	rule, err := s.eng.UpdateRule(r.Context(), scopeOf(r), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	view, err := s.eng.Related(r.Context(), scopeOf(r), chi.URLParam(r, "id"), queryInt(r, "depth", 0))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	exp, err := s.eng.Export(r.Context(), scopeOf(r).OwnerID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}
