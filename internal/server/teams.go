package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/mnemos/internal/config"
	"github.com/lazypower/mnemos/internal/store"
)

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	team, err := s.teams.Create(r.Context(), scopeOf(r).OwnerID, req.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.teams.List(r.Context(), scopeOf(r).OwnerID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	team, members, err := s.teams.Get(r.Context(), scopeOf(r).OwnerID, chi.URLParam(r, "teamID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"team": team, "members": members})
}

func (s *Server) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	if err := s.teams.Delete(r.Context(), scopeOf(r).OwnerID, chi.URLParam(r, "teamID")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "deleted"})
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string     `json:"user_id"`
		Role   store.Role `json:"role"`
	}
	if !decode(w, r, &req) {
		return
	}
	teamID := chi.URLParam(r, "teamID")
	if err := s.teams.AddMember(r.Context(), scopeOf(r).OwnerID, teamID, req.UserID, req.Role); err != nil {
		s.fail(w, err)
		return
	}
	role := req.Role
	if role == "" {
		role = store.RoleMember
	}
	writeJSON(w, http.StatusCreated, store.Member{TeamID: teamID, UserID: req.UserID, Role: role})
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	err := s.teams.RemoveMember(r.Context(), scopeOf(r).OwnerID, chi.URLParam(r, "teamID"), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "removed"})
}

// claimSource checks the requested source owner. Only local data can be
// claimed, and only by a caller with an identity of their own.
func claimSource(w http.ResponseWriter, r *http.Request, requested string) bool {
	if scopeOf(r).OwnerID == config.LocalOwner {
		writeError(w, http.StatusBadRequest, "cannot claim data as the local owner")
		return false
	}
	if requested != "" && requested != config.LocalOwner {
		writeError(w, http.StatusForbidden, "only local data can be claimed")
		return false
	}
	return true
}

// handleLocalData reports how much unclaimed local data remains.
func (s *Server) handleLocalData(w http.ResponseWriter, r *http.Request) {
	if from := r.URL.Query().Get("from"); from != "" && from != config.LocalOwner {
		writeError(w, http.StatusForbidden, "only local data can be inspected")
		return
	}
	counts, err := s.claims.LocalData(r.Context(), config.LocalOwner)
	if err != nil {
		s.fail(w, err)
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": config.LocalOwner, "has_data": total > 0, "counts": counts})
}

// handleClaim moves the local owner's data to the caller.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From string `json:"from"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !claimSource(w, r, req.From) {
		return
	}
	rec, err := s.claims.Claim(r.Context(), config.LocalOwner, scopeOf(r).OwnerID)
	if err != nil {
		if rec != nil {
			writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "claim": rec})
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleClaimStatus(w http.ResponseWriter, r *http.Request) {
	if !claimSource(w, r, r.URL.Query().Get("from")) {
		return
	}
	rec, err := s.claims.Status(r.Context(), config.LocalOwner, scopeOf(r).OwnerID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
