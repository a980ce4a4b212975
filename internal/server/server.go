package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/mnemos/internal/engine"
	"github.com/lazypower/mnemos/internal/store"
	"github.com/lazypower/mnemos/internal/tenant"
)

// Identity headers. Authentication happens upstream; the server trusts them.
const (
	HeaderOwner = "X-Owner-ID"
	HeaderTeam  = "X-Team-ID"
)

// Server is the mnemos HTTP API server.
type Server struct {
	eng     *engine.Engine
	teams   *tenant.Teams
	claims  *tenant.Coordinator
	router  chi.Router
	version string
	started time.Time

	tasks sync.WaitGroup
}

// New creates a Server over the engine, team service and claim coordinator.
func New(eng *engine.Engine, teams *tenant.Teams, claims *tenant.Coordinator, version string) *Server {
	s := &Server{
		eng:     eng,
		teams:   teams,
		claims:  claims,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Wait blocks until background session work has finished.
func (s *Server) Wait() {
	s.tasks.Wait()
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.identify)

			r.Post("/memories", s.handleRemember)
			r.Get("/memories", s.handleListMemories)
			r.Get("/memories/{id}", s.handleGetMemory)
			r.Patch("/memories/{id}", s.handleUpdateMemory)
			r.Delete("/memories/{id}", s.handleForget)
			r.Post("/memories/{id}/pin", s.handlePin)
			r.Patch("/memories/{id}/sensitivity", s.handleReclassify)
			r.Get("/memories/{id}/graph", s.handleGraph)

			r.Post("/recall", s.handleRecall)
			r.Get("/recall", s.handleRecall)

			r.Get("/rules", s.handleListRules)
			r.Post("/rules", s.handleAddRule)
			r.Put("/rules/{id}", s.handleUpdateRule)
			r.Delete("/rules/{id}", s.handleDeleteRule)

			r.Get("/private", s.handlePrivate)
			r.Post("/private/bulk", s.handleBulk)
			r.Get("/privacy/stats", s.handlePrivacyStats)
			r.Post("/privacy/scan", s.handleScan)
			r.Get("/stats", s.handleStats)
			r.Get("/export", s.handleExport)

			r.Get("/journal", s.handleJournal)
			r.Get("/identity", s.handleIdentity)
			r.Post("/identity/synthesize", s.handleSynthesize)
			r.Get("/onboarding", s.handleGetOnboarding)
			r.Put("/onboarding", s.handleSetOnboarding)
			r.Post("/maintenance", s.handleMaintenance)

			r.Get("/context", s.handleGetContext)
			r.Post("/sessions/{sessionID}/checkpoint", s.handleCheckpoint)
			r.Post("/sessions/{sessionID}/end", s.handleEndSession)
			r.Post("/sessions/{sessionID}/observations", s.handleObserve)
			r.Get("/observations", s.handleListObservations)

			r.Post("/teams", s.handleCreateTeam)
			r.Get("/teams", s.handleListTeams)
			r.Get("/teams/{teamID}", s.handleGetTeam)
			r.Delete("/teams/{teamID}", s.handleDeleteTeam)
			r.Post("/teams/{teamID}/members", s.handleAddMember)
			r.Delete("/teams/{teamID}/members/{userID}", s.handleRemoveMember)

			r.Get("/claims/local", s.handleLocalData)
			r.Post("/claims", s.handleClaim)
			r.Get("/claims/status", s.handleClaimStatus)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	db := s.eng.Store.DB
	dbOK := db.PingContext(r.Context()) == nil

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": db.Path,
		"llm":     s.eng.LLM != nil,
	})
}

type scopeKey struct{}

// identify resolves the caller's scope from the identity headers. A team id
// is only honored for members of that team.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(HeaderOwner))
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "missing "+HeaderOwner+" header")
			return
		}
		scope := store.Scope{OwnerID: owner}
		if team := strings.TrimSpace(r.Header.Get(HeaderTeam)); team != "" {
			if _, err := s.teams.Require(r.Context(), team, owner); err != nil {
				s.fail(w, err)
				return
			}
			scope.TeamID = team
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), scopeKey{}, scope)))
	})
}

func scopeOf(r *http.Request) store.Scope {
	scope, _ := r.Context().Value(scopeKey{}).(store.Scope)
	return scope
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, engine.ErrNoEvidence):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAccessDenied), errors.Is(err, tenant.ErrForbidden), errors.Is(err, tenant.ErrNotMember):
		return http.StatusForbidden
	case errors.Is(err, store.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrArchived):
		return http.StatusGone
	case errors.Is(err, tenant.ErrClaimInFlight):
		return http.StatusConflict
	case errors.Is(err, engine.ErrRetrievalUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("server: %v", err)
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}
