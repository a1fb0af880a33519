package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/domain"
	"github.com/ashureev/whiteboard-tutor/internal/identity"
	"github.com/ashureev/whiteboard-tutor/internal/tutor"
	"github.com/go-chi/chi/v5"
)

// resetLocks prevents concurrent resets of the same session.
var resetLocks sync.Map

const (
	healthTimeout   = 2 * time.Second
	suggestionLimit = 5
)

// SessionHandler handles session inspection endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)
	r.Route("/api/session/{session_id}", func(r chi.Router) {
		r.Use(identity.Middleware)
		r.Get("/status", h.Status)
		r.Post("/reset", h.Reset)
		r.Get("/graph", h.Graph)
	})
}

// Health reports server and dependency health.
func (h *SessionHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	// The local planner always answers, so an unavailable remote planner
	// does not make the server unhealthy.
	plannerStatus := tutor.PlannerLocal
	if h.opts.Planner != nil {
		plannerStatus = h.opts.Planner.Status(ctx)
	}

	sessions, connections := h.svc.Sessions().Count()
	resp := map[string]interface{}{
		"status":              "healthy",
		"active_sessions":     sessions,
		"active_connections":  connections,
		"planner_enabled":     plannerStatus != tutor.PlannerLocal,
		"planner_status":      plannerStatus,
		"database_configured": h.repo != nil,
	}

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			slog.Warn("Health check database ping failed", "error", err)
			resp["status"] = "degraded"
			resp["database_error"] = err.Error()
			JSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	JSON(w, http.StatusOK, resp)
}

// Status returns a session's statistics, from memory when live and from
// the last snapshot otherwise.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	now := h.opts.Clock.Now()

	if sess, ok := h.svc.Sessions().Get(sessionID); ok {
		stats := sess.Stats()
		connected := h.svc.Sessions().Active(sessionID) != nil
		resp := map[string]interface{}{
			"live":      true,
			"connected": connected,
			"stats":     stats,
		}
		// Connected sessions never expire.
		if !connected {
			ttl := stats.LastActivity.Add(h.opts.SessionTTL).Sub(now)
			if ttl < 0 {
				ttl = 0
			}
			resp["expires_in"] = int64(ttl.Seconds())
		}
		JSON(w, http.StatusOK, resp)
		return
	}

	rec, ok := h.loadRecord(w, r, sessionID)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"live":       false,
		"connected":  false,
		"stats":      json.RawMessage(rec.StatsJSON),
		"updated_at": rec.UpdatedAt,
		"expires_in": int64(rec.TTL(h.opts.SessionTTL, now).Seconds()),
	})
}

// Reset drops a session from memory and storage, closing its connection.
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())

	lock, _ := resetLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		slog.Warn("Reset already in progress", "session_id", sessionID)
		Error(w, http.StatusConflict, "reset_in_progress")
		return
	}
	defer func() {
		mutex.Unlock()
		resetLocks.Delete(sessionID)
	}()

	existed, err := h.svc.Reset(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to reset session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	if !existed {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	slog.Info("Session reset", "session_id", sessionID)
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":     "reset",
		"session_id": sessionID,
	})
}

// Graph returns the render-ready knowledge graph with practice suggestions.
// With ?target=<concept> it also returns prerequisite gaps and a learning
// path for that concept.
func (h *SessionHandler) Graph(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())

	var graph *domain.KnowledgeGraph
	if sess, ok := h.svc.Sessions().Get(sessionID); ok {
		graph = sess.Graph
	} else {
		rec, ok := h.loadRecord(w, r, sessionID)
		if !ok {
			return
		}
		graph = domain.NewKnowledgeGraph()
		if err := json.Unmarshal([]byte(rec.GraphJSON), graph); err != nil {
			slog.Error("Failed to decode stored graph", "error", err, "session_id", sessionID)
			Error(w, http.StatusInternalServerError, "failed to load knowledge graph")
			return
		}
	}

	resp := map[string]interface{}{
		"graph":       graph.Export(),
		"suggestions": graph.SuggestPractice(suggestionLimit, h.opts.Clock.Now()),
		"clusters":    graph.Clusters(),
	}
	if target := r.URL.Query().Get("target"); target != "" {
		if _, ok := graph.Concept(target); !ok {
			Error(w, http.StatusNotFound, "concept not found")
			return
		}
		resp["target"] = target
		resp["prerequisite_gaps"] = graph.PrerequisiteGaps(target)
		resp["learning_path"] = graph.LearningPath(target)
	}
	JSON(w, http.StatusOK, resp)
}

// loadRecord fetches a persisted snapshot, writing the error response
// itself when there is none.
func (h *SessionHandler) loadRecord(w http.ResponseWriter, r *http.Request, sessionID string) (*domain.SessionRecord, bool) {
	if h.repo == nil {
		Error(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	rec, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load session snapshot", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	if rec == nil {
		Error(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return rec, true
}
