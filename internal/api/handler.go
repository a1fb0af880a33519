// Package api provides HTTP handlers for the tutor REST API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/metrics"
	"github.com/ashureev/whiteboard-tutor/internal/store"
	"github.com/ashureev/whiteboard-tutor/internal/tutor"
	"k8s.io/utils/clock"
)

// Options configures a Handler.
type Options struct {
	UploadDir      string
	MaxUploadBytes int64
	SessionTTL     time.Duration
	// Planner reports planner health. Nil means only the local planner runs.
	Planner PlannerStatus
	Metrics *metrics.Metrics
	Clock   clock.Clock
}

// PlannerStatus is satisfied by tutor.FallbackPlanner.
type PlannerStatus interface {
	Status(ctx context.Context) string
}

// Handler provides common handler utilities.
type Handler struct {
	svc  *tutor.Service
	repo store.Repository
	opts Options
}

// NewHandler creates a new Handler with common dependencies. repo may be nil.
func NewHandler(svc *tutor.Service, repo store.Repository, opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 60 * time.Minute
	}
	return &Handler{svc: svc, repo: repo, opts: opts}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
