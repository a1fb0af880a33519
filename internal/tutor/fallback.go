package tutor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/metrics"
)

// HealthChecker is implemented by planners that can check their backend.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Planner status values reported by FallbackPlanner.Status.
const (
	PlannerLocal       = "local"
	PlannerServing     = "serving"
	PlannerUnavailable = "unavailable"
	PlannerUnknown     = "unknown"
)

// FallbackPlanner calls primary and answers from fallback when it fails.
// Either planner's calls are recorded in metrics when set.
type FallbackPlanner struct {
	primary  Planner
	fallback Planner
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewFallbackPlanner wraps primary. A nil primary always uses fallback.
func NewFallbackPlanner(primary, fallback Planner, m *metrics.Metrics, logger *slog.Logger) *FallbackPlanner {
	if fallback == nil {
		fallback = LocalPlanner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackPlanner{primary: primary, fallback: fallback, metrics: m, logger: logger}
}

// Status reports which planner is answering: local when there is no
// primary, otherwise the primary's health when it can be checked.
func (p *FallbackPlanner) Status(ctx context.Context) string {
	if p.primary == nil {
		return PlannerLocal
	}
	hc, ok := p.primary.(HealthChecker)
	if !ok {
		return PlannerUnknown
	}
	if err := hc.Health(ctx); err != nil {
		p.logger.Warn("Planner health check failed", "error", err)
		return PlannerUnavailable
	}
	return PlannerServing
}

// Route implements Planner.
func (p *FallbackPlanner) Route(ctx context.Context, req RouteRequest) (RouteDecision, error) {
	if p.primary != nil {
		start := time.Now()
		d, err := p.primary.Route(ctx, req)
		p.observe("route", start, err)
		if err == nil {
			return d, nil
		}
		p.logger.Warn("Planner route failed, using fallback", "session_id", req.SessionID, "error", err)
	}
	return p.fallback.Route(ctx, req)
}

// Plan implements Planner.
func (p *FallbackPlanner) Plan(ctx context.Context, req PlanRequest) (Plan, error) {
	if p.primary != nil {
		start := time.Now()
		plan, err := p.primary.Plan(ctx, req)
		p.observe("plan", start, err)
		if err == nil {
			return plan, nil
		}
		p.logger.Warn("Planner plan failed, using fallback", "session_id", req.SessionID, "error", err)
	}
	return p.fallback.Plan(ctx, req)
}

func (p *FallbackPlanner) observe(op string, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.metrics.PlannerRequests.WithLabelValues(op, result).Inc()
	p.metrics.PlannerLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Close closes both planners.
func (p *FallbackPlanner) Close() error {
	var errs []error
	if p.primary != nil {
		errs = append(errs, p.primary.Close())
	}
	errs = append(errs, p.fallback.Close())
	return errors.Join(errs...)
}
