package handlers

import (
	"context"
	"net/http"
	"time"
)

const readinessProbeTimeout = 5 * time.Second

// HealthCheck probes a single downstream dependency for readiness.
type HealthCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthHandlers serves the liveness and readiness endpoints.
type HealthHandlers struct {
	startedAt time.Time
	clock     func() time.Time
	checks    []HealthCheck
}

// HealthOption customises HealthHandlers construction.
type HealthOption func(*HealthHandlers)

// WithHealthClock overrides the time source, primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthStartedAt overrides the process start time used in uptime reporting.
func WithHealthStartedAt(start time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if !start.IsZero() {
			h.startedAt = start
		}
	}
}

// WithReadinessChecks registers downstream probes run by /readyz.
func WithReadinessChecks(checks ...HealthCheck) HealthOption {
	return func(h *HealthHandlers) {
		for _, check := range checks {
			if check.Probe != nil {
				h.checks = append(h.checks, check)
			}
		}
	}
}

// NewHealthHandlers constructs health endpoints for the router.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		startedAt: time.Now().UTC(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.startedAt).String(),
		"timestamp": now.Format(time.RFC3339),
	})
}

// Readyz probes registered dependencies and reports aggregate readiness.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessProbeTimeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	healthy := true
	for _, check := range h.checks {
		if err := check.Probe(ctx); err != nil {
			results[check.Name] = err.Error()
			healthy = false
			continue
		}
		results[check.Name] = "ok"
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, code, map[string]any{
		"status":    status,
		"checks":    results,
		"timestamp": h.clock().UTC().Format(time.RFC3339),
	})
}
