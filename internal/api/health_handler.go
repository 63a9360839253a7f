package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/personifeed/internal/pkg/httputil"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthCheck handles GET /health. The store is the only hard dependency;
// Redis is optional and only degrades the status when configured.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := HealthStatus{
		Status: "healthy",
		Uptime: time.Since(h.startTime).Round(time.Second).String(),
		Checks: make(map[string]ComponentCheck),
	}

	start := time.Now()
	if err := h.store.Ping(ctx); err != nil {
		status.Status = "unhealthy"
		status.Checks["database"] = ComponentCheck{Status: "down", Message: err.Error()}
	} else {
		status.Checks["database"] = ComponentCheck{Status: "up", Latency: fmt.Sprintf("%dms", time.Since(start).Milliseconds())}
	}

	if h.redis != nil {
		start = time.Now()
		if err := h.redis.Ping(ctx).Err(); err != nil {
			if status.Status == "healthy" {
				status.Status = "degraded"
			}
			status.Checks["redis"] = ComponentCheck{Status: "down", Message: err.Error()}
		} else {
			status.Checks["redis"] = ComponentCheck{Status: "up", Latency: fmt.Sprintf("%dms", time.Since(start).Milliseconds())}
		}
	}

	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, status)
}
