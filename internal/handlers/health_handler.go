package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/garlicbreadcleric/increadable/internal/domain"
)

// HealthHandler answers liveness probes with the store connection state
type HealthHandler struct {
	store  domain.HealthChecker
	driver string
	now    func() time.Time
}

// NewHealthHandler creates a health handler; store may be nil before startup completes
func NewHealthHandler(store domain.HealthChecker, driver string) *HealthHandler {
	return &HealthHandler{store: store, driver: driver, now: time.Now}
}

// ServeHTTP handles GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": h.now().Unix(),
		"store":     h.driver,
	}
	status := http.StatusOK

	if h.store != nil {
		if err := h.store.CheckConnection(ctx); err != nil {
			status = http.StatusServiceUnavailable
			health["status"] = "unhealthy"
			health["error"] = err.Error()
		} else {
			health["database"] = "connected"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(health)
}
