package pipeline

import (
	"encoding/json"
	"net/http"
	"sync"
)

// HealthStatus tracks application health
type HealthStatus struct {
	mu      sync.RWMutex
	healthy bool
	ready   bool
}

func newHealthStatus() *HealthStatus {
	return &HealthStatus{
		healthy: false, // Not healthy until OnStart succeeds
		ready:   false, // Not ready until app says so
	}
}

func (h *HealthStatus) SetHealthy(healthy bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy = healthy
}

func (h *HealthStatus) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

func (h *HealthStatus) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.healthy
}

func (h *HealthStatus) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// newHealthServer builds the /health and /ready server. It is started by Run.
func newHealthServer(addr string, status *HealthStatus) *http.Server {
	mux := http.NewServeMux()

	// Health check - is the app alive?
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if status.IsHealthy() {
			writeStatus(w, http.StatusOK, "healthy")
		} else {
			writeStatus(w, http.StatusServiceUnavailable, "unhealthy")
		}
	})

	// Ready check - is the app ready to serve traffic?
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if status.IsReady() {
			writeStatus(w, http.StatusOK, "ready")
		} else {
			writeStatus(w, http.StatusServiceUnavailable, "not ready")
		}
	})

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
