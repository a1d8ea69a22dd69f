package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// readinessGates names the subsystems that must have reported healthy
// before the pool is ready for traffic. The server seeds them at
// startup; the health monitor refreshes them after every probe round.
var readinessGates = []string{"volumes", "metastore", "quota"}

// HealthStatus is the JSON body served by the health endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

type componentStatus struct {
	healthy bool
	message string
}

type healthState struct {
	mu         sync.RWMutex
	components map[string]componentStatus
	version    string
	startTime  time.Time
}

var state = &healthState{
	components: make(map[string]componentStatus),
	startTime:  time.Now(),
}

// SetVersion sets the version string the health endpoints report
func SetVersion(version string) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.version = version
}

// UpdateComponent records the latest health report for one subsystem
func UpdateComponent(name string, healthy bool, message string) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.components[name] = componentStatus{
		healthy: healthy,
		message: message,
	}
}

// currentHealth aggregates every reported component: one unhealthy
// subsystem makes the whole pool unhealthy.
func currentHealth() HealthStatus {
	state.mu.RLock()
	defer state.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string, len(state.components))
	for name, comp := range state.components {
		if comp.healthy {
			components[name] = "healthy"
		} else {
			status = "unhealthy"
			components[name] = "unhealthy: " + comp.message
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    state.version,
		Uptime:     time.Since(state.startTime).String(),
	}
}

// currentReadiness checks only the readiness gates. A gate that has
// never reported counts as not ready, so the pool stays out of
// rotation until every store and volume has checked in.
func currentReadiness() HealthStatus {
	state.mu.RLock()
	defer state.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string, len(readinessGates))
	for _, name := range readinessGates {
		comp, seen := state.components[name]
		switch {
		case !seen:
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not registered"
		case !comp.healthy:
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not ready: " + comp.message
		default:
			components[name] = "ready"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    state.version,
		Uptime:     time.Since(state.startTime).String(),
	}
}

// HealthHandler serves overall health; 503 when any component is down
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := currentHealth()
		code := http.StatusOK
		if h.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, h)
	}
}

// ReadyHandler serves readiness; 503 until every gate has reported healthy
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rd := currentReadiness()
		code := http.StatusOK
		if rd.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rd)
	}
}

// LivenessHandler reports only that the process is up
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state.mu.RLock()
		uptime := time.Since(state.startTime).String()
		state.mu.RUnlock()
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": uptime,
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
