package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func resetHealthState() {
	state = &healthState{
		components: make(map[string]componentStatus),
		startTime:  time.Now(),
	}
}

func seedGates(healthy bool, message string) {
	for _, name := range readinessGates {
		UpdateComponent(name, healthy, message)
	}
}

func TestUpdateComponent(t *testing.T) {
	resetHealthState()

	UpdateComponent("volumes", true, "ok")
	UpdateComponent("volumes", false, "canary failed")

	comp := state.components["volumes"]
	if comp.healthy {
		t.Error("component should be unhealthy after update")
	}
	if comp.message != "canary failed" {
		t.Errorf("expected message 'canary failed', got %q", comp.message)
	}
}

func TestCurrentHealth(t *testing.T) {
	resetHealthState()
	SetVersion("1.0.0")

	UpdateComponent("volumes", true, "")
	UpdateComponent("metastore", true, "")

	h := currentHealth()
	if h.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %q", h.Status)
	}
	if h.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %q", h.Version)
	}

	UpdateComponent("metastore", false, "canary failed")

	h = currentHealth()
	if h.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got %q", h.Status)
	}
	if h.Components["metastore"] != "unhealthy: canary failed" {
		t.Errorf("unexpected metastore status: %s", h.Components["metastore"])
	}
}

func TestCurrentReadinessGatesOnEveryStore(t *testing.T) {
	resetHealthState()

	// Nothing has reported yet
	rd := currentReadiness()
	if rd.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got %q", rd.Status)
	}
	if rd.Message == "" {
		t.Error("expected a message naming the missing gate")
	}

	seedGates(true, "")
	rd = currentReadiness()
	if rd.Status != "ready" {
		t.Errorf("expected status 'ready', got %q", rd.Status)
	}

	UpdateComponent("metastore", false, "database corrupt")
	rd = currentReadiness()
	if rd.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got %q", rd.Status)
	}
	if rd.Components["metastore"] != "not ready: database corrupt" {
		t.Errorf("unexpected metastore status: %s", rd.Components["metastore"])
	}
}

func TestCurrentReadinessIgnoresNonGates(t *testing.T) {
	resetHealthState()
	seedGates(true, "")

	// A sick optional component degrades health but not readiness
	UpdateComponent("events", false, "subscriber backlog")

	if rd := currentReadiness(); rd.Status != "ready" {
		t.Errorf("expected status 'ready', got %q", rd.Status)
	}
	if h := currentHealth(); h.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got %q", h.Status)
	}
}

func TestHealthHandler(t *testing.T) {
	resetHealthState()
	SetVersion("test")
	UpdateComponent("volumes", true, "")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest("GET", "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var h HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&h); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if h.Status != "healthy" {
		t.Errorf("expected healthy status, got %s", h.Status)
	}
	if h.Version != "test" {
		t.Errorf("expected version 'test', got %s", h.Version)
	}

	UpdateComponent("volumes", false, "mount gone")

	w = httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestReadyHandler(t *testing.T) {
	resetHealthState()
	UpdateComponent("volumes", true, "")
	// metastore and quota have not reported

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest("GET", "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	seedGates(true, "")

	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest("GET", "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var rd HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&rd); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rd.Status != "ready" {
		t.Errorf("expected ready status, got %s", rd.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	resetHealthState()

	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest("GET", "/livez", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "alive" {
		t.Errorf("expected status 'alive', got %q", response["status"])
	}
	if response["uptime"] == "" {
		t.Error("uptime should not be empty")
	}
}
