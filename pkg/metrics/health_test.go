package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRegisterAndGetHealth(t *testing.T) {
	RegisterComponent("storage", true, "")
	RegisterComponent("cmdstore", true, "")
	RegisterComponent("api", true, "")

	health := GetHealth()
	if health.Status != "healthy" {
		t.Errorf("GetHealth().Status = %q, want healthy", health.Status)
	}
	if health.Components["storage"] != "healthy" {
		t.Errorf("storage component = %q, want healthy", health.Components["storage"])
	}
}

func TestUnhealthyComponentDegradesHealth(t *testing.T) {
	RegisterComponent("storage", true, "")
	UpdateComponent("cmdstore", false, "redis connection refused")
	defer UpdateComponent("cmdstore", true, "")

	health := GetHealth()
	if health.Status != "unhealthy" {
		t.Errorf("GetHealth().Status = %q, want unhealthy", health.Status)
	}
	if health.Components["cmdstore"] != "unhealthy: redis connection refused" {
		t.Errorf("cmdstore component = %q", health.Components["cmdstore"])
	}
}

func TestReadinessRequiresCriticalComponents(t *testing.T) {
	RegisterComponent("storage", true, "")
	RegisterComponent("cmdstore", true, "")
	RegisterComponent("api", true, "")

	readiness := GetReadiness()
	if readiness.Status != "ready" {
		t.Errorf("GetReadiness().Status = %q, want ready", readiness.Status)
	}

	UpdateComponent("api", false, "listener not bound")
	defer UpdateComponent("api", true, "")

	readiness = GetReadiness()
	if readiness.Status != "not_ready" {
		t.Errorf("GetReadiness().Status = %q, want not_ready", readiness.Status)
	}
	if readiness.Message != "waiting for api" {
		t.Errorf("GetReadiness().Message = %q", readiness.Message)
	}
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	RegisterComponent("storage", true, "")
	RegisterComponent("cmdstore", true, "")
	RegisterComponent("api", true, "")

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthy status code = %d, want 200", rec.Code)
	}

	UpdateComponent("storage", false, "bolt file locked")
	defer UpdateComponent("storage", true, "")

	rec = httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status code = %d, want 503", rec.Code)
	}

	var health HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if health.Status != "unhealthy" {
		t.Errorf("decoded status = %q, want unhealthy", health.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness status code = %d, want 200", rec.Code)
	}
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)
	if d := timer.Duration(); d < 20*time.Millisecond {
		t.Errorf("Timer.Duration() = %v, want >= 20ms", d)
	}
}
