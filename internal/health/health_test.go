package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func up(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     []Check
		wantCode   int
		wantStatus string
	}{
		{"no dependencies", nil, http.StatusOK, "healthy"},
		{"all up", []Check{{Name: "database", Ping: up}, {Name: "redis", Ping: up}}, http.StatusOK, "healthy"},
		{"optional down", []Check{{Name: "database", Ping: up, Required: true}, {Name: "redis", Ping: down}}, http.StatusServiceUnavailable, "degraded"},
		{"unconfigured check", []Check{{Name: "database"}}, http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(Config{Checks: tt.checks, Version: "test"})
			rec := httptest.NewRecorder()
			h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("Expected %d, got %d", tt.wantCode, rec.Code)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("Expected status %q, got %q", tt.wantStatus, resp.Status)
			}
			if len(resp.Services) != len(tt.checks) {
				t.Errorf("Expected %d services, got %d", len(tt.checks), len(resp.Services))
			}
			if resp.Version != "test" {
				t.Errorf("Expected version, got %q", resp.Version)
			}
		})
	}
}

func TestHealth_ReportsError(t *testing.T) {
	h := NewHandler(Config{Checks: []Check{{Name: "redis", Ping: down}}})
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Services["redis"].Error != "connection refused" {
		t.Errorf("Expected ping error, got %+v", resp.Services["redis"])
	}
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name     string
		checks   []Check
		ready    bool
		wantCode int
	}{
		{"ready", []Check{{Name: "database", Ping: up, Required: true}}, true, http.StatusOK},
		{"optional failure keeps ready", []Check{{Name: "redis", Ping: down}}, true, http.StatusOK},
		{"required failure", []Check{{Name: "database", Ping: down, Required: true}}, true, http.StatusServiceUnavailable},
		{"shutting down", nil, false, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(Config{Checks: tt.checks})
			h.SetReady(tt.ready)

			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("Expected %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}

func TestLiveness(t *testing.T) {
	h := NewHandler(Config{Checks: []Check{{Name: "database", Ping: down, Required: true}}})
	h.SetReady(false)

	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	var resp LivenessResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if !resp.Alive {
		t.Error("Expected alive")
	}
}
