package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRunAggregatesWorstStatus(t *testing.T) {
	c := NewChecker()
	c.Register("up", func(context.Context) error { return nil })
	c.Register("down", func(context.Context) error { return errors.New("connection refused") })

	report := c.Run(context.Background())
	if report.Status != StatusDown {
		t.Errorf("overall status = %q, want down", report.Status)
	}
	if report.Dependencies["up"].Status != StatusUp {
		t.Errorf("up dependency reported %q", report.Dependencies["up"].Status)
	}
	if report.Dependencies["down"].Error != "connection refused" {
		t.Errorf("down dependency error = %q", report.Dependencies["down"].Error)
	}
}

func TestRunWithNoChecks(t *testing.T) {
	report := NewChecker().Run(context.Background())
	if report.Status != StatusUp {
		t.Errorf("empty checker status = %q, want up", report.Status)
	}
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("db", func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("parsing report: %v", err)
	}
	if report.Status != StatusUp || len(report.Dependencies) != 1 {
		t.Errorf("report = %+v", report)
	}

	c.Register("broker", func(context.Context) error { return errors.New("unreachable") })
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status with a down dependency = %d, want 503", rec.Code)
	}
}
