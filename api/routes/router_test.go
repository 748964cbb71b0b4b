package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/opsconsole/internal/changecache"
	"github.com/angelmondragon/opsconsole/internal/changedetect"
	"github.com/angelmondragon/opsconsole/pkg/config"
	"github.com/angelmondragon/opsconsole/pkg/logger"
	"github.com/angelmondragon/opsconsole/pkg/metrics"
)

type stubDetector struct{ err error }

func (s stubDetector) Trigger(context.Context) error { return s.err }
func (stubDetector) Status() changedetect.Status { return changedetect.Status{State: "idle"} }
func (stubDetector) CachedEntry(context.Context, string) (*changecache.Entry, error) {
	return nil, nil
}
func (stubDetector) ShouldSkip(context.Context, string, time.Time) (bool, error) { return false, nil }

type countingLimiter struct{ hits map[string]int64 }

func (c *countingLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	c.hits[scope]++
	return c.hits[scope] <= limit, c.hits[scope], nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev", CORSOrigins: []string{"http://localhost:3000"}},
		ChangeDetection: config.ChangeDetectionConfig{
			TriggerLimit:  1,
			TriggerWindow: time.Minute,
		},
	}
}

func TestRouterHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	router := NewRouter(Deps{
		Config:      testConfig(),
		Logger:      logger.Nop(),
		Gatherer:    reg,
		HTTPMetrics: metrics.NewHTTPMetrics(reg),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected metrics 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "opsconsole_http_request_duration_seconds") {
		t.Fatalf("expected http histogram in exposition")
	}
}

func TestRouterThrottlesTrigger(t *testing.T) {
	limiter := &countingLimiter{hits: map[string]int64{}}
	router := NewRouter(Deps{
		Config:         testConfig(),
		Logger:         logger.Nop(),
		Limiter:        limiter,
		ChangeDetector: stubDetector{},
	})

	codes := []int{}
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/change-detection/run", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusAccepted || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/change-detection/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status should not be throttled, got %d", rec.Code)
	}
}

func TestRouterMissingPickServiceIsInternal(t *testing.T) {
	router := NewRouter(Deps{Config: testConfig(), Logger: logger.Nop()})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/picks/duplicates", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
}
