package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/opsconsole/internal/changecache"
	"github.com/angelmondragon/opsconsole/internal/changedetect"
	pkgerrors "github.com/angelmondragon/opsconsole/pkg/errors"
	"github.com/angelmondragon/opsconsole/pkg/types"
)

type stubDetector struct {
	triggerErr error
	status     changedetect.Status
	entry      *changecache.Entry
	entryErr   error
	skip       bool
	triggered  int
}

func (s *stubDetector) Trigger(context.Context) error {
	s.triggered++
	return s.triggerErr
}

func (s *stubDetector) Status() changedetect.Status { return s.status }

func (s *stubDetector) CachedEntry(context.Context, string) (*changecache.Entry, error) {
	return s.entry, s.entryErr
}

func (s *stubDetector) ShouldSkip(context.Context, string, time.Time) (bool, error) {
	return s.skip, nil
}

func TestChangeDetectionRunAccepted(t *testing.T) {
	job := &stubDetector{status: changedetect.Status{State: "running", Enabled: true}}
	rec := httptest.NewRecorder()

	ChangeDetectionRun(job, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/change-detection/run", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", rec.Code)
	}
	var envelope struct {
		Data changedetect.Status `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.State != "running" || job.triggered != 1 {
		t.Fatalf("unexpected status %+v triggered=%d", envelope.Data, job.triggered)
	}
}

func TestChangeDetectionRunConflictWhileRunning(t *testing.T) {
	job := &stubDetector{triggerErr: changedetect.ErrRunInProgress}
	rec := httptest.NewRecorder()

	ChangeDetectionRun(job, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/change-detection/run", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	var body types.ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Error.Code != string(pkgerrors.CodeConflict) {
		t.Fatalf("unexpected code %s", body.Error.Code)
	}
}

func TestChangeDetectionRunDisabled(t *testing.T) {
	job := &stubDetector{triggerErr: changedetect.ErrDisabled}
	rec := httptest.NewRecorder()

	ChangeDetectionRun(job, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
}

func orderRequest(orderID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/change-detection/orders/"+orderID, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", orderID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestChangeDetectionOrderFound(t *testing.T) {
	checked := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := &stubDetector{
		entry: &changecache.Entry{LastChecked: checked.UnixMilli(), HasChanges: true, OrderNumber: "1001", Tagged: true},
		skip:  true,
	}
	rec := httptest.NewRecorder()

	ChangeDetectionOrder(job, nil, func() time.Time { return checked.Add(time.Minute) }).ServeHTTP(rec, orderRequest("42"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var envelope struct {
		Data cachedOrderResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.OrderID != "42" || !envelope.Data.SkipNextRun || !envelope.Data.LastCheckedAt.Equal(checked) {
		t.Fatalf("unexpected payload %+v", envelope.Data)
	}
	if envelope.Data.Entry == nil || envelope.Data.Entry.OrderNumber != "1001" {
		t.Fatalf("unexpected entry %+v", envelope.Data.Entry)
	}
}

func TestChangeDetectionOrderMissing(t *testing.T) {
	rec := httptest.NewRecorder()
	ChangeDetectionOrder(&stubDetector{}, nil, nil).ServeHTTP(rec, orderRequest("42"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

func TestChangeDetectionOrderStoreFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	ChangeDetectionOrder(&stubDetector{entryErr: errors.New("corrupt")}, nil, nil).ServeHTTP(rec, orderRequest("42"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}
