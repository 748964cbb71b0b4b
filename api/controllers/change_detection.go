package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/opsconsole/api/responses"
	"github.com/angelmondragon/opsconsole/internal/changecache"
	"github.com/angelmondragon/opsconsole/internal/changedetect"
	pkgerrors "github.com/angelmondragon/opsconsole/pkg/errors"
	"github.com/angelmondragon/opsconsole/pkg/logger"
)

// ChangeDetector is the job surface the API drives.
type ChangeDetector interface {
	Trigger(ctx context.Context) error
	Status() changedetect.Status
	CachedEntry(ctx context.Context, orderID string) (*changecache.Entry, error)
	ShouldSkip(ctx context.Context, orderID string, now time.Time) (bool, error)
}

type cachedOrderResponse struct {
	OrderID       string             `json:"orderId"`
	Entry         *changecache.Entry `json:"entry"`
	SkipNextRun   bool               `json:"skipNextRun"`
	LastCheckedAt time.Time          `json:"lastCheckedAt"`
}

// ChangeDetectionRun starts a background pass. A pass already in flight
// yields 409.
func ChangeDetectionRun(job ChangeDetector, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if job == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "change detection unavailable"))
			return
		}
		if err := job.Trigger(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, job.Status())
	}
}

func ChangeDetectionStatus(job ChangeDetector, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if job == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "change detection unavailable"))
			return
		}
		responses.WriteSuccess(w, job.Status())
	}
}

// ChangeDetectionOrder returns the cached verdict for one fulfillment order.
func ChangeDetectionOrder(job ChangeDetector, logg *logger.Logger, now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if job == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "change detection unavailable"))
			return
		}

		orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
		if orderID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order id is required"))
			return
		}

		entry, err := job.CachedEntry(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load change cache"))
			return
		}
		if entry == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not in change cache"))
			return
		}

		skip, err := job.ShouldSkip(r.Context(), orderID, now())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load change cache"))
			return
		}

		responses.WriteSuccess(w, cachedOrderResponse{
			OrderID:       orderID,
			Entry:         entry,
			SkipNextRun:   skip,
			LastCheckedAt: entry.CheckedAt().UTC(),
		})
	}
}
