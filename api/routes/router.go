package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/opsconsole/api/controllers"
	"github.com/angelmondragon/opsconsole/api/middleware"
	"github.com/angelmondragon/opsconsole/pkg/config"
	"github.com/angelmondragon/opsconsole/pkg/logger"
	"github.com/angelmondragon/opsconsole/pkg/metrics"
)

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Deps carries everything the router wires into handlers. Nil services
// produce 500s from their handlers; a nil limiter disables throttling.
type Deps struct {
	Config         *config.Config
	Logger         *logger.Logger
	Pingers        map[string]controllers.Pinger
	Limiter        rateLimiter
	ChangeDetector controllers.ChangeDetector
	Picks          controllers.PickAllocator
	Gatherer       prometheus.Gatherer
	HTTPMetrics    *metrics.HTTPMetrics
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	triggerPolicy := middleware.NewRateLimitPolicy(
		"change-detection-run",
		cfg.ChangeDetection.TriggerWindow,
		cfg.ChangeDetection.TriggerLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Pingers))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/change-detection", func(r chi.Router) {
			r.With(middleware.RateLimit(triggerPolicy, deps.Limiter, logg)).Post("/run", controllers.ChangeDetectionRun(deps.ChangeDetector, logg))
			r.Get("/status", controllers.ChangeDetectionStatus(deps.ChangeDetector, logg))
			r.Get("/orders/{orderId}", controllers.ChangeDetectionOrder(deps.ChangeDetector, logg, nil))
		})

		r.Route("/picks", func(r chi.Router) {
			r.Post("/suggestions", controllers.PickSuggestions(deps.Picks, logg))
			r.Post("/accept", controllers.PickAccept(deps.Picks, logg))
			r.Post("/rebuild", controllers.PickRebuild(deps.Picks, logg))
			r.Post("/save", controllers.PickSave(deps.Picks, logg))
			r.Get("/duplicates", controllers.PickDuplicates(deps.Picks, logg))
		})
	})

	return r
}
