// Package bootstrap opens the shared clients each binary needs and builds
// the change-detection job on top of them.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/opsconsole/internal/changecache"
	"github.com/angelmondragon/opsconsole/internal/changedetect"
	"github.com/angelmondragon/opsconsole/internal/commerce"
	"github.com/angelmondragon/opsconsole/internal/cron"
	"github.com/angelmondragon/opsconsole/internal/fulfillment"
	"github.com/angelmondragon/opsconsole/pkg/config"
	"github.com/angelmondragon/opsconsole/pkg/db"
	"github.com/angelmondragon/opsconsole/pkg/logger"
	"github.com/angelmondragon/opsconsole/pkg/metrics"
	"github.com/angelmondragon/opsconsole/pkg/migrate"
	"github.com/angelmondragon/opsconsole/pkg/pubsub"
	"github.com/angelmondragon/opsconsole/pkg/redis"
)

// Resources holds the process-wide clients. Redis and PubSub are nil when
// not configured.
type Resources struct {
	DB     *db.Client
	Redis  *redis.Client
	PubSub *pubsub.Client
}

// Open connects to the database, runs dev migrations and connects to the
// optional Redis and Pub/Sub backends.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Resources, error) {
	res := &Resources{}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	res.DB = dbClient

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return nil, multierr.Append(fmt.Errorf("dev migrations: %w", err), res.Close())
	}

	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("bootstrap redis: %w", err), res.Close())
		}
		res.Redis = redisClient
	} else {
		logg.Warn(ctx, "redis not configured; using in-process lock and no rate limiting")
	}

	if cfg.PubSub.Enabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.PubSub, logg)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("bootstrap pubsub: %w", err), res.Close())
		}
		res.PubSub = psClient
	}

	return res, nil
}

// Close releases every opened client.
func (r *Resources) Close() error {
	if r == nil {
		return nil
	}
	var err error
	if r.PubSub != nil {
		err = multierr.Append(err, r.PubSub.Close())
	}
	if r.Redis != nil {
		err = multierr.Append(err, r.Redis.Close())
	}
	if r.DB != nil {
		err = multierr.Append(err, r.DB.Close())
	}
	return err
}

// CacheBackends exposes the clients a change-cache store may use.
func (r *Resources) CacheBackends() changecache.Backends {
	backends := changecache.Backends{}
	if r.Redis != nil {
		backends.Redis = r.Redis
	}
	if r.DB != nil {
		backends.DB = r.DB.DB()
	}
	return backends
}

// CronLock prefers a Redis lock shared across replicas and falls back to
// an in-process lock.
func (r *Resources) CronLock(name string) (cron.Lock, error) {
	if r.Redis == nil {
		return &cron.LocalLock{}, nil
	}
	return cron.NewRedisLock(r.Redis, r.Redis.LockKey(name), 0)
}

// NewChangeDetectionJob wires the platform clients, cache store, notifier
// and metrics into a job.
func NewChangeDetectionJob(cfg *config.Config, logg *logger.Logger, res *Resources, reg prometheus.Registerer) (*changedetect.Job, error) {
	store, err := changecache.NewStore(cfg.Cache, res.CacheBackends())
	if err != nil {
		return nil, fmt.Errorf("change cache store: %w", err)
	}

	commerceClient, err := commerce.NewClient(
		cfg.Commerce.ShopDomain,
		cfg.Commerce.AccessToken,
		cfg.Commerce.APIVersion,
		commerce.WithTimeout(cfg.Commerce.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("commerce client: %w", err)
	}

	fulfillmentClient, err := fulfillment.NewClient(
		cfg.Fulfillment.APIKey,
		cfg.Fulfillment.APISecret,
		fulfillment.WithBaseURL(cfg.Fulfillment.BaseURL),
		fulfillment.WithTimeout(cfg.Fulfillment.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("fulfillment client: %w", err)
	}

	var notifier changedetect.Notifier
	if res.PubSub != nil {
		publisher := pubsub.NewTopicPublisher(res.PubSub.DiscrepancyPublisher())
		if publisher == nil {
			return nil, fmt.Errorf("discrepancy topic %q not configured", cfg.PubSub.DiscrepancyTopic)
		}
		n, err := changedetect.NewPubSubNotifier(publisher)
		if err != nil {
			return nil, fmt.Errorf("discrepancy notifier: %w", err)
		}
		notifier = n
	}

	lock, err := res.CronLock("cron:" + changedetect.JobName)
	if err != nil {
		return nil, fmt.Errorf("change detection lock: %w", err)
	}

	return changedetect.NewJob(changedetect.Params{
		Lock:        lock,
		Logger:      logg,
		Config:      cfg.ChangeDetection,
		Store:       store,
		Fulfillment: fulfillmentClient,
		Commerce:    commerceClient,
		Notifier:    notifier,
		Metrics:     metrics.NewChangeDetectionMetrics(reg),
	})
}

// NewScheduler registers job on a cron service using the configured interval.
// The job takes the shared lock itself so manual triggers from the API are
// serialized with scheduled runs; the scheduler only needs a local lock.
func NewScheduler(cfg *config.Config, logg *logger.Logger, job cron.Job, reg prometheus.Registerer) (*cron.Service, error) {
	registry := cron.NewRegistry()
	if !registry.Register(job) {
		return nil, fmt.Errorf("job %q already registered", job.Name())
	}
	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     &cron.LocalLock{},
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: cfg.ChangeDetection.Interval(),
	})
}
