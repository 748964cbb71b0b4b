// Package changedetect periodically compares fulfillment orders awaiting
// shipment with their commerce counterparts, caches the verdicts and
// optionally tags orders whose line items drifted.
package changedetect

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/opsconsole/internal/changecache"
	"github.com/angelmondragon/opsconsole/internal/commerce"
	"github.com/angelmondragon/opsconsole/internal/fulfillment"
	"github.com/angelmondragon/opsconsole/internal/reconcile"
	"github.com/angelmondragon/opsconsole/pkg/config"
	pkgerrors "github.com/angelmondragon/opsconsole/pkg/errors"
	"github.com/angelmondragon/opsconsole/pkg/logger"
	"github.com/angelmondragon/opsconsole/pkg/metrics"
	"go.uber.org/multierr"
)

// JobName identifies the job in logs, metrics and the cron registry.
const JobName = "order-change-detection"

var (
	ErrRunInProgress = pkgerrors.New(pkgerrors.CodeConflict, "change detection run already in progress")
	ErrDisabled      = pkgerrors.New(pkgerrors.CodeStateConflict, "change detection is disabled")
)

// FulfillmentAPI is the subset of the fulfillment client the job calls.
type FulfillmentAPI interface {
	SearchOrders(ctx context.Context, params fulfillment.SearchParams) (*fulfillment.SearchPage, error)
	GetOrCreateTagID(ctx context.Context, name string) (int64, error)
	AddTagToOrder(ctx context.Context, orderID, tagID int64) error
}

// CommerceAPI looks up the commerce copy of an order.
type CommerceAPI interface {
	GetOrderByNumber(ctx context.Context, number string) (*commerce.Order, error)
}

// Lock is a lease shared by every process that may run the job. Acquire
// reports false when another holder owns it.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Params configures a Job. Notifier, Metrics and Lock are optional.
type Params struct {
	Logger      *logger.Logger
	Config      config.ChangeDetectionConfig
	Store       changecache.Store
	Fulfillment FulfillmentAPI
	Commerce    CommerceAPI
	Notifier    Notifier
	Metrics     *metrics.ChangeDetectionMetrics
	Lock        Lock
}

// Job is the single-flight change-detection orchestrator.
type Job struct {
	logg        *logger.Logger
	cfg         config.ChangeDetectionConfig
	store       changecache.Store
	fulfillment FulfillmentAPI
	commerce    CommerceAPI
	notifier    Notifier
	metrics     *metrics.ChangeDetectionMetrics
	lock        Lock

	guard guard
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	lastStart  *time.Time
	lastFinish *time.Time
	lastStats  *RunStats
	lastErr    string
}

func NewJob(params Params) (*Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("cache store required")
	}
	if params.Fulfillment == nil {
		return nil, fmt.Errorf("fulfillment client required")
	}
	if params.Commerce == nil {
		return nil, fmt.Errorf("commerce client required")
	}
	cfg := params.Config
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if strings.TrimSpace(cfg.TagName) == "" {
		cfg.TagName = "Order Changed"
	}
	return &Job{
		logg:        params.Logger,
		cfg:         cfg,
		store:       params.Store,
		fulfillment: params.Fulfillment,
		commerce:    params.Commerce,
		notifier:    params.Notifier,
		metrics:     params.Metrics,
		lock:        params.Lock,
		now:         time.Now,
		sleep:       sleepContext,
	}, nil
}

func (j *Job) Name() string { return JobName }

// Run adapts Execute to the cron scheduler. Overlap and a disabled job are
// not failures from the scheduler's point of view.
func (j *Job) Run(ctx context.Context) error {
	_, err := j.Execute(ctx)
	if errors.Is(err, ErrRunInProgress) || errors.Is(err, ErrDisabled) {
		return nil
	}
	return err
}

// Execute runs one pass synchronously.
func (j *Job) Execute(ctx context.Context) (*RunStats, error) {
	if err := j.begin(ctx); err != nil {
		return nil, err
	}
	return j.execute(ctx)
}

// Trigger starts a pass in the background and returns once the run owns
// the guard. The run outlives ctx cancellation.
func (j *Job) Trigger(ctx context.Context) error {
	if err := j.begin(ctx); err != nil {
		return err
	}
	runCtx := context.WithoutCancel(ctx)
	go func() {
		_, _ = j.execute(runCtx)
	}()
	return nil
}

// Status reports the current state and the last finished run.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	status := Status{
		State:          j.guard.current().String(),
		Enabled:        j.cfg.Enabled,
		AutoTag:        j.cfg.AutoTag,
		LastStartedAt:  j.lastStart,
		LastFinishedAt: j.lastFinish,
		LastError:      j.lastErr,
	}
	if j.lastStats != nil {
		stats := *j.lastStats
		stats.Errors = append([]OrderError(nil), j.lastStats.Errors...)
		status.LastStats = &stats
	}
	return status
}

// CachedEntry returns the persisted verdict for orderID.
func (j *Job) CachedEntry(ctx context.Context, orderID string) (*changecache.Entry, error) {
	entries, err := j.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := entries[orderID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// ShouldSkip reports whether orderID would be skipped by a run at now.
func (j *Job) ShouldSkip(ctx context.Context, orderID string, now time.Time) (bool, error) {
	entry, err := j.CachedEntry(ctx, orderID)
	if err != nil {
		return false, err
	}
	return changecache.ShouldSkip(entry, now, changecache.FreshnessWindow), nil
}

func (j *Job) begin(ctx context.Context) error {
	jobCtx := j.logg.WithJob(ctx, JobName)
	if !j.cfg.Enabled {
		j.logg.Info(jobCtx, "change detection disabled; skipping run")
		return ErrDisabled
	}
	if !j.guard.acquire() {
		j.metrics.IncSkippedRun()
		j.logg.Warn(jobCtx, "change detection already running; skipping run")
		return ErrRunInProgress
	}
	if j.lock == nil {
		return nil
	}
	locked, err := j.lock.Acquire(ctx)
	if err != nil {
		j.guard.release()
		j.logg.Error(jobCtx, "change detection lock acquire failed", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire change detection lock")
	}
	if !locked {
		j.guard.release()
		j.metrics.IncSkippedRun()
		j.logg.Warn(jobCtx, "change detection lock held elsewhere; skipping run")
		return ErrRunInProgress
	}
	return nil
}

func (j *Job) releaseLock(ctx context.Context) {
	if j.lock == nil {
		return
	}
	if err := j.lock.Release(context.WithoutCancel(ctx)); err != nil {
		j.logg.Error(ctx, "change detection lock release failed", err)
	}
}

// execute assumes the caller owns the guard and the lock.
func (j *Job) execute(ctx context.Context) (stats *RunStats, err error) {
	ctx = j.logg.WithJob(ctx, JobName)
	stats = &RunStats{StartedAt: j.now().UTC()}
	j.markStarted(stats.StartedAt)
	j.metrics.SetRunning(true)
	j.logg.Info(ctx, "change detection run starting")

	defer func() {
		if r := recover(); r != nil {
			err = multierr.Append(err, fmt.Errorf("change detection panic: %v", r))
		}
		stats.FinishedAt = j.now().UTC()
		j.finish(ctx, stats, err)
		j.releaseLock(ctx)
		j.guard.release()
	}()

	err = j.process(ctx, stats)
	return stats, err
}

func (j *Job) process(ctx context.Context, stats *RunStats) error {
	entries, err := j.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load change cache: %w", err)
	}
	cache := changecache.NewMemoryCache(entries)
	if evicted := cache.EvictOlderThan(changecache.RetentionWindow, j.now()); evicted > 0 {
		stats.Evicted = evicted
		j.logg.Info(j.logg.WithField(ctx, "evicted", evicted), "evicted stale cache entries")
	}

	orders, err := j.collectOrders(ctx)
	if err != nil {
		return err
	}
	j.logg.Info(j.logg.WithField(ctx, "orders", len(orders)), "fulfillment orders collected")

	tagID := j.resolveTag(ctx, stats)

	var loopErr error
	calls := 0
	for _, order := range orders {
		if ctxErr := ctx.Err(); ctxErr != nil {
			loopErr = fmt.Errorf("change detection interrupted: %w", ctxErr)
			break
		}
		stats.OrdersScanned++
		orderID := strconv.FormatInt(order.ID, 10)
		prior, hadPrior := cache.Get(orderID)
		var priorPtr *changecache.Entry
		if hadPrior {
			priorPtr = &prior
		}
		if changecache.ShouldSkip(priorPtr, j.now(), changecache.FreshnessWindow) {
			stats.OrdersSkipped++
			continue
		}

		if calls > 0 {
			if sleepErr := j.sleep(ctx, j.cfg.CallDelay); sleepErr != nil {
				loopErr = fmt.Errorf("change detection interrupted: %w", sleepErr)
				break
			}
		}
		calls++

		orderCtx := j.logg.WithOrderID(ctx, orderID)
		if tagged := j.checkOrder(orderCtx, order, orderID, priorPtr, tagID, cache, stats); tagged {
			if sleepErr := j.sleep(ctx, j.cfg.TagDelay); sleepErr != nil {
				loopErr = fmt.Errorf("change detection interrupted: %w", sleepErr)
				break
			}
		}
	}

	// Progress made before an interruption is still persisted.
	saveCtx := context.WithoutCancel(ctx)
	if saveErr := j.store.SaveAll(saveCtx, cache.Snapshot()); saveErr != nil {
		loopErr = multierr.Append(loopErr, fmt.Errorf("save change cache: %w", saveErr))
	}
	return loopErr
}

// checkOrder compares one order and records the verdict. It reports whether
// a tag write succeeded.
func (j *Job) checkOrder(
	ctx context.Context,
	order fulfillment.Order,
	orderID string,
	prior *changecache.Entry,
	tagID int64,
	cache *changecache.MemoryCache,
	stats *RunStats,
) bool {
	commerceOrder, err := j.commerce.GetOrderByNumber(ctx, order.OrderNumber)
	if err != nil {
		j.logg.Error(ctx, "commerce lookup failed", err)
		stats.recordError(orderID, order.OrderNumber, fmt.Errorf("commerce lookup: %w", err))
		return false
	}
	checkedAt := j.now().UnixMilli()
	if commerceOrder == nil {
		j.logg.Warn(ctx, "no matching commerce order")
		stats.recordError(orderID, order.OrderNumber, errors.New(changecache.ErrorNoMatchingOrder))
		cache.Put(orderID, changecache.Entry{
			LastChecked: checkedAt,
			OrderNumber: order.OrderNumber,
			Error:       changecache.ErrorNoMatchingOrder,
		})
		return false
	}

	result := reconcile.Compare(commerceLines(commerceOrder), fulfillmentLines(order))
	entry := changecache.Entry{
		LastChecked: checkedAt,
		HasChanges:  result.HasChanges,
		Changes:     result.Changes,
		OrderNumber: order.OrderNumber,
	}
	if !result.HasChanges {
		cache.Put(orderID, entry)
		return false
	}

	stats.ChangesDetected++
	ctx = j.logg.WithField(ctx, "changes", len(result.Changes))
	j.logg.Info(ctx, "order line items differ")

	wrote := false
	switch {
	case tagID == 0:
	case order.HasTag(tagID) || (prior != nil && prior.HasChanges && prior.Tagged):
		entry.Tagged = true
	default:
		if err := j.fulfillment.AddTagToOrder(ctx, order.ID, tagID); err != nil {
			j.logg.Error(ctx, "tag write failed", err)
			stats.recordError(orderID, order.OrderNumber, fmt.Errorf("tag order: %w", err))
		} else {
			wrote = true
			entry.Tagged = true
			stats.OrdersTagged++
		}
	}
	cache.Put(orderID, entry)

	if isNewChange(prior, result.Changes) {
		stats.NewChanges++
		j.notify(ctx, Discrepancy{
			OrderID:     orderID,
			OrderNumber: order.OrderNumber,
			Changes:     result.Changes,
			Tagged:      entry.Tagged,
			DetectedAt:  time.UnixMilli(checkedAt).UTC(),
		})
	}
	return wrote
}

func (j *Job) collectOrders(ctx context.Context) ([]fulfillment.Order, error) {
	now := j.now()
	params := fulfillment.SearchParams{
		ModifiedSince: now.Add(-j.cfg.ScanWindow()),
		ModifiedUntil: now,
		Status:        fulfillment.StatusAwaitingShipment,
		PageSize:      j.cfg.PageSize,
		Page:          1,
	}
	limit := j.cfg.MaxOrdersPerRun
	var orders []fulfillment.Order
	for {
		page, err := j.fulfillment.SearchOrders(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("search fulfillment orders page %d: %w", params.Page, err)
		}
		for _, order := range page.Orders {
			if limit > 0 && len(orders) >= limit {
				return orders, nil
			}
			orders = append(orders, order)
		}
		if len(page.Orders) == 0 || params.Page >= page.Pages {
			return orders, nil
		}
		if limit > 0 && len(orders) >= limit {
			return orders, nil
		}
		params.Page++
		if err := j.sleep(ctx, j.cfg.CallDelay); err != nil {
			return nil, fmt.Errorf("change detection interrupted: %w", err)
		}
	}
}

// resolveTag returns 0 when tagging is off for this run.
func (j *Job) resolveTag(ctx context.Context, stats *RunStats) int64 {
	if !j.cfg.AutoTag {
		return 0
	}
	tagID, err := j.fulfillment.GetOrCreateTagID(ctx, j.cfg.TagName)
	if err != nil {
		j.logg.Error(j.logg.WithField(ctx, "tag", j.cfg.TagName), "resolve tag failed; tagging disabled for this run", err)
		stats.recordError("", "", fmt.Errorf("resolve tag %q: %w", j.cfg.TagName, err))
		return 0
	}
	return tagID
}

func (j *Job) notify(ctx context.Context, d Discrepancy) {
	if j.notifier == nil {
		return
	}
	if err := j.notifier.NotifyDiscrepancy(ctx, d); err != nil {
		j.logg.Warn(j.logg.WithField(ctx, "error", err.Error()), "discrepancy notification failed")
	}
}

func (j *Job) markStarted(at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastStart = &at
}

func (j *Job) finish(ctx context.Context, stats *RunStats, err error) {
	j.metrics.SetRunning(false)
	j.metrics.ObserveRun(metrics.RunCounts{
		Scanned:  stats.OrdersScanned,
		Skipped:  stats.OrdersSkipped,
		Changed:  stats.ChangesDetected,
		New:      stats.NewChanges,
		Tagged:   stats.OrdersTagged,
		Errors:   len(stats.Errors),
		Duration: stats.FinishedAt.Sub(stats.StartedAt),
	}, stats.FinishedAt, err)

	j.mu.Lock()
	finished := stats.FinishedAt
	j.lastFinish = &finished
	j.lastStats = stats
	j.lastErr = ""
	if err != nil {
		j.lastErr = err.Error()
	}
	j.mu.Unlock()

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":      stats.OrdersScanned,
		"skipped":      stats.OrdersSkipped,
		"changed":      stats.ChangesDetected,
		"new_changes":  stats.NewChanges,
		"tagged":       stats.OrdersTagged,
		"order_errors": len(stats.Errors),
		"duration_ms":  stats.FinishedAt.Sub(stats.StartedAt).Milliseconds(),
	})
	if err != nil {
		j.logg.Error(logCtx, "change detection run failed", err)
		return
	}
	j.logg.Info(logCtx, "change detection run complete")
}

// isNewChange reports whether changes were not already known for the order.
func isNewChange(prior *changecache.Entry, changes []reconcile.ItemDiffEntry) bool {
	if prior == nil || !prior.HasChanges {
		return true
	}
	return !reflect.DeepEqual(prior.Changes, changes)
}

func commerceLines(order *commerce.Order) []reconcile.CommerceLineItem {
	lines := make([]reconcile.CommerceLineItem, 0, len(order.LineItems))
	for _, item := range order.LineItems {
		lines = append(lines, reconcile.CommerceLineItem{
			ProductRef: item.ProductID,
			GiftCard:   item.GiftCard,
			SKU:        item.SKU,
			Name:       item.Name,
			Quantity:   item.Quantity,
			Price:      item.Price,
		})
	}
	return lines
}

func fulfillmentLines(order fulfillment.Order) []reconcile.FulfillmentLineItem {
	lines := make([]reconcile.FulfillmentLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, reconcile.FulfillmentLineItem{
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return lines
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
