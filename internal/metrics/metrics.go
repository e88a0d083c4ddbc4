// Package metrics implements the MetricsAggregator: mutex-protected
// minute-resolution counters rolled up on a schedule into hour/day
// MetricPoints, exposed both through Store-backed queries and through
// Prometheus counters for scraping.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/dicomgw/gateway/internal/domain"
	"github.com/dicomgw/gateway/internal/observability"
	"github.com/dicomgw/gateway/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	transfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "transfers_total",
		Help:      "Total transfers observed by outcome, per route.",
	}, []string{"ae_title", "outcome"})

	bytesForwardedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "bytes_forwarded_total",
		Help:      "Total bytes successfully forwarded, per route.",
	}, []string{"ae_title"})

	activeTransfersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Name:      "active_transfers",
		Help:      "Transfers currently in the active registry.",
	})
)

func init() {
	prometheus.MustRegister(transfersTotal, bytesForwardedTotal, activeTransfersGauge)
}

// Store is the narrow slice of store.Store the aggregator depends on.
type Store interface {
	RecordMinuteMetric(ctx context.Context, p domain.MetricPoint) error
	RecordHourMetric(ctx context.Context, p domain.MetricPoint) error
	RecordDayMetric(ctx context.Context, p domain.MetricPoint) error
	GetMinuteMetrics(ctx context.Context, limit int) ([]domain.MetricPoint, error)
	GetHourMetrics(ctx context.Context, limit int) ([]domain.MetricPoint, error)
	GetDayMetrics(ctx context.Context, limit int) ([]domain.MetricPoint, error)
	CleanupOldMetrics(ctx context.Context, retention store.MetricsRetention) error
	GetRouteStats(ctx context.Context, aeTitle string) (domain.RouteStats, error)
	ListRouteStats(ctx context.Context) ([]domain.RouteStats, error)
}

const (
	minuteRetention = 60
	hourRetention   = 24
	dayRetention    = 30
)

// counters is the live per-minute tally, reset on every rollup. Access
// is serialized by Aggregator.mu, not by the field type.
type counters struct {
	transfers, successful, failed, bytes, files int64
}

func (c *counters) reset() counters {
	snap := *c
	*c = counters{}
	return snap
}

// Aggregator is the MetricsAggregator component.
type Aggregator struct {
	store  Store
	logger observability.Logger
	now    func() time.Time

	mu             sync.Mutex
	global         counters
	perRoute       map[string]*counters
	minutePts      []domain.MetricPoint
	hourPts        []domain.MetricPoint
	dayPts         []domain.MetricPoint
	routeMinutePts map[string][]domain.MetricPoint
	stop           chan struct{}
	stopOnce       sync.Once
}

// New constructs an Aggregator. Call Hydrate before Start to seed
// in-memory deques from the store.
func New(store Store, logger observability.Logger) *Aggregator {
	return &Aggregator{
		store:          store,
		logger:         logger,
		now:            time.Now,
		perRoute:       make(map[string]*counters),
		routeMinutePts: make(map[string][]domain.MetricPoint),
		stop:           make(chan struct{}),
	}
}

// Hydrate loads the last 60 minute, 24 hour, and 30 day points from
// the store into memory. Call once at startup.
func (a *Aggregator) Hydrate(ctx context.Context) error {
	minutePts, err := a.store.GetMinuteMetrics(ctx, minuteRetention)
	if err != nil {
		return err
	}
	hourPts, err := a.store.GetHourMetrics(ctx, hourRetention)
	if err != nil {
		return err
	}
	dayPts, err := a.store.GetDayMetrics(ctx, dayRetention)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.minutePts = minutePts
	a.hourPts = hourPts
	a.dayPts = dayPts
	a.mu.Unlock()
	return nil
}

// RecordTransferReceived increments the global active-transfers
// Prometheus gauge; aeTitle is not recorded. No minute counter changes:
// MetricPoint
// "transfers" counts terminal outcomes, matching S6.
func (a *Aggregator) RecordTransferReceived(aeTitle string) {
	activeTransfersGauge.Inc()
}

// RecordTransferSuccess records one successful, terminal transfer.
func (a *Aggregator) RecordTransferSuccess(aeTitle string, bytes int64, files int) {
	a.mu.Lock()
	a.global.transfers++
	a.global.successful++
	a.global.bytes += bytes
	a.global.files += int64(files)
	a.routeCounters(aeTitle).transfers++
	a.routeCounters(aeTitle).successful++
	a.routeCounters(aeTitle).bytes += bytes
	a.routeCounters(aeTitle).files += int64(files)
	a.mu.Unlock()

	transfersTotal.WithLabelValues(aeTitle, "success").Inc()
	bytesForwardedTotal.WithLabelValues(aeTitle).Add(float64(bytes))
	activeTransfersGauge.Dec()
}

// RecordTransferFailed records one failed, terminal transfer.
func (a *Aggregator) RecordTransferFailed(aeTitle string) {
	a.mu.Lock()
	a.global.transfers++
	a.global.failed++
	a.routeCounters(aeTitle).transfers++
	a.routeCounters(aeTitle).failed++
	a.mu.Unlock()

	transfersTotal.WithLabelValues(aeTitle, "failed").Inc()
	activeTransfersGauge.Dec()
}

// routeCounters must be called with a.mu held.
func (a *Aggregator) routeCounters(aeTitle string) *counters {
	c, ok := a.perRoute[aeTitle]
	if !ok {
		c = &counters{}
		a.perRoute[aeTitle] = c
	}
	return c
}

// Start launches the 60-second rollup loop. Stop cancels it.
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.stop:
				return
			case <-ticker.C:
				a.rollup(ctx)
			}
		}
	}()
}

// Stop halts the rollup loop.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

func floorTo(t time.Time, bucketMillis int64) int64 {
	ms := t.UnixMilli()
	return ms - ms%bucketMillis
}

// rollup snapshots and resets the current minute counters into a
// MetricPoint stamped to the minute that just closed, persists it, and
// checks for hour/day boundary transitions. Never propagates an error
// out of the scheduled task; everything is logged.
func (a *Aggregator) rollup(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.LogError(ctx, "metrics rollup panicked", map[string]interface{}{"panic": r})
		}
	}()

	minuteBoundary := floorTo(a.now().Add(-time.Second), domain.MinuteMillis)

	a.mu.Lock()
	snap := a.global.reset()
	routeSnaps := make(map[string]counters, len(a.perRoute))
	for aeTitle, c := range a.perRoute {
		routeSnaps[aeTitle] = c.reset()
	}
	a.mu.Unlock()

	point := domain.MetricPoint{
		Timestamp:  minuteBoundary,
		Transfers:  snap.transfers,
		Successful: snap.successful,
		Failed:     snap.failed,
		Bytes:      snap.bytes,
		Files:      snap.files,
	}

	if err := a.store.RecordMinuteMetric(ctx, point); err != nil {
		a.logger.LogWarning(ctx, "failed to persist minute metric", map[string]interface{}{"err": err.Error()})
	}

	a.mu.Lock()
	a.minutePts = append(a.minutePts, point)
	a.minutePts = pruneTail(a.minutePts, minuteRetention)
	for aeTitle, snap := range routeSnaps {
		routePoint := domain.MetricPoint{
			Timestamp:  minuteBoundary,
			Transfers:  snap.transfers,
			Successful: snap.successful,
			Failed:     snap.failed,
			Bytes:      snap.bytes,
			Files:      snap.files,
		}
		a.routeMinutePts[aeTitle] = pruneTail(append(a.routeMinutePts[aeTitle], routePoint), minuteRetention)
	}
	a.mu.Unlock()

	a.rollHour(ctx, minuteBoundary)
	a.rollDay(ctx, minuteBoundary)

	if err := a.store.CleanupOldMetrics(ctx, store.MetricsRetention{MinuteCount: minuteRetention, HourCount: hourRetention, DayCount: dayRetention}); err != nil {
		a.logger.LogWarning(ctx, "failed to prune old metrics", map[string]interface{}{"err": err.Error()})
	}
}

// rollHour sums every minute point in the hour that just closed and
// persists an hour MetricPoint, once, the first time a minute point
// lands in a new hour bucket.
func (a *Aggregator) rollHour(ctx context.Context, minuteBoundary int64) {
	hourBoundary := floorTo(time.UnixMilli(minuteBoundary), domain.HourMillis)
	nextMinuteInHour := minuteBoundary + domain.MinuteMillis

	if floorTo(time.UnixMilli(nextMinuteInHour), domain.HourMillis) == hourBoundary {
		return
	}

	a.mu.Lock()
	sum := sumInBucket(a.minutePts, hourBoundary, domain.HourMillis)
	sum.Timestamp = hourBoundary
	a.hourPts = append(a.hourPts, sum)
	a.hourPts = pruneTail(a.hourPts, hourRetention)
	a.mu.Unlock()

	if err := a.store.RecordHourMetric(ctx, sum); err != nil {
		a.logger.LogWarning(ctx, "failed to persist hour metric", map[string]interface{}{"err": err.Error()})
	}
}

func (a *Aggregator) rollDay(ctx context.Context, minuteBoundary int64) {
	dayBoundary := floorTo(time.UnixMilli(minuteBoundary), domain.DayMillis)
	nextMinuteInDay := minuteBoundary + domain.MinuteMillis

	if floorTo(time.UnixMilli(nextMinuteInDay), domain.DayMillis) == dayBoundary {
		return
	}

	// rollHour has already appended the day's last hour point.
	a.mu.Lock()
	sum := sumInBucket(a.hourPts, dayBoundary, domain.DayMillis)
	sum.Timestamp = dayBoundary
	a.dayPts = append(a.dayPts, sum)
	a.dayPts = pruneTail(a.dayPts, dayRetention)
	a.mu.Unlock()

	if err := a.store.RecordDayMetric(ctx, sum); err != nil {
		a.logger.LogWarning(ctx, "failed to persist day metric", map[string]interface{}{"err": err.Error()})
	}
}

// sumInBucket must be called with a.mu held; it sums the points in
// [boundary, boundary+width).
func sumInBucket(points []domain.MetricPoint, boundary, width int64) domain.MetricPoint {
	var out domain.MetricPoint
	for _, p := range points {
		if p.Timestamp >= boundary && p.Timestamp < boundary+width {
			out.Transfers += p.Transfers
			out.Successful += p.Successful
			out.Failed += p.Failed
			out.Bytes += p.Bytes
			out.Files += p.Files
		}
	}
	return out
}

func pruneTail(points []domain.MetricPoint, keep int) []domain.MetricPoint {
	if len(points) <= keep {
		return points
	}
	return points[len(points)-keep:]
}

// MinutePoints returns a snapshot of the in-memory minute deque.
func (a *Aggregator) MinutePoints() []domain.MetricPoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.MetricPoint, len(a.minutePts))
	copy(out, a.minutePts)
	return out
}

// HourPoints returns a snapshot of the in-memory hour deque.
func (a *Aggregator) HourPoints() []domain.MetricPoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.MetricPoint, len(a.hourPts))
	copy(out, a.hourPts)
	return out
}

// DayPoints returns a snapshot of the in-memory day deque.
func (a *Aggregator) DayPoints() []domain.MetricPoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.MetricPoint, len(a.dayPts))
	copy(out, a.dayPts)
	return out
}

// RouteMinutePoints returns a snapshot of the in-memory per-route
// minute deque for aeTitle, pruned to the same retention window as the
// global minute deque.
func (a *Aggregator) RouteMinutePoints(aeTitle string) []domain.MetricPoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	pts := a.routeMinutePts[aeTitle]
	out := make([]domain.MetricPoint, len(pts))
	copy(out, pts)
	return out
}

// CurrentThroughput averages transfers and bytes per minute over the
// last 5 minute points in memory.
func (a *Aggregator) CurrentThroughput() (transfersPerMin, bytesPerMin float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	window := a.minutePts
	if len(window) > 5 {
		window = window[len(window)-5:]
	}
	if len(window) == 0 {
		return 0, 0
	}

	var transfers, bytes int64
	for _, p := range window {
		transfers += p.Transfers
		bytes += p.Bytes
	}
	n := float64(len(window))
	return float64(transfers) / n, float64(bytes) / n
}

// RouteSummary returns the cumulative route stats from the store.
func (a *Aggregator) RouteSummary(ctx context.Context, aeTitle string) (domain.RouteStats, error) {
	return a.store.GetRouteStats(ctx, aeTitle)
}

// AllRouteSummaries returns cumulative stats for every route.
func (a *Aggregator) AllRouteSummaries(ctx context.Context) ([]domain.RouteStats, error) {
	return a.store.ListRouteStats(ctx)
}
