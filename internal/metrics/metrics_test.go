package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dicomgw/gateway/internal/domain"
	"github.com/dicomgw/gateway/internal/observability"
	"github.com/dicomgw/gateway/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu           sync.Mutex
	minutePoints []domain.MetricPoint
	hourPoints   []domain.MetricPoint
	dayPoints    []domain.MetricPoint
	cleanups     int
}

func (s *fakeStore) RecordMinuteMetric(ctx context.Context, p domain.MetricPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minutePoints = append(s.minutePoints, p)
	return nil
}

func (s *fakeStore) RecordHourMetric(ctx context.Context, p domain.MetricPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hourPoints = append(s.hourPoints, p)
	return nil
}

func (s *fakeStore) RecordDayMetric(ctx context.Context, p domain.MetricPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dayPoints = append(s.dayPoints, p)
	return nil
}

func (s *fakeStore) GetMinuteMetrics(ctx context.Context, limit int) ([]domain.MetricPoint, error) {
	return nil, nil
}

func (s *fakeStore) GetHourMetrics(ctx context.Context, limit int) ([]domain.MetricPoint, error) {
	return nil, nil
}

func (s *fakeStore) GetDayMetrics(ctx context.Context, limit int) ([]domain.MetricPoint, error) {
	return nil, nil
}

func (s *fakeStore) CleanupOldMetrics(ctx context.Context, retention store.MetricsRetention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups++
	return nil
}

func (s *fakeStore) GetRouteStats(ctx context.Context, aeTitle string) (domain.RouteStats, error) {
	return domain.RouteStats{AETitle: aeTitle}, nil
}

func (s *fakeStore) ListRouteStats(ctx context.Context) ([]domain.RouteStats, error) {
	return nil, nil
}

func (s *fakeStore) lastMinutePoint() domain.MetricPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minutePoints[len(s.minutePoints)-1]
}

func TestAggregator_RollupMatchesScenarioS6(t *testing.T) {
	store := &fakeStore{}
	agg := New(store, observability.NewStdLogger())

	base := time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)
	agg.now = func() time.Time { return base }

	agg.RecordTransferSuccess("RTE_A", 1000, 1)
	agg.RecordTransferSuccess("RTE_A", 1000, 1)
	agg.RecordTransferSuccess("RTE_A", 1000, 1)
	agg.RecordTransferFailed("RTE_A")

	agg.now = func() time.Time { return base.Add(time.Minute) }
	agg.rollup(context.Background())

	point := store.lastMinutePoint()
	assert.Equal(t, int64(4), point.Transfers)
	assert.Equal(t, int64(3), point.Successful)
	assert.Equal(t, int64(1), point.Failed)
	assert.Equal(t, int64(3000), point.Bytes)

	expectedBoundary := floorTo(base, domain.MinuteMillis)
	assert.Equal(t, expectedBoundary, point.Timestamp)
	assert.Equal(t, int64(0), point.Timestamp%domain.MinuteMillis)
}

func TestAggregator_RollupAllZeroStillEmitsPoint(t *testing.T) {
	store := &fakeStore{}
	agg := New(store, observability.NewStdLogger())
	agg.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC) }

	agg.rollup(context.Background())

	require.Len(t, store.minutePoints, 1)
	assert.Equal(t, domain.MetricPoint{Timestamp: store.minutePoints[0].Timestamp}, store.minutePoints[0])
}

func TestAggregator_HourBoundaryRollsUp(t *testing.T) {
	store := &fakeStore{}
	agg := New(store, observability.NewStdLogger())

	hourStart := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		if i%10 == 0 {
			agg.RecordTransferSuccess("RTE_A", 100, 1)
		}
		// Tick (i+1) minutes after hourStart: each tick closes out the
		// minute at hourStart+i, mirroring the real ticker firing just
		// after a minute elapses.
		agg.now = func(i int) func() time.Time {
			return func() time.Time { return hourStart.Add(time.Duration(i+1) * time.Minute) }
		}(i)
		agg.rollup(context.Background())
	}

	require.NotEmpty(t, store.hourPoints)
	hp := store.hourPoints[0]
	assert.Equal(t, int64(0), hp.Timestamp%domain.HourMillis)
	assert.Equal(t, int64(6), hp.Transfers, "6 of the 60 minutes recorded a success")
}

func TestAggregator_MinuteDequePrunedToRetention(t *testing.T) {
	store := &fakeStore{}
	agg := New(store, observability.NewStdLogger())

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < minuteRetention+10; i++ {
		agg.now = func(i int) func() time.Time {
			return func() time.Time { return start.Add(time.Duration(i) * time.Minute) }
		}(i)
		agg.rollup(context.Background())
	}

	assert.Len(t, agg.MinutePoints(), minuteRetention)
}

func TestAggregator_RouteMinutePointsTracksPerRoute(t *testing.T) {
	store := &fakeStore{}
	agg := New(store, observability.NewStdLogger())

	base := time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)
	agg.now = func() time.Time { return base }

	agg.RecordTransferSuccess("RTE_A", 1000, 1)
	agg.RecordTransferSuccess("RTE_A", 500, 1)
	agg.RecordTransferFailed("RTE_B")

	agg.now = func() time.Time { return base.Add(time.Minute) }
	agg.rollup(context.Background())

	ptsA := agg.RouteMinutePoints("RTE_A")
	require.Len(t, ptsA, 1)
	assert.Equal(t, int64(2), ptsA[0].Transfers)
	assert.Equal(t, int64(2), ptsA[0].Successful)
	assert.Equal(t, int64(1500), ptsA[0].Bytes)

	ptsB := agg.RouteMinutePoints("RTE_B")
	require.Len(t, ptsB, 1)
	assert.Equal(t, int64(1), ptsB[0].Transfers)
	assert.Equal(t, int64(1), ptsB[0].Failed)

	assert.Empty(t, agg.RouteMinutePoints("RTE_UNKNOWN"))

	// a route stays tracked once seen: a second rollup with no new
	// activity for RTE_A still appends a zero-valued point, matching
	// the global deque's behavior of one point per closed minute.
	agg.now = func() time.Time { return base.Add(2 * time.Minute) }
	agg.rollup(context.Background())
	ptsA = agg.RouteMinutePoints("RTE_A")
	require.Len(t, ptsA, 2)
	assert.Equal(t, int64(0), ptsA[1].Transfers)
}

func TestAggregator_CurrentThroughput(t *testing.T) {
	store := &fakeStore{}
	agg := New(store, observability.NewStdLogger())

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		agg.now = func(i int) func() time.Time {
			return func() time.Time { return start.Add(time.Duration(i) * time.Minute) }
		}(i)
		agg.RecordTransferSuccess("RTE_A", 200, 1)
		agg.rollup(context.Background())
	}

	transfersPerMin, bytesPerMin := agg.CurrentThroughput()
	assert.Equal(t, 1.0, transfersPerMin)
	assert.Equal(t, 200.0, bytesPerMin)
}
