// Package store defines the persistence port every other subsystem
// programs against. The concrete implementation lives under
// internal/adapter/store/sqlite.
package store

import (
	"context"

	"github.com/dicomgw/gateway/internal/domain"
)

// Store is the relational persistence port: indexed DICOM metadata,
// custom field values, rolling metrics, route statistics, and reindex
// job bookkeeping. TransferRecord and ReviewMetadata are NOT stored
// here — they are file-backed by the tracker and review packages
// respectively (see spec.md §4.2, §4.3).
type Store interface {
	// Indexed metadata. Upserts are keyed by primary UID; concurrent
	// upserts of the same UID must leave exactly one row with the
	// last writer's field values.
	UpsertStudy(ctx context.Context, s domain.IndexedStudy) error
	UpsertSeries(ctx context.Context, s domain.IndexedSeries) error
	UpsertInstance(ctx context.Context, i domain.IndexedInstance) error
	GetStudy(ctx context.Context, studyUID string) (domain.IndexedStudy, error)
	GetInstanceByHash(ctx context.Context, sopInstanceUID string) (domain.IndexedInstance, error)
	ClearIndex(ctx context.Context) error

	// aggregateStudyCounts recomputes seriesCount/instanceCount/
	// totalSize/modalities for every study from its children in one
	// bulk pass. Consumers must treat aggregate fields as
	// eventually-consistent until this returns.
	AggregateStudyCounts(ctx context.Context) error

	// Custom fields.
	CreateCustomField(ctx context.Context, f domain.CustomField) (domain.CustomField, error)
	GetEnabledCustomFields(ctx context.Context) ([]domain.CustomField, error)
	SetCustomFieldValue(ctx context.Context, fieldID int64, entityUID string, value string) error

	// Metrics.
	RecordMinuteMetric(ctx context.Context, p domain.MetricPoint) error
	RecordHourMetric(ctx context.Context, p domain.MetricPoint) error
	RecordDayMetric(ctx context.Context, p domain.MetricPoint) error
	GetMinuteMetrics(ctx context.Context, limit int) ([]domain.MetricPoint, error)
	GetHourMetrics(ctx context.Context, limit int) ([]domain.MetricPoint, error)
	GetDayMetrics(ctx context.Context, limit int) ([]domain.MetricPoint, error)
	CleanupOldMetrics(ctx context.Context, retention MetricsRetention) error

	// Route statistics: cumulative, monotonic.
	UpdateRouteStats(ctx context.Context, aeTitle string, success bool, bytes int64, files int) error
	GetRouteStats(ctx context.Context, aeTitle string) (domain.RouteStats, error)
	ListRouteStats(ctx context.Context) ([]domain.RouteStats, error)

	// Reindex jobs.
	CreateReindexJob(ctx context.Context, job domain.ReindexJob) error
	UpdateReindexJob(ctx context.Context, id string, status domain.ReindexJobStatus, total, processed, errors int, message string) error
	GetReindexJob(ctx context.Context, id string) (domain.ReindexJob, error)
	GetLatestReindexJob(ctx context.Context) (domain.ReindexJob, error)

	Close() error
}

// MetricsRetention bounds how many buckets of each resolution
// CleanupOldMetrics keeps.
type MetricsRetention struct {
	MinuteCount int
	HourCount   int
	DayCount    int
}
