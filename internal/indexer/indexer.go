// Package indexer implements the Indexer component: a worker pool that
// scans filesystem trees or queries remote PACS archives via DICOM
// C-FIND, upserting study/series/instance metadata into the Store
// while honoring a single-job-at-a-time invariant and cooperative
// cancellation.
package indexer

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dicomgw/gateway/internal/domain"
	"github.com/dicomgw/gateway/internal/observability"
	"github.com/google/uuid"
)

// Store is the narrow slice of store.Store the Indexer depends on.
type Store interface {
	UpsertStudy(ctx context.Context, s domain.IndexedStudy) error
	UpsertSeries(ctx context.Context, s domain.IndexedSeries) error
	UpsertInstance(ctx context.Context, i domain.IndexedInstance) error
	AggregateStudyCounts(ctx context.Context) error
	ClearIndex(ctx context.Context) error
	GetEnabledCustomFields(ctx context.Context) ([]domain.CustomField, error)
	SetCustomFieldValue(ctx context.Context, fieldID int64, entityUID string, value string) error
	CreateReindexJob(ctx context.Context, job domain.ReindexJob) error
	UpdateReindexJob(ctx context.Context, id string, status domain.ReindexJobStatus, total, processed, errors int, message string) error
}

const batchSize = 100

// job is the Indexer's single-slot coordinator state: one running scan
// across all three ingest paths, modeled as a compare-and-swap on a
// job handle rather than scattered locks.
type job struct {
	id        string
	cancelled atomic.Bool
	done      chan struct{}
}

// Indexer is the Indexer component.
type Indexer struct {
	store   Store
	logger  observability.Logger
	workers int

	current atomic.Pointer[job]
}

// New returns an Indexer backed by store, running up to workers
// concurrent file parses per batch (spec.md suggests ≈4).
func New(store Store, logger observability.Logger, workers int) *Indexer {
	if workers <= 0 {
		workers = 4
	}
	return &Indexer{store: store, logger: logger, workers: workers}
}

// ErrJobRunning is returned by ClearIndex when a job is running. The
// public StartX methods never return it: they hand back the in-flight
// job's id instead.
var ErrJobRunning = fmt.Errorf("indexer: a job is already running")

// tryAcquire attempts to become the sole running job. Returns the
// acquired handle, or the already-running job's id if one exists.
func (ix *Indexer) tryAcquire() (*job, string, bool) {
	j := &job{id: uuid.NewString(), done: make(chan struct{})}
	if ix.current.CompareAndSwap(nil, j) {
		return j, j.id, true
	}
	existing := ix.current.Load()
	if existing != nil {
		return nil, existing.id, false
	}
	return nil, "", false
}

func (ix *Indexer) release(j *job) {
	ix.current.CompareAndSwap(j, nil)
	close(j.done)
}

// CancelCurrentJob sets the cooperative cancellation flag for whatever
// job is running, if any. Returns false if no job is running.
func (ix *Indexer) CancelCurrentJob() bool {
	j := ix.current.Load()
	if j == nil {
		return false
	}
	j.cancelled.Store(true)
	return true
}

// CurrentJobID returns the running job's id, if any.
func (ix *Indexer) CurrentJobID() (string, bool) {
	j := ix.current.Load()
	if j == nil {
		return "", false
	}
	return j.id, true
}

// ClearIndex removes every indexed study/series/instance and resets
// custom field values. Refuses while a job is running.
func (ix *Indexer) ClearIndex(ctx context.Context) error {
	if ix.current.Load() != nil {
		return ErrJobRunning
	}
	return ix.store.ClearIndex(ctx)
}

func (ix *Indexer) reportProgress(ctx context.Context, jobID string, status domain.ReindexJobStatus, total, processed, errorsCount int, message string) {
	if err := ix.store.UpdateReindexJob(ctx, jobID, status, total, processed, errorsCount, message); err != nil {
		ix.logger.LogWarning(ctx, "failed to update reindex job progress", map[string]interface{}{
			"jobId": jobID, "err": err.Error(),
		})
	}
}

// runSupervised wraps a scan body so a panic or unexpected error never
// kills the caller's goroutine silently — it is logged, the job is
// marked failed, and the single-job slot is released.
func (ix *Indexer) runSupervised(ctx context.Context, j *job, body func() error) {
	defer ix.release(j)
	defer func() {
		if r := recover(); r != nil {
			ix.logger.LogError(ctx, "indexer job panicked", map[string]interface{}{"jobId": j.id, "panic": fmt.Sprint(r)})
			ix.reportProgress(ctx, j.id, domain.ReindexFailed, 0, 0, 0, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := body(); err != nil {
		ix.logger.LogError(ctx, "indexer job failed", map[string]interface{}{"jobId": j.id, "err": err.Error()})
	}
}

// applyCustomFields evaluates every enabled custom field against a
// parsed file's tag values and, where the field's configured tag
// resolved to a non-empty value, persists it keyed by the field's
// entity level.
func (ix *Indexer) applyCustomFields(ctx context.Context, fields []domain.CustomField, studyUID, seriesUID, sopUID string, lookup func(tag int64) string) {
	for _, f := range fields {
		t := domain.ParseTag(f.DicomTag)
		if t == domain.NoTag {
			continue
		}
		value := lookup(t)
		if value == "" {
			continue
		}

		var entityUID string
		switch f.Level {
		case domain.FieldLevelStudy:
			entityUID = studyUID
		case domain.FieldLevelSeries:
			entityUID = seriesUID
		case domain.FieldLevelInstance:
			entityUID = sopUID
		}
		if entityUID == "" {
			continue
		}
		if err := ix.store.SetCustomFieldValue(ctx, f.ID, entityUID, value); err != nil {
			ix.logger.LogWarning(ctx, "failed to set custom field value", map[string]interface{}{
				"fieldId": f.ID, "entityUid": entityUID, "err": err.Error(),
			})
		}
	}
}
