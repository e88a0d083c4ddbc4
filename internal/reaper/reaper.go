// Package reaper implements the StorageReaper: a daily scan that
// deletes aged-out study folders and log files beneath the data root.
package reaper

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dicomgw/gateway/internal/observability"
)

const reservedScriptsDir = "scripts"

// deletionCounts tallies what one sweep removed, by category.
type deletionCounts struct {
	StudyFolders int
	HistoryFiles int
	LogFiles     int
}

// Reaper is the StorageReaper component.
type Reaper struct {
	baseDir       string
	retentionDays int
	logger        observability.Logger
	now           func() time.Time

	trigger  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// New returns a Reaper rooted at baseDir, deleting anything older than
// retentionDays.
func New(baseDir string, retentionDays int, logger observability.Logger) *Reaper {
	return &Reaper{
		baseDir:       baseDir,
		retentionDays: retentionDays,
		logger:        logger,
		now:           time.Now,
		trigger:       make(chan struct{}, 1),
		stop:          make(chan struct{}),
	}
}

// Start runs an immediate sweep, then repeats on a fixed 24h schedule
// until ctx is cancelled or Stop is called.
func (r *Reaper) Start(ctx context.Context) {
	go func() {
		r.sweep(ctx)

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.sweep(ctx)
			case <-r.trigger:
				r.sweep(ctx)
			}
		}
	}()
}

// Stop halts the scheduled loop.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// TriggerCleanup schedules an immediate sweep without waiting for the
// next tick. Non-blocking: a sweep already queued is not duplicated.
func (r *Reaper) TriggerCleanup() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Sweep runs one cleanup pass synchronously and returns what it
// deleted. Only tests call it.
func (r *Reaper) Sweep(ctx context.Context) deletionCounts {
	return r.sweep(ctx)
}

func (r *Reaper) sweep(ctx context.Context) deletionCounts {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.LogError(ctx, "reaper: sweep panicked", map[string]interface{}{"panic": rec})
		}
	}()
	var counts deletionCounts
	cutoff := r.now().AddDate(0, 0, -r.retentionDays)

	routes, err := os.ReadDir(r.baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.LogWarning(ctx, "reaper: failed to list data root", map[string]interface{}{"err": err.Error()})
		}
		return counts
	}

	for _, route := range routes {
		if !route.IsDir() || route.Name() == reservedScriptsDir {
			continue
		}
		routeDir := filepath.Join(r.baseDir, route.Name())

		for _, stage := range []string{"completed", "failed"} {
			counts.StudyFolders += r.cleanStudyFolders(ctx, filepath.Join(routeDir, stage), cutoff)
		}
		counts.HistoryFiles += r.cleanFiles(ctx, filepath.Join(routeDir, "history"), ".json", cutoff)
		counts.LogFiles += r.cleanFiles(ctx, filepath.Join(routeDir, "logs"), ".csv", cutoff)
	}

	r.logger.LogInfo(ctx, "storage reaper sweep complete", map[string]interface{}{
		"studyFolders": counts.StudyFolders,
		"historyFiles": counts.HistoryFiles,
		"logFiles":     counts.LogFiles,
	})
	return counts
}

func (r *Reaper) cleanStudyFolders(ctx context.Context, dir string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	deleted := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "study_") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			r.logger.LogWarning(ctx, "reaper: failed to remove study folder", map[string]interface{}{"path": path, "err": err.Error()})
			continue
		}
		deleted++
	}
	return deleted
}

func (r *Reaper) cleanFiles(ctx context.Context, dir, ext string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	deleted := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			r.logger.LogWarning(ctx, "reaper: failed to remove file", map[string]interface{}{"path": path, "err": err.Error()})
			continue
		}
		deleted++
	}
	return deleted
}
