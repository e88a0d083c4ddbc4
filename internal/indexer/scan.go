package indexer

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dicomgw/gateway/internal/domain"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// errMissingUID signals a file parsed cleanly but lacked a required
// Study/Series/SOP Instance UID. It is skipped rather than counted as
// an error.
var errMissingUID = errors.New("missing required UID")

// scanStats tallies a scan's outcome: candidates found, items processed,
// and items that failed with a genuine error.
type scanStats struct {
	total     int
	processed int
	errors    int
}

// StartFilesystemScan walks root, upserting every readable DICOM file
// found beneath it. If a job is already running, it returns that job's
// id instead of starting a new one. ctx cancellation and a call to
// CancelCurrentJob both stop the walk cooperatively between batches.
func (ix *Indexer) StartFilesystemScan(ctx context.Context, root, sourceRoute string) (string, error) {
	j, id, acquired := ix.tryAcquire()
	if !acquired {
		return id, nil
	}

	if err := ix.store.CreateReindexJob(ctx, domain.ReindexJob{ID: j.id, Status: domain.ReindexRunning}); err != nil {
		ix.release(j)
		return "", fmt.Errorf("indexer: create reindex job: %w", err)
	}

	go ix.runSupervised(ctx, j, func() error {
		return ix.walkAndIndex(ctx, j, root, sourceRoute)
	})

	return j.id, nil
}

// candidateFile reports whether a file is worth attempting to parse:
// either the extension hints at DICOM, or the first 132 bytes carry
// the "DICM" magic past the 128-byte preamble.
func candidateFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".dcm" || ext == ".dicom" {
		return true
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 132)
	n, err := io.ReadFull(f, buf)
	if err != nil || n < 132 {
		return false
	}
	return bytes.Equal(buf[128:132], []byte("DICM"))
}

func (ix *Indexer) walkAndIndex(ctx context.Context, j *job, root, sourceRoute string) error {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if candidateFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		ix.reportProgress(ctx, j.id, domain.ReindexFailed, 0, 0, 0, err.Error())
		return fmt.Errorf("indexer: walk %s: %w", root, err)
	}

	if len(files) == 0 {
		ix.reportProgress(ctx, j.id, domain.ReindexCompleted, 0, 0, 0, "No DICOM files found")
		return nil
	}

	fields, err := ix.store.GetEnabledCustomFields(ctx)
	if err != nil {
		return fmt.Errorf("indexer: load custom fields: %w", err)
	}

	stats := scanStats{total: len(files)}
	ix.reportProgress(ctx, j.id, domain.ReindexRunning, stats.total, 0, 0, "")

	for start := 0; start < len(files); start += batchSize {
		if ctx.Err() != nil || j.cancelled.Load() {
			ix.reportProgress(ctx, j.id, domain.ReindexCancelled, stats.total, stats.processed, stats.errors, "cancelled")
			return nil
		}

		end := start + batchSize
		if end > len(files) {
			end = len(files)
		}
		ix.processBatch(ctx, files[start:end], sourceRoute, fields, &stats)
		ix.reportProgress(ctx, j.id, domain.ReindexRunning, stats.total, stats.processed, stats.errors, "")
	}

	if err := ix.store.AggregateStudyCounts(ctx); err != nil {
		ix.reportProgress(ctx, j.id, domain.ReindexFailed, stats.total, stats.processed, stats.errors, err.Error())
		return fmt.Errorf("indexer: aggregate study counts: %w", err)
	}

	ix.reportProgress(ctx, j.id, domain.ReindexCompleted, stats.total, stats.processed, stats.errors, "")
	return nil
}

// processBatch parses files up to ix.workers at a time, serializing
// stats updates; each batch is a barrier so cancellation is checked
// between, not mid, batch.
func (ix *Indexer) processBatch(ctx context.Context, files []string, sourceRoute string, fields []domain.CustomField, stats *scanStats) {
	sem := make(chan struct{}, ix.workers)
	results := make(chan error, len(files))

	for _, path := range files {
		sem <- struct{}{}
		go func(path string) {
			defer func() { <-sem }()
			results <- ix.indexOneFile(ctx, path, sourceRoute, fields)
		}(path)
	}

	for range files {
		if err := <-results; err != nil {
			if errors.Is(err, errMissingUID) {
				ix.logger.LogInfo(ctx, "skipped file with missing UID", map[string]interface{}{"err": err.Error()})
			} else {
				stats.errors++
				ix.logger.LogWarning(ctx, "failed to index dicom file", map[string]interface{}{"err": err.Error()})
			}
		}
		stats.processed++
	}
}

func (ix *Indexer) indexOneFile(ctx context.Context, path, sourceRoute string, fields []domain.CustomField) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	studyUID := getString(ds, tag.StudyInstanceUID)
	seriesUID := getString(ds, tag.SeriesInstanceUID)
	sopUID := getString(ds, tag.SOPInstanceUID)
	if studyUID == "" || seriesUID == "" || sopUID == "" {
		return fmt.Errorf("%s: %w", path, errMissingUID)
	}

	hash, err := fileMD5(path)
	if err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}

	study := domain.IndexedStudy{
		StudyUID:           studyUID,
		PatientID:          getString(ds, tag.PatientID),
		PatientName:        getString(ds, tag.PatientName),
		PatientSex:         getString(ds, tag.PatientSex),
		StudyDate:          getString(ds, tag.StudyDate),
		StudyTime:          getString(ds, tag.StudyTime),
		AccessionNumber:    getString(ds, tag.AccessionNumber),
		StudyDescription:   getString(ds, tag.StudyDescription),
		InstitutionName:    getString(ds, tag.InstitutionName),
		ReferringPhysician: getString(ds, tag.ReferringPhysicianName),
		SourceRoute:        sourceRoute,
	}
	if err := ix.store.UpsertStudy(ctx, study); err != nil {
		return fmt.Errorf("upsert study %s: %w", studyUID, err)
	}

	series := domain.IndexedSeries{
		SeriesUID:         seriesUID,
		StudyUID:          studyUID,
		Modality:          getString(ds, tag.Modality),
		SeriesNumber:      getString(ds, tag.SeriesNumber),
		SeriesDescription: getString(ds, tag.SeriesDescription),
		BodyPart:          getString(ds, tag.BodyPartExamined),
	}
	if err := ix.store.UpsertSeries(ctx, series); err != nil {
		return fmt.Errorf("upsert series %s: %w", seriesUID, err)
	}

	instance := domain.IndexedInstance{
		SOPInstanceUID: sopUID,
		SeriesUID:      seriesUID,
		SOPClassUID:    getString(ds, tag.SOPClassUID),
		InstanceNumber: getString(ds, tag.InstanceNumber),
		FilePath:       path,
		FileSize:       info.Size(),
		FileHash:       hash,
	}
	if err := ix.store.UpsertInstance(ctx, instance); err != nil {
		return fmt.Errorf("upsert instance %s: %w", sopUID, err)
	}

	ix.applyCustomFields(ctx, fields, studyUID, seriesUID, sopUID, func(t int64) string {
		return getString(ds, tag.Tag{Group: uint16(t >> 16), Element: uint16(t)})
	})

	return nil
}

// getString extracts the first string value of an element, tolerating
// absence or an unexpected value shape by returning "".
func getString(ds dicom.Dataset, t tag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value == nil {
		return ""
	}
	switch v := elem.Value.GetValue().(type) {
	case []string:
		if len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
	case string:
		return strings.TrimSpace(v)
	}
	return ""
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
