package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	dicomnetclient "github.com/caio-sobreiro/dicomnet/client"
	dicomnetdicom "github.com/caio-sobreiro/dicomnet/dicom"
	"github.com/dicomgw/gateway/internal/domain"
)

// errRemoteScanCancelled signals cooperative cancellation noticed
// mid-study, inside indexRemoteStudy's per-series loop, distinct from a
// genuine per-study indexing failure.
var errRemoteScanCancelled = errors.New("indexer: remote scan cancelled")

// RemoteScanParams addresses the remote PACS a C-FIND scan queries
// against.
type RemoteScanParams struct {
	Host           string
	Port           int
	CallingAETitle string
	CalledAETitle  string
	SourceRoute    string
}

// QueryResult is one C-FIND response identifier, keyed by resolved
// DICOM tag value so callers do not need to know the wire VR.
type QueryResult map[int64]string

func (q QueryResult) get(keyword string) string {
	return q[domain.ParseTag(keyword)]
}

// RemoteQuerier issues C-FIND queries at the study, series, and
// instance levels. It isolates the dicomnet association lifecycle so
// the chunking and cancellation logic in StartRemoteScan can be tested
// against a fake.
type RemoteQuerier interface {
	FindStudies(ctx context.Context, params RemoteScanParams, dateRange string) ([]QueryResult, error)
	FindSeries(ctx context.Context, params RemoteScanParams, studyUID string) ([]QueryResult, error)
	FindInstances(ctx context.Context, params RemoteScanParams, studyUID, seriesUID string) ([]QueryResult, error)
}

// DicomNetQuerier is the RemoteQuerier backed by
// github.com/caio-sobreiro/dicomnet, using the StudyRoot Query/Retrieve
// Information Model over an Implicit VR Little Endian association.
type DicomNetQuerier struct {
	DialTimeout time.Duration
}

func NewDicomNetQuerier() *DicomNetQuerier {
	return &DicomNetQuerier{DialTimeout: 10 * time.Second}
}

func (q *DicomNetQuerier) connect(params RemoteScanParams) (*dicomnetclient.Association, error) {
	cfg := dicomnetclient.Config{
		CallingAETitle:            params.CallingAETitle,
		CalledAETitle:             params.CalledAETitle,
		MaxPDULength:              16384,
		PreferredTransferSyntaxes: []string{"1.2.840.10008.1.2"},
	}
	addr := fmt.Sprintf("%s:%d", params.Host, params.Port)
	assoc, err := dicomnetclient.Connect(addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("indexer: connect to %s: %w", addr, err)
	}
	return assoc, nil
}

func (q *DicomNetQuerier) find(ctx context.Context, params RemoteScanParams, level string, identifier map[string]string) ([]QueryResult, error) {
	assoc, err := q.connect(params)
	if err != nil {
		return nil, err
	}
	defer assoc.Close()

	ds := dicomnetdicom.NewDataset()
	if err := ds.AddElement(dicomnetdicom.Tag{Group: 0x0008, Element: 0x0052}, dicomnetdicom.VR_CS, level); err != nil {
		return nil, fmt.Errorf("indexer: build find request: %w", err)
	}
	for keyword, value := range identifier {
		t := domain.ParseTag(keyword)
		if t == domain.NoTag {
			continue
		}
		group := uint16(t >> 16)
		element := uint16(t)
		if err := ds.AddElement(dicomnetdicom.Tag{Group: group, Element: element}, dicomnetdicom.VR_XX, value); err != nil {
			return nil, fmt.Errorf("indexer: build find request: %w", err)
		}
	}

	resp, err := assoc.SendCFind(ctx, &dicomnetclient.CFindRequest{Identifier: ds})
	if err != nil {
		return nil, fmt.Errorf("indexer: c-find %s: %w", level, err)
	}

	out := make([]QueryResult, 0, len(resp))
	for _, rds := range resp {
		out = append(out, datasetToResult(rds))
	}
	return out, nil
}

func datasetToResult(ds *dicomnetdicom.Dataset) QueryResult {
	qr := QueryResult{}
	for keyword := range remoteResultKeywords {
		t := domain.ParseTag(keyword)
		if t == domain.NoTag {
			continue
		}
		group := uint16(t >> 16)
		element := uint16(t)
		if v := ds.GetString(dicomnetdicom.Tag{Group: group, Element: element}); v != "" {
			qr[t] = v
		}
	}
	return qr
}

var remoteResultKeywords = map[string]bool{
	"StudyInstanceUID": true, "PatientID": true, "PatientName": true, "PatientSex": true,
	"StudyDate": true, "StudyTime": true, "AccessionNumber": true, "StudyDescription": true,
	"InstitutionName": true, "ReferringPhysicianName": true,
	"SeriesInstanceUID": true, "Modality": true, "SeriesNumber": true, "SeriesDescription": true,
	"BodyPartExamined": true, "SOPInstanceUID": true, "SOPClassUID": true, "InstanceNumber": true,
}

// FindStudies issues a STUDY-level C-FIND for the given DICOM
// date-range query string (e.g. "20240101-20240131").
func (q *DicomNetQuerier) FindStudies(ctx context.Context, params RemoteScanParams, dateRange string) ([]QueryResult, error) {
	return q.find(ctx, params, "STUDY", map[string]string{
		"StudyDate":        dateRange,
		"StudyInstanceUID": "",
	})
}

// FindSeries issues a SERIES-level C-FIND scoped to one study.
func (q *DicomNetQuerier) FindSeries(ctx context.Context, params RemoteScanParams, studyUID string) ([]QueryResult, error) {
	return q.find(ctx, params, "SERIES", map[string]string{
		"StudyInstanceUID":  studyUID,
		"SeriesInstanceUID": "",
	})
}

// FindInstances issues an IMAGE-level C-FIND scoped to one series.
func (q *DicomNetQuerier) FindInstances(ctx context.Context, params RemoteScanParams, studyUID, seriesUID string) ([]QueryResult, error) {
	return q.find(ctx, params, "IMAGE", map[string]string{
		"StudyInstanceUID":  studyUID,
		"SeriesInstanceUID": seriesUID,
		"SOPInstanceUID":    "",
	})
}

// StartRemoteScan queries a remote PACS via C-FIND across the
// [from,to] study-date range, chunked per size, walking study then
// series then instance level and upserting everything found.
func (ix *Indexer) StartRemoteScan(ctx context.Context, querier RemoteQuerier, params RemoteScanParams, from, to string, size ChunkSize) (string, error) {
	j, id, acquired := ix.tryAcquire()
	if !acquired {
		return id, nil
	}

	if err := ix.store.CreateReindexJob(ctx, domain.ReindexJob{ID: j.id, Status: domain.ReindexRunning}); err != nil {
		ix.release(j)
		return "", fmt.Errorf("indexer: create reindex job: %w", err)
	}

	go ix.runSupervised(ctx, j, func() error {
		return ix.remoteScan(ctx, j, querier, params, from, to, size)
	})

	return j.id, nil
}

func (ix *Indexer) remoteScan(ctx context.Context, j *job, querier RemoteQuerier, params RemoteScanParams, from, to string, size ChunkSize) error {
	chunks, swapped, err := GenerateDateChunks(from, to, size)
	if err != nil {
		ix.reportProgress(ctx, j.id, domain.ReindexFailed, 0, 0, 0, err.Error())
		return err
	}
	if swapped {
		ix.logger.LogWarning(ctx, "remote scan date range was reversed", map[string]interface{}{"from": from, "to": to})
	}

	fields, err := ix.store.GetEnabledCustomFields(ctx)
	if err != nil {
		return fmt.Errorf("indexer: load custom fields: %w", err)
	}

	stats := scanStats{}
	ix.reportProgress(ctx, j.id, domain.ReindexRunning, 0, 0, 0, "")

	for _, chunk := range chunks {
		if ctx.Err() != nil || j.cancelled.Load() {
			ix.reportProgress(ctx, j.id, domain.ReindexCancelled, stats.total, stats.processed, stats.errors, "cancelled")
			return nil
		}

		dateRange := BuildDicomDateRange(chunk.From, chunk.To)
		studies, err := querier.FindStudies(ctx, params, dateRange)
		if err != nil {
			ix.reportProgress(ctx, j.id, domain.ReindexFailed, stats.total, stats.processed, stats.errors, "Query failed: "+err.Error())
			return fmt.Errorf("indexer: c-find studies for chunk %s: %w", dateRange, err)
		}

		for _, study := range studies {
			if ctx.Err() != nil || j.cancelled.Load() {
				ix.reportProgress(ctx, j.id, domain.ReindexCancelled, stats.total, stats.processed, stats.errors, "cancelled")
				return nil
			}

			stats.total++
			if err := ix.indexRemoteStudy(ctx, j, querier, params, study, fields); err != nil {
				if errors.Is(err, errRemoteScanCancelled) {
					ix.reportProgress(ctx, j.id, domain.ReindexCancelled, stats.total, stats.processed, stats.errors, "cancelled")
					return nil
				}
				stats.errors++
				ix.logger.LogWarning(ctx, "failed to index remote study", map[string]interface{}{"err": err.Error()})
			}
			stats.processed++
			ix.reportProgress(ctx, j.id, domain.ReindexRunning, stats.total, stats.processed, stats.errors, "")
		}
	}

	if stats.total == 0 {
		ix.reportProgress(ctx, j.id, domain.ReindexCompleted, 0, 0, 0, "No DICOM files found")
		return nil
	}

	if err := ix.store.AggregateStudyCounts(ctx); err != nil {
		ix.reportProgress(ctx, j.id, domain.ReindexFailed, stats.total, stats.processed, stats.errors, err.Error())
		return fmt.Errorf("indexer: aggregate study counts: %w", err)
	}

	ix.reportProgress(ctx, j.id, domain.ReindexCompleted, stats.total, stats.processed, stats.errors, "")
	return nil
}

func (ix *Indexer) indexRemoteStudy(ctx context.Context, j *job, querier RemoteQuerier, params RemoteScanParams, study QueryResult, fields []domain.CustomField) error {
	studyUID := study.get("StudyInstanceUID")
	if studyUID == "" {
		return fmt.Errorf("remote study result missing StudyInstanceUID")
	}

	if err := ix.store.UpsertStudy(ctx, domain.IndexedStudy{
		StudyUID:           studyUID,
		PatientID:          study.get("PatientID"),
		PatientName:        study.get("PatientName"),
		PatientSex:         study.get("PatientSex"),
		StudyDate:          study.get("StudyDate"),
		StudyTime:          study.get("StudyTime"),
		AccessionNumber:    study.get("AccessionNumber"),
		StudyDescription:   study.get("StudyDescription"),
		InstitutionName:    study.get("InstitutionName"),
		ReferringPhysician: study.get("ReferringPhysicianName"),
		SourceRoute:        params.SourceRoute,
	}); err != nil {
		return fmt.Errorf("upsert study %s: %w", studyUID, err)
	}

	seriesList, err := querier.FindSeries(ctx, params, studyUID)
	if err != nil {
		return fmt.Errorf("c-find series for study %s: %w", studyUID, err)
	}

	for _, series := range seriesList {
		if ctx.Err() != nil || j.cancelled.Load() {
			return errRemoteScanCancelled
		}

		seriesUID := series.get("SeriesInstanceUID")
		if seriesUID == "" {
			continue
		}
		if err := ix.store.UpsertSeries(ctx, domain.IndexedSeries{
			SeriesUID:         seriesUID,
			StudyUID:          studyUID,
			Modality:          series.get("Modality"),
			SeriesNumber:      series.get("SeriesNumber"),
			SeriesDescription: series.get("SeriesDescription"),
			BodyPart:          series.get("BodyPartExamined"),
		}); err != nil {
			return fmt.Errorf("upsert series %s: %w", seriesUID, err)
		}

		instances, err := querier.FindInstances(ctx, params, studyUID, seriesUID)
		if err != nil {
			return fmt.Errorf("c-find instances for series %s: %w", seriesUID, err)
		}
		for _, instance := range instances {
			sopUID := instance.get("SOPInstanceUID")
			if sopUID == "" {
				continue
			}
			if err := ix.store.UpsertInstance(ctx, domain.IndexedInstance{
				SOPInstanceUID: sopUID,
				SeriesUID:      seriesUID,
				SOPClassUID:    instance.get("SOPClassUID"),
				InstanceNumber: instance.get("InstanceNumber"),
			}); err != nil {
				return fmt.Errorf("upsert instance %s: %w", sopUID, err)
			}
			ix.applyCustomFields(ctx, fields, studyUID, seriesUID, sopUID, func(t int64) string {
				return instance[t]
			})
		}
	}
	return nil
}
