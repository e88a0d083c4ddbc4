// Package sqlite implements the store.Store port on top of an embedded
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dicomgw/gateway/internal/domain"
	"github.com/dicomgw/gateway/internal/store"
	"github.com/dicomgw/gateway/internal/storeerr"
	_ "github.com/mattn/go-sqlite3"
)

// Store implements store.Store using SQLite. mattn/go-sqlite3's driver
// serializes writers internally, which is what gives UpsertStudy et al.
// their last-writer-wins guarantee under concurrent callers.
type Store struct {
	db *sql.DB
}

// NewStore opens (and migrates) a SQLite database at the given path.
// Use ":memory:" for an ephemeral database, e.g. in tests.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS indexed_studies (
		study_uid           TEXT PRIMARY KEY,
		patient_id          TEXT,
		patient_name        TEXT,
		patient_sex         TEXT,
		study_date          TEXT,
		study_time          TEXT,
		accession_number    TEXT,
		study_description   TEXT,
		modalities          TEXT,
		institution_name    TEXT,
		referring_physician TEXT,
		source_route        TEXT,
		series_count        INTEGER DEFAULT 0,
		instance_count      INTEGER DEFAULT 0,
		total_size          INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS indexed_series (
		series_uid         TEXT PRIMARY KEY,
		study_uid          TEXT NOT NULL,
		modality           TEXT,
		series_number      TEXT,
		series_description TEXT,
		body_part          TEXT,
		instance_count     INTEGER DEFAULT 0,
		FOREIGN KEY (study_uid) REFERENCES indexed_studies(study_uid) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS indexed_instances (
		sop_instance_uid TEXT PRIMARY KEY,
		series_uid       TEXT NOT NULL,
		sop_class_uid    TEXT,
		instance_number  TEXT,
		file_path        TEXT,
		file_size        INTEGER DEFAULT 0,
		file_hash        TEXT,
		FOREIGN KEY (series_uid) REFERENCES indexed_series(series_uid) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS custom_fields (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		dicom_tag  TEXT NOT NULL,
		field_type TEXT NOT NULL,
		level      TEXT NOT NULL,
		enabled    INTEGER DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS custom_field_values (
		field_id   INTEGER NOT NULL,
		entity_uid TEXT NOT NULL,
		value      TEXT,
		PRIMARY KEY (field_id, entity_uid),
		FOREIGN KEY (field_id) REFERENCES custom_fields(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS minute_metrics (
		timestamp  INTEGER PRIMARY KEY,
		transfers  INTEGER DEFAULT 0,
		successful INTEGER DEFAULT 0,
		failed     INTEGER DEFAULT 0,
		bytes      INTEGER DEFAULT 0,
		files      INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS hour_metrics (
		timestamp  INTEGER PRIMARY KEY,
		transfers  INTEGER DEFAULT 0,
		successful INTEGER DEFAULT 0,
		failed     INTEGER DEFAULT 0,
		bytes      INTEGER DEFAULT 0,
		files      INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS day_metrics (
		timestamp  INTEGER PRIMARY KEY,
		transfers  INTEGER DEFAULT 0,
		successful INTEGER DEFAULT 0,
		failed     INTEGER DEFAULT 0,
		bytes      INTEGER DEFAULT 0,
		files      INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS route_stats (
		ae_title             TEXT PRIMARY KEY,
		total_transfers      INTEGER DEFAULT 0,
		successful_transfers INTEGER DEFAULT 0,
		failed_transfers     INTEGER DEFAULT 0,
		total_bytes          INTEGER DEFAULT 0,
		total_files          INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS reindex_jobs (
		id           TEXT PRIMARY KEY,
		status       TEXT NOT NULL,
		total_files  INTEGER DEFAULT 0,
		processed    INTEGER DEFAULT 0,
		errors       INTEGER DEFAULT 0,
		message      TEXT,
		started_at   INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_series_study ON indexed_series(study_uid);
	CREATE INDEX IF NOT EXISTS idx_instance_series ON indexed_instances(series_uid);
	CREATE INDEX IF NOT EXISTS idx_reindex_started ON reindex_jobs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// withRetry executes op once more if it fails with a SQLITE_BUSY style
// transient error, per spec.md §7's "propagate after one local retry on
// transient backend errors".
func withRetry(op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "locked") && !strings.Contains(err.Error(), "busy") {
		return err
	}
	time.Sleep(20 * time.Millisecond)
	return op()
}

func (s *Store) UpsertStudy(ctx context.Context, st domain.IndexedStudy) error {
	query := `
		INSERT INTO indexed_studies (study_uid, patient_id, patient_name, patient_sex, study_date, study_time,
			accession_number, study_description, modalities, institution_name, referring_physician, source_route,
			series_count, instance_count, total_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(study_uid) DO UPDATE SET
			patient_id = excluded.patient_id,
			patient_name = excluded.patient_name,
			patient_sex = excluded.patient_sex,
			study_date = excluded.study_date,
			study_time = excluded.study_time,
			accession_number = excluded.accession_number,
			study_description = excluded.study_description,
			modalities = excluded.modalities,
			institution_name = excluded.institution_name,
			referring_physician = excluded.referring_physician,
			source_route = excluded.source_route
	`
	return withRetry(func() error {
		_, err := s.db.ExecContext(ctx, query, st.StudyUID, st.PatientID, st.PatientName, st.PatientSex,
			st.StudyDate, st.StudyTime, st.AccessionNumber, st.StudyDescription, st.Modalities,
			st.InstitutionName, st.ReferringPhysician, st.SourceRoute, st.SeriesCount, st.InstanceCount, st.TotalSize)
		if err != nil {
			return storeerr.Backendf("UpsertStudy", st.StudyUID, err)
		}
		return nil
	})
}

func (s *Store) UpsertSeries(ctx context.Context, se domain.IndexedSeries) error {
	query := `
		INSERT INTO indexed_series (series_uid, study_uid, modality, series_number, series_description, body_part, instance_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(series_uid) DO UPDATE SET
			study_uid = excluded.study_uid,
			modality = excluded.modality,
			series_number = excluded.series_number,
			series_description = excluded.series_description,
			body_part = excluded.body_part
	`
	return withRetry(func() error {
		_, err := s.db.ExecContext(ctx, query, se.SeriesUID, se.StudyUID, se.Modality, se.SeriesNumber,
			se.SeriesDescription, se.BodyPart, se.InstanceCount)
		if err != nil {
			return storeerr.Backendf("UpsertSeries", se.SeriesUID, err)
		}
		return nil
	})
}

func (s *Store) UpsertInstance(ctx context.Context, in domain.IndexedInstance) error {
	query := `
		INSERT INTO indexed_instances (sop_instance_uid, series_uid, sop_class_uid, instance_number, file_path, file_size, file_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sop_instance_uid) DO UPDATE SET
			series_uid = excluded.series_uid,
			sop_class_uid = excluded.sop_class_uid,
			instance_number = excluded.instance_number,
			file_path = excluded.file_path,
			file_size = excluded.file_size,
			file_hash = excluded.file_hash
	`
	return withRetry(func() error {
		_, err := s.db.ExecContext(ctx, query, in.SOPInstanceUID, in.SeriesUID, in.SOPClassUID,
			in.InstanceNumber, in.FilePath, in.FileSize, in.FileHash)
		if err != nil {
			return storeerr.Backendf("UpsertInstance", in.SOPInstanceUID, err)
		}
		return nil
	})
}

func (s *Store) GetStudy(ctx context.Context, studyUID string) (domain.IndexedStudy, error) {
	query := `
		SELECT study_uid, patient_id, patient_name, patient_sex, study_date, study_time, accession_number,
			study_description, modalities, institution_name, referring_physician, source_route,
			series_count, instance_count, total_size
		FROM indexed_studies WHERE study_uid = ?
	`
	var st domain.IndexedStudy
	err := s.db.QueryRowContext(ctx, query, studyUID).Scan(&st.StudyUID, &st.PatientID, &st.PatientName,
		&st.PatientSex, &st.StudyDate, &st.StudyTime, &st.AccessionNumber, &st.StudyDescription,
		&st.Modalities, &st.InstitutionName, &st.ReferringPhysician, &st.SourceRoute,
		&st.SeriesCount, &st.InstanceCount, &st.TotalSize)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IndexedStudy{}, storeerr.NotFoundf("GetStudy", studyUID, err)
	}
	if err != nil {
		return domain.IndexedStudy{}, storeerr.Backendf("GetStudy", studyUID, err)
	}
	return st, nil
}

func (s *Store) GetInstanceByHash(ctx context.Context, sopInstanceUID string) (domain.IndexedInstance, error) {
	query := `
		SELECT sop_instance_uid, series_uid, sop_class_uid, instance_number, file_path, file_size, file_hash
		FROM indexed_instances WHERE sop_instance_uid = ?
	`
	var in domain.IndexedInstance
	err := s.db.QueryRowContext(ctx, query, sopInstanceUID).Scan(&in.SOPInstanceUID, &in.SeriesUID,
		&in.SOPClassUID, &in.InstanceNumber, &in.FilePath, &in.FileSize, &in.FileHash)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IndexedInstance{}, storeerr.NotFoundf("GetInstanceByHash", sopInstanceUID, err)
	}
	if err != nil {
		return domain.IndexedInstance{}, storeerr.Backendf("GetInstanceByHash", sopInstanceUID, err)
	}
	return in, nil
}

func (s *Store) ClearIndex(ctx context.Context) error {
	return withRetry(func() error {
		// Cascades to indexed_series and indexed_instances via ON DELETE
		// CASCADE (foreign_keys pragma is enabled at open time).
		// custom_field_values has no foreign key to the index tables, so
		// it is cleared by its own statement.
		if _, err := s.db.ExecContext(ctx, "DELETE FROM indexed_studies"); err != nil {
			return storeerr.Backendf("ClearIndex", "", err)
		}
		if _, err := s.db.ExecContext(ctx, "DELETE FROM custom_field_values"); err != nil {
			return storeerr.Backendf("ClearIndex", "", err)
		}
		return nil
	})
}

func (s *Store) AggregateStudyCounts(ctx context.Context) error {
	return withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return storeerr.Backendf("AggregateStudyCounts", "", err)
		}
		defer tx.Rollback()

		stmts := []string{
			`UPDATE indexed_series SET instance_count = (
				SELECT COUNT(*) FROM indexed_instances WHERE indexed_instances.series_uid = indexed_series.series_uid
			)`,
			`UPDATE indexed_studies SET
				series_count = (SELECT COUNT(*) FROM indexed_series WHERE indexed_series.study_uid = indexed_studies.study_uid),
				instance_count = (
					SELECT COUNT(*) FROM indexed_instances
					JOIN indexed_series ON indexed_series.series_uid = indexed_instances.series_uid
					WHERE indexed_series.study_uid = indexed_studies.study_uid
				),
				total_size = (
					SELECT COALESCE(SUM(indexed_instances.file_size), 0) FROM indexed_instances
					JOIN indexed_series ON indexed_series.series_uid = indexed_instances.series_uid
					WHERE indexed_series.study_uid = indexed_studies.study_uid
				),
				modalities = (
					SELECT GROUP_CONCAT(DISTINCT indexed_series.modality) FROM indexed_series
					WHERE indexed_series.study_uid = indexed_studies.study_uid
				)`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return storeerr.Backendf("AggregateStudyCounts", "", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return storeerr.Backendf("AggregateStudyCounts", "", err)
		}
		return nil
	})
}

func (s *Store) CreateCustomField(ctx context.Context, f domain.CustomField) (domain.CustomField, error) {
	query := `INSERT INTO custom_fields (dicom_tag, field_type, level, enabled) VALUES (?, ?, ?, ?)`
	enabled := 0
	if f.Enabled {
		enabled = 1
	}
	result, err := s.db.ExecContext(ctx, query, f.DicomTag, f.FieldType, f.Level, enabled)
	if err != nil {
		return domain.CustomField{}, storeerr.Backendf("CreateCustomField", f.DicomTag, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return domain.CustomField{}, storeerr.Backendf("CreateCustomField", f.DicomTag, err)
	}
	f.ID = id
	return f, nil
}

func (s *Store) GetEnabledCustomFields(ctx context.Context) ([]domain.CustomField, error) {
	query := `SELECT id, dicom_tag, field_type, level, enabled FROM custom_fields WHERE enabled = 1`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeerr.Backendf("GetEnabledCustomFields", "", err)
	}
	defer rows.Close()

	var fields []domain.CustomField
	for rows.Next() {
		var f domain.CustomField
		var enabled int
		if err := rows.Scan(&f.ID, &f.DicomTag, &f.FieldType, &f.Level, &enabled); err != nil {
			return nil, storeerr.Backendf("GetEnabledCustomFields", "", err)
		}
		f.Enabled = enabled == 1
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func (s *Store) SetCustomFieldValue(ctx context.Context, fieldID int64, entityUID string, value string) error {
	query := `
		INSERT INTO custom_field_values (field_id, entity_uid, value) VALUES (?, ?, ?)
		ON CONFLICT(field_id, entity_uid) DO UPDATE SET value = excluded.value
	`
	return withRetry(func() error {
		_, err := s.db.ExecContext(ctx, query, fieldID, entityUID, value)
		if err != nil {
			return storeerr.Backendf("SetCustomFieldValue", entityUID, err)
		}
		return nil
	})
}

func (s *Store) recordMetric(ctx context.Context, table string, p domain.MetricPoint) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (timestamp, transfers, successful, failed, bytes, files) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(timestamp) DO UPDATE SET
			transfers = excluded.transfers, successful = excluded.successful,
			failed = excluded.failed, bytes = excluded.bytes, files = excluded.files
	`, table)
	return withRetry(func() error {
		_, err := s.db.ExecContext(ctx, query, p.Timestamp, p.Transfers, p.Successful, p.Failed, p.Bytes, p.Files)
		if err != nil {
			return storeerr.Backendf("recordMetric:"+table, "", err)
		}
		return nil
	})
}

func (s *Store) RecordMinuteMetric(ctx context.Context, p domain.MetricPoint) error {
	return s.recordMetric(ctx, "minute_metrics", p)
}

func (s *Store) RecordHourMetric(ctx context.Context, p domain.MetricPoint) error {
	return s.recordMetric(ctx, "hour_metrics", p)
}

func (s *Store) RecordDayMetric(ctx context.Context, p domain.MetricPoint) error {
	return s.recordMetric(ctx, "day_metrics", p)
}

func (s *Store) getMetrics(ctx context.Context, table string, limit int) ([]domain.MetricPoint, error) {
	query := fmt.Sprintf(`
		SELECT timestamp, transfers, successful, failed, bytes, files FROM %s
		ORDER BY timestamp DESC LIMIT ?
	`, table)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, storeerr.Backendf("getMetrics:"+table, "", err)
	}
	defer rows.Close()

	var points []domain.MetricPoint
	for rows.Next() {
		var p domain.MetricPoint
		if err := rows.Scan(&p.Timestamp, &p.Transfers, &p.Successful, &p.Failed, &p.Bytes, &p.Files); err != nil {
			return nil, storeerr.Backendf("getMetrics:"+table, "", err)
		}
		points = append(points, p)
	}
	// Callers expect ascending time order.
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, rows.Err()
}

func (s *Store) GetMinuteMetrics(ctx context.Context, limit int) ([]domain.MetricPoint, error) {
	return s.getMetrics(ctx, "minute_metrics", limit)
}

func (s *Store) GetHourMetrics(ctx context.Context, limit int) ([]domain.MetricPoint, error) {
	return s.getMetrics(ctx, "hour_metrics", limit)
}

func (s *Store) GetDayMetrics(ctx context.Context, limit int) ([]domain.MetricPoint, error) {
	return s.getMetrics(ctx, "day_metrics", limit)
}

func (s *Store) CleanupOldMetrics(ctx context.Context, retention store.MetricsRetention) error {
	return withRetry(func() error {
		stmts := []struct {
			table string
			keep  int
		}{
			{"minute_metrics", retention.MinuteCount},
			{"hour_metrics", retention.HourCount},
			{"day_metrics", retention.DayCount},
		}
		for _, st := range stmts {
			query := fmt.Sprintf(`
				DELETE FROM %s WHERE timestamp NOT IN (
					SELECT timestamp FROM %s ORDER BY timestamp DESC LIMIT ?
				)
			`, st.table, st.table)
			if _, err := s.db.ExecContext(ctx, query, st.keep); err != nil {
				return storeerr.Backendf("CleanupOldMetrics:"+st.table, "", err)
			}
		}
		return nil
	})
}

func (s *Store) UpdateRouteStats(ctx context.Context, aeTitle string, success bool, bytes int64, files int) error {
	var successInc, failInc, totalInc int64 = 0, 0, 1
	if success {
		successInc = 1
	} else {
		failInc = 1
	}
	query := `
		INSERT INTO route_stats (ae_title, total_transfers, successful_transfers, failed_transfers, total_bytes, total_files)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ae_title) DO UPDATE SET
			total_transfers = route_stats.total_transfers + excluded.total_transfers,
			successful_transfers = route_stats.successful_transfers + excluded.successful_transfers,
			failed_transfers = route_stats.failed_transfers + excluded.failed_transfers,
			total_bytes = route_stats.total_bytes + excluded.total_bytes,
			total_files = route_stats.total_files + excluded.total_files
	`
	return withRetry(func() error {
		_, err := s.db.ExecContext(ctx, query, aeTitle, totalInc, successInc, failInc, bytes, files)
		if err != nil {
			return storeerr.Backendf("UpdateRouteStats", aeTitle, err)
		}
		return nil
	})
}

func (s *Store) GetRouteStats(ctx context.Context, aeTitle string) (domain.RouteStats, error) {
	query := `
		SELECT ae_title, total_transfers, successful_transfers, failed_transfers, total_bytes, total_files
		FROM route_stats WHERE ae_title = ?
	`
	var rs domain.RouteStats
	err := s.db.QueryRowContext(ctx, query, aeTitle).Scan(&rs.AETitle, &rs.TotalTransfers,
		&rs.SuccessfulTransfers, &rs.FailedTransfers, &rs.TotalBytes, &rs.TotalFiles)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RouteStats{AETitle: aeTitle}, nil
	}
	if err != nil {
		return domain.RouteStats{}, storeerr.Backendf("GetRouteStats", aeTitle, err)
	}
	return rs, nil
}

func (s *Store) ListRouteStats(ctx context.Context) ([]domain.RouteStats, error) {
	query := `SELECT ae_title, total_transfers, successful_transfers, failed_transfers, total_bytes, total_files FROM route_stats`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeerr.Backendf("ListRouteStats", "", err)
	}
	defer rows.Close()

	var out []domain.RouteStats
	for rows.Next() {
		var rs domain.RouteStats
		if err := rows.Scan(&rs.AETitle, &rs.TotalTransfers, &rs.SuccessfulTransfers, &rs.FailedTransfers,
			&rs.TotalBytes, &rs.TotalFiles); err != nil {
			return nil, storeerr.Backendf("ListRouteStats", "", err)
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

func (s *Store) CreateReindexJob(ctx context.Context, job domain.ReindexJob) error {
	query := `INSERT INTO reindex_jobs (id, status, total_files, processed, errors, message, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, job.ID, job.Status, job.TotalFiles, job.Processed, job.Errors, job.Message, job.StartedAt.Unix())
	if err != nil {
		return storeerr.Backendf("CreateReindexJob", job.ID, err)
	}
	return nil
}

func (s *Store) UpdateReindexJob(ctx context.Context, id string, status domain.ReindexJobStatus, total, processed, errorsCount int, message string) error {
	var completedAt sql.NullInt64
	if status == domain.ReindexCompleted || status == domain.ReindexFailed || status == domain.ReindexCancelled {
		completedAt = sql.NullInt64{Int64: time.Now().Unix(), Valid: true}
	}
	query := `UPDATE reindex_jobs SET status = ?, total_files = ?, processed = ?, errors = ?, message = ?, completed_at = ? WHERE id = ?`
	return withRetry(func() error {
		_, err := s.db.ExecContext(ctx, query, status, total, processed, errorsCount, message, completedAt, id)
		if err != nil {
			return storeerr.Backendf("UpdateReindexJob", id, err)
		}
		return nil
	})
}

func (s *Store) GetReindexJob(ctx context.Context, id string) (domain.ReindexJob, error) {
	query := `SELECT id, status, total_files, processed, errors, message, started_at, completed_at FROM reindex_jobs WHERE id = ?`
	return s.scanReindexJob(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) GetLatestReindexJob(ctx context.Context) (domain.ReindexJob, error) {
	query := `SELECT id, status, total_files, processed, errors, message, started_at, completed_at FROM reindex_jobs ORDER BY started_at DESC LIMIT 1`
	return s.scanReindexJob(s.db.QueryRowContext(ctx, query))
}

func (s *Store) scanReindexJob(row *sql.Row) (domain.ReindexJob, error) {
	var job domain.ReindexJob
	var startedAt int64
	var completedAt sql.NullInt64
	err := row.Scan(&job.ID, &job.Status, &job.TotalFiles, &job.Processed, &job.Errors, &job.Message, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReindexJob{}, storeerr.NotFoundf("GetReindexJob", "", err)
	}
	if err != nil {
		return domain.ReindexJob{}, storeerr.Backendf("GetReindexJob", "", err)
	}
	job.StartedAt = time.Unix(startedAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		job.CompletedAt = &t
	}
	return job, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
