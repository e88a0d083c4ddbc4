// Package domain holds the record types shared by the Store and its
// consumers: indexed DICOM metadata, transfer lifecycle records, review
// workflow metadata, rolling metrics, and reindex job bookkeeping.
package domain

import "time"

// IndexedStudy is the study-level row the Indexer upserts and
// aggregateStudyCounts recomputes.
type IndexedStudy struct {
	StudyUID           string
	PatientID          string
	PatientName        string
	PatientSex         string
	StudyDate          string // YYYYMMDD
	StudyTime          string
	AccessionNumber    string
	StudyDescription   string
	Modalities         string // aggregated, comma-separated
	InstitutionName    string
	ReferringPhysician string
	SourceRoute        string
	SeriesCount        int
	InstanceCount      int
	TotalSize          int64
}

// IndexedSeries is the series-level row, FK'd to IndexedStudy.
type IndexedSeries struct {
	SeriesUID        string
	StudyUID         string
	Modality         string
	SeriesNumber     string
	SeriesDescription string
	BodyPart         string
	InstanceCount    int
}

// IndexedInstance is the instance-level row, FK'd to IndexedSeries.
type IndexedInstance struct {
	SOPInstanceUID string
	SeriesUID      string
	SOPClassUID    string
	InstanceNumber string
	FilePath       string
	FileSize       int64
	FileHash       string // MD5 hex
}

// FieldType enumerates the storage type for a CustomField's values.
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeNumber FieldType = "number"
	FieldTypeDate   FieldType = "date"
)

// FieldLevel enumerates which entity level a CustomField applies to.
type FieldLevel string

const (
	FieldLevelStudy    FieldLevel = "study"
	FieldLevelSeries   FieldLevel = "series"
	FieldLevelInstance FieldLevel = "instance"
)

// CustomField describes a user-defined attribute extracted alongside the
// built-in indexed fields.
type CustomField struct {
	ID        int64
	DicomTag  string // "gggg,eeee" hex or keyword, as configured
	FieldType FieldType
	Level     FieldLevel
	Enabled   bool
}

// TransferStatus enumerates the TransferRecord lifecycle states.
type TransferStatus string

const (
	TransferReceived   TransferStatus = "RECEIVED"
	TransferProcessing TransferStatus = "PROCESSING"
	TransferForwarding TransferStatus = "FORWARDING"
	TransferCompleted  TransferStatus = "COMPLETED"
	TransferPartial    TransferStatus = "PARTIAL"
	TransferFailed     TransferStatus = "FAILED"
)

// DestinationStatus enumerates the per-destination forwarding state.
type DestinationStatus string

const (
	DestinationPending    DestinationStatus = "PENDING"
	DestinationInProgress DestinationStatus = "IN_PROGRESS"
	DestinationSuccess    DestinationStatus = "SUCCESS"
	DestinationFailed     DestinationStatus = "FAILED"
)

// DestinationResult tracks forwarding progress to a single destination.
type DestinationResult struct {
	Destination       string
	Status            DestinationStatus
	Message           string
	DurationMs        int64
	FilesTransferred  int
	CompletedAt       *time.Time
}

// TransferRecord is the unit of bookkeeping for one study's routing
// through the gateway, from receipt to a terminal state.
type TransferRecord struct {
	TransferID           string
	AETitle              string
	StudyUID             string
	CallingAETitle       string
	FileCount            int
	TotalSize            int64
	Status               TransferStatus
	ErrorMessage         string
	ReceivedAt           time.Time
	ProcessingStartedAt  *time.Time
	ForwardingStartedAt  *time.Time
	CompletedAt          *time.Time
	DestinationResults   []DestinationResult
}

// IsTerminal reports whether the record has reached a final status.
func (t TransferStatus) IsTerminal() bool {
	switch t {
	case TransferCompleted, TransferPartial, TransferFailed:
		return true
	default:
		return false
	}
}

// ReviewStatus enumerates a ReviewMetadata's workflow state.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING_REVIEW"
	ReviewApproved ReviewStatus = "APPROVED"
	ReviewRejected ReviewStatus = "REJECTED"
)

// ReviewMetadata is the file-backed record of a single study's human
// review gate.
type ReviewMetadata struct {
	ReviewID          string
	StudyUID          string
	AETitle           string
	ArchivePath       string
	SubmittedAt       time.Time
	Status            ReviewStatus
	ScriptUsed        string
	PhiFieldsModified []string
	Warnings          []string
	ReviewedAt        *time.Time
	ReviewedBy        string
	ReviewNotes       string
	RejectionReason   string
}

// MetricBucket enumerates the rollup resolution of a MetricPoint.
type MetricBucket string

const (
	BucketMinute MetricBucket = "minute"
	BucketHour   MetricBucket = "hour"
	BucketDay    MetricBucket = "day"
)

// Bucket widths in milliseconds.
const (
	MinuteMillis = int64(60_000)
	HourMillis   = int64(3_600_000)
	DayMillis    = int64(86_400_000)
)

// MetricPoint is one bucket-floored sample of transfer activity.
type MetricPoint struct {
	Timestamp  int64 // epoch millis, floored to the bucket boundary
	Transfers  int64
	Successful int64
	Failed     int64
	Bytes      int64
	Files      int64
}

// RouteStats holds cumulative, monotonic per-route counters.
type RouteStats struct {
	AETitle             string
	TotalTransfers      int64
	SuccessfulTransfers int64
	FailedTransfers     int64
	TotalBytes          int64
	TotalFiles          int64
}

// SuccessRate returns success / (success+partial+failed), treating
// partial results as neither success nor failure for this ratio.
func (r RouteStats) SuccessRate(partial int64) float64 {
	denom := r.SuccessfulTransfers + partial + r.FailedTransfers
	if denom == 0 {
		return 0
	}
	return float64(r.SuccessfulTransfers) / float64(denom)
}

// ReindexJobStatus enumerates a ReindexJob's lifecycle.
type ReindexJobStatus string

const (
	ReindexRunning   ReindexJobStatus = "running"
	ReindexCompleted ReindexJobStatus = "completed"
	ReindexFailed    ReindexJobStatus = "failed"
	ReindexCancelled ReindexJobStatus = "cancelled"
)

// ReindexJob tracks the progress of a single bulk scan.
type ReindexJob struct {
	ID          string
	Status      ReindexJobStatus
	TotalFiles  int
	Processed   int
	Errors      int
	Message     string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Destination describes a single forwarding target configured for a
// route: either a file tree or a downstream DICOM peer.
type DestinationKind string

const (
	DestinationFileTree DestinationKind = "file_tree"
	DestinationDicomPeer DestinationKind = "dicom_peer"
)

type Destination struct {
	Name          string
	Kind          DestinationKind
	Path          string
	Host          string
	Port          int
	CalledAETitle string
}

// CrosswalkEntry is the shape the external crosswalk store collaborator
// is assumed to expose via Lookup(brokerName, originalID, idType).
type CrosswalkEntry struct {
	BrokerName   string
	OriginalID   string
	IDType       string
	SubstituteID string
}

// IDTypeSOPUID is the identifier type used when crosswalking SOP Instance
// UIDs during anonymized-file pairing (see compare package).
const IDTypeSOPUID = "SOP_UID"
