// package report tracks import runs: one report per run with per-phase
// counters and progress, plus one record per processed file. File records
// keyed by (file_key, etag, status) double as the idempotency ledger.
package report

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is a run or phase status.
type Status string

const (
	StatusNotStarted Status = "NotStarted"
	StatusStarted    Status = "Started"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

// FileStatus is the terminal state of one file within a run.
type FileStatus string

const (
	FileAcquired FileStatus = "Acquired"
	FileIngested FileStatus = "Ingested"
	FileFailed   FileStatus = "Failed"
)

// ErrNotFound is returned when a requested report cannot be located.
var ErrNotFound = errors.New("report: not found")

// CurrentFileStatus is the live progress block for the file being ingested.
type CurrentFileStatus struct {
	FileName               string     `json:"fileName"`
	TotalRowsEstimate      int64      `json:"totalRowsEstimate"`
	RowNumber              int64      `json:"rowNumber"`
	PercentageCompleted    int        `json:"percentageCompleted"`
	RowsPerMinute          float64    `json:"rowsPerMinute"`
	EstimatedTimeRemaining string     `json:"estimatedTimeRemaining,omitempty"`
	EstimatedCompletion    *time.Time `json:"estimatedCompletion,omitempty"`
}

// AcquisitionPhase tracks the acquisition half of a run. FilesProcessed,
// FilesSkipped and FilesFailed partition FilesDiscovered.
type AcquisitionPhase struct {
	Status          Status     `json:"status"`
	FilesDiscovered int        `json:"filesDiscovered"`
	FilesProcessed  int        `json:"filesProcessed"`
	FilesSkipped    int        `json:"filesSkipped"`
	FilesFailed     int        `json:"filesFailed"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// IngestionPhase tracks the ingestion half of a run.
type IngestionPhase struct {
	Status            Status             `json:"status"`
	FilesProcessed    int                `json:"filesProcessed"`
	RecordsCreated    int64              `json:"recordsCreated"`
	RecordsUpdated    int64              `json:"recordsUpdated"`
	RecordsDeleted    int64              `json:"recordsDeleted"`
	CurrentFileStatus *CurrentFileStatus `json:"currentFileStatus,omitempty"`
	StartedAt         *time.Time         `json:"startedAt,omitempty"`
	CompletedAt       *time.Time         `json:"completedAt,omitempty"`
}

// ImportReport is the single document tracking one run.
type ImportReport struct {
	ImportID    string           `json:"importId"`
	SourceType  string           `json:"sourceType"`
	Status      Status           `json:"status"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"startedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	Acquisition AcquisitionPhase `json:"acquisition"`
	Ingestion   IngestionPhase   `json:"ingestion"`
}

// AcquisitionDetails records the transfer of one file.
type AcquisitionDetails struct {
	ETag                 string `json:"etag"`
	FileSize             int64  `json:"fileSize"`
	DecryptionDurationMS int64  `json:"decryptionDurationMs"`
}

// IngestionDetails records the ingestion of one file.
type IngestionDetails struct {
	RecordsProcessed   int64 `json:"recordsProcessed"`
	RecordsCreated     int64 `json:"recordsCreated"`
	RecordsUpdated     int64 `json:"recordsUpdated"`
	RecordsDeleted     int64 `json:"recordsDeleted"`
	RecordsSkipped     int64 `json:"recordsSkipped"`
	DownloadDurationMS int64 `json:"downloadDurationMs"`
	IngestDurationMS   int64 `json:"ingestDurationMs"`
}

// ImportFileRecord is the per-file outcome row.
type ImportFileRecord struct {
	ImportID    string              `json:"importId"`
	FileKey     string              `json:"fileKey"`
	DatasetName string              `json:"datasetName"`
	ETag        string              `json:"etag"`
	FileSize    int64               `json:"fileSize"`
	Status      FileStatus          `json:"status"`
	Acquisition *AcquisitionDetails `json:"acquisition,omitempty"`
	Ingestion   *IngestionDetails   `json:"ingestion,omitempty"`
	Error       string              `json:"error,omitempty"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// NewImportID returns a fresh unique import id.
func NewImportID() string {
	return uuid.New().String()
}
