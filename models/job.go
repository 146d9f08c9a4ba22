package models

import "time"

// Job statuses. Terminal statuses are absorbing: once a job is completed or
// failed it never transitions again.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// Job is one requested download and its tracked lifecycle. The persisted
// fields are the contract dashboards and cleanup rely on.
type Job struct {
	ID              string `gorm:"primaryKey"`
	ClientIdentity  string `gorm:"index"`
	SourceURL       string
	Title           string
	Format          string
	Quality         string
	Status          string `gorm:"index"`
	ProgressPercent float64
	ArtifactPath    *string
	ArtifactSize    int64
	ErrorMessage    *string
	CreatedAt       time.Time `gorm:"index"`
	CompletedAt     *time.Time
}

// Terminal reports whether the job reached a final status.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// DownloadRequest is the submission payload.
type DownloadRequest struct {
	URL     string `json:"url"`
	Format  string `json:"format"`
	Quality string `json:"quality"`
}
