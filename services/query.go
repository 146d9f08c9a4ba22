package services

import (
	"context"

	"ytgrab/models"
)

// JobReader is the read side of job persistence.
type JobReader interface {
	GetByID(ctx context.Context, id string) (*models.Job, error)
	ListRecentCompleted(ctx context.Context, limit int) ([]models.Job, error)
	ListActive(ctx context.Context) ([]models.Job, error)
}

// JobStatus is what polling clients see.
type JobStatus struct {
	Status       string
	Progress     float64
	ArtifactRef  string
	ArtifactSize int64
	Error        string
}

// ProgressQuery is the read-only facade for polling clients and dashboards.
// It never mutates job state and never touches the rate gate.
type ProgressQuery struct {
	reader JobReader
}

func NewProgressQuery(reader JobReader) *ProgressQuery {
	return &ProgressQuery{reader: reader}
}

// GetStatus returns the job's current status and progress, or ErrNotFound.
func (q *ProgressQuery) GetStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := q.reader.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}

	status := &JobStatus{
		Status:   job.Status,
		Progress: job.ProgressPercent,
	}
	switch job.Status {
	case models.StatusCompleted:
		status.Progress = 100
		if job.ArtifactPath != nil {
			status.ArtifactRef = job.ID
			status.ArtifactSize = job.ArtifactSize
		}
	case models.StatusFailed:
		if job.ErrorMessage != nil {
			status.Error = *job.ErrorMessage
		}
	}
	return status, nil
}

func (q *ProgressQuery) ListRecentCompleted(ctx context.Context, limit int) ([]models.Job, error) {
	return q.reader.ListRecentCompleted(ctx, limit)
}

func (q *ProgressQuery) ListActive(ctx context.Context) ([]models.Job, error) {
	return q.reader.ListActive(ctx)
}
