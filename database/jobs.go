package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"ytgrab/models"
)

// JobStore persists download jobs. All writes to a given job come from its
// owning supervisor goroutine, so individual updates need no locking beyond
// the database's own transactional guarantees.
type JobStore struct {
	db *gorm.DB
}

func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return errors.Wrap(err, "create job")
	}
	return nil
}

// SetDownloading moves a pending job to downloading with its first progress
// value.
func (s *JobStore) SetDownloading(ctx context.Context, id string, progress float64) error {
	err := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           models.StatusDownloading,
			"progress_percent": progress,
		}).Error
	return errors.Wrap(err, "set downloading")
}

func (s *JobStore) UpdateProgress(ctx context.Context, id string, progress float64) error {
	err := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).
		Update("progress_percent", progress).Error
	return errors.Wrap(err, "update progress")
}

// Complete records the terminal completed status together with the artifact
// location and size.
func (s *JobStore) Complete(ctx context.Context, id, artifactPath string, artifactSize int64) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           models.StatusCompleted,
			"progress_percent": 100.0,
			"artifact_path":    artifactPath,
			"artifact_size":    artifactSize,
			"completed_at":     now,
		}).Error
	return errors.Wrap(err, "complete job")
}

// Fail records the terminal failed status with the captured error message.
func (s *JobStore) Fail(ctx context.Context, id, message string) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"error_message": message,
			"completed_at":  now,
		}).Error
	return errors.Wrap(err, "fail job")
}

func (s *JobStore) SetTitle(ctx context.Context, id, title string) error {
	err := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).
		Update("title", title).Error
	return errors.Wrap(err, "set title")
}

// GetByID returns the job, or (nil, nil) when no such job exists.
func (s *JobStore) GetByID(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get job")
	}
	return &job, nil
}

func (s *JobStore) ListRecentCompleted(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusCompleted).
		Order("completed_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, errors.Wrap(err, "list recent completed")
}

func (s *JobStore) ListActive(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{models.StatusPending, models.StatusDownloading}).
		Order("created_at DESC").
		Find(&jobs).Error
	return jobs, errors.Wrap(err, "list active")
}

// ListOlderThan returns jobs created before the cutoff, for artifact cleanup.
func (s *JobStore) ListOlderThan(ctx context.Context, cutoff time.Time) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Find(&jobs).Error
	return jobs, errors.Wrap(err, "list old jobs")
}

func (s *JobStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.Job{})
	return res.RowsAffected, errors.Wrap(res.Error, "delete old jobs")
}
