package services

import (
	"context"
	"log"
	"os"
	"time"

	"ytgrab/models"
)

// JanitorStore is the persistence the janitor needs for retention sweeps.
type JanitorStore interface {
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]models.Job, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor removes expired artifacts and their job rows.
type Janitor struct {
	store     JanitorStore
	retention time.Duration
}

func NewJanitor(store JanitorStore, retention time.Duration) *Janitor {
	return &Janitor{store: store, retention: retention}
}

// Sweep deletes artifacts and rows older than the retention period. Files go
// first so a failed row delete can be retried on the next sweep.
func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-j.retention)

	jobs, err := j.store.ListOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("janitor: list failed: %v", err)
		return
	}

	removed := 0
	for _, job := range jobs {
		if job.ArtifactPath == nil {
			continue
		}
		if err := os.Remove(*job.ArtifactPath); err != nil && !os.IsNotExist(err) {
			log.Printf("janitor: remove %s: %v", *job.ArtifactPath, err)
			continue
		}
		removed++
	}

	deleted, err := j.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("janitor: delete failed: %v", err)
		return
	}
	if deleted > 0 || removed > 0 {
		log.Printf("janitor: cleaned up %d jobs, %d artifacts", deleted, removed)
	}
}
