package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"ytgrab/models"
)

// RateStore persists per-identity rate windows and overrides.
type RateStore struct {
	db *gorm.DB
}

func NewRateStore(db *gorm.DB) *RateStore {
	return &RateStore{db: db}
}

// GetWindow returns the identity's window, or (nil, nil) when none exists.
func (s *RateStore) GetWindow(ctx context.Context, identity string) (*models.RateWindow, error) {
	var w models.RateWindow
	err := s.db.WithContext(ctx).First(&w, "client_identity = ?", identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get rate window")
	}
	return &w, nil
}

// Record counts one download for the identity in a single atomic upsert: it
// creates the window with count 1, resets an expired window to count 1 with a
// fresh start, or increments the live count. Concurrent requests for the same
// identity race only inside the database, never in application code.
func (s *RateStore) Record(ctx context.Context, identity string, window time.Duration) error {
	seconds := int(window / time.Second)
	err := s.db.WithContext(ctx).Exec(`
		INSERT INTO rate_windows (client_identity, download_count, window_start, last_download)
		VALUES (?, 1, NOW(), NOW())
		ON CONFLICT (client_identity) DO UPDATE SET
			download_count = CASE
				WHEN EXTRACT(EPOCH FROM (NOW() - rate_windows.window_start)) >= ? THEN 1
				ELSE rate_windows.download_count + 1
			END,
			window_start = CASE
				WHEN EXTRACT(EPOCH FROM (NOW() - rate_windows.window_start)) >= ? THEN NOW()
				ELSE rate_windows.window_start
			END,
			last_download = NOW()`,
		identity, seconds, seconds).Error
	return errors.Wrap(err, "record download")
}

// Reset zeroes an expired window so the next check starts fresh.
func (s *RateStore) Reset(ctx context.Context, identity string) error {
	err := s.db.WithContext(ctx).Model(&models.RateWindow{}).
		Where("client_identity = ?", identity).
		Updates(map[string]interface{}{
			"download_count": 0,
			"window_start":   time.Now(),
		}).Error
	return errors.Wrap(err, "reset rate window")
}

// Prune deletes windows idle longer than ttl.
func (s *RateStore) Prune(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl)
	res := s.db.WithContext(ctx).Where("last_download < ?", cutoff).Delete(&models.RateWindow{})
	return res.RowsAffected, errors.Wrap(res.Error, "prune rate windows")
}

// GetOverride returns the identity's override, or (nil, nil) when none exists.
func (s *RateStore) GetOverride(ctx context.Context, identity string) (*models.ClientOverride, error) {
	var o models.ClientOverride
	err := s.db.WithContext(ctx).First(&o, "client_identity = ?", identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get client override")
	}
	return &o, nil
}
