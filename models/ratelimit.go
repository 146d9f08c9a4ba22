package models

import "time"

// RateWindow is one sliding counter per client identity.
type RateWindow struct {
	ID             uint   `gorm:"primaryKey"`
	ClientIdentity string `gorm:"uniqueIndex"`
	DownloadCount  int
	WindowStart    time.Time
	LastDownload   time.Time `gorm:"index"`
}

// Client classes for rate-limit overrides.
const (
	ClassGuest  = "guest"
	ClassVIP    = "vip"
	ClassBanned = "banned"
)

// ClientOverride replaces the global rate limit for one identity. A banned
// client is always denied; a vip client gets an elevated allowance.
type ClientOverride struct {
	ID                  uint   `gorm:"primaryKey"`
	ClientIdentity      string `gorm:"uniqueIndex"`
	Class               string
	CustomLimit         *int
	CustomWindowSeconds *int
	Notes               string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
