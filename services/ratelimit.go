package services

import (
	"context"
	"log"
	"time"

	"ytgrab/models"
)

// RateStore is the persistence the gate needs. Record must be a single atomic
// upsert so concurrent requests for one identity cannot lose counts.
type RateStore interface {
	GetWindow(ctx context.Context, identity string) (*models.RateWindow, error)
	Record(ctx context.Context, identity string, window time.Duration) error
	Reset(ctx context.Context, identity string) error
	Prune(ctx context.Context, ttl time.Duration) (int64, error)
	GetOverride(ctx context.Context, identity string) (*models.ClientOverride, error)
}

// Elevated allowance for vip clients without a custom limit.
const vipLimitMultiplier = 5

// RateGate enforces the per-identity sliding-window download limit. Checks
// never fail: store errors are logged and treated as "allowed", the same as
// absence of data.
type RateGate struct {
	store         RateStore
	defaultLimit  int
	defaultWindow time.Duration
}

func NewRateGate(store RateStore, limit int, window time.Duration) *RateGate {
	return &RateGate{store: store, defaultLimit: limit, defaultWindow: window}
}

// CanProceed reports whether the identity may start another download. An
// expired window counts as allowed; the caller still records the download to
// start a fresh window.
func (g *RateGate) CanProceed(ctx context.Context, identity string) bool {
	limit, window, banned := g.resolve(ctx, identity)
	if banned {
		return false
	}

	w, err := g.store.GetWindow(ctx, identity)
	if err != nil {
		log.Printf("rate gate: window lookup for %s failed: %v", identity, err)
		return true
	}
	if w == nil {
		return true
	}
	if windowExpired(w, window, time.Now()) {
		if err := g.store.Reset(ctx, identity); err != nil {
			log.Printf("rate gate: reset for %s failed: %v", identity, err)
		}
		return true
	}
	return w.DownloadCount < limit
}

// Record counts one download against the identity's window.
func (g *RateGate) Record(ctx context.Context, identity string) {
	_, window, banned := g.resolve(ctx, identity)
	if banned {
		return
	}
	if err := g.store.Record(ctx, identity, window); err != nil {
		log.Printf("rate gate: record for %s failed: %v", identity, err)
	}
}

// Remaining reports how many downloads the identity has left in its window.
func (g *RateGate) Remaining(ctx context.Context, identity string) int {
	limit, window, banned := g.resolve(ctx, identity)
	if banned {
		return 0
	}

	w, err := g.store.GetWindow(ctx, identity)
	if err != nil {
		log.Printf("rate gate: window lookup for %s failed: %v", identity, err)
		return limit
	}
	if w == nil || windowExpired(w, window, time.Now()) {
		return limit
	}
	if remaining := limit - w.DownloadCount; remaining > 0 {
		return remaining
	}
	return 0
}

// TimeUntilReset reports how long until the identity's window expires. Zero
// means the identity is not currently limited (or is banned outright).
func (g *RateGate) TimeUntilReset(ctx context.Context, identity string) time.Duration {
	_, window, banned := g.resolve(ctx, identity)
	if banned {
		return 0
	}

	w, err := g.store.GetWindow(ctx, identity)
	if err != nil {
		log.Printf("rate gate: window lookup for %s failed: %v", identity, err)
		return 0
	}
	if w == nil {
		return 0
	}
	if remaining := time.Until(w.WindowStart.Add(window)); remaining > 0 {
		return remaining
	}
	return 0
}

// Sweep prunes windows idle longer than ttl.
func (g *RateGate) Sweep(ctx context.Context, ttl time.Duration) {
	pruned, err := g.store.Prune(ctx, ttl)
	if err != nil {
		log.Printf("rate gate: prune failed: %v", err)
		return
	}
	if pruned > 0 {
		log.Printf("rate gate: pruned %d idle windows", pruned)
	}
}

// resolve applies any per-identity override to the global defaults.
func (g *RateGate) resolve(ctx context.Context, identity string) (limit int, window time.Duration, banned bool) {
	limit, window = g.defaultLimit, g.defaultWindow

	o, err := g.store.GetOverride(ctx, identity)
	if err != nil {
		log.Printf("rate gate: override lookup for %s failed: %v", identity, err)
		return limit, window, false
	}
	if o == nil {
		return limit, window, false
	}

	switch o.Class {
	case models.ClassBanned:
		return 0, 0, true
	case models.ClassVIP:
		limit = g.defaultLimit * vipLimitMultiplier
	}
	if o.CustomLimit != nil && *o.CustomLimit > 0 {
		limit = *o.CustomLimit
	}
	if o.CustomWindowSeconds != nil && *o.CustomWindowSeconds > 0 {
		window = time.Duration(*o.CustomWindowSeconds) * time.Second
	}
	return limit, window, false
}

func windowExpired(w *models.RateWindow, window time.Duration, now time.Time) bool {
	return now.Sub(w.WindowStart) >= window
}
