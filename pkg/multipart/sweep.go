package multipart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eteran/stagegate/pkg/staging"
)

// SweepStats summarises one cleanup pass.
type SweepStats struct {
	// Scanned counts candidate session prefixes found at the root.
	Scanned int
	// Expired counts sessions removed for being older than the retention window.
	Expired int
	// Corrupt counts sessions removed because the marker was missing or unreadable.
	Corrupt int
	// Retained counts sessions still inside the retention window.
	Retained int
	// Skipped counts sessions whose marker could not be read this pass.
	Skipped int
	// Failed counts sessions that should have been removed but could not be.
	Failed int
	// LooseItems counts objects found directly at the root and deleted.
	LooseItems int
}

// ParseMarker decodes the creation time stored in a session marker.
func ParseMarker(data []byte) (time.Time, error) {
	return time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
}

// RunCleanupSweep walks the top level of the staging store and removes
// expired or corrupt sessions. Failures reading or removing a single session
// are logged and the pass moves on. Failing to list the root or to remove a
// stray object at the root ends the pass with an error.
func (m *Manager) RunCleanupSweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := m.now()

	err := staging.Walk(ctx, m.store, staging.ListRequest{Delimiter: staging.Delimiter}, func(page staging.ListPage) error {
		if len(page.Items) > 0 {
			m.logger.Warn("Found loose items in the staging root, deleting them", "count", len(page.Items))
		}
		for _, item := range page.Items {
			if err := m.store.Delete(ctx, item); err != nil {
				return fmt.Errorf("delete loose item %q: %w", item, err)
			}
			stats.LooseItems++
		}

		for _, prefix := range page.Prefixes {
			if err := ctx.Err(); err != nil {
				return err
			}
			stats.Scanned++
			m.sweepSession(ctx, prefix, now, &stats)
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("cleanup sweep: %w", err)
	}

	m.logger.Info("Cleanup sweep finished",
		"scanned", stats.Scanned,
		"expired", stats.Expired,
		"corrupt", stats.Corrupt,
		"retained", stats.Retained,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"loose_items", stats.LooseItems,
	)
	return stats, nil
}

func (m *Manager) sweepSession(ctx context.Context, prefix string, now time.Time, stats *SweepStats) {
	logger := m.logger.With("prefix", prefix)

	data, err := m.store.Get(ctx, prefix+MarkerName)
	switch {
	case errors.Is(err, staging.ErrNotFound):
		logger.Warn("Upload has no marker, deleting it")
		stats.Corrupt++
	case err != nil:
		logger.Error("Read upload marker", "err", err)
		stats.Skipped++
		return
	default:
		created, perr := ParseMarker(data)
		if perr != nil {
			logger.Warn("Upload marker is corrupt, deleting it", "err", perr)
			stats.Corrupt++
			break
		}
		if now.Sub(created) <= m.retention {
			stats.Retained++
			return
		}
		logger.Info("Upload expired, deleting it", "created", created)
		stats.Expired++
	}

	if err := m.RmRf(ctx, prefix); err != nil {
		logger.Error("Delete upload", "err", err)
		stats.Failed++
	}
}

// Sweeper runs the cleanup sweep periodically.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	observe  func(SweepStats, error)
}

type SweeperOption func(*Sweeper)

// WithSweepObserver registers fn to be called after every pass.
func WithSweepObserver(fn func(SweepStats, error)) SweeperOption {
	return func(s *Sweeper) {
		s.observe = fn
	}
}

// NewSweeper returns a Sweeper that runs manager's cleanup every interval.
func NewSweeper(manager *Manager, interval time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{manager: manager, interval: interval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one pass immediately and then one per interval until ctx is
// cancelled. Errors from individual passes are logged, never returned.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", s.interval)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	stats, err := s.manager.RunCleanupSweep(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.manager.logger.Error("Cleanup sweep failed", "err", err)
	}
	if s.observe != nil {
		s.observe(stats, err)
	}
}
