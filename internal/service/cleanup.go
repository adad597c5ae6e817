package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CleanupJob periodically expires overdue keys and prunes usage logs past
// the retention window. Runs are single-flight: a tick that arrives while
// a run is still in progress is skipped.
type CleanupJob struct {
	keys   KeyStore
	usage  UsageStore
	logger *slog.Logger

	interval  time.Duration
	retention time.Duration
	batch     int

	mu  sync.Mutex
	now func() time.Time
}

// NewCleanupJob builds the job; zero-valued knobs get their defaults
// (24h interval, 90 day retention, 500-row delete batches).
func NewCleanupJob(keys KeyStore, usage UsageStore, interval, retention time.Duration, batch int, logger *slog.Logger) *CleanupJob {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	if batch <= 0 {
		batch = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		keys:      keys,
		usage:     usage,
		logger:    logger,
		interval:  interval,
		retention: retention,
		batch:     batch,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled, executing one pass immediately and
// further passes on every interval tick.
func (j *CleanupJob) Run(ctx context.Context) {
	j.runOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (j *CleanupJob) runOnce(ctx context.Context) {
	if !j.mu.TryLock() {
		j.logger.Warn("cleanup still running, skipping tick")
		return
	}
	defer j.mu.Unlock()

	stats, err := j.sweep(ctx)
	if err != nil {
		j.logger.Error("cleanup pass failed", "error", err)
		return
	}
	if stats.KeysExpired > 0 || stats.LogsPurged > 0 {
		j.logger.Info("cleanup pass complete",
			"keys_expired", stats.KeysExpired,
			"logs_purged", stats.LogsPurged,
			"duration", stats.Duration.Round(time.Millisecond))
	}
}

// CleanupStats summarizes one pass.
type CleanupStats struct {
	KeysExpired int64
	LogsPurged  int64
	Duration    time.Duration
}

// RunOnce executes a single pass synchronously and reports what it did.
func (j *CleanupJob) RunOnce(ctx context.Context) (CleanupStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sweep(ctx)
}

func (j *CleanupJob) sweep(ctx context.Context) (CleanupStats, error) {
	start := j.now().UTC()
	var stats CleanupStats

	expired, err := j.keys.MarkExpired(ctx, start)
	if err != nil {
		return stats, err
	}
	stats.KeysExpired = expired

	// Delete in batches so a huge backlog never holds one transaction open.
	cutoff := start.Add(-j.retention)
	for {
		n, err := j.usage.DeleteUsageLogsBefore(ctx, cutoff, j.batch)
		if err != nil {
			return stats, err
		}
		stats.LogsPurged += n
		if n < int64(j.batch) {
			break
		}
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
	}

	stats.Duration = j.now().UTC().Sub(start)
	return stats, nil
}
