package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Cleaner removes expired cache data.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Warmer preloads price series.
type Warmer interface {
	WarmUp(ctx context.Context) (int, error)
}

// CleanupJob deletes expired cache entries and explanations.
type CleanupJob struct {
	cleaner Cleaner
	timeout time.Duration
	log     zerolog.Logger
}

// NewCleanupJob creates a CleanupJob.
func NewCleanupJob(c Cleaner, timeout time.Duration, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{cleaner: c, timeout: timeout, log: log.With().Str("job", "cleanup").Logger()}
}

// Name implements Job.
func (j *CleanupJob) Name() string { return "cleanup_expired" }

// Run implements Job.
func (j *CleanupJob) Run() error {
	ctx, cancel := withTimeout(j.timeout)
	defer cancel()

	n, err := j.cleaner.CleanupExpired(ctx)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	j.log.Info().Int64("deleted", n).Msg("expired entries removed")
	return nil
}

// WarmUpJob caches the popular stocks' price series.
type WarmUpJob struct {
	warmer  Warmer
	timeout time.Duration
	log     zerolog.Logger
}

// NewWarmUpJob creates a WarmUpJob.
func NewWarmUpJob(w Warmer, timeout time.Duration, log zerolog.Logger) *WarmUpJob {
	return &WarmUpJob{warmer: w, timeout: timeout, log: log.With().Str("job", "warm_up").Logger()}
}

// Name implements Job.
func (j *WarmUpJob) Name() string { return "warm_up_cache" }

// Run implements Job.
func (j *WarmUpJob) Run() error {
	ctx, cancel := withTimeout(j.timeout)
	defer cancel()

	n, err := j.warmer.WarmUp(ctx)
	if err != nil {
		return fmt.Errorf("warm up: %w", err)
	}
	j.log.Info().Int("warmed", n).Msg("price cache warmed")
	return nil
}

func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 5 * time.Minute
	}
	return context.WithTimeout(context.Background(), d)
}
