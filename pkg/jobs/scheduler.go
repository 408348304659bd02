// Package jobs runs periodic maintenance: expiry cleanup and price cache
// warm-up.
package jobs

import (
	"errors"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrAlreadyRunning is returned by RunNow while the job is still running.
var ErrAlreadyRunning = errors.New("job already running")

// Job is a unit of scheduled work.
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu      sync.Mutex
	running map[string]bool
}

// New creates a Scheduler. Schedules use standard five-field cron syntax or
// descriptors such as "@hourly" and "@every 10m".
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		log:     log.With().Str("component", "scheduler").Logger(),
		running: make(map[string]bool),
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers job on schedule. A run is skipped while the previous
// run of the same job is still in progress.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		err := s.RunNow(job)
		switch {
		case errors.Is(err, ErrAlreadyRunning):
			s.log.Warn().Str("job", job.Name()).Msg("previous run still in progress, skipping")
		case err != nil:
			s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
		}
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("job registered")
	return nil
}

// RunNow executes job immediately, outside its schedule. It shares the
// overlap guard with scheduled runs and returns ErrAlreadyRunning instead of
// starting a second concurrent run.
func (s *Scheduler) RunNow(job Job) error {
	if !s.acquire(job.Name()) {
		return ErrAlreadyRunning
	}
	defer s.release(job.Name())

	s.log.Debug().Str("job", job.Name()).Msg("running job")
	if err := job.Run(); err != nil {
		return err
	}
	s.log.Debug().Str("job", job.Name()).Msg("job completed")
	return nil
}

func (s *Scheduler) acquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, name)
}
