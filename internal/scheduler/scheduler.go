// Package scheduler runs recurring ledger maintenance jobs.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/federico-bidone/FAIR-sub001/internal/modules/ledger"
)

// Job represents a scheduled job.
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a new scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with a cron schedule ("@daily", "0 7 * * *", ...).
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("Running job")

		if err := job.Run(); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
		} else {
			s.log.Debug().Str("job", job.Name()).Msg("Job completed")
		}
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}

// MinusBagPurgeJob drops expired loss-carryforward lots from the ledger.
type MinusBagPurgeJob struct {
	service *ledger.Service
	log     zerolog.Logger
}

// NewMinusBagPurgeJob creates the daily purge job.
func NewMinusBagPurgeJob(service *ledger.Service, log zerolog.Logger) *MinusBagPurgeJob {
	return &MinusBagPurgeJob{
		service: service,
		log:     log.With().Str("job", "minus_bag_purge").Logger(),
	}
}

// Name implements Job.
func (j *MinusBagPurgeJob) Name() string { return "minus_bag_purge" }

// Run implements Job.
func (j *MinusBagPurgeJob) Run() error {
	dropped, err := j.service.PurgeExpired(time.Now().UTC())
	if err != nil {
		return err
	}
	if dropped > 0 {
		j.log.Info().Int64("purged", dropped).Msg("Expired loss carryforward lots dropped")
	}
	return nil
}
