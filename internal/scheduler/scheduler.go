// internal/scheduler/scheduler.go
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job is a named maintenance task with a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func()
}

// Scheduler runs the recurring maintenance jobs: health checks, status
// snapshots, audit archival, recovery queue drains.
type Scheduler struct {
	jobs []Job
	cron *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler for the given jobs. Jobs with an empty schedule
// are skipped.
func New(jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs: jobs,
		cron: cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers all jobs and starts the cron ticker. An invalid schedule
// disables that job and logs; it does not prevent the others from running.
func (s *Scheduler) Start() error {
	for _, job := range s.jobs {
		if job.Schedule == "" {
			continue
		}
		name := job.Name
		run := job.Run
		_, err := s.cron.AddFunc(job.Schedule, func() {
			slog.Debug("cron firing job", "name", name)
			run()
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", job.Name, "schedule", job.Schedule, "error", err)
			continue
		}
		slog.Info("scheduled job", "name", job.Name, "schedule", job.Schedule)
	}
	s.cron.Start()
	return nil
}

// Stop stops the cron ticker. Jobs already in flight finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
