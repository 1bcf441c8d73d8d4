// Package sweep runs cancellable periodic maintenance jobs such as expiring
// cache entries and cooldown windows.
package sweep

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// ErrInvalidInterval is returned when a job is scheduled with a non-positive interval.
var ErrInvalidInterval = errors.New("sweep interval must be positive")

// Job is a periodic task backed by its own scheduler.
// A Job must be stopped with Stop, otherwise its scheduler goroutines keep running.
type Job struct {
	name      string
	scheduler gocron.Scheduler

	once sync.Once
}

// Every schedules fn to run every interval until Stop is called.
// Runs never overlap: a run that is still in progress when the next tick fires
// causes that tick to be skipped. A panicking run is logged and the job keeps
// running.
func Every(name string, interval time.Duration, fn func()) (*Job, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler for %s: %w", name, err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithEventListeners(gocron.AfterJobRunsWithPanic(logPanic)),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("failed to schedule %s: %w", name, err)
	}

	scheduler.Start()
	slog.Debug("started sweep job", "job", name, "interval", interval)

	return &Job{name: name, scheduler: scheduler}, nil
}

// logPanic records a panicking run. The scheduler recovers it and the job
// keeps its schedule.
func logPanic(_ uuid.UUID, name string, recovered any) {
	slog.Error("sweep job panicked", "job", name, "panic", recovered)
}

// Name returns the job name.
func (j *Job) Name() string {
	return j.name
}

// Stop halts the job and waits for a running invocation to finish.
// It is safe to call Stop more than once and on a nil Job.
func (j *Job) Stop() {
	if j == nil {
		return
	}
	j.once.Do(func() {
		if err := j.scheduler.Shutdown(); err != nil {
			slog.Warn("failed to stop sweep job", "job", j.name, "error", err)
			return
		}
		slog.Debug("stopped sweep job", "job", j.name)
	})
}
