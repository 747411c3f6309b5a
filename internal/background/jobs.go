package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultJobTimeout = 30 * time.Second

// Job is a named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	// RunOnStart runs the job once immediately when the runner starts.
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// JobRunner schedules periodic jobs and logs their failures.
type JobRunner struct {
	scheduler Scheduler
	logger    *slog.Logger
	timeout   time.Duration

	mu     sync.Mutex
	jobs   []Job
	timers []Timer
	ctx    context.Context
	cancel context.CancelFunc
}

func NewJobRunner(scheduler Scheduler, logger *slog.Logger) *JobRunner {
	return &JobRunner{
		scheduler: scheduler,
		logger:    logger,
		timeout:   defaultJobTimeout,
	}
}

// Register adds a job. Jobs registered after Start are scheduled immediately.
func (r *JobRunner) Register(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs = append(r.jobs, job)
	if r.ctx != nil {
		r.schedule(job)
	}
}

// Start schedules every registered job.
func (r *JobRunner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	for _, job := range r.jobs {
		r.schedule(job)
	}
}

func (r *JobRunner) schedule(job Job) {
	ctx := r.ctx
	if job.RunOnStart {
		go r.runOnce(ctx, job)
	}
	r.timers = append(r.timers, r.scheduler.Every(job.Interval, func() {
		r.runOnce(ctx, job)
	}))
}

func (r *JobRunner) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := r.scheduler.Now()
	if err := job.Run(jobCtx); err != nil {
		r.logger.Error("background job failed",
			slog.String("job", job.Name),
			slog.Any("error", err),
		)
		return
	}

	r.logger.Debug("background job completed",
		slog.String("job", job.Name),
		slog.Duration("elapsed", r.scheduler.Now().Sub(start)),
	)
}

// Stop cancels every scheduled job.
func (r *JobRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = nil
	if r.cancel != nil {
		r.cancel()
	}
	r.logger.Info("background jobs stopped")
}
