// internal/scheduler/cron_scheduler.go
package scheduler

import (
	"context"
	"log/slog"

	"update-runner/internal/domain"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher starts an update run. Implemented by usecase.RunService.
type Dispatcher interface {
	Dispatch(ctx context.Context, trigger domain.Trigger, period domain.Period) (*domain.Run, error)
}

// CronScheduler dispatches the update job on its configured cron expression.
// Manual HTTP dispatches keep working alongside it; the run lock serializes
// the two trigger paths.
type CronScheduler struct {
	cron       *cron.Cron
	dispatcher Dispatcher
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewCronScheduler creates a scheduler dispatching through the given Dispatcher.
func NewCronScheduler(dispatcher Dispatcher, logger *slog.Logger) *CronScheduler {
	return &CronScheduler{
		cron:       cron.New(cron.WithSeconds()),
		dispatcher: dispatcher,
		logger:     logger.With("component", "cron-scheduler"),
		tracer:     otel.Tracer("update-runner-scheduler"),
	}
}

// AddJob registers the job's cron expression. A job without a schedule is
// manual-dispatch only; that is not an error.
func (s *CronScheduler) AddJob(job *domain.UpdateJob) error {
	if job.Schedule == "" {
		s.logger.Info("job has no schedule, manual dispatch only", "job_name", job.Name)
		return nil
	}

	wrapper := &cronJobWrapper{
		job:        job,
		dispatcher: s.dispatcher,
		logger:     s.logger.With("job_name", job.Name),
		tracer:     s.tracer,
	}
	if _, err := s.cron.AddJob(job.Schedule, wrapper); err != nil {
		s.logger.Error("failed to add job to cron", "job_name", job.Name, "error", err)
		return err
	}

	s.logger.Info("added job to scheduler", "job_name", job.Name, "schedule", job.Schedule)
	return nil
}

// Start runs the scheduler until the context is cancelled.
func (s *CronScheduler) Start(ctx context.Context) error {
	s.logger.Info("cron scheduler started")
	s.cron.Start()
	<-ctx.Done()
	s.logger.Info("cron scheduler stopping...")
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("cron scheduler stopped")
	return ctx.Err()
}

// cronJobWrapper is the cron entry; its only job is to dispatch the run.
type cronJobWrapper struct {
	job        *domain.UpdateJob
	dispatcher Dispatcher
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Run is called by the cron library.
func (w *cronJobWrapper) Run() {
	ctx, span := w.tracer.Start(context.Background(), "scheduler.Dispatch",
		trace.WithAttributes(
			attribute.String("job.name", w.job.Name),
			attribute.String("job.period", string(w.job.Period)),
		))
	defer span.End()

	w.logger.Info("dispatching scheduled run")
	run, err := w.dispatcher.Dispatch(ctx, domain.TriggerSchedule, w.job.Period)
	if err == domain.ErrLockNotAcquired {
		w.logger.Warn("scheduled run skipped, another run is in progress", "run_id", run.ID)
		span.AddEvent("skipped_run", trace.WithAttributes(attribute.String("reason", "lock_not_acquired")))
		return
	}
	if err != nil {
		w.logger.Error("failed to dispatch scheduled run", "error", err)
		span.RecordError(err)
	}
}
