package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"update-runner/internal/domain"
	"update-runner/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GitClient is the slice of the git client the pipeline needs.
type GitClient interface {
	Ensure(ctx context.Context) error
	SyncFFOnly(ctx context.Context) error
	HasChanges(ctx context.Context) (bool, error)
	CommitAll(ctx context.Context, author, email, message string) (string, error)
	Push(ctx context.Context, token string) error
}

// ScriptRunner is the slice of the script runner the pipeline needs.
type ScriptRunner interface {
	Provision(ctx context.Context, requirements string) (string, error)
	RunScript(ctx context.Context, name string, creds domain.StoreCredentials, args ...string) (string, error)
}

// RunService owns the update pipeline: it serializes dispatches through the
// run lock, executes the fixed step sequence, and records each run. The
// sequence is strictly linear; the first failing step aborts the rest.
type RunService struct {
	job      *domain.UpdateJob
	git      GitClient
	scripts  ScriptRunner
	locker   domain.Locker
	runs     domain.RunRepository
	tokenEnv string // env var holding the push token
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewRunService creates a RunService instance.
func NewRunService(job *domain.UpdateJob, gitClient GitClient, scripts ScriptRunner,
	locker domain.Locker, runs domain.RunRepository, tokenEnv string, logger *slog.Logger) *RunService {
	return &RunService{
		job:      job,
		git:      gitClient,
		scripts:  scripts,
		locker:   locker,
		runs:     runs,
		tokenEnv: tokenEnv,
		logger:   logger.With("component", "run-service"),
		tracer:   otel.Tracer("update-runner-usecase"),
	}
}

// Dispatch starts a run in the background and returns a copy of its initial
// record. The background goroutine owns the live record; callers follow
// progress through the repository. When another run holds the lock the
// dispatch is skipped: the skipped record is returned together with
// domain.ErrLockNotAcquired.
func (s *RunService) Dispatch(ctx context.Context, trigger domain.Trigger, period domain.Period) (*domain.Run, error) {
	ctx, span := s.tracer.Start(ctx, "service.Dispatch")
	defer span.End()

	run, lock, err := s.begin(ctx, trigger, period)
	if err != nil {
		span.RecordError(err)
		return run, err
	}

	// Snapshot before the goroutine starts mutating run.
	snapshot := *run

	parentSpanContext := trace.SpanFromContext(ctx).SpanContext()
	go func() {
		runCtx, runSpan := s.tracer.Start(
			context.Background(),
			"service.executeRun",
			trace.WithLinks(trace.Link{SpanContext: parentSpanContext}),
			trace.WithAttributes(attribute.String("run.id", run.ID)),
		)
		defer runSpan.End()
		s.execute(runCtx, run, lock)
	}()

	return &snapshot, nil
}

// RunOnce executes a run synchronously and returns the final record. Used by
// the one-shot binary, where the process exit code is the run outcome.
func (s *RunService) RunOnce(ctx context.Context, trigger domain.Trigger, period domain.Period) (*domain.Run, error) {
	ctx, span := s.tracer.Start(ctx, "service.RunOnce")
	defer span.End()

	run, lock, err := s.begin(ctx, trigger, period)
	if err != nil {
		span.RecordError(err)
		return run, err
	}

	s.execute(ctx, run, lock)
	if run.Status != domain.RunStatusSucceeded {
		return run, fmt.Errorf("run %s failed: %s", run.ID, run.Error)
	}
	return run, nil
}

// begin validates the dispatch, takes the run lock, and persists the initial
// running record.
func (s *RunService) begin(ctx context.Context, trigger domain.Trigger, period domain.Period) (*domain.Run, domain.Lock, error) {
	if period == "" {
		period = s.job.Period
	}
	switch period {
	case domain.PeriodQuarterly, domain.PeriodAnnual:
	default:
		return nil, nil, fmt.Errorf("invalid period: %s", period)
	}

	run := &domain.Run{
		ID:        uuid.NewString(),
		JobName:   s.job.Name,
		Trigger:   trigger,
		Period:    period,
		Status:    domain.RunStatusRunning,
		StartTime: time.Now(),
	}
	logger := s.logger.With("run_id", run.ID, "trigger", trigger)

	lockCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	lock, err := s.locker.Lock(lockCtx, s.job.Name)
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			run.Status = domain.RunStatusSkipped
			run.EndTime = time.Now()
			run.Error = "another run is in progress"
			logger.Warn("dispatch skipped, run lock is held")
			metrics.RunsTotal.WithLabelValues(string(trigger), string(run.Status)).Inc()
			if saveErr := s.runs.Save(ctx, run); saveErr != nil {
				logger.Error("failed to save skipped run record", "error", saveErr)
			}
			return run, nil, domain.ErrLockNotAcquired
		}
		return nil, nil, err
	}
	logger.Info("acquired run lock, starting run", "period", period)

	if err := s.runs.Save(ctx, run); err != nil {
		// Proceed anyway; history is best effort while the run itself is not.
		logger.Error("failed to save initial run record", "error", err)
	}
	return run, lock, nil
}

// execute walks the pipeline steps in order, releases the lock, and persists
// the final record.
func (s *RunService) execute(ctx context.Context, run *domain.Run, lock domain.Lock) {
	logger := s.logger.With("run_id", run.ID, "job_name", run.JobName)
	span := trace.SpanFromContext(ctx)

	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			logger.Error("failed to release run lock", "error", err)
		}
	}()

	defer func() {
		run.EndTime = time.Now()
		if r := recover(); r != nil {
			run.Status = domain.RunStatusFailed
			run.Error = fmt.Sprintf("panic: %v", r)
			span.SetStatus(codes.Error, "run panicked")
			logger.Error("run panicked", "panic", r)
		}
		metrics.RunsTotal.WithLabelValues(string(run.Trigger), string(run.Status)).Inc()
		if err := s.runs.Save(context.Background(), run); err != nil {
			logger.Error("failed to save final run record", "error", err)
		}
		logger.Info("run finished", "status", run.Status, "commit", run.Commit)
	}()

	for _, step := range s.buildSteps(run) {
		result := s.runStep(ctx, run, step)
		run.Steps = append(run.Steps, result)
		if result.Status == domain.StepStatusFailed {
			run.Status = domain.RunStatusFailed
			run.Error = result.Error
			span.SetStatus(codes.Error, "step "+step.Name()+" failed")
			return
		}
	}
	run.Status = domain.RunStatusSucceeded
}

// runStep executes one step under its own span and timeout.
func (s *RunService) runStep(ctx context.Context, run *domain.Run, step domain.Step) domain.StepResult {
	ctx, span := s.tracer.Start(ctx, "step."+step.Name(),
		trace.WithAttributes(attribute.String("run.id", run.ID)))
	defer span.End()

	stepCtx, cancel := context.WithTimeout(ctx, s.job.StepTimeout)
	defer cancel()

	result := domain.StepResult{
		Name:      step.Name(),
		StartTime: time.Now(),
	}
	s.logger.Info("running step", "run_id", run.ID, "step", step.Name())

	output, err := step.Execute(stepCtx)
	result.EndTime = time.Now()
	result.Output = output
	if err != nil {
		result.Status = domain.StepStatusFailed
		result.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "step failed")
		s.logger.Error("step failed", "run_id", run.ID, "step", step.Name(), "error", err)
	} else {
		result.Status = domain.StepStatusSucceeded
	}
	metrics.StepDuration.WithLabelValues(step.Name(), string(result.Status)).
		Observe(result.EndTime.Sub(result.StartTime).Seconds())
	return result
}

// funcStep adapts a closure to domain.Step.
type funcStep struct {
	name string
	fn   func(ctx context.Context) (string, error)
}

func (s funcStep) Name() string { return s.name }

func (s funcStep) Execute(ctx context.Context) (string, error) { return s.fn(ctx) }

// buildSteps assembles the fixed pipeline for one run. The commit step's
// empty-diff guard decides whether the push step has anything to publish.
func (s *RunService) buildSteps(run *domain.Run) []domain.Step {
	creds := domain.StoreCredentialsFromEnv()

	return []domain.Step{
		funcStep{"checkout", func(ctx context.Context) (string, error) {
			return "", s.git.Ensure(ctx)
		}},
		funcStep{"provision", func(ctx context.Context) (string, error) {
			return s.scripts.Provision(ctx, s.job.Requirements)
		}},
		funcStep{"sync", func(ctx context.Context) (string, error) {
			return "", s.git.SyncFFOnly(ctx)
		}},
		funcStep{"validate", func(ctx context.Context) (string, error) {
			return s.scripts.RunScript(ctx, s.job.CheckerScript, creds)
		}},
		funcStep{"collect", func(ctx context.Context) (string, error) {
			return s.scripts.RunScript(ctx, s.job.CollectorScript, creds, run.Period.Flag())
		}},
		funcStep{"commit", func(ctx context.Context) (string, error) {
			changed, err := s.git.HasChanges(ctx)
			if err != nil {
				return "", err
			}
			if !changed {
				metrics.CommitsTotal.WithLabelValues("empty").Inc()
				return "working copy clean, nothing to commit", nil
			}
			hash, err := s.git.CommitAll(ctx, s.job.CommitAuthor, s.job.CommitEmail, s.job.CommitMessage)
			if err != nil {
				return "", err
			}
			run.Commit = hash
			metrics.CommitsTotal.WithLabelValues("committed").Inc()
			return "committed " + hash, nil
		}},
		funcStep{"push", func(ctx context.Context) (string, error) {
			if run.Commit == "" {
				return "no commit to push", nil
			}
			return "", s.git.Push(ctx, os.Getenv(s.tokenEnv))
		}},
	}
}

// GetRun returns a single run record.
func (s *RunService) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetRun")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", id))

	run, err := s.runs.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get run from repository")
	}
	return run, err
}

// ListRuns lists run records, newest first.
func (s *RunService) ListRuns(ctx context.Context, page, pageSize int) ([]*domain.Run, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListRuns")
	defer span.End()
	span.SetAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize))

	runs, err := s.runs.ListRecent(ctx, page, pageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list runs from repository")
	}
	return runs, err
}
