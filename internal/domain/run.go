package domain

import (
	"context"
	"fmt"
	"time"
)

// RunStatus defines the overall status of an update run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	// RunStatusSkipped marks a dispatch that found another run holding the
	// run lock and was dropped instead of queued.
	RunStatusSkipped RunStatus = "skipped"
)

// Trigger identifies how a run was started.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerSchedule Trigger = "schedule"
)

// StepStatus defines the status of a single pipeline step.
type StepStatus string

const (
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
)

// StepResult records the outcome of one pipeline step within a run.
type StepResult struct {
	Name      string     `json:"name"`
	Status    StepStatus `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
	Output    string     `json:"output,omitempty"` // tail of combined stdout/stderr
	Error     string     `json:"error,omitempty"`
}

// Run represents a single execution instance of the update job.
type Run struct {
	ID        string       `json:"id"`
	JobName   string       `json:"job_name"`
	Trigger   Trigger      `json:"trigger"`
	Period    Period       `json:"period"`
	Status    RunStatus    `json:"status"`
	Steps     []StepResult `json:"steps,omitempty"`
	Commit    string       `json:"commit,omitempty"` // hash of the commit produced, if any
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time"`
	Error     string       `json:"error,omitempty"`
}

// Validate checks if the run record is valid.
func (r *Run) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("run ID cannot be empty")
	}
	if r.JobName == "" {
		return fmt.Errorf("run job name cannot be empty")
	}
	if r.StartTime.IsZero() {
		return fmt.Errorf("run start time cannot be zero")
	}
	if r.Status == "" {
		return fmt.Errorf("run status cannot be empty")
	}
	return nil
}

// Step is a single stage of the update pipeline. Output is the captured
// command output, kept for the run record.
type Step interface {
	Name() string
	Execute(ctx context.Context) (output string, err error)
}
