package domain

import (
	"fmt"
	"time"
)

// Period selects which financial-statement refresh the collection script runs.
type Period string

const (
	PeriodQuarterly Period = "quarterly"
	PeriodAnnual    Period = "annual"
)

// Flag returns the command-line flag the collection script expects for the period.
func (p Period) Flag() string {
	if p == PeriodAnnual {
		return "-a"
	}
	return "-q"
}

// UpdateJob describes the repository update pipeline: which repository to
// check out, which interpreter and scripts to run, and how the resulting
// changes are committed back.
type UpdateJob struct {
	Name            string        `json:"name"`
	RepoURL         string        `json:"repo_url"`
	Branch          string        `json:"branch"`
	Workdir         string        `json:"workdir"`
	Python          string        `json:"python"`           // interpreter binary, e.g. "python3"
	Requirements    string        `json:"requirements"`     // dependency manifest, relative to the working copy
	CheckerScript   string        `json:"checker_script"`   // format validation script
	CollectorScript string        `json:"collector_script"` // data collection script
	Period          Period        `json:"period"`
	Schedule        string        `json:"schedule,omitempty"` // optional cron expression
	CommitAuthor    string        `json:"commit_author"`
	CommitEmail     string        `json:"commit_email"`
	CommitMessage   string        `json:"commit_message"`
	StepTimeout     time.Duration `json:"step_timeout"`
}

// Validate checks the job definition and fills in defaults.
func (j *UpdateJob) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	if j.RepoURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if j.Workdir == "" {
		return fmt.Errorf("working copy path cannot be empty")
	}
	if j.CheckerScript == "" {
		return fmt.Errorf("checker script cannot be empty")
	}
	if j.CollectorScript == "" {
		return fmt.Errorf("collector script cannot be empty")
	}
	switch j.Period {
	case PeriodQuarterly, PeriodAnnual:
	case "":
		j.Period = PeriodQuarterly
	default:
		return fmt.Errorf("invalid period: %s", j.Period)
	}
	if j.Branch == "" {
		j.Branch = "main"
	}
	if j.Python == "" {
		j.Python = "python3"
	}
	if j.Requirements == "" {
		j.Requirements = "requirements.txt"
	}
	if j.CommitAuthor == "" {
		j.CommitAuthor = "GitHub Action"
	}
	if j.CommitEmail == "" {
		j.CommitEmail = "action@github.com"
	}
	if j.CommitMessage == "" {
		j.CommitMessage = "updated logs"
	}
	if j.StepTimeout <= 0 {
		j.StepTimeout = 30 * time.Minute
	}
	return nil
}
