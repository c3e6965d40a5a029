package http

import (
	"update-runner/internal/domain"
)

// DispatchRunRequest is the DTO for manually dispatching a run. The body may
// be empty, in which case the configured job period is used.
type DispatchRunRequest struct {
	Period string `json:"period" validate:"omitempty,oneof=quarterly annual"`
}

// ToPeriod converts the request period, empty meaning the job default.
func (r *DispatchRunRequest) ToPeriod() domain.Period {
	return domain.Period(r.Period)
}

// DispatchRunResponse is returned for accepted and skipped dispatches.
type DispatchRunResponse struct {
	RunID  string           `json:"run_id"`
	Status domain.RunStatus `json:"status"`
}
