package model

import "time"

// Run is one invocation of the batch scheduler over a suite.
type Run struct {
	ID          string     `json:"id"`
	Suite       string     `json:"suite"`
	Outcome     RunOutcome `json:"outcome"`
	HaltOnError bool       `json:"halt_on_error"`
	Ticks       int        `json:"ticks"`
	Summary     RunSummary `json:"summary"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// RunSummary aggregates case outcomes for a run.
type RunSummary struct {
	Total          int `json:"total"`
	Passed         int `json:"passed"`
	FailedRequired int `json:"failed_required"`
	FailedOptional int `json:"failed_optional"`
	Reruns         int `json:"reruns"`
	Batches        int `json:"batches"`
}

// Failed returns the number of failed cases, required or not.
func (s RunSummary) Failed() int {
	return s.FailedRequired + s.FailedOptional
}

// CaseResult is the persisted terminal record of one case instance.
type CaseResult struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	Name       string     `json:"name"`
	Batch      string     `json:"batch"`
	Status     CaseStatus `json:"status"`
	Required   bool       `json:"required"`
	Attempt    int        `json:"attempt"`
	RerunOf    string     `json:"rerun_of,omitempty"`
	Error      string     `json:"error,omitempty"`
	Ticks      int        `json:"ticks"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// ComputeRunSummary derives a summary from recorded case results. A result
// that was superseded by a rerun counts only toward Reruns, so a case that
// failed once and passed on retry is reported as passed.
// Batches is not derivable from results and is left zero.
func ComputeRunSummary(results []*CaseResult) RunSummary {
	superseded := make(map[string]bool)
	for _, r := range results {
		if r.RerunOf != "" {
			superseded[r.RerunOf] = true
		}
	}

	var s RunSummary
	for _, r := range results {
		if r.RerunOf != "" {
			s.Reruns++
		}
		if superseded[r.ID] {
			continue
		}
		s.Total++
		switch {
		case r.Status == CaseStatusPassed:
			s.Passed++
		case r.Status == CaseStatusFailed && r.Required:
			s.FailedRequired++
		case r.Status == CaseStatusFailed:
			s.FailedOptional++
		}
	}
	return s
}
