package model

// CaseStatus represents the lifecycle state of a test case instance.
type CaseStatus string

const (
	CaseStatusPending             CaseStatus = "pending"
	CaseStatusAwaitingEnvironment CaseStatus = "awaiting-environment"
	CaseStatusRunning             CaseStatus = "running"
	CaseStatusPassed              CaseStatus = "passed"
	CaseStatusFailed              CaseStatus = "failed"
)

// String returns the string representation of the case status.
func (s CaseStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the case has concluded.
func (s CaseStatus) IsTerminal() bool {
	switch s {
	case CaseStatusPassed, CaseStatusFailed:
		return true
	}
	return false
}

// ValidCaseTransitions defines the allowed status transitions for test cases.
// Provisioning may fail before a case ever runs, hence awaiting-environment → failed.
var ValidCaseTransitions = map[CaseStatus][]CaseStatus{
	CaseStatusPending:             {CaseStatusAwaitingEnvironment},
	CaseStatusAwaitingEnvironment: {CaseStatusRunning, CaseStatusFailed},
	CaseStatusRunning:             {CaseStatusPassed, CaseStatusFailed},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s CaseStatus) CanTransitionTo(next CaseStatus) bool {
	for _, allowed := range ValidCaseTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RunState represents the state of the batch scheduler.
type RunState string

const (
	RunStateIdle     RunState = "idle"
	RunStateRunning  RunState = "running"
	RunStateDraining RunState = "draining"
	RunStateHalted   RunState = "halted"
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	return string(s)
}

// RunOutcome is the persisted outcome of a whole run.
type RunOutcome string

const (
	RunOutcomeRunning RunOutcome = "running"
	RunOutcomePassed  RunOutcome = "passed"
	RunOutcomeFailed  RunOutcome = "failed"
	RunOutcomeHalted  RunOutcome = "halted"
	RunOutcomeStopped RunOutcome = "stopped"
)

// IsTerminal returns true if the run has finished.
func (o RunOutcome) IsTerminal() bool {
	return o != RunOutcomeRunning && o != ""
}
