package domain

import "time"

// Run status constants.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// Step status constants. A step moves through these states in order; a
// failure at any stage is terminal for that step.
const (
	StepStatusNotStarted = "NOT_STARTED"
	StepStatusResolving  = "RESOLVING"
	StepStatusResolved   = "RESOLVED"
	StepStatusRunning    = "RUNNING"
	StepStatusValidated  = "VALIDATED"
	StepStatusSaved      = "SAVED"
	StepStatusUpToDate   = "UP_TO_DATE"
	StepStatusFailed     = "FAILED"
	StepStatusSkipped    = "SKIPPED"
)

// Run is one invocation of the step runner.
type Run struct {
	ID         string
	Selector   string
	Force      bool
	Status     string
	Error      *string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// StepRun is the outcome of one step within a run.
type StepRun struct {
	ID         string
	RunID      string
	StepURI    string
	Tier       int
	Checksum   string
	Status     string
	Error      *string
	DurationMs int64
	CreatedAt  time.Time
}
