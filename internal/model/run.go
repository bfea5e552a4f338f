package model

import "time"

// RunStatus represents the current state of an annotation run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is the persisted summary of one pipeline invocation.
type Run struct {
	ID           string    `json:"id"`
	SequenceID   string    `json:"sequence_id,omitempty"`
	Target       Scale     `json:"target"`
	Status       RunStatus `json:"status"`
	Plan         []string  `json:"plan"`
	Error        string    `json:"error,omitempty"`
	FeatureCount int       `json:"feature_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RunResult is the outcome recorded when a run finishes.
type RunResult struct {
	Status       RunStatus `json:"status"`
	Plan         []string  `json:"plan"`
	FeatureCount int       `json:"feature_count"`
	Error        string    `json:"error,omitempty"`
}

// Done reports whether the run has reached a terminal status.
func (r Run) Done() bool {
	return r.Status != RunStatusRunning
}
