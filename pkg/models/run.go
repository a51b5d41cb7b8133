package models

import (
	"time"

	"github.com/trainctl/trainctl/pkg/experiment"
)

// RunStatus represents the status of a training run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusQueued    RunStatus = "queued"
	RunStatusAssigned  RunStatus = "assigned"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusTimedOut  RunStatus = "timed_out"
	RunStatusRetrying  RunStatus = "retrying"
	RunStatusCanceled  RunStatus = "canceled"
)

// Run represents a training run executed on a GPU node
type Run struct {
	ID               string            `json:"id"`
	SequenceNumber   int               `json:"sequence_number,omitempty"`
	Experiment       string            `json:"experiment"` // preset or manifest name
	Spec             experiment.Spec   `json:"spec"`
	Status           RunStatus         `json:"status"`
	Queue            string            `json:"queue,omitempty"`    // "interactive", "default", "sweep"
	Priority         string            `json:"priority,omitempty"` // "high", "medium", "low"
	Epoch            int               `json:"epoch,omitempty"`    // last reported epoch (0-based)
	NodeID           string            `json:"node_id,omitempty"`
	NodeName         string            `json:"node_name,omitempty"`
	RunDir           string            `json:"run_dir,omitempty"` // save directory on the node
	CreatedAt        time.Time         `json:"created_at"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	LastActivityAt   *time.Time        `json:"last_activity_at,omitempty"`
	RetryCount       int               `json:"retry_count"`
	Error            string            `json:"error,omitempty"`
	Logs             string            `json:"logs,omitempty"` // console log tail reported by the agent
	StateTransitions []StateTransition `json:"state_transitions,omitempty"`
}

// RunRequest represents a request to create a new run
type RunRequest struct {
	Experiment string          `json:"experiment"`
	Spec       experiment.Spec `json:"spec"`
	Queue      string          `json:"queue,omitempty"`
	Priority   string          `json:"priority,omitempty"`
}

// RunResult represents the outcome of a finished run as reported by an agent
type RunResult struct {
	RunID        string     `json:"run_id"`
	NodeID       string     `json:"node_id"`
	Status       RunStatus  `json:"status"`
	ExitCode     int        `json:"exit_code"`
	FinalEpoch   int        `json:"final_epoch,omitempty"`
	BestFitness  float64    `json:"best_fitness,omitempty"`
	RunDir       string     `json:"run_dir,omitempty"`
	BestWeights  string     `json:"best_weights,omitempty"` // path to best.pt if produced
	LastWeights  string     `json:"last_weights,omitempty"` // path to last.pt if produced
	Duration     float64    `json:"duration_seconds"`
	Error        string     `json:"error,omitempty"`
	Logs         string     `json:"logs,omitempty"` // console log tail
	CompletedAt  time.Time  `json:"completed_at"`
}

// StateTransition tracks run state changes with timestamps
type StateTransition struct {
	From      RunStatus `json:"from"`
	To        RunStatus `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Progress returns completed epochs as a 0-100 percentage.
func (r *Run) Progress() int {
	if r.Spec.Epochs <= 0 {
		return 0
	}
	if r.Status == RunStatusCompleted {
		return 100
	}
	p := r.Epoch * 100 / r.Spec.Epochs
	if p > 100 {
		p = 100
	}
	return p
}
