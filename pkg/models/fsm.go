package models

import (
	"fmt"
	"strings"
	"time"
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[RunStatus]map[RunStatus]bool{
	RunStatusQueued: {
		RunStatusAssigned: true, // worker picks up run
		RunStatusCanceled: true, // user cancels
		RunStatusRetrying: true, // immediate retry scheduling
	},
	RunStatusAssigned: {
		RunStatusRunning:  true, // launcher started
		RunStatusRetrying: true, // worker died before starting
		RunStatusFailed:   true, // assignment validation failed
		RunStatusCanceled: true, // user cancels
		RunStatusTimedOut: true, // stuck in assigned state
	},
	RunStatusRunning: {
		RunStatusCompleted: true, // training finished
		RunStatusFailed:    true, // launcher exited non-zero
		RunStatusTimedOut:  true, // exceeded time limit
		RunStatusRetrying:  true, // worker died mid-run
		RunStatusCanceled:  true, // user cancels
	},
	RunStatusRetrying: {
		RunStatusQueued:   true, // ready for reassignment
		RunStatusFailed:   true, // max retries exceeded
		RunStatusCanceled: true, // user cancels
	},
	RunStatusTimedOut: {
		RunStatusRetrying: true,
		RunStatusFailed:   true,
	},
	// Terminal states (no transitions allowed)
	RunStatusCompleted: {},
	RunStatusFailed:    {},
	RunStatusCanceled:  {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to RunStatus) error {
	from = normalizeState(from)
	to = normalizeState(to)

	allowedStates, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}

	if !allowedStates[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}

	return nil
}

// normalizeState maps the pre-scheduler pending state into the FSM
func normalizeState(state RunStatus) RunStatus {
	if state == RunStatusPending {
		return RunStatusQueued
	}
	return state
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state RunStatus) bool {
	state = normalizeState(state)
	return state == RunStatusCompleted || state == RunStatusFailed || state == RunStatusCanceled
}

// IsActiveState returns true if the run is actively being processed
func IsActiveState(state RunStatus) bool {
	state = normalizeState(state)
	return state == RunStatusAssigned || state == RunStatusRunning
}

// CanRetry returns true if the run can be retried from this state
func CanRetry(state RunStatus) bool {
	state = normalizeState(state)
	return state == RunStatusFailed || state == RunStatusTimedOut
}

// RunTimeout holds timeout configuration for runs
type RunTimeout struct {
	PerEpoch        time.Duration // budget per training epoch
	SemiFactor      float64       // multiplier for semi-supervised runs (pseudo-label pass)
	DefaultTimeout  time.Duration // timeout when epoch count unknown
	AssignedTimeout time.Duration // max time a run can sit in assigned state
}

// DefaultRunTimeout returns default timeout configuration
func DefaultRunTimeout() *RunTimeout {
	return &RunTimeout{
		PerEpoch:        30 * time.Minute,
		SemiFactor:      1.5,
		DefaultTimeout:  12 * time.Hour,
		AssignedTimeout: 5 * time.Minute,
	}
}

// CalculateTimeout calculates the execution timeout for a run.
func (rt *RunTimeout) CalculateTimeout(run *Run) time.Duration {
	if run.Status == RunStatusAssigned {
		return rt.AssignedTimeout
	}

	if run.Spec.Epochs <= 0 {
		return rt.DefaultTimeout
	}

	timeout := time.Duration(run.Spec.Epochs) * rt.PerEpoch
	if run.Spec.DoSemi {
		timeout = time.Duration(float64(timeout) * rt.SemiFactor)
	}
	return timeout
}

// RetryPolicy defines retry behavior
type RetryPolicy struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy returns default retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:        3,
		InitialBackoff:    15 * time.Second,
		MaxBackoff:        10 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// CalculateBackoff calculates the backoff duration for a given retry count
func (rp *RetryPolicy) CalculateBackoff(retryCount int) time.Duration {
	if retryCount <= 0 {
		return rp.InitialBackoff
	}

	backoff := float64(rp.InitialBackoff)
	for i := 0; i < retryCount; i++ {
		backoff *= rp.BackoffMultiplier
	}

	duration := time.Duration(backoff)
	if duration > rp.MaxBackoff {
		return rp.MaxBackoff
	}
	return duration
}

// ShouldRetry determines if a run should be retried
func (rp *RetryPolicy) ShouldRetry(run *Run, reason string) bool {
	if run.RetryCount >= rp.MaxRetries {
		return false
	}

	if run.Status == RunStatusCanceled {
		return false
	}

	// CUDA OOM and bad configs fail the same way every time
	if run.Error != "" && strings.Contains(run.Error, "non-retryable") {
		return false
	}

	return CanRetry(run.Status) || reason == "worker_died" || reason == "worker_timeout"
}
