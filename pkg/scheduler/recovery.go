package scheduler

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/trainctl/trainctl/pkg/models"
	"github.com/trainctl/trainctl/pkg/store"
)

// RecoveryManager handles run recovery and reassignment after node failures
type RecoveryManager struct {
	store                store.Store
	retryPolicy          *models.RetryPolicy
	nodeFailureThreshold time.Duration
}

// NewRecoveryManager creates a new RecoveryManager
func NewRecoveryManager(st store.Store, policy *models.RetryPolicy, nodeFailureThreshold time.Duration) *RecoveryManager {
	if policy == nil {
		policy = models.DefaultRetryPolicy()
	}
	if nodeFailureThreshold <= 0 {
		// 90s = 3 missed heartbeats @ 30s interval
		nodeFailureThreshold = 90 * time.Second
	}
	return &RecoveryManager{
		store:                st,
		retryPolicy:          policy,
		nodeFailureThreshold: nodeFailureThreshold,
	}
}

// RunRecoveryCheck performs a complete recovery cycle
func (rm *RecoveryManager) RunRecoveryCheck() {
	rm.DetectDeadNodes()
	rm.ReassignOrphanedRuns()
	rm.RecoverFailedRuns()
}

// DetectDeadNodes marks nodes that stopped heartbeating as offline
func (rm *RecoveryManager) DetectDeadNodes() []string {
	var deadNodes []string
	now := time.Now()

	for _, node := range rm.store.GetAllNodes() {
		if node.Status == "offline" {
			continue
		}

		silence := now.Sub(node.LastHeartbeat)
		if silence <= rm.nodeFailureThreshold {
			continue
		}

		log.Printf("Recovery: node %s (%s) silent for %v (threshold %v), marking offline",
			node.Name, node.Address, silence.Round(time.Second), rm.nodeFailureThreshold)
		deadNodes = append(deadNodes, node.ID)

		if err := rm.store.UpdateNodeStatus(node.ID, "offline"); err != nil {
			log.Printf("Recovery: failed to mark node %s offline: %v", node.ID, err)
		}
	}

	return deadNodes
}

// ReassignOrphanedRuns requeues active runs whose node vanished or stopped
// heartbeating. The training checkpoint stays on the node; a requeued run
// starts over unless its spec resumes from shared storage.
func (rm *RecoveryManager) ReassignOrphanedRuns() int {
	orphaned, err := rm.store.GetOrphanedRuns(rm.nodeFailureThreshold)
	if err != nil {
		log.Printf("Recovery: failed to query orphaned runs: %v", err)
		return 0
	}

	reassigned := 0
	for _, run := range orphaned {
		if !rm.retryPolicy.ShouldRetry(run, "worker_died") {
			log.Printf("Recovery: run %s (seq#%d) on dead node %s is out of retries, failing",
				run.ID, run.SequenceNumber, run.NodeID)
			if err := rm.store.UpdateRunStatus(run.ID, models.RunStatusFailed,
				fmt.Sprintf("node %s died, retries exhausted", run.NodeID)); err != nil {
				log.Printf("Recovery: failed to fail run %s: %v", run.ID, err)
			}
			continue
		}

		log.Printf("Recovery: requeuing run %s (seq#%d) from dead node %s",
			run.ID, run.SequenceNumber, run.NodeID)
		if err := rm.store.RetryRun(run.ID, fmt.Sprintf("reassigned from dead node %s", run.NodeID)); err != nil {
			log.Printf("Recovery: failed to requeue run %s: %v", run.ID, err)
			continue
		}
		reassigned++
	}

	if reassigned > 0 {
		log.Printf("Recovery: requeued %d runs from dead nodes", reassigned)
	}
	return reassigned
}

// RecoverFailedRuns retries failed and timed out runs with transient errors
func (rm *RecoveryManager) RecoverFailedRuns() {
	recovered := 0

	for _, run := range rm.store.GetAllRuns() {
		if run.Status != models.RunStatusFailed && run.Status != models.RunStatusTimedOut {
			continue
		}

		if run.RetryCount >= rm.retryPolicy.MaxRetries {
			continue
		}
		if !isTransientFailure(run) {
			continue
		}

		backoff := rm.retryPolicy.CalculateBackoff(run.RetryCount)
		if run.CompletedAt != nil && time.Since(*run.CompletedAt) < backoff {
			continue // still inside the backoff window
		}

		log.Printf("Recovery: retrying run %s (seq#%d), attempt %d/%d",
			run.ID, run.SequenceNumber, run.RetryCount+1, rm.retryPolicy.MaxRetries)
		if err := rm.store.RetryRun(run.ID, fmt.Sprintf("retry after transient failure: %s", run.Error)); err != nil {
			log.Printf("Recovery: failed to retry run %s: %v", run.ID, err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		log.Printf("Recovery: recovered %d runs for retry", recovered)
	}
}

// isTransientFailure checks whether a run failure was likely transient.
// Training errors like CUDA OOM or a bad dataset path repeat identically on
// retry, so only infrastructure errors qualify.
func isTransientFailure(run *models.Run) bool {
	if run.Status == models.RunStatusTimedOut {
		return true
	}
	if run.Error == "" {
		return false
	}

	transientPatterns := []string{
		"connection refused",
		"timeout",
		"temporary failure",
		"network error",
		"no such host",
		"broken pipe",
		"connection reset",
		"node unavailable",
		"worker died",
		"nccl",
	}

	errLower := strings.ToLower(run.Error)
	for _, pattern := range transientPatterns {
		if strings.Contains(errLower, pattern) {
			return true
		}
	}

	return false
}
