package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/trainctl/trainctl/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store
type MemoryStore struct {
	mu      sync.RWMutex
	nodes   map[string]*models.Node
	runs    map[string]*models.Run
	nextSeq int
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:   make(map[string]*models.Node),
		runs:    make(map[string]*models.Run),
		nextSeq: 1,
	}
}

// Node operations

// RegisterNode adds or updates a node in the store
func (s *MemoryStore) RegisterNode(node *models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[node.ID] = node
	return nil
}

// GetNode retrieves a node by ID
func (s *MemoryStore) GetNode(id string) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return node, nil
}

// GetAllNodes returns all registered nodes
func (s *MemoryStore) GetAllNodes() []*models.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*models.Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		nodes = append(nodes, node)
	}
	return nodes
}

// UpdateNodeStatus updates the status of a node
func (s *MemoryStore) UpdateNodeStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}

	node.Status = status
	node.LastHeartbeat = time.Now()
	return nil
}

// UpdateNodeHeartbeat updates the last heartbeat time for a node
func (s *MemoryStore) UpdateNodeHeartbeat(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}

	node.LastHeartbeat = time.Now()
	return nil
}

// DeleteNode removes a node from the store
func (s *MemoryStore) DeleteNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[id]; !ok {
		return ErrNodeNotFound
	}
	delete(s.nodes, id)
	return nil
}

// Run operations

// CreateRun adds a new run to the store
func (s *MemoryStore) CreateRun(run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.SequenceNumber == 0 {
		run.SequenceNumber = s.nextSeq
		s.nextSeq++
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	s.runs[run.ID] = run
	return nil
}

// GetRun retrieves a run by ID
func (s *MemoryStore) GetRun(id string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// GetAllRuns returns all runs, newest first
func (s *MemoryStore) GetAllRuns() []*models.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*models.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs
}

// GetRuns returns runs filtered by status; empty status means all
func (s *MemoryStore) GetRuns(status string) ([]*models.Run, error) {
	all := s.GetAllRuns()
	if status == "" {
		return all, nil
	}

	var runs []*models.Run
	for _, run := range all {
		if string(run.Status) == status {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

// GetNextRun picks the best queued run the node can fit and assigns it.
// Ordering: queue class, then priority, then submission order.
func (s *MemoryStore) GetNextRun(nodeID string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return nil, ErrNodeNotFound
	}

	var candidates []*models.Run
	for _, run := range s.runs {
		if run.Status != models.RunStatusPending && run.Status != models.RunStatusQueued {
			continue
		}
		if !node.CanFit(run.Spec.GPUsRequired()) {
			continue
		}
		candidates = append(candidates, run)
	}
	if len(candidates) == 0 {
		return nil, ErrRunNotFound
	}

	sort.Slice(candidates, func(i, j int) bool {
		wi, wj := scheduleWeight(candidates[i]), scheduleWeight(candidates[j])
		if wi != wj {
			return wi > wj
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	run := candidates[0]
	now := time.Now()
	run.StateTransitions = append(run.StateTransitions, models.StateTransition{
		From:      run.Status,
		To:        models.RunStatusAssigned,
		Timestamp: now,
		Reason:    fmt.Sprintf("Assigned to node %s", nodeID),
	})
	run.Status = models.RunStatusAssigned
	run.NodeID = nodeID
	run.NodeName = node.Name
	run.StartedAt = &now
	run.LastActivityAt = &now

	node.Status = "busy"
	node.CurrentRunID = run.ID

	return run, nil
}

// scheduleWeight orders runs: queue class dominates, priority breaks ties
func scheduleWeight(run *models.Run) int {
	queue := 2 // default
	switch run.Queue {
	case "interactive":
		queue = 3
	case "sweep":
		queue = 1
	}

	priority := 2 // medium
	switch run.Priority {
	case "high":
		priority = 3
	case "low":
		priority = 1
	}

	return queue*10 + priority
}

// UpdateRun replaces a stored run
func (s *MemoryStore) UpdateRun(run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRunStatus updates the status of a run
func (s *MemoryStore) UpdateRunStatus(id string, status models.RunStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}

	run.Status = status
	if errorMsg != "" {
		run.Error = errorMsg
	}

	if models.IsTerminalState(status) || status == models.RunStatusTimedOut {
		now := time.Now()
		run.CompletedAt = &now
		s.releaseNodeLocked(run)
	}

	return nil
}

// UpdateRunEpoch records the latest completed epoch for a run
func (s *MemoryStore) UpdateRunEpoch(id string, epoch int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}

	if epoch > run.Epoch {
		run.Epoch = epoch
	}
	now := time.Now()
	run.LastActivityAt = &now
	return nil
}

// UpdateRunActivity bumps the activity timestamp for a run
func (s *MemoryStore) UpdateRunActivity(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}

	now := time.Now()
	run.LastActivityAt = &now
	return nil
}

// DeleteRun removes a run from the store
func (s *MemoryStore) DeleteRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return ErrRunNotFound
	}
	delete(s.runs, id)
	return nil
}

// AddStateTransition validates and records a state transition
func (s *MemoryStore) AddStateTransition(id string, from, to models.RunStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}

	if err := models.ValidateTransition(from, to); err != nil {
		return err
	}

	run.StateTransitions = append(run.StateTransitions, models.StateTransition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	})
	run.Status = to
	return nil
}

// CancelRun cancels a run and frees its node
func (s *MemoryStore) CancelRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}

	if models.IsTerminalState(run.Status) {
		return fmt.Errorf("cannot cancel run in status: %s", run.Status)
	}

	now := time.Now()
	run.StateTransitions = append(run.StateTransitions, models.StateTransition{
		From:      run.Status,
		To:        models.RunStatusCanceled,
		Timestamp: now,
		Reason:    "User requested cancel",
	})
	run.Status = models.RunStatusCanceled
	run.CompletedAt = &now
	s.releaseNodeLocked(run)

	return nil
}

// RetryRun requeues a run: increments retry count, clears assignment
func (s *MemoryStore) RetryRun(id string, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}

	s.releaseNodeLocked(run)

	run.StateTransitions = append(run.StateTransitions, models.StateTransition{
		From:      run.Status,
		To:        models.RunStatusQueued,
		Timestamp: time.Now(),
		Reason:    "Retry: " + errorMsg,
	})
	run.Status = models.RunStatusQueued
	run.RetryCount++
	run.NodeID = ""
	run.NodeName = ""
	run.StartedAt = nil
	run.Error = errorMsg
	return nil
}

// GetRunsInState returns all runs in a specific state
func (s *MemoryStore) GetRunsInState(state models.RunStatus) ([]*models.Run, error) {
	return s.GetRuns(string(state))
}

// GetOrphanedRuns returns active runs whose node stopped heartbeating
func (s *MemoryStore) GetOrphanedRuns(workerTimeout time.Duration) ([]*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-workerTimeout)
	var orphaned []*models.Run
	for _, run := range s.runs {
		if !models.IsActiveState(run.Status) {
			continue
		}
		node, ok := s.nodes[run.NodeID]
		if !ok || node.LastHeartbeat.Before(cutoff) {
			orphaned = append(orphaned, run)
		}
	}
	return orphaned, nil
}

// releaseNodeLocked marks the run's node available again. Caller holds mu.
func (s *MemoryStore) releaseNodeLocked(run *models.Run) {
	if run.NodeID == "" {
		return
	}
	if node, ok := s.nodes[run.NodeID]; ok && node.CurrentRunID == run.ID {
		node.Status = "available"
		node.CurrentRunID = ""
	}
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

// HealthCheck is a no-op for the memory store
func (s *MemoryStore) HealthCheck() error {
	return nil
}

// GetRunMetrics aggregates run statistics
func (s *MemoryStore) GetRunMetrics() (*RunMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics := &RunMetrics{
		RunsByState: make(map[models.RunStatus]int),
		QueueDepth:  make(map[string]int),
	}

	var totalDuration float64
	var completed int
	for _, run := range s.runs {
		metrics.TotalRuns++
		metrics.RunsByState[run.Status]++

		if models.IsActiveState(run.Status) {
			metrics.ActiveRuns++
		}
		if run.Status == models.RunStatusPending || run.Status == models.RunStatusQueued {
			metrics.QueueLength++
			metrics.GPUDemand += run.Spec.GPUsRequired()
			queue := run.Queue
			if queue == "" {
				queue = "default"
			}
			metrics.QueueDepth[queue]++
		}
		if run.Status == models.RunStatusCompleted && run.StartedAt != nil && run.CompletedAt != nil {
			totalDuration += run.CompletedAt.Sub(*run.StartedAt).Seconds()
			completed++
		}
	}
	if completed > 0 {
		metrics.AvgDurationSec = totalDuration / float64(completed)
	}

	return metrics, nil
}

// Ensure implementation satisfies the interface
var _ Store = (*MemoryStore)(nil)
