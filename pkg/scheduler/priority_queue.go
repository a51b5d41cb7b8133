package scheduler

import (
	"sort"

	"github.com/trainctl/trainctl/pkg/models"
	"github.com/trainctl/trainctl/pkg/store"
)

// PriorityQueueManager manages run prioritization
type PriorityQueueManager struct {
	store store.Store
}

// NewPriorityQueueManager creates a new PriorityQueueManager
func NewPriorityQueueManager(st store.Store) *PriorityQueueManager {
	return &PriorityQueueManager{
		store: st,
	}
}

// GetPriorityWeight returns numeric weight for priority levels
func GetPriorityWeight(priority string) int {
	switch priority {
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	default:
		return 2 // Default to medium
	}
}

// GetQueueWeight returns numeric weight for queue classes
func GetQueueWeight(queue string) int {
	switch queue {
	case "interactive":
		return 10 // debugging sessions jump the line
	case "default":
		return 5
	case "sweep":
		return 1 // hyperparameter sweeps soak up leftover capacity
	default:
		return 5
	}
}

// SortRunsByPriority sorts runs by queue class, then priority, then FIFO
func (pqm *PriorityQueueManager) SortRunsByPriority(runs []*models.Run) []*models.Run {
	if len(runs) == 0 {
		return runs
	}

	sorted := make([]*models.Run, len(runs))
	copy(sorted, runs)

	sort.Slice(sorted, func(i, j int) bool {
		scoreI := GetQueueWeight(sorted[i].Queue)*10 + GetPriorityWeight(sorted[i].Priority)
		scoreJ := GetQueueWeight(sorted[j].Queue)*10 + GetPriorityWeight(sorted[j].Priority)

		if scoreI != scoreJ {
			return scoreI > scoreJ
		}

		// Same score: older runs go first
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	return sorted
}

// NextRunForNode returns the highest priority queued run the node can fit,
// without assigning it. Assignment happens through store.GetNextRun.
func (pqm *PriorityQueueManager) NextRunForNode(node *models.Node) *models.Run {
	eligible := pqm.eligibleRuns()
	if len(eligible) == 0 {
		return nil
	}

	for _, run := range pqm.SortRunsByPriority(eligible) {
		if node.CanFit(run.Spec.GPUsRequired()) {
			return run
		}
	}
	return nil
}

func (pqm *PriorityQueueManager) eligibleRuns() []*models.Run {
	var eligible []*models.Run
	for _, run := range pqm.store.GetAllRuns() {
		if run.Status == models.RunStatusQueued || run.Status == models.RunStatusPending {
			eligible = append(eligible, run)
		}
	}
	return eligible
}

// GetQueueStats returns queued run counts keyed by queue_priority
func (pqm *PriorityQueueManager) GetQueueStats() map[string]int {
	stats := make(map[string]int)

	for _, run := range pqm.eligibleRuns() {
		queue := run.Queue
		if queue == "" {
			queue = "default"
		}
		priority := run.Priority
		if priority == "" {
			priority = "medium"
		}
		stats[queue+"_"+priority]++
		stats["total"]++
	}

	return stats
}
