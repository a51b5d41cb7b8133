package scheduler

import (
	"testing"
	"time"

	"github.com/trainctl/trainctl/pkg/models"
	"github.com/trainctl/trainctl/pkg/store"
)

func TestGetQueueWeight(t *testing.T) {
	tests := []struct {
		queue string
		want  int
	}{
		{"interactive", 10},
		{"default", 5},
		{"sweep", 1},
		{"", 5},
		{"unknown", 5},
	}

	for _, tt := range tests {
		if got := GetQueueWeight(tt.queue); got != tt.want {
			t.Errorf("GetQueueWeight(%q) = %d, want %d", tt.queue, got, tt.want)
		}
	}
}

func TestSortRunsByPriority(t *testing.T) {
	base := time.Now().Add(-time.Hour)

	mk := func(id, queue, priority string, age time.Duration) *models.Run {
		run := queuedRun(id, 10)
		run.Queue = queue
		run.Priority = priority
		run.CreatedAt = base.Add(age)
		return run
	}

	runs := []*models.Run{
		mk("sweep-high", "sweep", "high", 0),
		mk("default-old", "default", "medium", time.Minute),
		mk("default-new", "default", "medium", 2*time.Minute),
		mk("interactive-low", "interactive", "low", 3*time.Minute),
		mk("default-high", "default", "high", 4*time.Minute),
	}

	pqm := NewPriorityQueueManager(store.NewMemoryStore())
	sorted := pqm.SortRunsByPriority(runs)

	want := []string{"interactive-low", "default-high", "default-old", "default-new", "sweep-high"}
	for i, expected := range want {
		if sorted[i].ID != expected {
			t.Errorf("position %d: got %s, want %s", i, sorted[i].ID, expected)
		}
	}
}

func TestNextRunForNodeHonorsGPUFit(t *testing.T) {
	st := store.NewMemoryStore()
	pqm := NewPriorityQueueManager(st)

	big := queuedRun("big", 10)
	big.Spec.NprocPerNode = 4
	big.Queue = "interactive"
	big.CreatedAt = time.Now().Add(-time.Hour)

	small := queuedRun("small", 10)

	for _, r := range []*models.Run{big, small} {
		if err := st.CreateRun(r); err != nil {
			t.Fatal(err)
		}
	}

	node := &models.Node{ID: "n1", GPUCount: 1}
	next := pqm.NextRunForNode(node)
	if next == nil || next.ID != "small" {
		t.Fatalf("expected the 1-GPU run, got %v", next)
	}

	bigNode := &models.Node{ID: "n2", GPUCount: 8}
	next = pqm.NextRunForNode(bigNode)
	if next == nil || next.ID != "big" {
		t.Fatalf("expected the interactive run on the big node, got %v", next)
	}
}

func TestGetQueueStats(t *testing.T) {
	st := store.NewMemoryStore()
	pqm := NewPriorityQueueManager(st)

	r1 := queuedRun("r1", 10)
	r1.Queue = "sweep"
	r1.Priority = "low"
	r2 := queuedRun("r2", 10)

	done := queuedRun("done", 10)
	done.Status = models.RunStatusCompleted

	for _, r := range []*models.Run{r1, r2, done} {
		if err := st.CreateRun(r); err != nil {
			t.Fatal(err)
		}
	}

	stats := pqm.GetQueueStats()
	if stats["total"] != 2 {
		t.Errorf("total = %d, want 2", stats["total"])
	}
	if stats["sweep_low"] != 1 {
		t.Errorf("sweep_low = %d, want 1", stats["sweep_low"])
	}
	if stats["default_medium"] != 1 {
		t.Errorf("default_medium = %d, want 1", stats["default_medium"])
	}
}
