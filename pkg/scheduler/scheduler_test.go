package scheduler

import (
	"testing"
	"time"

	"github.com/trainctl/trainctl/pkg/experiment"
	"github.com/trainctl/trainctl/pkg/models"
	"github.com/trainctl/trainctl/pkg/store"
)

func queuedRun(id string, epochs int) *models.Run {
	spec := experiment.Spec{
		Data:   "data/voc.yaml",
		Batch:  16,
		Epochs: epochs,
	}
	spec.Normalize()
	return &models.Run{
		ID:         id,
		Experiment: "single-gpu",
		Spec:       spec,
		Status:     models.RunStatusQueued,
		CreatedAt:  time.Now(),
	}
}

func TestProcessPendingRuns(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, time.Minute)

	run := queuedRun("r1", 10)
	run.Status = models.RunStatusPending
	if err := st.CreateRun(run); err != nil {
		t.Fatal(err)
	}

	s.processPendingRuns()

	got, _ := st.GetRun("r1")
	if got.Status != models.RunStatusQueued {
		t.Errorf("expected queued, got %s", got.Status)
	}
}

func TestCheckTimedOutRuns(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, time.Minute)

	// 1-epoch run gets 30 minutes; started two hours ago
	stale := queuedRun("stale", 1)
	stale.Status = models.RunStatusRunning
	started := time.Now().Add(-2 * time.Hour)
	stale.StartedAt = &started
	if err := st.CreateRun(stale); err != nil {
		t.Fatal(err)
	}

	// 300-epoch run has a much larger budget
	fresh := queuedRun("fresh", 300)
	fresh.Status = models.RunStatusRunning
	fresh.StartedAt = &started
	if err := st.CreateRun(fresh); err != nil {
		t.Fatal(err)
	}

	s.checkTimedOutRuns()

	got, _ := st.GetRun("stale")
	if got.Status != models.RunStatusTimedOut {
		t.Errorf("short run should time out, got %s", got.Status)
	}

	got, _ = st.GetRun("fresh")
	if got.Status != models.RunStatusRunning {
		t.Errorf("long run should still be running, got %s", got.Status)
	}
}
