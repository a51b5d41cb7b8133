package scheduler

import (
	"testing"
	"time"

	"github.com/trainctl/trainctl/pkg/models"
	"github.com/trainctl/trainctl/pkg/store"
)

func TestDetectDeadNodes(t *testing.T) {
	st := store.NewMemoryStore()
	rm := NewRecoveryManager(st, nil, 90*time.Second)

	alive := &models.Node{ID: "alive", Name: "gpu-01", Status: "available", LastHeartbeat: time.Now()}
	dead := &models.Node{ID: "dead", Name: "gpu-02", Status: "busy", LastHeartbeat: time.Now().Add(-5 * time.Minute)}
	offline := &models.Node{ID: "off", Name: "gpu-03", Status: "offline", LastHeartbeat: time.Now().Add(-time.Hour)}

	for _, n := range []*models.Node{alive, dead, offline} {
		if err := st.RegisterNode(n); err != nil {
			t.Fatal(err)
		}
	}

	deadIDs := rm.DetectDeadNodes()
	if len(deadIDs) != 1 || deadIDs[0] != "dead" {
		t.Fatalf("expected [dead], got %v", deadIDs)
	}

	node, _ := st.GetNode("dead")
	if node.Status != "offline" {
		t.Errorf("dead node not marked offline: %s", node.Status)
	}
}

func TestReassignOrphanedRuns(t *testing.T) {
	st := store.NewMemoryStore()
	rm := NewRecoveryManager(st, nil, 90*time.Second)

	// Healthy node whose run must stay untouched
	if err := st.RegisterNode(&models.Node{
		ID: "alive", Name: "gpu-01", Status: "busy", LastHeartbeat: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	healthy := queuedRun("r0", 10)
	healthy.Status = models.RunStatusRunning
	healthy.NodeID = "alive"
	if err := st.CreateRun(healthy); err != nil {
		t.Fatal(err)
	}

	// Orphaned: the node was never registered (or was removed)
	run := queuedRun("r1", 10)
	run.Status = models.RunStatusRunning
	run.NodeID = "dead"
	if err := st.CreateRun(run); err != nil {
		t.Fatal(err)
	}

	// Out of retries
	exhausted := queuedRun("r2", 10)
	exhausted.Status = models.RunStatusRunning
	exhausted.NodeID = "dead"
	exhausted.RetryCount = 3
	if err := st.CreateRun(exhausted); err != nil {
		t.Fatal(err)
	}

	reassigned := rm.ReassignOrphanedRuns()
	if reassigned != 1 {
		t.Errorf("reassigned = %d, want 1", reassigned)
	}

	got, _ := st.GetRun("r0")
	if got.Status != models.RunStatusRunning {
		t.Errorf("r0 on a live node should stay running, got %s", got.Status)
	}

	got, _ = st.GetRun("r1")
	if got.Status != models.RunStatusQueued {
		t.Errorf("r1 should be requeued, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("r1 retry count = %d, want 1", got.RetryCount)
	}

	got, _ = st.GetRun("r2")
	if got.Status != models.RunStatusFailed {
		t.Errorf("r2 should be failed, got %s", got.Status)
	}
}

func TestRecoverFailedRuns(t *testing.T) {
	st := store.NewMemoryStore()
	rm := NewRecoveryManager(st, nil, 90*time.Second)

	long := time.Now().Add(-time.Hour)

	transient := queuedRun("transient", 10)
	transient.Status = models.RunStatusFailed
	transient.Error = "connection refused by coordinator"
	transient.CompletedAt = &long
	if err := st.CreateRun(transient); err != nil {
		t.Fatal(err)
	}

	permanent := queuedRun("permanent", 10)
	permanent.Status = models.RunStatusFailed
	permanent.Error = "CUDA out of memory"
	permanent.CompletedAt = &long
	if err := st.CreateRun(permanent); err != nil {
		t.Fatal(err)
	}

	// Failed seconds ago: still inside backoff
	backingOff := queuedRun("backoff", 10)
	backingOff.Status = models.RunStatusFailed
	backingOff.Error = "network error"
	now := time.Now()
	backingOff.CompletedAt = &now
	if err := st.CreateRun(backingOff); err != nil {
		t.Fatal(err)
	}

	rm.RecoverFailedRuns()

	got, _ := st.GetRun("transient")
	if got.Status != models.RunStatusQueued {
		t.Errorf("transient failure should be retried, got %s", got.Status)
	}

	got, _ = st.GetRun("permanent")
	if got.Status != models.RunStatusFailed {
		t.Errorf("OOM should not be retried, got %s", got.Status)
	}

	got, _ = st.GetRun("backoff")
	if got.Status != models.RunStatusFailed {
		t.Errorf("run inside backoff window should wait, got %s", got.Status)
	}
}

func TestIsTransientFailure(t *testing.T) {
	tests := []struct {
		name   string
		status models.RunStatus
		errMsg string
		want   bool
	}{
		{"timeout state", models.RunStatusTimedOut, "", true},
		{"nccl error", models.RunStatusFailed, "NCCL communicator aborted", true},
		{"worker died", models.RunStatusFailed, "worker died mid-epoch", true},
		{"cuda oom", models.RunStatusFailed, "CUDA out of memory", false},
		{"bad dataset", models.RunStatusFailed, "dataset not found: data/voc.yaml", false},
		{"empty error", models.RunStatusFailed, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := queuedRun("r", 10)
			run.Status = tt.status
			run.Error = tt.errMsg
			if got := isTransientFailure(run); got != tt.want {
				t.Errorf("isTransientFailure() = %v, want %v", got, tt.want)
			}
		})
	}
}
