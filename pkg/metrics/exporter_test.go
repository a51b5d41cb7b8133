package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/trainctl/trainctl/pkg/experiment"
	"github.com/trainctl/trainctl/pkg/models"
	"github.com/trainctl/trainctl/pkg/scheduler"
	"github.com/trainctl/trainctl/pkg/store"
)

func seedStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()

	if err := s.RegisterNode(&models.Node{
		ID: "node-1", Name: "gpu-01", Address: "http://gpu-01:9091",
		Status: "available", GPUCount: 2,
	}); err != nil {
		t.Fatalf("RegisterNode failed: %v", err)
	}

	run := &models.Run{
		ID:         "run-1",
		Experiment: "ddp-baseline",
		Status:     models.RunStatusQueued,
		Queue:      "default",
		Priority:   "medium",
		Spec:       experiment.Spec{Epochs: 10, NprocPerNode: 2},
	}
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	return s
}

func TestCoordinatorExporterServeHTTP(t *testing.T) {
	e := NewCoordinatorExporter(seedStore(t))
	e.RecordScheduleAttempt("assigned")
	e.RecordScheduleAttempt("assigned")
	e.RecordScheduleAttempt("no_capacity")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()

	for _, want := range []string{
		`trainctl_runs_total{state="queued"} 1`,
		"trainctl_queue_length 1",
		`trainctl_queue_depth{queue="default"} 1`,
		`trainctl_queue_depth{queue="sweep"} 0`,
		`trainctl_schedule_attempts_total{result="assigned"} 2`,
		`trainctl_schedule_attempts_total{result="no_capacity"} 1`,
		"trainctl_nodes_total 1",
		`trainctl_nodes_by_status{status="available"} 1`,
		"trainctl_gpu_capacity 2",
		"trainctl_gpu_demand 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestCoordinatorExporterQueueStats(t *testing.T) {
	st := seedStore(t)
	e := NewCoordinatorExporter(st)
	e.SetQueueStats(scheduler.NewPriorityQueueManager(st))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	want := `trainctl_queue_runs{queue="default",priority="medium"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("metrics output missing %q", want)
	}
}

func TestCoordinatorExporterZeroStates(t *testing.T) {
	e := NewCoordinatorExporter(store.NewMemoryStore())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, state := range []string{"queued", "running", "completed", "failed", "timed_out", "canceled"} {
		want := `trainctl_runs_total{state="` + state + `"} 0`
		if !strings.Contains(body, want) {
			t.Errorf("expected zero-valued series %q", want)
		}
	}
}

func TestAgentExporterServeHTTP(t *testing.T) {
	e := NewAgentExporter("node-1", false)
	e.IncrementHeartbeat()
	e.IncrementHeartbeat()
	e.SetActiveRuns(1)
	e.SetRunProgress("run-1", 4, 10)
	e.RecordRunCompletion(false, false)
	e.RecordRunCompletion(true, false)
	e.RecordRunCompletion(false, true)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`trainctl_agent_heartbeats_total{node_id="node-1"} 2`,
		`trainctl_agent_active_runs{node_id="node-1"} 1`,
		`trainctl_agent_run_epoch{node_id="node-1",run_id="run-1"} 4`,
		`trainctl_agent_run_epochs_total{node_id="node-1",run_id="run-1"} 10`,
		`trainctl_agent_runs_completed_total{node_id="node-1"} 1`,
		`trainctl_agent_runs_failed_total{node_id="node-1"} 1`,
		`trainctl_agent_runs_canceled_total{node_id="node-1"} 1`,
		`trainctl_agent_has_gpu{node_id="node-1"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	// GPU series stay hidden on CPU-only agents
	if strings.Contains(body, "trainctl_agent_gpu_usage") {
		t.Error("gpu series should not be exported without a GPU")
	}
}

func TestAgentExporterClearRunProgress(t *testing.T) {
	e := NewAgentExporter("node-1", false)
	e.SetRunProgress("run-1", 4, 10)
	e.ClearRunProgress()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if strings.Contains(rec.Body.String(), "trainctl_agent_run_epoch") {
		t.Error("run progress series should be cleared")
	}
}
