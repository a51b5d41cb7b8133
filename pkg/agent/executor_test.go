package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainctl/trainctl/pkg/experiment"
	"github.com/trainctl/trainctl/pkg/models"
	"github.com/trainctl/trainctl/pkg/runner"
)

// shellLauncher substitutes a shell script for the training entrypoint
type shellLauncher struct {
	script string
}

func (s shellLauncher) Name() string { return "shell" }

func (s shellLauncher) Supports(experiment.Spec, *models.NodeCapabilities) bool { return true }

func (s shellLauncher) BuildCommand(experiment.Spec) (string, []string, error) {
	return "/bin/sh", []string{"-c", s.script}, nil
}

// fakeCoordinator records epoch reports and serves run state
type fakeCoordinator struct {
	mu     sync.Mutex
	epochs []int
	status models.RunStatus
}

func (f *fakeCoordinator) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/runs/run-1/epoch", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Epoch int `json:"epoch"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.epochs = append(f.epochs, body.Epoch)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/runs/run-1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		status := f.status
		f.mu.Unlock()
		json.NewEncoder(w).Encode(models.Run{ID: "run-1", Status: status})
	})
	return mux
}

func testSpec(dir string) experiment.Spec {
	spec := experiment.Spec{
		Data:    "data/dataset.yaml",
		Batch:   8,
		Epochs:  3,
		Project: dir,
		Name:    "exp",
	}
	spec.Normalize()
	return spec
}

func TestExecutorCompletedRun(t *testing.T) {
	fc := &fakeCoordinator{status: models.RunStatusRunning}
	srv := httptest.NewServer(fc.handler(t))
	defer srv.Close()

	client := NewClient(srv.URL)
	client.nodeID = "node-1"

	e := NewExecutor(client, shellLauncher{
		script: `printf '  0/3  box\n  1/3  box\n  2/3  box\n'`,
	})

	dir := t.TempDir()
	run := &models.Run{ID: "run-1", Spec: testSpec(dir)}

	result := e.Execute(context.Background(), run)

	assert.Equal(t, models.RunStatusCompleted, result.Status)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, 2, result.FinalEpoch)
	assert.Equal(t, "node-1", result.NodeID)
	assert.Contains(t, result.Logs, "2/3")

	// Run dir artifacts
	require.NotEmpty(t, result.RunDir)
	if _, err := os.Stat(filepath.Join(result.RunDir, runner.OptFileName)); err != nil {
		t.Errorf("opt.yaml not written: %v", err)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Equal(t, []int{0, 1, 2}, fc.epochs)
}

func TestExecutorFailedRun(t *testing.T) {
	fc := &fakeCoordinator{status: models.RunStatusRunning}
	srv := httptest.NewServer(fc.handler(t))
	defer srv.Close()

	client := NewClient(srv.URL)
	client.nodeID = "node-1"

	e := NewExecutor(client, shellLauncher{
		script: `echo "RuntimeError: CUDA out of memory"; exit 1`,
	})

	run := &models.Run{ID: "run-1", Spec: testSpec(t.TempDir())}
	result := e.Execute(context.Background(), run)

	assert.Equal(t, models.RunStatusFailed, result.Status)
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.Error, "exited with code 1")
	assert.Contains(t, result.Logs, "CUDA out of memory")
}

func TestExecutorReportsCheckpoints(t *testing.T) {
	fc := &fakeCoordinator{status: models.RunStatusRunning}
	srv := httptest.NewServer(fc.handler(t))
	defer srv.Close()

	client := NewClient(srv.URL)
	client.nodeID = "node-1"

	// The script plays the part of a trainer that writes checkpoints
	e := NewExecutor(client, shellLauncher{
		script: `touch weights/last.pt weights/best.pt`,
	})

	run := &models.Run{ID: "run-1", Spec: testSpec(t.TempDir())}
	result := e.Execute(context.Background(), run)

	require.Equal(t, models.RunStatusCompleted, result.Status)
	assert.True(t, strings.HasSuffix(result.LastWeights, "weights/last.pt"), "last weights = %q", result.LastWeights)
	assert.True(t, strings.HasSuffix(result.BestWeights, "weights/best.pt"), "best weights = %q", result.BestWeights)
}

func TestTailFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.log")
	require.NoError(t, os.WriteFile(path, []byte("first\nsecond\nthird\n"), 0644))

	got := tailFile(path, 7)
	assert.Equal(t, "third\n", got[len(got)-6:])
	assert.Len(t, got, 7)

	assert.Equal(t, "first\nsecond\nthird\n", tailFile(path, 1024))
	assert.Equal(t, "", tailFile(filepath.Join(t.TempDir(), "missing"), 10))
}
