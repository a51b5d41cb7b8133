package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesOutputAndProgress(t *testing.T) {
	tmp := t.TempDir()
	runDir := filepath.Join(tmp, "exp")

	script := "echo 'Starting training'; echo '     0/1     1.2G   0.05'; echo '     1/1     1.2G   0.04'"

	var epochs []int
	r := New(WithProgress(func(epoch, total int) {
		epochs = append(epochs, epoch)
	}))

	result, err := r.Run(context.Background(), "run-1", runDir, "/bin/sh", []string{"-c", script})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
	if result.FinalEpoch != 1 {
		t.Errorf("expected final epoch 1, got %d", result.FinalEpoch)
	}
	if len(epochs) != 2 {
		t.Errorf("expected 2 progress callbacks, got %d", len(epochs))
	}

	data, err := os.ReadFile(result.LogPath)
	if err != nil {
		t.Fatalf("console log missing: %v", err)
	}
	if !strings.Contains(string(data), "Starting training") {
		t.Errorf("console log missing launcher output:\n%s", data)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	runDir := filepath.Join(t.TempDir(), "exp")

	r := New()
	result, err := r.Run(context.Background(), "run-2", runDir, "/bin/sh", []string{"-c", "echo oops >&2; exit 3"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}

	// stderr goes to the same console log
	data, err := os.ReadFile(result.LogPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "oops") {
		t.Errorf("stderr not captured:\n%s", data)
	}
}

func TestRunCancellation(t *testing.T) {
	runDir := filepath.Join(t.TempDir(), "exp")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	r := New(WithGracePeriod(2 * time.Second))
	start := time.Now()
	result, err := r.Run(ctx, "run-3", runDir, "/bin/sh", []string{"-c", "sleep 30"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if time.Since(start) > 5*time.Second {
		t.Error("cancellation took too long")
	}
	if result.ExitCode == 0 {
		t.Error("expected non-zero exit code after cancellation")
	}
	if !result.Graceful {
		t.Error("sleep should exit on SIGTERM without escalation")
	}
}

func TestRunMissingProgram(t *testing.T) {
	runDir := filepath.Join(t.TempDir(), "exp")

	r := New()
	if _, err := r.Run(context.Background(), "run-4", runDir, "/nonexistent/python", nil); err == nil {
		t.Fatal("expected error for missing program")
	}
}
