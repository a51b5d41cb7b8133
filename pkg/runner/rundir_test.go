package runner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/trainctl/trainctl/pkg/experiment"
)

func TestIncrementPath(t *testing.T) {
	tmp := t.TempDir()
	base := filepath.Join(tmp, "exp")

	if got := IncrementPath(base); got != base {
		t.Errorf("expected %s for fresh base, got %s", base, got)
	}

	if err := os.MkdirAll(base, 0755); err != nil {
		t.Fatal(err)
	}
	if got := IncrementPath(base); got != base+"2" {
		t.Errorf("expected %s2, got %s", base, got)
	}

	if err := os.MkdirAll(base+"2", 0755); err != nil {
		t.Fatal(err)
	}
	if got := IncrementPath(base); got != base+"3" {
		t.Errorf("expected %s3, got %s", base, got)
	}
}

func TestPrepareRunDir(t *testing.T) {
	tmp := t.TempDir()

	spec := experiment.Spec{
		Data:    "data/voc.yaml",
		Batch:   16,
		Epochs:  1,
		Project: filepath.Join(tmp, "runs", "train"),
		Name:    "exp",
	}
	spec.Normalize()

	dir, err := PrepareRunDir(spec)
	if err != nil {
		t.Fatalf("PrepareRunDir failed: %v", err)
	}
	if dir != filepath.Join(spec.Project, "exp") {
		t.Errorf("unexpected run dir: %s", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, "weights")); err != nil {
		t.Errorf("weights subdir missing: %v", err)
	}

	// Second run without resume gets a fresh suffixed dir
	dir2, err := PrepareRunDir(spec)
	if err != nil {
		t.Fatalf("PrepareRunDir failed: %v", err)
	}
	if dir2 != filepath.Join(spec.Project, "exp2") {
		t.Errorf("expected exp2, got %s", dir2)
	}

	// Resume reuses the base dir
	spec.Resume = true
	dir3, err := PrepareRunDir(spec)
	if err != nil {
		t.Fatalf("PrepareRunDir failed: %v", err)
	}
	if dir3 != filepath.Join(spec.Project, "exp") {
		t.Errorf("resume should reuse base dir, got %s", dir3)
	}
}

func TestWriteOptYAML(t *testing.T) {
	tmp := t.TempDir()

	spec := experiment.Spec{
		Data:         "data/voc.yaml",
		Batch:        96,
		Weights:      "yolov5s.pt",
		Workers:      8,
		Epochs:       10,
		NprocPerNode: 2,
		DoSemi:       true,
	}
	spec.Normalize()

	if err := WriteOptYAML(tmp, spec); err != nil {
		t.Fatalf("WriteOptYAML failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmp, OptFileName))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	for _, want := range []string{
		"data: data/voc.yaml",
		"batch_per_process: 48",
		"burnin_epochs: 5",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("opt.yaml missing %q:\n%s", want, content)
		}
	}
}

func TestCheckpointPaths(t *testing.T) {
	tmp := t.TempDir()

	last, best := CheckpointPaths(tmp)
	if filepath.Base(last) != "last.pt" || filepath.Base(best) != "best.pt" {
		t.Errorf("unexpected checkpoint names: %s, %s", last, best)
	}

	if HasCheckpoint(tmp) {
		t.Error("HasCheckpoint true for empty dir")
	}

	if err := os.MkdirAll(filepath.Dir(last), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(last, []byte("ckpt"), 0644); err != nil {
		t.Fatal(err)
	}
	if !HasCheckpoint(tmp) {
		t.Error("HasCheckpoint false after writing last.pt")
	}
}
