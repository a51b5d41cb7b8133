package experiment

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "night-sweep.yaml")
	content := `name: night-sweep
description: low-light fine-tune
spec:
  data: data/dataset.yaml
  batch: 32
  weights: weights/yolov5s.pt
  workers: 4
  epochs: 5
  nproc_per_node: 2
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Name != "night-sweep" {
		t.Errorf("Name = %s, want night-sweep", m.Name)
	}
	if m.Spec.Batch != 32 || m.Spec.NprocPerNode != 2 {
		t.Errorf("spec not parsed: %+v", m.Spec)
	}
	// Loading normalizes
	if len(m.Spec.ImgSize) != 2 {
		t.Errorf("ImgSize not normalized: %v", m.Spec.ImgSize)
	}
}

func TestLoadManifestNameFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ablation-a.yaml")
	content := `spec:
  data: data/dataset.yaml
  batch: 16
  epochs: 3
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Name != "ablation-a" {
		t.Errorf("Name = %s, want ablation-a (from filename)", m.Name)
	}
}

func TestLoadManifestRejectsInvalidSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	content := `name: bad
spec:
  batch: 16
  epochs: 3
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadManifest(path); err == nil {
		t.Error("expected validation error for manifest without data path")
	}
}

func TestSaveManifestRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exp", "roundtrip.yaml")

	orig := &Manifest{
		Name:        "roundtrip",
		Description: "saved and reloaded",
		Spec: Spec{
			Data:   "data/dataset.yaml",
			Batch:  48,
			Epochs: 7,
			DoSemi: true,
		},
	}

	if err := SaveManifest(orig, path); err != nil {
		t.Fatalf("SaveManifest: %v", err)
	}

	got, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if got.Name != orig.Name || got.Spec.Batch != 48 || got.Spec.Epochs != 7 || !got.Spec.DoSemi {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
}
