package experiment

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.yaml")
	content := `train: images/train
val: images/val
unlabel: images/unlabel
nc: 3
names: [person, car, bicycle]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	ds, err := LoadDataset(path)
	if err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	if ds.NC != 3 || len(ds.Names) != 3 {
		t.Errorf("parsed dataset = %+v", ds)
	}
	if !ds.SupportsSemi() {
		t.Error("dataset with an unlabeled pool should support semi-supervised runs")
	}
}

func TestDatasetValidate(t *testing.T) {
	base := Dataset{
		Train: "images/train",
		Val:   "images/val",
		NC:    2,
		Names: []string{"cat", "dog"},
	}

	tests := []struct {
		name   string
		mutate func(*Dataset)
	}{
		{"missing train", func(d *Dataset) { d.Train = "" }},
		{"missing val", func(d *Dataset) { d.Val = "" }},
		{"zero classes", func(d *Dataset) { d.NC = 0 }},
		{"names count mismatch", func(d *Dataset) { d.Names = []string{"cat"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.mutate(&d)
			if err := d.Validate("test.yaml"); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := base.Validate("test.yaml"); err != nil {
		t.Errorf("valid dataset rejected: %v", err)
	}
}

func TestDatasetNamesMismatchMessage(t *testing.T) {
	d := Dataset{Train: "t", Val: "v", NC: 5, Names: []string{"a", "b"}}
	err := d.Validate("data/dataset.yaml")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "2 names found for nc=5") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestDatasetWithoutUnlabeledPool(t *testing.T) {
	d := Dataset{Train: "t", Val: "v", NC: 1, Names: []string{"a"}}
	if d.SupportsSemi() {
		t.Error("dataset without an unlabeled pool should not support semi")
	}
}

func writeDescriptor(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateDataset(t *testing.T) {
	supervised := writeDescriptor(t, `train: images/train
val: images/val
nc: 1
names: [person]
`)
	semi := writeDescriptor(t, `train: images/train
val: images/val
unlabel: images/unlabel
nc: 1
names: [person]
`)
	broken := writeDescriptor(t, `train: images/train
val: images/val
nc: 5
names: [person]
`)

	tests := []struct {
		name         string
		data         string
		doSemi       bool
		requireLocal bool
		wantErr      bool
	}{
		{"readable descriptor passes", supervised, false, false, false},
		{"semi with unlabel pool passes", semi, true, true, false},
		{"semi without unlabel pool rejected", supervised, true, false, true},
		{"inconsistent descriptor rejected", broken, false, false, true},
		{"missing file skipped for remote runs", "no/such/file.yaml", false, false, false},
		{"missing file rejected for local launch", "no/such/file.yaml", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Spec{Data: tt.data, Batch: 16, Epochs: 5, DoSemi: tt.doSemi}
			s.Normalize()
			err := s.ValidateDataset(tt.requireLocal)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDataset(%v) error = %v, wantErr %v", tt.requireLocal, err, tt.wantErr)
			}
		})
	}
}
