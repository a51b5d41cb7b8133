package runner

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/trainctl/trainctl/pkg/experiment"
)

const (
	// OptFileName is the spec snapshot written into every run dir
	OptFileName = "opt.yaml"
	// ResultsFileName collects per-epoch summary rows
	ResultsFileName = "results.txt"

	weightsDirName  = "weights"
	lastWeightsName = "last.pt"
	bestWeightsName = "best.pt"
)

// IncrementPath returns base if it does not exist yet, otherwise the first
// free sibling with a numeric suffix: runs/train/exp, exp2, exp3, ...
func IncrementPath(base string) string {
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s%d", base, n)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// PrepareRunDir resolves and creates the run directory for a spec, including
// the weights subdirectory. With resume the existing directory is reused.
func PrepareRunDir(spec experiment.Spec) (string, error) {
	base := filepath.Join(spec.Project, spec.Name)

	dir := base
	if !spec.Resume {
		dir = IncrementPath(base)
	}

	if err := os.MkdirAll(filepath.Join(dir, weightsDirName), 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory %s: %w", dir, err)
	}
	return dir, nil
}

// runOptions is the opt.yaml layout: the full spec plus derived values that
// the framework computes at startup.
type runOptions struct {
	Spec         experiment.Spec `yaml:",inline"`
	BatchPerProc int             `yaml:"batch_per_process"`
	BurninEpochs int             `yaml:"burnin_epochs,omitempty"`
	RunDir       string          `yaml:"run_dir"`
}

// WriteOptYAML snapshots the resolved spec into the run directory so a run
// can always be reproduced from its artifacts alone.
func WriteOptYAML(dir string, spec experiment.Spec) error {
	opt := runOptions{
		Spec:         spec,
		BatchPerProc: spec.BatchPerProcess(),
		RunDir:       dir,
	}
	if spec.DoSemi {
		opt.BurninEpochs = spec.BurninEpochs()
	}

	f, err := os.Create(filepath.Join(dir, OptFileName))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", OptFileName, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&opt); err != nil {
		return fmt.Errorf("failed to encode %s: %w", OptFileName, err)
	}
	return enc.Close()
}

// CheckpointPaths returns the last and best checkpoint paths under dir.
// The files may not exist yet; callers stat them when it matters.
func CheckpointPaths(dir string) (last, best string) {
	return filepath.Join(dir, weightsDirName, lastWeightsName),
		filepath.Join(dir, weightsDirName, bestWeightsName)
}

// HasCheckpoint reports whether a resumable last.pt exists under dir.
func HasCheckpoint(dir string) bool {
	last, _ := CheckpointPaths(dir)
	info, err := os.Stat(last)
	return err == nil && !info.IsDir()
}

// ResultsPath returns the per-epoch results file path for dir.
func ResultsPath(dir string) string {
	return filepath.Join(dir, ResultsFileName)
}
