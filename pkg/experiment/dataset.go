package experiment

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Dataset is the parsed dataset descriptor referenced by --data.
type Dataset struct {
	Train    string   `yaml:"train"`              // labeled training images
	Val      string   `yaml:"val"`                // validation images
	Unlabel  string   `yaml:"unlabel,omitempty"`  // unlabeled pool for semi-supervised runs
	NC       int      `yaml:"nc"`                 // number of classes
	Names    []string `yaml:"names"`              // class names, len must equal nc
	Download string   `yaml:"download,omitempty"` // optional fetch script/URL
}

// LoadDataset reads and validates a dataset descriptor YAML.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset descriptor %s: %w", path, err)
	}

	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse dataset descriptor %s: %w", path, err)
	}

	if err := ds.Validate(path); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate checks internal consistency of the descriptor.
// path is only used for error messages.
func (d *Dataset) Validate(path string) error {
	if d.Train == "" {
		return fmt.Errorf("dataset %s: missing train path", path)
	}
	if d.Val == "" {
		return fmt.Errorf("dataset %s: missing val path", path)
	}
	if d.NC <= 0 {
		return fmt.Errorf("dataset %s: nc must be positive, got %d", path, d.NC)
	}
	if len(d.Names) != d.NC {
		return fmt.Errorf("%d names found for nc=%d dataset in %s", len(d.Names), d.NC, path)
	}
	return nil
}

// SupportsSemi reports whether the dataset carries an unlabeled pool.
func (d *Dataset) SupportsSemi() bool {
	return d.Unlabel != ""
}

// ValidateDataset cross-checks the spec against its dataset descriptor.
// Descriptor paths often resolve only on the training node, so a missing
// file is an error only when requireLocal is set (local launches).
func (s *Spec) ValidateDataset(requireLocal bool) error {
	if _, err := os.Stat(s.Data); err != nil {
		if requireLocal {
			return fmt.Errorf("dataset descriptor %s: %w", s.Data, err)
		}
		return nil
	}

	ds, err := LoadDataset(s.Data)
	if err != nil {
		return err
	}
	if s.DoSemi && !ds.SupportsSemi() {
		return fmt.Errorf("dataset %s has no unlabel pool, cannot train semi-supervised", s.Data)
	}
	return nil
}
