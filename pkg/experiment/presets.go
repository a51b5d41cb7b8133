package experiment

import "fmt"

// Preset is a named, versioned experiment configuration. Archived presets are
// kept for experiment bookkeeping: they remain listable and renderable but are
// never selected by default.
type Preset struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Archived    bool   `json:"archived,omitempty" yaml:"archived,omitempty"`
	Spec        Spec   `json:"spec" yaml:"spec"`
}

// builtinPresets mirrors the historical launch configurations of the project:
// one active DDP baseline and three archived alternatives.
var builtinPresets = []Preset{
	{
		Name:        "ddp-baseline",
		Description: "2-process DDP fine-tune from the small pretrained checkpoint",
		Spec: Spec{
			Data:         "data/dataset.yaml",
			Batch:        96,
			Weights:      "weights/yolov5s.pt",
			Workers:      8,
			Epochs:       10,
			NprocPerNode: 2,
		},
	},
	{
		Name:        "single-gpu",
		Description: "single-device run pinned to GPU 0",
		Archived:    true,
		Spec: Spec{
			Data:         "data/dataset.yaml",
			Batch:        16,
			Weights:      "weights/yolov5s.pt",
			Workers:      4,
			Epochs:       100,
			NprocPerNode: 1,
			Device:       "0",
		},
	},
	{
		Name:        "high-res",
		Description: "high-resolution input sweep (1280px train/test)",
		Archived:    true,
		Spec: Spec{
			Data:         "data/dataset.yaml",
			Batch:        32,
			Weights:      "weights/yolov5m.pt",
			Workers:      8,
			Epochs:       50,
			NprocPerNode: 2,
			ImgSize:      []int{1280, 1280},
		},
	},
	{
		Name:        "semi-stac",
		Description: "semi-supervised STAC run with pseudo-labeling after burn-in",
		Archived:    true,
		Spec: Spec{
			Data:         "data/dataset.yaml",
			Batch:        64,
			Weights:      "weights/yolov5s.pt",
			Workers:      8,
			Epochs:       20,
			NprocPerNode: 2,
			DoSemi:       true,
		},
	},
}

// Presets returns the built-in presets. includeArchived controls whether the
// disabled alternatives are included.
func Presets(includeArchived bool) []Preset {
	out := make([]Preset, 0, len(builtinPresets))
	for _, p := range builtinPresets {
		if p.Archived && !includeArchived {
			continue
		}
		out = append(out, p)
	}
	return out
}

// FindPreset looks up a preset by name. Archived presets are found too:
// selecting one explicitly is always allowed.
func FindPreset(name string) (*Preset, error) {
	for i := range builtinPresets {
		if builtinPresets[i].Name == name {
			p := builtinPresets[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("unknown experiment preset %q", name)
}

// DefaultPreset returns the active (non-archived) baseline.
func DefaultPreset() Preset {
	for _, p := range builtinPresets {
		if !p.Archived {
			return p
		}
	}
	return builtinPresets[0]
}
