package experiment

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// GridStride is the detection grid stride; image sizes must be multiples of it
	GridStride = 32

	// MaxDataloaderWorkers caps --workers to avoid fd exhaustion on shared nodes
	MaxDataloaderWorkers = 64
)

// Spec holds the full parameter set for a single training run.
// Field names mirror the launcher flags they are rendered to.
type Spec struct {
	Data         string  `json:"data" yaml:"data"`                         // dataset descriptor YAML
	Batch        int     `json:"batch" yaml:"batch"`                       // total batch size across all processes
	Weights      string  `json:"weights,omitempty" yaml:"weights"`         // pretrained checkpoint (.pt), empty = from scratch
	Workers      int     `json:"workers" yaml:"workers"`                   // dataloader workers per process
	Epochs       int     `json:"epochs" yaml:"epochs"`
	NprocPerNode int     `json:"nproc_per_node" yaml:"nproc_per_node"`     // distributed process count
	Device       string  `json:"device,omitempty" yaml:"device"`           // "0", "0,1", "cpu", empty = framework default
	ImgSize      []int   `json:"img_size,omitempty" yaml:"img_size"`       // [train, test]
	DoSemi       bool    `json:"do_semi,omitempty" yaml:"do_semi"`         // semi-supervised (STAC) mode
	Hyp          string  `json:"hyp,omitempty" yaml:"hyp"`                 // hyperparameter YAML
	Resume       bool    `json:"resume,omitempty" yaml:"resume"`
	SingleCls    bool    `json:"single_cls,omitempty" yaml:"single_cls"`
	ConfThres    float64 `json:"conf_thres,omitempty" yaml:"conf_thres"`   // pseudo-label confidence threshold
	IoUThres     float64 `json:"iou_thres,omitempty" yaml:"iou_thres"`     // pseudo-label NMS IoU threshold
	Project      string  `json:"project,omitempty" yaml:"project"`         // save root, default runs/train
	Name         string  `json:"name,omitempty" yaml:"name"`               // run name under project, default exp
}

// Normalize fills in framework defaults for unset fields.
func (s *Spec) Normalize() {
	if s.NprocPerNode <= 0 {
		s.NprocPerNode = 1
	}
	if len(s.ImgSize) == 0 {
		s.ImgSize = []int{640, 640}
	} else if len(s.ImgSize) == 1 {
		// A single value applies to both train and test resolution
		s.ImgSize = []int{s.ImgSize[0], s.ImgSize[0]}
	}
	for i, sz := range s.ImgSize {
		s.ImgSize[i] = CheckImgSize(sz, GridStride)
	}
	if s.Project == "" {
		s.Project = "runs/train"
	}
	if s.Name == "" {
		s.Name = "exp"
	}
	if s.DoSemi {
		if s.ConfThres == 0 {
			s.ConfThres = 0.25
		}
		if s.IoUThres == 0 {
			s.IoUThres = 0.45
		}
	}
}

// Validate checks the spec for values the launcher would reject at startup.
// Call Normalize first.
func (s *Spec) Validate() error {
	if s.Data == "" {
		return fmt.Errorf("data: dataset descriptor path is required")
	}
	if s.Batch <= 0 {
		return fmt.Errorf("batch: must be positive, got %d", s.Batch)
	}
	if s.Epochs <= 0 {
		return fmt.Errorf("epochs: must be positive, got %d", s.Epochs)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers: must be non-negative, got %d", s.Workers)
	}
	if s.Workers > MaxDataloaderWorkers {
		return fmt.Errorf("workers: %d exceeds limit of %d", s.Workers, MaxDataloaderWorkers)
	}
	if s.NprocPerNode < 1 {
		return fmt.Errorf("nproc_per_node: must be at least 1, got %d", s.NprocPerNode)
	}
	if s.Batch%s.NprocPerNode != 0 {
		return fmt.Errorf("batch: %d is not divisible by nproc_per_node %d", s.Batch, s.NprocPerNode)
	}
	if s.Weights != "" && !strings.HasSuffix(s.Weights, ".pt") {
		return fmt.Errorf("weights: expected a .pt checkpoint, got %q", s.Weights)
	}
	if len(s.ImgSize) != 2 {
		return fmt.Errorf("img_size: expected [train, test], got %d values", len(s.ImgSize))
	}
	for _, sz := range s.ImgSize {
		if sz < GridStride {
			return fmt.Errorf("img_size: %d is below the minimum grid size %d", sz, GridStride)
		}
	}
	if s.Device != "" {
		if _, _, err := ParseDevice(s.Device); err != nil {
			return err
		}
	}
	if s.DoSemi {
		if s.ConfThres <= 0 || s.ConfThres >= 1 {
			return fmt.Errorf("conf_thres: must be in (0, 1), got %g", s.ConfThres)
		}
		if s.IoUThres <= 0 || s.IoUThres >= 1 {
			return fmt.Errorf("iou_thres: must be in (0, 1), got %g", s.IoUThres)
		}
	}
	return nil
}

// BatchPerProcess returns the per-process batch size.
func (s *Spec) BatchPerProcess() int {
	if s.NprocPerNode <= 1 {
		return s.Batch
	}
	return s.Batch / s.NprocPerNode
}

// BurninEpochs returns the teacher-model burn-in phase length for
// semi-supervised runs: the first half of training before pseudo-labeling.
func (s *Spec) BurninEpochs() int {
	if !s.DoSemi {
		return 0
	}
	return s.Epochs / 2
}

// Distributed reports whether the run needs the distributed launch wrapper.
func (s *Spec) Distributed() bool {
	return s.NprocPerNode > 1
}

// CheckImgSize rounds sz up to the nearest multiple of stride.
func CheckImgSize(sz, stride int) int {
	if stride <= 0 {
		stride = GridStride
	}
	if sz%stride == 0 {
		return sz
	}
	return ((sz / stride) + 1) * stride
}

// ParseDevice parses a --device value into GPU indices.
// Returns (indices, cpu) where cpu is true for the "cpu" pseudo-device.
func ParseDevice(device string) ([]int, bool, error) {
	device = strings.TrimSpace(strings.ToLower(device))
	if device == "" {
		return nil, false, nil
	}
	if device == "cpu" {
		return nil, true, nil
	}

	parts := strings.Split(device, ",")
	indices := make([]int, 0, len(parts))
	seen := make(map[int]bool)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		idx, err := strconv.Atoi(p)
		if err != nil || idx < 0 {
			return nil, false, fmt.Errorf("device: invalid GPU index %q", p)
		}
		if seen[idx] {
			return nil, false, fmt.Errorf("device: duplicate GPU index %d", idx)
		}
		seen[idx] = true
		indices = append(indices, idx)
	}
	if len(indices) == 0 {
		return nil, false, fmt.Errorf("device: no GPU indices in %q", device)
	}
	return indices, false, nil
}

// GPUsRequired returns how many GPUs the run needs on its node.
func (s *Spec) GPUsRequired() int {
	if s.Device != "" {
		indices, cpu, err := ParseDevice(s.Device)
		if err == nil {
			if cpu {
				return 0
			}
			if len(indices) > s.NprocPerNode {
				return len(indices)
			}
		}
	}
	return s.NprocPerNode
}
