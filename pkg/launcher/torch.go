package launcher

import (
	"fmt"
	"strconv"

	"github.com/trainctl/trainctl/pkg/experiment"
	"github.com/trainctl/trainctl/pkg/models"
)

const (
	// DefaultPython is the interpreter used when none is configured
	DefaultPython = "python"
	// DefaultTrainScript is the framework entry point
	DefaultTrainScript = "train.py"
)

// TorchLauncher renders specs into torch.distributed.launch invocations.
// Single-process runs skip the distributed wrapper entirely.
type TorchLauncher struct {
	python string
	script string
}

// NewTorchLauncher creates a torch launcher. Empty arguments select defaults.
func NewTorchLauncher(python, script string) *TorchLauncher {
	if python == "" {
		python = DefaultPython
	}
	if script == "" {
		script = DefaultTrainScript
	}
	return &TorchLauncher{python: python, script: script}
}

// Name returns the launcher name
func (l *TorchLauncher) Name() string {
	return "torch"
}

// Supports checks whether a node can run the spec: enough GPUs, and CUDA
// present unless the run is pinned to the cpu device.
func (l *TorchLauncher) Supports(spec experiment.Spec, caps *models.NodeCapabilities) bool {
	if caps == nil {
		return false
	}

	_, cpu, err := experiment.ParseDevice(spec.Device)
	if err != nil {
		return false
	}
	if cpu {
		return true
	}

	if spec.GPUsRequired() > caps.GPUCount {
		return false
	}
	if caps.GPUCount > 0 && caps.CUDAVersion == "" {
		// GPUs without a usable CUDA runtime cannot train
		return false
	}
	return true
}

// BuildCommand renders the spec into the launcher command line.
// The spec must be normalized and validated by the caller.
func (l *TorchLauncher) BuildCommand(spec experiment.Spec) (string, []string, error) {
	if err := spec.Validate(); err != nil {
		return "", nil, fmt.Errorf("invalid spec: %w", err)
	}

	var args []string

	if spec.Distributed() {
		args = append(args,
			"-m", "torch.distributed.launch",
			"--nproc_per_node", strconv.Itoa(spec.NprocPerNode),
			l.script,
		)
	} else {
		args = append(args, l.script)
	}

	args = append(args,
		"--data", spec.Data,
		"--batch", strconv.Itoa(spec.Batch),
		"--workers", strconv.Itoa(spec.Workers),
		"--epochs", strconv.Itoa(spec.Epochs),
	)

	if spec.Weights != "" {
		args = append(args, "--weights", spec.Weights)
	}
	if spec.Hyp != "" {
		args = append(args, "--hyp", spec.Hyp)
	}
	if spec.Device != "" {
		args = append(args, "--device", spec.Device)
	}
	if len(spec.ImgSize) == 2 {
		args = append(args, "--img-size",
			strconv.Itoa(spec.ImgSize[0]), strconv.Itoa(spec.ImgSize[1]))
	}
	if spec.Project != "" {
		args = append(args, "--project", spec.Project)
	}
	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}
	if spec.SingleCls {
		args = append(args, "--single-cls")
	}
	if spec.Resume {
		args = append(args, "--resume")
	}
	if spec.DoSemi {
		args = append(args, "--do-semi",
			"--conf-thres", formatFloat(spec.ConfThres),
			"--iou-thres", formatFloat(spec.IoUThres),
		)
	}

	return l.python, args, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
