package launcher

import (
	"reflect"
	"testing"

	"github.com/trainctl/trainctl/pkg/experiment"
	"github.com/trainctl/trainctl/pkg/models"
)

func normalized(spec experiment.Spec) experiment.Spec {
	spec.Normalize()
	return spec
}

func TestBuildCommandDistributed(t *testing.T) {
	l := NewTorchLauncher("", "")

	spec := normalized(experiment.Spec{
		Data:         "data/dataset.yaml",
		Batch:        96,
		Weights:      "weights/yolov5s.pt",
		Workers:      8,
		Epochs:       10,
		NprocPerNode: 2,
	})

	program, args, err := l.BuildCommand(spec)
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if program != "python" {
		t.Errorf("program = %s, want python", program)
	}

	want := []string{
		"-m", "torch.distributed.launch",
		"--nproc_per_node", "2",
		"train.py",
		"--data", "data/dataset.yaml",
		"--batch", "96",
		"--workers", "8",
		"--epochs", "10",
		"--weights", "weights/yolov5s.pt",
		"--img-size", "640", "640",
		"--project", "runs/train",
		"--name", "exp",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args mismatch\n got: %v\nwant: %v", args, want)
	}
}

func TestBuildCommandSingleProcess(t *testing.T) {
	l := NewTorchLauncher("python3", "tools/train.py")

	spec := normalized(experiment.Spec{
		Data:         "data/dataset.yaml",
		Batch:        16,
		Workers:      4,
		Epochs:       100,
		NprocPerNode: 1,
		Device:       "0",
	})

	program, args, err := l.BuildCommand(spec)
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if program != "python3" {
		t.Errorf("program = %s, want python3", program)
	}
	// No distributed wrapper for a single process
	if args[0] != "tools/train.py" {
		t.Errorf("args[0] = %s, want tools/train.py", args[0])
	}
	assertHasFlag(t, args, "--device", "0")
}

func TestBuildCommandSemi(t *testing.T) {
	l := NewTorchLauncher("", "")

	spec := normalized(experiment.Spec{
		Data:         "data/dataset.yaml",
		Batch:        64,
		Weights:      "weights/yolov5s.pt",
		Workers:      8,
		Epochs:       20,
		NprocPerNode: 2,
		DoSemi:       true,
	})

	_, args, err := l.BuildCommand(spec)
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	assertContains(t, args, "--do-semi")
	assertHasFlag(t, args, "--conf-thres", "0.25")
	assertHasFlag(t, args, "--iou-thres", "0.45")
}

func TestBuildCommandBoolFlags(t *testing.T) {
	l := NewTorchLauncher("", "")

	spec := normalized(experiment.Spec{
		Data:      "data/dataset.yaml",
		Batch:     16,
		Epochs:    5,
		SingleCls: true,
		Resume:    true,
	})

	_, args, err := l.BuildCommand(spec)
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	assertContains(t, args, "--single-cls")
	assertContains(t, args, "--resume")
}

func TestBuildCommandRejectsInvalidSpec(t *testing.T) {
	l := NewTorchLauncher("", "")

	if _, _, err := l.BuildCommand(experiment.Spec{}); err == nil {
		t.Error("expected error for empty spec")
	}
}

func TestSupports(t *testing.T) {
	l := NewTorchLauncher("", "")

	gpuNode := &models.NodeCapabilities{GPUCount: 2, CUDAVersion: "11.8"}
	cpuNode := &models.NodeCapabilities{CPUThreads: 16}
	noCUDA := &models.NodeCapabilities{GPUCount: 2}

	tests := []struct {
		name string
		spec experiment.Spec
		caps *models.NodeCapabilities
		want bool
	}{
		{"nil caps", experiment.Spec{NprocPerNode: 1}, nil, false},
		{"cpu run on cpu node", experiment.Spec{NprocPerNode: 1, Device: "cpu"}, cpuNode, true},
		{"2-gpu run on 2-gpu node", experiment.Spec{NprocPerNode: 2}, gpuNode, true},
		{"4-gpu run on 2-gpu node", experiment.Spec{NprocPerNode: 4}, gpuNode, false},
		{"gpu run without cuda", experiment.Spec{NprocPerNode: 2}, noCUDA, false},
		{"bad device string", experiment.Spec{NprocPerNode: 1, Device: "x"}, gpuNode, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.Supports(tt.spec, tt.caps); got != tt.want {
				t.Errorf("Supports = %v, want %v", got, tt.want)
			}
		})
	}
}

func assertContains(t *testing.T, args []string, flag string) {
	t.Helper()
	for _, a := range args {
		if a == flag {
			return
		}
	}
	t.Errorf("args missing %s: %v", flag, args)
}

func assertHasFlag(t *testing.T, args []string, flag, value string) {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			if args[i+1] != value {
				t.Errorf("%s = %s, want %s", flag, args[i+1], value)
			}
			return
		}
	}
	t.Errorf("args missing %s: %v", flag, args)
}
