package agent

import (
	"testing"

	"github.com/trainctl/trainctl/pkg/models"
)

func TestParseGPUList(t *testing.T) {
	output := "0, NVIDIA RTX A6000, 49140\n1, NVIDIA RTX A6000, 49140\n"

	gpus, err := parseGPUList(output)
	if err != nil {
		t.Fatalf("parseGPUList failed: %v", err)
	}
	if len(gpus) != 2 {
		t.Fatalf("expected 2 GPUs, got %d", len(gpus))
	}
	if gpus[0].Name != "NVIDIA RTX A6000" {
		t.Errorf("name = %q", gpus[0].Name)
	}
	if gpus[1].Index != 1 || gpus[1].MemoryMB != 49140 {
		t.Errorf("second GPU parsed wrong: %+v", gpus[1])
	}
}

func TestParseGPUListMalformed(t *testing.T) {
	if _, err := parseGPUList("garbage line without commas\n"); err == nil {
		t.Error("expected error for malformed output")
	}
	if gpus, err := parseGPUList("\n\n"); err != nil || len(gpus) != 0 {
		t.Errorf("blank output should parse to empty list, got %v, %v", gpus, err)
	}
}

func TestParseCUDAVersion(t *testing.T) {
	banner := `+-----------------------------------------------------------------------------+
| NVIDIA-SMI 535.104.05   Driver Version: 535.104.05   CUDA Version: 12.2     |
|-------------------------------+----------------------+----------------------+`

	if got := parseCUDAVersion(banner); got != "12.2" {
		t.Errorf("parseCUDAVersion = %q, want 12.2", got)
	}
	if got := parseCUDAVersion("no cuda here"); got != "" {
		t.Errorf("expected empty for missing marker, got %q", got)
	}
}

func TestDetectNodeType(t *testing.T) {
	tests := []struct {
		name string
		caps models.NodeCapabilities
		want models.NodeType
	}{
		{"no gpu", models.NodeCapabilities{CPUThreads: 64, RAMTotalBytes: 512 << 30}, models.NodeTypeCPUOnly},
		{"single gpu desktop", models.NodeCapabilities{GPUCount: 1, RAMTotalBytes: 32 << 30}, models.NodeTypeWorkstation},
		{"multi gpu low ram", models.NodeCapabilities{GPUCount: 4, RAMTotalBytes: 32 << 30}, models.NodeTypeWorkstation},
		{"gpu server", models.NodeCapabilities{GPUCount: 4, RAMTotalBytes: 256 << 30}, models.NodeTypeGPUServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectNodeType(&tt.caps); got != tt.want {
				t.Errorf("DetectNodeType = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRecommendedWorkers(t *testing.T) {
	tests := []struct {
		threads int
		nproc   int
		want    int
	}{
		{32, 2, 15},
		{8, 1, 7},
		{4, 4, 1},
		{2, 1, 1},
		{128, 2, 16}, // capped
	}

	for _, tt := range tests {
		if got := RecommendedWorkers(tt.threads, tt.nproc); got != tt.want {
			t.Errorf("RecommendedWorkers(%d, %d) = %d, want %d", tt.threads, tt.nproc, got, tt.want)
		}
	}
}
