package agent

import (
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/trainctl/trainctl/pkg/models"
)

const (
	// ServerDetectionMinGPUs is the minimum GPU count for gpu-server classification
	ServerDetectionMinGPUs = 2
	// ServerDetectionMinRAMGB is the minimum RAM in GB for gpu-server classification
	ServerDetectionMinRAMGB = 64
)

// DetectHardware detects the training capabilities of the current system
func DetectHardware() (*models.NodeCapabilities, error) {
	caps := &models.NodeCapabilities{
		Labels: map[string]string{
			"os":   runtime.GOOS,
			"arch": runtime.GOARCH,
		},
	}

	caps.CPUThreads = runtime.NumCPU()
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		caps.CPUModel = infos[0].ModelName
	} else {
		caps.CPUModel = "Unknown"
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		caps.RAMTotalBytes = vm.Total
	}

	gpus, err := detectGPUs()
	if err == nil && len(gpus) > 0 {
		caps.GPUCount = len(gpus)
		caps.GPUModel = gpus[0].Name
		caps.GPUMemoryMB = gpus[0].MemoryMB
		caps.CUDAVersion = detectCUDAVersion()
	}

	return caps, nil
}

// GPUInfo describes one GPU reported by nvidia-smi
type GPUInfo struct {
	Index    int
	Name     string
	MemoryMB uint64
}

// detectGPUs enumerates NVIDIA GPUs via nvidia-smi
func detectGPUs() ([]GPUInfo, error) {
	out, err := exec.Command("nvidia-smi",
		"--query-gpu=index,name,memory.total",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi not available: %w", err)
	}
	return parseGPUList(string(out))
}

// parseGPUList parses nvidia-smi csv,noheader,nounits output:
//
//	0, NVIDIA RTX A6000, 49140
//	1, NVIDIA RTX A6000, 49140
func parseGPUList(output string) ([]GPUInfo, error) {
	var gpus []GPUInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 3 {
			return nil, fmt.Errorf("unexpected nvidia-smi line: %q", line)
		}

		idx, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("bad GPU index in %q: %w", line, err)
		}
		memMB, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad GPU memory in %q: %w", line, err)
		}

		gpus = append(gpus, GPUInfo{
			Index:    idx,
			Name:     strings.TrimSpace(fields[1]),
			MemoryMB: memMB,
		})
	}
	return gpus, nil
}

// detectCUDAVersion extracts the CUDA version from nvidia-smi banner output
func detectCUDAVersion() string {
	out, err := exec.Command("nvidia-smi").Output()
	if err != nil {
		return ""
	}
	return parseCUDAVersion(string(out))
}

// parseCUDAVersion finds "CUDA Version: 12.2" in the nvidia-smi banner
func parseCUDAVersion(output string) string {
	const marker = "CUDA Version:"
	idx := strings.Index(output, marker)
	if idx < 0 {
		return ""
	}
	rest := output[idx+len(marker):]
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimRight(fields[0], "|")
}

// DetectNodeType classifies the node for scheduling
func DetectNodeType(caps *models.NodeCapabilities) models.NodeType {
	if caps.GPUCount == 0 {
		return models.NodeTypeCPUOnly
	}

	ramGB := float64(caps.RAMTotalBytes) / (1 << 30)
	if caps.GPUCount >= ServerDetectionMinGPUs && ramGB >= ServerDetectionMinRAMGB {
		return models.NodeTypeGPUServer
	}
	return models.NodeTypeWorkstation
}

// RecommendedWorkers suggests a dataloader worker count per training process:
// leave headroom for the main process and cap at the framework limit.
func RecommendedWorkers(cpuThreads, nproc int) int {
	if nproc < 1 {
		nproc = 1
	}
	workers := (cpuThreads - nproc) / nproc
	if workers < 1 {
		workers = 1
	}
	if workers > 16 {
		workers = 16
	}
	return workers
}

// FormatRAM formats RAM bytes to a human-readable string
func FormatRAM(bytes uint64) string {
	gb := float64(bytes) / (1 << 30)
	return fmt.Sprintf("%.1f GB", gb)
}
