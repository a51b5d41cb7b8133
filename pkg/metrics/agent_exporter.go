package metrics

import (
	"fmt"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// AgentExporter exports Prometheus metrics for training agents
type AgentExporter struct {
	mu             sync.RWMutex
	nodeID         string
	startTime      time.Time
	activeRuns     int
	heartbeatCount int64

	cpuUsage    float64
	memoryBytes uint64
	gpuUsage    float64
	powerWatts  float64
	tempCelsius float64

	hasGPU   bool
	gpuModel string

	// Progress of the run currently executing on this node
	currentRunID string
	currentEpoch int
	totalEpochs  int

	runsCompletedTotal int64
	runsFailedTotal    int64
	runsCanceledTotal  int64
}

// NewAgentExporter creates a new Prometheus exporter for an agent
func NewAgentExporter(nodeID string, hasGPU bool) *AgentExporter {
	return &AgentExporter{
		nodeID:    nodeID,
		startTime: time.Now(),
		hasGPU:    hasGPU,
	}
}

// ServeHTTP serves Prometheus-compatible metrics at /metrics
func (e *AgentExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	e.updateMetrics()

	e.mu.RLock()
	defer e.mu.RUnlock()

	fmt.Fprintf(w, "# HELP trainctl_agent_cpu_usage Agent CPU usage percentage (0-100)\n")
	fmt.Fprintf(w, "# TYPE trainctl_agent_cpu_usage gauge\n")
	fmt.Fprintf(w, "trainctl_agent_cpu_usage{node_id=\"%s\"} %.2f\n", e.nodeID, e.cpuUsage)

	if e.hasGPU {
		fmt.Fprintf(w, "\n# HELP trainctl_agent_gpu_usage Agent GPU utilization percentage (0-100)\n")
		fmt.Fprintf(w, "# TYPE trainctl_agent_gpu_usage gauge\n")
		fmt.Fprintf(w, "trainctl_agent_gpu_usage{node_id=\"%s\",gpu_model=\"%s\"} %.2f\n",
			e.nodeID, e.gpuModel, e.gpuUsage)

		fmt.Fprintf(w, "\n# HELP trainctl_agent_gpu_power_watts Agent GPU power draw in watts\n")
		fmt.Fprintf(w, "# TYPE trainctl_agent_gpu_power_watts gauge\n")
		fmt.Fprintf(w, "trainctl_agent_gpu_power_watts{node_id=\"%s\"} %.2f\n", e.nodeID, e.powerWatts)

		fmt.Fprintf(w, "\n# HELP trainctl_agent_gpu_temperature_celsius Agent GPU temperature in Celsius\n")
		fmt.Fprintf(w, "# TYPE trainctl_agent_gpu_temperature_celsius gauge\n")
		fmt.Fprintf(w, "trainctl_agent_gpu_temperature_celsius{node_id=\"%s\"} %.2f\n", e.nodeID, e.tempCelsius)
	}

	fmt.Fprintf(w, "\n# HELP trainctl_agent_memory_bytes Agent memory usage in bytes\n")
	fmt.Fprintf(w, "# TYPE trainctl_agent_memory_bytes gauge\n")
	fmt.Fprintf(w, "trainctl_agent_memory_bytes{node_id=\"%s\"} %d\n", e.nodeID, e.memoryBytes)

	fmt.Fprintf(w, "\n# HELP trainctl_agent_active_runs Number of training runs executing on this agent\n")
	fmt.Fprintf(w, "# TYPE trainctl_agent_active_runs gauge\n")
	fmt.Fprintf(w, "trainctl_agent_active_runs{node_id=\"%s\"} %d\n", e.nodeID, e.activeRuns)

	if e.currentRunID != "" {
		fmt.Fprintf(w, "\n# HELP trainctl_agent_run_epoch Current epoch of the active run (zero-based)\n")
		fmt.Fprintf(w, "# TYPE trainctl_agent_run_epoch gauge\n")
		fmt.Fprintf(w, "trainctl_agent_run_epoch{node_id=\"%s\",run_id=\"%s\"} %d\n",
			e.nodeID, e.currentRunID, e.currentEpoch)

		fmt.Fprintf(w, "\n# HELP trainctl_agent_run_epochs_total Total epochs of the active run\n")
		fmt.Fprintf(w, "# TYPE trainctl_agent_run_epochs_total gauge\n")
		fmt.Fprintf(w, "trainctl_agent_run_epochs_total{node_id=\"%s\",run_id=\"%s\"} %d\n",
			e.nodeID, e.currentRunID, e.totalEpochs)
	}

	fmt.Fprintf(w, "\n# HELP trainctl_agent_heartbeats_total Total heartbeats sent by agent\n")
	fmt.Fprintf(w, "# TYPE trainctl_agent_heartbeats_total counter\n")
	fmt.Fprintf(w, "trainctl_agent_heartbeats_total{node_id=\"%s\"} %d\n", e.nodeID, e.heartbeatCount)

	fmt.Fprintf(w, "\n# HELP trainctl_agent_uptime_seconds Agent uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE trainctl_agent_uptime_seconds gauge\n")
	fmt.Fprintf(w, "trainctl_agent_uptime_seconds{node_id=\"%s\"} %.0f\n", e.nodeID, time.Since(e.startTime).Seconds())

	hasGPUValue := 0
	if e.hasGPU {
		hasGPUValue = 1
	}
	fmt.Fprintf(w, "\n# HELP trainctl_agent_has_gpu Whether agent has a GPU (1=yes, 0=no)\n")
	fmt.Fprintf(w, "# TYPE trainctl_agent_has_gpu gauge\n")
	fmt.Fprintf(w, "trainctl_agent_has_gpu{node_id=\"%s\"} %d\n", e.nodeID, hasGPUValue)

	fmt.Fprintf(w, "\n# HELP trainctl_agent_runs_completed_total Total runs completed successfully\n")
	fmt.Fprintf(w, "# TYPE trainctl_agent_runs_completed_total counter\n")
	fmt.Fprintf(w, "trainctl_agent_runs_completed_total{node_id=\"%s\"} %d\n", e.nodeID, e.runsCompletedTotal)

	fmt.Fprintf(w, "\n# HELP trainctl_agent_runs_failed_total Total runs that failed\n")
	fmt.Fprintf(w, "# TYPE trainctl_agent_runs_failed_total counter\n")
	fmt.Fprintf(w, "trainctl_agent_runs_failed_total{node_id=\"%s\"} %d\n", e.nodeID, e.runsFailedTotal)

	fmt.Fprintf(w, "\n# HELP trainctl_agent_runs_canceled_total Total runs canceled\n")
	fmt.Fprintf(w, "# TYPE trainctl_agent_runs_canceled_total counter\n")
	fmt.Fprintf(w, "trainctl_agent_runs_canceled_total{node_id=\"%s\"} %d\n", e.nodeID, e.runsCanceledTotal)
}

// updateMetrics refreshes hardware metrics
func (e *AgentExporter) updateMetrics() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		e.cpuUsage = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		e.memoryBytes = memInfo.Used
	}

	if e.hasGPU {
		e.updateGPUMetrics()
	}
}

// updateGPUMetrics refreshes GPU metrics using nvidia-smi
func (e *AgentExporter) updateGPUMetrics() {
	cmd := exec.Command("nvidia-smi",
		"--query-gpu=utilization.gpu,power.draw,temperature.gpu,name",
		"--format=csv,noheader,nounits")
	output, err := cmd.Output()
	if err != nil {
		return
	}

	// Multi-GPU nodes report one line per device; the first is representative
	// for dashboard purposes.
	line := strings.SplitN(strings.TrimSpace(string(output)), "\n", 2)[0]
	parts := strings.Split(line, ",")
	if len(parts) >= 4 {
		if util, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err == nil {
			e.gpuUsage = util
		}
		if power, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err == nil {
			e.powerWatts = power
		}
		if temp, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64); err == nil {
			e.tempCelsius = temp
		}
		e.gpuModel = strings.TrimSpace(parts[3])
	}
}

// SetActiveRuns sets the number of runs executing on this agent
func (e *AgentExporter) SetActiveRuns(count int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeRuns = count
}

// SetRunProgress records epoch progress for the active run
func (e *AgentExporter) SetRunProgress(runID string, epoch, totalEpochs int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentRunID = runID
	e.currentEpoch = epoch
	e.totalEpochs = totalEpochs
}

// ClearRunProgress clears the active run progress after completion
func (e *AgentExporter) ClearRunProgress() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentRunID = ""
	e.currentEpoch = 0
	e.totalEpochs = 0
}

// IncrementHeartbeat increments the heartbeat counter
func (e *AgentExporter) IncrementHeartbeat() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.heartbeatCount++
}

// RecordRunCompletion records a finished run by outcome
func (e *AgentExporter) RecordRunCompletion(failed, canceled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case canceled:
		e.runsCanceledTotal++
	case failed:
		e.runsFailedTotal++
	default:
		e.runsCompletedTotal++
	}
}
