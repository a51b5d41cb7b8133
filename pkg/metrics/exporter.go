package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/trainctl/trainctl/pkg/models"
	"github.com/trainctl/trainctl/pkg/store"
)

// QueueStatsProvider supplies queued-run counts keyed by queue_priority,
// typically the scheduler's priority queue manager.
type QueueStatsProvider interface {
	GetQueueStats() map[string]int
}

// CoordinatorExporter exports Prometheus metrics for the coordinator
type CoordinatorExporter struct {
	store            store.Store
	queueStats       QueueStatsProvider
	startTime        time.Time
	mu               sync.RWMutex
	scheduleAttempts map[string]int64 // result -> count
}

// NewCoordinatorExporter creates a new Prometheus exporter for the coordinator
func NewCoordinatorExporter(s store.Store) *CoordinatorExporter {
	return &CoordinatorExporter{
		store:            s,
		startTime:        time.Now(),
		scheduleAttempts: make(map[string]int64),
	}
}

// SetQueueStats wires in per-queue, per-priority queue statistics
func (e *CoordinatorExporter) SetQueueStats(p QueueStatsProvider) {
	e.queueStats = p
}

// ServeHTTP serves Prometheus-compatible metrics at /metrics
func (e *CoordinatorExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	nodes := e.store.GetAllNodes()

	runMetrics, err := e.store.GetRunMetrics()
	if err != nil {
		http.Error(w, fmt.Sprintf("Error collecting run metrics: %v", err), http.StatusInternalServerError)
		return
	}

	runsByState := runMetrics.RunsByState
	// Export all states even when the count is zero so dashboards never
	// see a gap between restarts.
	for _, state := range []models.RunStatus{
		models.RunStatusQueued, models.RunStatusAssigned, models.RunStatusRunning,
		models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusTimedOut,
		models.RunStatusRetrying, models.RunStatusCanceled,
	} {
		if _, ok := runsByState[state]; !ok {
			runsByState[state] = 0
		}
	}

	// trainctl_runs_total{state}
	fmt.Fprintf(w, "# HELP trainctl_runs_total Total number of training runs by state\n")
	fmt.Fprintf(w, "# TYPE trainctl_runs_total counter\n")
	for state, count := range runsByState {
		fmt.Fprintf(w, "trainctl_runs_total{state=\"%s\"} %d\n", state, count)
	}

	// trainctl_active_runs
	fmt.Fprintf(w, "\n# HELP trainctl_active_runs Number of currently assigned or running training runs\n")
	fmt.Fprintf(w, "# TYPE trainctl_active_runs gauge\n")
	fmt.Fprintf(w, "trainctl_active_runs %d\n", runMetrics.ActiveRuns)

	// trainctl_queue_length
	fmt.Fprintf(w, "\n# HELP trainctl_queue_length Number of runs waiting in queue\n")
	fmt.Fprintf(w, "# TYPE trainctl_queue_length gauge\n")
	fmt.Fprintf(w, "trainctl_queue_length %d\n", runMetrics.QueueLength)

	// trainctl_queue_depth{queue}
	queueDepth := runMetrics.QueueDepth
	for _, queue := range []string{"interactive", "default", "sweep"} {
		if _, ok := queueDepth[queue]; !ok {
			queueDepth[queue] = 0
		}
	}
	fmt.Fprintf(w, "\n# HELP trainctl_queue_depth Queued runs by queue class\n")
	fmt.Fprintf(w, "# TYPE trainctl_queue_depth gauge\n")
	for _, queue := range []string{"interactive", "default", "sweep"} {
		fmt.Fprintf(w, "trainctl_queue_depth{queue=\"%s\"} %d\n", queue, queueDepth[queue])
	}

	// trainctl_queue_runs{queue,priority}
	if e.queueStats != nil {
		fmt.Fprintf(w, "\n# HELP trainctl_queue_runs Queued runs by queue class and priority\n")
		fmt.Fprintf(w, "# TYPE trainctl_queue_runs gauge\n")
		for key, count := range e.queueStats.GetQueueStats() {
			if key == "total" {
				continue
			}
			parts := strings.SplitN(key, "_", 2)
			if len(parts) != 2 {
				continue
			}
			fmt.Fprintf(w, "trainctl_queue_runs{queue=\"%s\",priority=\"%s\"} %d\n", parts[0], parts[1], count)
		}
	}

	// trainctl_run_duration_seconds
	fmt.Fprintf(w, "\n# HELP trainctl_run_duration_seconds Average completed run duration in seconds\n")
	fmt.Fprintf(w, "# TYPE trainctl_run_duration_seconds gauge\n")
	fmt.Fprintf(w, "trainctl_run_duration_seconds %.2f\n", runMetrics.AvgDurationSec)

	// trainctl_schedule_attempts_total{result}
	e.mu.RLock()
	fmt.Fprintf(w, "\n# HELP trainctl_schedule_attempts_total Total scheduling attempts by result\n")
	fmt.Fprintf(w, "# TYPE trainctl_schedule_attempts_total counter\n")
	for result, count := range e.scheduleAttempts {
		fmt.Fprintf(w, "trainctl_schedule_attempts_total{result=\"%s\"} %d\n", result, count)
	}
	e.mu.RUnlock()

	fmt.Fprintf(w, "\n# HELP trainctl_coordinator_uptime_seconds Coordinator uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE trainctl_coordinator_uptime_seconds gauge\n")
	fmt.Fprintf(w, "trainctl_coordinator_uptime_seconds %.0f\n", time.Since(e.startTime).Seconds())

	fmt.Fprintf(w, "\n# HELP trainctl_nodes_total Total number of registered training nodes\n")
	fmt.Fprintf(w, "# TYPE trainctl_nodes_total gauge\n")
	fmt.Fprintf(w, "trainctl_nodes_total %d\n", len(nodes))

	nodesByStatus := map[string]int{
		"available": 0,
		"busy":      0,
		"offline":   0,
	}
	gpuCapacity := 0
	for _, node := range nodes {
		nodesByStatus[node.Status]++
		if node.Status != "offline" {
			gpuCapacity += node.GPUCount
		}
	}
	fmt.Fprintf(w, "\n# HELP trainctl_nodes_by_status Training nodes by status\n")
	fmt.Fprintf(w, "# TYPE trainctl_nodes_by_status gauge\n")
	for _, status := range []string{"available", "busy", "offline"} {
		fmt.Fprintf(w, "trainctl_nodes_by_status{status=\"%s\"} %d\n", status, nodesByStatus[status])
	}

	// GPU supply vs demand drives most capacity decisions
	fmt.Fprintf(w, "\n# HELP trainctl_gpu_capacity Total GPUs across online nodes\n")
	fmt.Fprintf(w, "# TYPE trainctl_gpu_capacity gauge\n")
	fmt.Fprintf(w, "trainctl_gpu_capacity %d\n", gpuCapacity)

	fmt.Fprintf(w, "\n# HELP trainctl_gpu_demand GPUs requested by queued runs\n")
	fmt.Fprintf(w, "# TYPE trainctl_gpu_demand gauge\n")
	fmt.Fprintf(w, "trainctl_gpu_demand %d\n", runMetrics.GPUDemand)

	// Append metrics registered with the Prometheus client library
	fmt.Fprintf(w, "\n")

	metricFamilies, err := promclient.DefaultGatherer.Gather()
	if err != nil {
		fmt.Fprintf(w, "# Error gathering Prometheus metrics: %v\n", err)
		return
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			fmt.Fprintf(w, "# Error encoding metric %s: %v\n", mf.GetName(), err)
		}
	}
	w.Write(buf.Bytes())
}

// RecordScheduleAttempt records a scheduling attempt
func (e *CoordinatorExporter) RecordScheduleAttempt(result string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scheduleAttempts[result]++
}
