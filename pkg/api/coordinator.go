package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/trainctl/trainctl/pkg/experiment"
	"github.com/trainctl/trainctl/pkg/models"
	"github.com/trainctl/trainctl/pkg/store"
)

// MetricsRecorder is an interface for recording scheduling metrics
type MetricsRecorder interface {
	RecordScheduleAttempt(result string)
}

// CoordinatorHandler handles coordinator API requests
type CoordinatorHandler struct {
	store           store.Store
	retryPolicy     *models.RetryPolicy
	metricsRecorder MetricsRecorder
	resultsWriter   *ResultsWriter
	apiKey          string
}

// NewCoordinatorHandler creates a new coordinator handler
func NewCoordinatorHandler(s store.Store, resultsDir string) *CoordinatorHandler {
	return &CoordinatorHandler{
		store:         s,
		retryPolicy:   models.DefaultRetryPolicy(),
		resultsWriter: NewResultsWriter(resultsDir),
	}
}

// SetMetricsRecorder sets the metrics recorder for the handler
func (h *CoordinatorHandler) SetMetricsRecorder(recorder MetricsRecorder) {
	h.metricsRecorder = recorder
}

// SetRetryPolicy overrides the default retry policy
func (h *CoordinatorHandler) SetRetryPolicy(policy *models.RetryPolicy) {
	if policy != nil {
		h.retryPolicy = policy
	}
}

// SetAPIKey enables bearer-token authentication. Empty key leaves the API open.
func (h *CoordinatorHandler) SetAPIKey(key string) {
	h.apiKey = key
}

// AuthMiddleware rejects requests without the configured bearer token.
// Health and metrics stay unauthenticated for probes and scrapers.
func (h *CoordinatorHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey == "" || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+h.apiKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RegisterRoutes registers all API routes
func (h *CoordinatorHandler) RegisterRoutes(r *mux.Router) {
	// Node routes
	r.HandleFunc("/nodes/register", h.RegisterNode).Methods("POST")
	r.HandleFunc("/nodes/{id}", h.GetNodeDetails).Methods("GET")
	r.HandleFunc("/nodes/{id}", h.RemoveNode).Methods("DELETE")
	r.HandleFunc("/nodes", h.ListNodes).Methods("GET")
	r.HandleFunc("/nodes/{id}/heartbeat", h.NodeHeartbeat).Methods("POST")

	// Run routes (specific routes before parameterized routes)
	r.HandleFunc("/runs/next", h.GetNextRun).Methods("GET")
	r.HandleFunc("/runs", h.CreateRun).Methods("POST")
	r.HandleFunc("/runs", h.ListRuns).Methods("GET")
	r.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")
	r.HandleFunc("/runs/{id}/cancel", h.CancelRun).Methods("POST")
	r.HandleFunc("/runs/{id}/retry", h.RetryRun).Methods("POST")
	r.HandleFunc("/runs/{id}/epoch", h.ReportEpoch).Methods("POST")
	r.HandleFunc("/runs/{id}/logs", h.GetRunLogs).Methods("GET")

	// Experiment presets
	r.HandleFunc("/experiments", h.ListExperiments).Methods("GET")

	// Other routes
	r.HandleFunc("/results", h.ReceiveResults).Methods("POST")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// getRunByIDOrSequence retrieves a run by ID (UUID) or sequence number
func (h *CoordinatorHandler) getRunByIDOrSequence(idOrSeq string) (*models.Run, error) {
	var seqNum int
	if _, parseErr := fmt.Sscanf(idOrSeq, "%d", &seqNum); parseErr == nil && seqNum > 0 {
		for _, run := range h.store.GetAllRuns() {
			if run.SequenceNumber == seqNum {
				return run, nil
			}
		}
		return nil, store.ErrRunNotFound
	}
	return h.store.GetRun(idOrSeq)
}

// RegisterNode handles node registration
func (h *CoordinatorHandler) RegisterNode(w http.ResponseWriter, r *http.Request) {
	var reg models.NodeRegistration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Re-registration after an agent restart: same address, keep the ID.
	// Build a fresh node and let the store swap it in; mutating the node
	// returned by GetAllNodes would race with concurrent store readers.
	for _, existing := range h.store.GetAllNodes() {
		if existing.Address != reg.Address {
			continue
		}

		updated := &models.Node{
			ID:            existing.ID,
			Name:          existing.Name,
			Address:       existing.Address,
			Type:          reg.Type,
			GPUCount:      reg.GPUCount,
			GPUModel:      reg.GPUModel,
			GPUMemoryMB:   reg.GPUMemoryMB,
			CUDAVersion:   reg.CUDAVersion,
			CPUThreads:    reg.CPUThreads,
			CPUModel:      reg.CPUModel,
			RAMTotalBytes: reg.RAMTotalBytes,
			Labels:        reg.Labels,
			Status:        "available",
			LastHeartbeat: time.Now(),
			RegisteredAt:  existing.RegisteredAt,
			CurrentRunID:  "", // clear any stale assignment
		}

		if err := h.store.RegisterNode(updated); err != nil {
			log.Printf("Error re-registering node: %v", err)
			http.Error(w, "Failed to register node", http.StatusInternalServerError)
			return
		}

		log.Printf("Node re-registered: %s [%s] (%d GPUs, CUDA %s)",
			updated.Name, updated.ID, updated.GPUCount, updated.CUDAVersion)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(updated)
		return
	}

	node := &models.Node{
		ID:            uuid.New().String(),
		Name:          hostnameFromAddress(reg.Address),
		Address:       reg.Address,
		Type:          reg.Type,
		GPUCount:      reg.GPUCount,
		GPUModel:      reg.GPUModel,
		GPUMemoryMB:   reg.GPUMemoryMB,
		CUDAVersion:   reg.CUDAVersion,
		CPUThreads:    reg.CPUThreads,
		CPUModel:      reg.CPUModel,
		RAMTotalBytes: reg.RAMTotalBytes,
		Labels:        reg.Labels,
		Status:        "available",
		LastHeartbeat: time.Now(),
		RegisteredAt:  time.Now(),
	}

	if err := h.store.RegisterNode(node); err != nil {
		log.Printf("Error registering node: %v", err)
		http.Error(w, "Failed to register node", http.StatusInternalServerError)
		return
	}

	log.Printf("Node registered: %s [%s] (%s, %d GPUs %s, %d threads)",
		node.Name, node.ID, node.Type, node.GPUCount, node.GPUModel, node.CPUThreads)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(node)
}

// hostnameFromAddress strips protocol and port from a node address
func hostnameFromAddress(address string) string {
	name := address
	for _, prefix := range []string{"https://", "http://"} {
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			name = name[len(prefix):]
			break
		}
	}
	for i, ch := range name {
		if ch == ':' {
			return name[:i]
		}
	}
	return name
}

// ListNodes returns all registered nodes
func (h *CoordinatorHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := h.store.GetAllNodes()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"nodes": nodes,
		"count": len(nodes),
	})
}

// GetNodeDetails retrieves detailed information about a specific node
func (h *CoordinatorHandler) GetNodeDetails(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	nodeID := vars["id"]

	node, err := h.store.GetNode(nodeID)
	if err != nil {
		if err == store.ErrNodeNotFound {
			http.Error(w, "Node not found", http.StatusNotFound)
			return
		}
		log.Printf("Error getting node: %v", err)
		http.Error(w, "Failed to get node", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(node)
}

// RemoveNode removes a node from the fleet
func (h *CoordinatorHandler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	nodeID := vars["id"]

	node, err := h.store.GetNode(nodeID)
	if err != nil {
		if err == store.ErrNodeNotFound {
			http.Error(w, "Node not found", http.StatusNotFound)
			return
		}
		log.Printf("Error retrieving node: %v", err)
		http.Error(w, fmt.Sprintf("Failed to retrieve node: %v", err), http.StatusInternalServerError)
		return
	}

	if node.Status == "busy" {
		http.Error(w, "Cannot remove node while it is running a training job", http.StatusBadRequest)
		return
	}

	if err := h.store.DeleteNode(nodeID); err != nil {
		log.Printf("Error removing node: %v", err)
		http.Error(w, fmt.Sprintf("Failed to remove node: %v", err), http.StatusInternalServerError)
		return
	}

	log.Printf("Node %s (%s) removed from fleet", nodeID, node.Name)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "removed",
		"node_id": nodeID,
	})
}

// NodeHeartbeat updates node heartbeat
func (h *CoordinatorHandler) NodeHeartbeat(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	nodeID := vars["id"]

	if err := h.store.UpdateNodeHeartbeat(nodeID); err != nil {
		if err == store.ErrNodeNotFound {
			http.Error(w, "Node not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to update heartbeat", http.StatusInternalServerError)
		return
	}

	// Bump run activity so the timeout checker sees a live run
	node, err := h.store.GetNode(nodeID)
	if err == nil && node.CurrentRunID != "" {
		if err := h.store.UpdateRunActivity(node.CurrentRunID); err != nil {
			log.Printf("Warning: failed to update run activity for %s: %v", node.CurrentRunID, err)
		}
	}

	w.WriteHeader(http.StatusOK)
}

var validQueues = map[string]bool{
	"interactive": true,
	"default":     true,
	"sweep":       true,
}

// CreateRun submits a new training run
func (h *CoordinatorHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	spec := req.Spec
	if spec.Data == "" && req.Experiment != "" {
		// Bare experiment name: resolve to a preset
		preset, err := experiment.FindPreset(req.Experiment)
		if err != nil {
			http.Error(w, fmt.Sprintf("Unknown experiment %q", req.Experiment), http.StatusBadRequest)
			return
		}
		spec = preset.Spec
	}

	spec.Normalize()
	if err := spec.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("Invalid spec: %v", err), http.StatusBadRequest)
		return
	}

	queue := req.Queue
	if queue == "" {
		queue = "default"
	}
	if !validQueues[queue] {
		http.Error(w, fmt.Sprintf("Invalid queue %q. Valid values: interactive, default, sweep", queue), http.StatusBadRequest)
		return
	}

	run := &models.Run{
		ID:         uuid.New().String(),
		Experiment: req.Experiment,
		Spec:       spec,
		Status:     models.RunStatusPending,
		Queue:      queue,
		Priority:   req.Priority,
		CreatedAt:  time.Now(),
	}
	if run.Experiment == "" {
		run.Experiment = "adhoc"
	}

	if err := h.store.CreateRun(run); err != nil {
		log.Printf("Error creating run: %v", err)
		http.Error(w, "Failed to create run", http.StatusInternalServerError)
		return
	}

	log.Printf("Run created: %s (seq#%d, %s, %d epochs, %d GPU(s))",
		run.ID, run.SequenceNumber, run.Experiment, spec.Epochs, spec.GPUsRequired())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(run)
}

// ListRuns returns all runs, optionally filtered by status
func (h *CoordinatorHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.GetRuns(r.URL.Query().Get("status"))
	if err != nil {
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun retrieves a specific run by ID or sequence number
func (h *CoordinatorHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	run, err := h.getRunByIDOrSequence(vars["id"])
	if err != nil {
		if err == store.ErrRunNotFound {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		log.Printf("Error getting run: %v", err)
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

// GetNextRun hands the next schedulable run to a polling agent
func (h *CoordinatorHandler) GetNextRun(w http.ResponseWriter, r *http.Request) {
	nodeID := r.URL.Query().Get("node_id")
	if nodeID == "" {
		http.Error(w, "node_id parameter is required", http.StatusBadRequest)
		return
	}

	run, err := h.store.GetNextRun(nodeID)
	if err != nil {
		if err == store.ErrRunNotFound {
			if h.metricsRecorder != nil {
				h.metricsRecorder.RecordScheduleAttempt("no_runs")
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"run": nil,
			})
			return
		}
		if err == store.ErrNodeNotFound {
			http.Error(w, "Node not found", http.StatusNotFound)
			return
		}
		if h.metricsRecorder != nil {
			h.metricsRecorder.RecordScheduleAttempt("error")
		}
		log.Printf("Error getting next run: %v", err)
		http.Error(w, "Failed to get next run", http.StatusInternalServerError)
		return
	}

	if h.metricsRecorder != nil {
		h.metricsRecorder.RecordScheduleAttempt("success")
	}

	log.Printf("Run %s (seq#%d) assigned to node %s", run.ID, run.SequenceNumber, nodeID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run": run,
	})
}

// CancelRun cancels a run
func (h *CoordinatorHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	run, err := h.getRunByIDOrSequence(vars["id"])
	if err != nil {
		if err == store.ErrRunNotFound {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to retrieve run: %v", err), http.StatusInternalServerError)
		return
	}

	if err := h.store.CancelRun(run.ID); err != nil {
		log.Printf("Error canceling run: %v", err)
		http.Error(w, fmt.Sprintf("Failed to cancel run: %v", err), http.StatusBadRequest)
		return
	}

	log.Printf("Run %s canceled", run.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "canceled",
		"run_id": run.ID,
	})
}

// RetryRun requeues a failed, timed out, or canceled run
func (h *CoordinatorHandler) RetryRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	run, err := h.getRunByIDOrSequence(vars["id"])
	if err != nil {
		if err == store.ErrRunNotFound {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to retrieve run: %v", err), http.StatusInternalServerError)
		return
	}

	if !models.CanRetry(run.Status) && run.Status != models.RunStatusCanceled {
		http.Error(w, "Only failed, timed out, or canceled runs can be retried", http.StatusBadRequest)
		return
	}

	if err := h.store.RetryRun(run.ID, ""); err != nil {
		log.Printf("Error retrying run: %v", err)
		http.Error(w, fmt.Sprintf("Failed to retry run: %v", err), http.StatusInternalServerError)
		return
	}

	updated, err := h.store.GetRun(run.ID)
	retryCount := run.RetryCount + 1
	if err == nil {
		retryCount = updated.RetryCount
	}

	log.Printf("Run %s queued for retry (attempt %d)", run.ID, retryCount)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "queued",
		"run_id":      run.ID,
		"retry_count": retryCount,
	})
}

// epochReport is the per-epoch progress payload sent by agents
type epochReport struct {
	Epoch int `json:"epoch"`
}

// ReportEpoch records epoch progress from an agent
func (h *CoordinatorHandler) ReportEpoch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["id"]

	var report epochReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	run, err := h.store.GetRun(runID)
	if err != nil {
		if err == store.ErrRunNotFound {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}

	// First epoch report flips assigned -> running
	if run.Status == models.RunStatusAssigned {
		if err := h.store.AddStateTransition(runID, models.RunStatusAssigned,
			models.RunStatusRunning, "launcher reported first epoch"); err != nil {
			log.Printf("Warning: failed to transition run %s to running: %v", runID, err)
		}
	}

	if err := h.store.UpdateRunEpoch(runID, report.Epoch); err != nil {
		http.Error(w, "Failed to update epoch", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetRunLogs retrieves the console log tail for a run
func (h *CoordinatorHandler) GetRunLogs(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	run, err := h.getRunByIDOrSequence(vars["id"])
	if err != nil {
		if err == store.ErrRunNotFound {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to retrieve run: %v", err), http.StatusInternalServerError)
		return
	}

	logs := run.Logs
	if logs == "" && run.Error != "" {
		logs = fmt.Sprintf("Error: %s", run.Error)
	}
	if logs == "" {
		logs = "No logs reported for this run yet"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"run_id": run.ID,
		"logs":   logs,
	})
}

// ListExperiments returns the built-in experiment presets
func (h *CoordinatorHandler) ListExperiments(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	presets := experiment.Presets(includeArchived)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"experiments": presets,
		"count":       len(presets),
	})
}

// ReceiveResults receives run results from an agent
func (h *CoordinatorHandler) ReceiveResults(w http.ResponseWriter, r *http.Request) {
	var result models.RunResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	run, err := h.store.GetRun(result.RunID)
	if err != nil {
		if err == store.ErrRunNotFound {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}

	// Transient failures go back to the queue until retries run out
	if result.Status == models.RunStatusFailed &&
		run.RetryCount < h.retryPolicy.MaxRetries &&
		run.Status != models.RunStatusCanceled {
		if isRetryableError(result.Error) {
			if err := h.store.RetryRun(result.RunID, result.Error); err != nil {
				log.Printf("Error requeuing run for retry: %v", err)
			} else {
				log.Printf("Run %s failed on node %s (attempt %d/%d) - requeued",
					result.RunID, result.NodeID, run.RetryCount+1, h.retryPolicy.MaxRetries)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"status":      "retrying",
					"retry":       run.RetryCount + 1,
					"max_retries": h.retryPolicy.MaxRetries,
				})
				return
			}
		}
	}

	if err := h.store.UpdateRunStatus(result.RunID, result.Status, result.Error); err != nil {
		log.Printf("Error updating run status: %v", err)
		http.Error(w, "Failed to update run status", http.StatusInternalServerError)
		return
	}

	// Persist artifacts metadata and log tail
	updated, err := h.store.GetRun(result.RunID)
	if err == nil {
		if result.FinalEpoch > updated.Epoch {
			updated.Epoch = result.FinalEpoch
		}
		if result.RunDir != "" {
			updated.RunDir = result.RunDir
		}
		if result.Logs != "" {
			updated.Logs = result.Logs
		}
		if err := h.store.UpdateRun(updated); err != nil {
			log.Printf("Warning: failed to persist run artifacts: %v", err)
		}
	}

	if result.Status == models.RunStatusCompleted && h.resultsWriter != nil {
		if updated == nil {
			updated = run
		}
		if err := h.resultsWriter.WriteRunResult(updated, &result); err != nil {
			log.Printf("Warning: failed to write run results to file: %v", err)
		}
	}

	log.Printf("Results received for run %s (status: %s, exit code %d)",
		result.RunID, result.Status, result.ExitCode)
	if result.Error != "" {
		log.Printf("  Error: %s", result.Error)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "success",
	})
}

// isRetryableError rejects errors that will repeat identically on retry
func isRetryableError(errMsg string) bool {
	if errMsg == "" {
		return false
	}
	nonRetryable := []string{
		"CUDA out of memory",
		"non-retryable",
		"invalid spec",
		"names found for nc=",
	}
	errLower := strings.ToLower(errMsg)
	for _, pattern := range nonRetryable {
		if strings.Contains(errLower, strings.ToLower(pattern)) {
			return false
		}
	}
	return true
}

// Health returns the health status of the coordinator
func (h *CoordinatorHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := h.store.HealthCheck(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status": status,
	})
}
