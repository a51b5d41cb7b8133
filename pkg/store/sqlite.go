package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/trainctl/trainctl/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the data store
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Connection string parameters for concurrent access:
	// - _journal_mode=WAL: Write-Ahead Logging so reads don't block the writer
	// - _busy_timeout=10000: wait up to 10 seconds when the database is locked
	// - _synchronous=NORMAL: balance between safety and performance
	// - _cache_size=-8000: 8MB page cache
	// - _txlock=immediate: take the write lock at transaction start
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_cache_size=-8000&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to avoid SQLITE_BUSY under load
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		type TEXT NOT NULL,
		gpu_count INTEGER NOT NULL DEFAULT 0,
		gpu_model TEXT,
		gpu_memory_mb INTEGER DEFAULT 0,
		cuda_version TEXT,
		cpu_threads INTEGER NOT NULL,
		cpu_model TEXT NOT NULL,
		ram_total_bytes INTEGER NOT NULL,
		labels TEXT,
		status TEXT NOT NULL,
		last_heartbeat DATETIME NOT NULL,
		registered_at DATETIME NOT NULL,
		current_run_id TEXT
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		sequence_number INTEGER NOT NULL DEFAULT 0,
		experiment TEXT NOT NULL,
		spec TEXT NOT NULL,
		status TEXT NOT NULL,
		queue TEXT DEFAULT 'default',
		priority TEXT DEFAULT 'medium',
		epoch INTEGER DEFAULT 0,
		node_id TEXT,
		node_name TEXT,
		run_dir TEXT,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		last_activity_at DATETIME,
		retry_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		logs TEXT,
		state_transitions TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_queue_priority ON runs(queue, priority, created_at);
	CREATE INDEX IF NOT EXISTS idx_nodes_status ON nodes(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

const nodeColumns = `id, name, address, type, gpu_count, gpu_model, gpu_memory_mb, cuda_version,
	cpu_threads, cpu_model, ram_total_bytes, labels, status, last_heartbeat, registered_at, current_run_id`

const runColumns = `id, sequence_number, experiment, spec, status, queue, priority, epoch, node_id,
	node_name, run_dir, created_at, started_at, completed_at, last_activity_at, retry_count, error, logs, state_transitions`

// RegisterNode adds or updates a node in the store
func (s *SQLiteStore) RegisterNode(node *models.Node) error {
	labels, err := json.Marshal(node.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, node.ID, node.Name, node.Address, node.Type, node.GPUCount, node.GPUModel,
		node.GPUMemoryMB, node.CUDAVersion, node.CPUThreads, node.CPUModel,
		node.RAMTotalBytes, string(labels), node.Status, node.LastHeartbeat,
		node.RegisteredAt, node.CurrentRunID)

	return err
}

func scanNode(scanner interface{ Scan(...interface{}) error }) (*models.Node, error) {
	var node models.Node
	var labelsJSON, gpuModel, cudaVersion, currentRunID sql.NullString

	err := scanner.Scan(&node.ID, &node.Name, &node.Address, &node.Type, &node.GPUCount,
		&gpuModel, &node.GPUMemoryMB, &cudaVersion, &node.CPUThreads, &node.CPUModel,
		&node.RAMTotalBytes, &labelsJSON, &node.Status, &node.LastHeartbeat,
		&node.RegisteredAt, &currentRunID)
	if err != nil {
		return nil, err
	}

	node.GPUModel = gpuModel.String
	node.CUDAVersion = cudaVersion.String
	node.CurrentRunID = currentRunID.String

	if labelsJSON.Valid && labelsJSON.String != "" && labelsJSON.String != "null" {
		if err := json.Unmarshal([]byte(labelsJSON.String), &node.Labels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal labels: %w", err)
		}
	}

	return &node, nil
}

// GetNode retrieves a node by ID
func (s *SQLiteStore) GetNode(id string) (*models.Node, error) {
	row := s.db.QueryRow(`SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)

	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

// GetAllNodes returns all registered nodes
func (s *SQLiteStore) GetAllNodes() []*models.Node {
	rows, err := s.db.Query(`SELECT ` + nodeColumns + ` FROM nodes ORDER BY registered_at`)
	if err != nil {
		return []*models.Node{}
	}
	defer rows.Close()

	var nodes []*models.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// UpdateNodeStatus updates the status of a node
func (s *SQLiteStore) UpdateNodeStatus(id, status string) error {
	result, err := s.db.Exec(`
		UPDATE nodes SET status = ?, last_heartbeat = ? WHERE id = ?
	`, status, time.Now(), id)
	if err != nil {
		return err
	}
	return requireRow(result, ErrNodeNotFound)
}

// UpdateNodeHeartbeat updates the last heartbeat time for a node
func (s *SQLiteStore) UpdateNodeHeartbeat(id string) error {
	result, err := s.db.Exec(`
		UPDATE nodes SET last_heartbeat = ? WHERE id = ?
	`, time.Now(), id)
	if err != nil {
		return err
	}
	return requireRow(result, ErrNodeNotFound)
}

// DeleteNode removes a node from the store
func (s *SQLiteStore) DeleteNode(id string) error {
	result, err := s.db.Exec(`DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(result, ErrNodeNotFound)
}

// CreateRun adds a new run to the store
func (s *SQLiteStore) CreateRun(run *models.Run) error {
	specJSON, err := json.Marshal(run.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}

	transitions, err := json.Marshal(run.StateTransitions)
	if err != nil {
		return fmt.Errorf("failed to marshal state_transitions: %w", err)
	}

	if run.Queue == "" {
		run.Queue = "default"
	}
	if run.Priority == "" {
		run.Priority = "medium"
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	// Single writer connection, so MAX+1 is race-free
	if run.SequenceNumber == 0 {
		if err := s.db.QueryRow(
			`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM runs`,
		).Scan(&run.SequenceNumber); err != nil {
			return err
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.SequenceNumber, run.Experiment, string(specJSON), run.Status,
		run.Queue, run.Priority, run.Epoch, run.NodeID, run.NodeName, run.RunDir,
		run.CreatedAt, run.StartedAt, run.CompletedAt, run.LastActivityAt,
		run.RetryCount, run.Error, run.Logs, string(transitions))

	return err
}

func scanRun(scanner interface{ Scan(...interface{}) error }) (*models.Run, error) {
	var run models.Run
	var specJSON string
	var transitionsJSON, nodeID, nodeName, runDir, errMsg, logs sql.NullString
	var startedAt, completedAt, lastActivityAt sql.NullTime

	err := scanner.Scan(&run.ID, &run.SequenceNumber, &run.Experiment, &specJSON,
		&run.Status, &run.Queue, &run.Priority, &run.Epoch, &nodeID, &nodeName,
		&runDir, &run.CreatedAt, &startedAt, &completedAt, &lastActivityAt,
		&run.RetryCount, &errMsg, &logs, &transitionsJSON)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(specJSON), &run.Spec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal spec: %w", err)
	}
	if transitionsJSON.Valid && transitionsJSON.String != "" && transitionsJSON.String != "null" {
		if err := json.Unmarshal([]byte(transitionsJSON.String), &run.StateTransitions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state_transitions: %w", err)
		}
	}

	run.NodeID = nodeID.String
	run.NodeName = nodeName.String
	run.RunDir = runDir.String
	run.Error = errMsg.String
	run.Logs = logs.String
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if lastActivityAt.Valid {
		run.LastActivityAt = &lastActivityAt.Time
	}

	return &run, nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(id string) (*models.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetAllRuns returns all runs, newest first
func (s *SQLiteStore) GetAllRuns() []*models.Run {
	runs, err := s.queryRuns(`SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return []*models.Run{}
	}
	return runs
}

// GetRuns returns runs filtered by status; empty status means all
func (s *SQLiteStore) GetRuns(status string) ([]*models.Run, error) {
	if status == "" {
		return s.GetAllRuns(), nil
	}
	return s.queryRuns(`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY created_at DESC`, status)
}

func (s *SQLiteStore) queryRuns(query string, args ...interface{}) ([]*models.Run, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetNextRun picks the best queued run the node can fit and assigns it.
// Ordering: queue class (interactive > default > sweep), priority
// (high > medium > low), then FIFO on submission time.
func (s *SQLiteStore) GetNextRun(nodeID string) (*models.Run, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var node models.Node
	err = tx.QueryRow(`
		SELECT name, gpu_count FROM nodes WHERE id = ?
	`, nodeID).Scan(&node.Name, &node.GPUCount)
	if err == sql.ErrNoRows {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(`
		SELECT `+runColumns+`
		FROM runs
		WHERE status IN (?, ?)
		ORDER BY
			CASE queue
				WHEN 'interactive' THEN 3
				WHEN 'default' THEN 2
				WHEN 'sweep' THEN 1
				ELSE 2
			END DESC,
			CASE priority
				WHEN 'high' THEN 3
				WHEN 'medium' THEN 2
				WHEN 'low' THEN 1
				ELSE 2
			END DESC,
			created_at ASC
	`, models.RunStatusPending, models.RunStatusQueued)
	if err != nil {
		return nil, err
	}

	// GPU fit cannot be expressed in SQL since the requirement lives in the
	// spec JSON; walk candidates in schedule order instead
	var run *models.Run
	for rows.Next() {
		candidate, err := scanRun(rows)
		if err != nil {
			continue
		}
		gpus := candidate.Spec.GPUsRequired()
		if gpus == 0 || node.GPUCount >= gpus {
			run = candidate
			break
		}
	}
	rows.Close()
	if run == nil {
		return nil, ErrRunNotFound
	}

	now := time.Now()
	run.StateTransitions = append(run.StateTransitions, models.StateTransition{
		From:      run.Status,
		To:        models.RunStatusAssigned,
		Timestamp: now,
		Reason:    fmt.Sprintf("Assigned to node %s", nodeID),
	})
	transitionsJSON, _ := json.Marshal(run.StateTransitions)

	_, err = tx.Exec(`
		UPDATE runs
		SET status = ?, node_id = ?, node_name = ?, started_at = ?, last_activity_at = ?, state_transitions = ?
		WHERE id = ?
	`, models.RunStatusAssigned, nodeID, node.Name, now, now, string(transitionsJSON), run.ID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		UPDATE nodes SET status = 'busy', current_run_id = ? WHERE id = ?
	`, run.ID, nodeID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	run.Status = models.RunStatusAssigned
	run.NodeID = nodeID
	run.NodeName = node.Name
	run.StartedAt = &now
	run.LastActivityAt = &now

	return run, nil
}

// UpdateRun replaces the mutable fields of a stored run
func (s *SQLiteStore) UpdateRun(run *models.Run) error {
	specJSON, err := json.Marshal(run.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}
	transitionsJSON, err := json.Marshal(run.StateTransitions)
	if err != nil {
		return fmt.Errorf("failed to marshal state_transitions: %w", err)
	}

	result, err := s.db.Exec(`
		UPDATE runs
		SET experiment = ?, spec = ?, status = ?, queue = ?, priority = ?, epoch = ?,
		    node_id = ?, node_name = ?, run_dir = ?, started_at = ?, completed_at = ?,
		    last_activity_at = ?, retry_count = ?, error = ?, logs = ?, state_transitions = ?
		WHERE id = ?
	`, run.Experiment, string(specJSON), run.Status, run.Queue, run.Priority, run.Epoch,
		run.NodeID, run.NodeName, run.RunDir, run.StartedAt, run.CompletedAt,
		run.LastActivityAt, run.RetryCount, run.Error, run.Logs, string(transitionsJSON), run.ID)
	if err != nil {
		return err
	}
	return requireRow(result, ErrRunNotFound)
}

// UpdateRunStatus updates the status of a run
func (s *SQLiteStore) UpdateRunStatus(id string, status models.RunStatus, errorMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var nodeID sql.NullString
	err = tx.QueryRow(`SELECT node_id FROM runs WHERE id = ?`, id).Scan(&nodeID)
	if err == sql.ErrNoRows {
		return ErrRunNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now()
	terminal := models.IsTerminalState(status) || status == models.RunStatusTimedOut
	if terminal {
		_, err = tx.Exec(`
			UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?
		`, status, errorMsg, now, id)
	} else {
		_, err = tx.Exec(`
			UPDATE runs SET status = ?, error = ? WHERE id = ?
		`, status, errorMsg, id)
	}
	if err != nil {
		return err
	}

	if nodeID.Valid && nodeID.String != "" && terminal {
		_, err = tx.Exec(`
			UPDATE nodes SET status = 'available', current_run_id = '' WHERE id = ? AND current_run_id = ?
		`, nodeID.String, id)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpdateRunEpoch records the latest completed epoch for a run
func (s *SQLiteStore) UpdateRunEpoch(id string, epoch int) error {
	result, err := s.db.Exec(`
		UPDATE runs SET epoch = MAX(epoch, ?), last_activity_at = ? WHERE id = ?
	`, epoch, time.Now(), id)
	if err != nil {
		return err
	}
	return requireRow(result, ErrRunNotFound)
}

// UpdateRunActivity bumps the activity timestamp for a run
func (s *SQLiteStore) UpdateRunActivity(id string) error {
	result, err := s.db.Exec(`
		UPDATE runs SET last_activity_at = ? WHERE id = ?
	`, time.Now(), id)
	if err != nil {
		return err
	}
	return requireRow(result, ErrRunNotFound)
}

// DeleteRun removes a run from the store
func (s *SQLiteStore) DeleteRun(id string) error {
	result, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(result, ErrRunNotFound)
}

// AddStateTransition validates and records a state transition
func (s *SQLiteStore) AddStateTransition(id string, from, to models.RunStatus, reason string) error {
	if err := models.ValidateTransition(from, to); err != nil {
		return err
	}

	run, err := s.GetRun(id)
	if err != nil {
		return err
	}

	run.StateTransitions = append(run.StateTransitions, models.StateTransition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	})

	transitionsJSON, err := json.Marshal(run.StateTransitions)
	if err != nil {
		return fmt.Errorf("failed to marshal state_transitions: %w", err)
	}

	result, err := s.db.Exec(`
		UPDATE runs SET status = ?, state_transitions = ? WHERE id = ?
	`, to, string(transitionsJSON), id)
	if err != nil {
		return err
	}
	return requireRow(result, ErrRunNotFound)
}

// CancelRun cancels a run and frees its node
func (s *SQLiteStore) CancelRun(id string) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}

	if models.IsTerminalState(run.Status) {
		return fmt.Errorf("cannot cancel run in status: %s", run.Status)
	}

	if err := s.AddStateTransition(id, run.Status, models.RunStatusCanceled, "User requested cancel"); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if run.NodeID != "" {
		_, err = tx.Exec(`
			UPDATE nodes SET status = 'available', current_run_id = '' WHERE id = ? AND current_run_id = ?
		`, run.NodeID, id)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(`UPDATE runs SET completed_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// RetryRun requeues a run: increments retry count, clears assignment
func (s *SQLiteStore) RetryRun(id string, errorMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var retryCount int
	err = tx.QueryRow(`SELECT retry_count FROM runs WHERE id = ?`, id).Scan(&retryCount)
	if err == sql.ErrNoRows {
		return ErrRunNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get run for retry: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE runs
		SET status = ?,
		    retry_count = ?,
		    node_id = NULL,
		    node_name = NULL,
		    started_at = NULL,
		    completed_at = NULL,
		    error = ?
		WHERE id = ?
	`, models.RunStatusQueued, retryCount+1, errorMsg, id)
	if err != nil {
		return fmt.Errorf("failed to update run for retry: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE nodes
		SET status = 'available', current_run_id = ''
		WHERE current_run_id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to update node status: %w", err)
	}

	return tx.Commit()
}

// GetRunsInState returns all runs in a specific state
func (s *SQLiteStore) GetRunsInState(state models.RunStatus) ([]*models.Run, error) {
	return s.GetRuns(string(state))
}

// GetOrphanedRuns returns active runs whose node stopped heartbeating
func (s *SQLiteStore) GetOrphanedRuns(workerTimeout time.Duration) ([]*models.Run, error) {
	cutoff := time.Now().Add(-workerTimeout)
	return s.queryRuns(`
		SELECT `+runColumns+`
		FROM runs
		WHERE status IN (?, ?)
		  AND (node_id IS NULL
		       OR node_id NOT IN (SELECT id FROM nodes WHERE last_heartbeat >= ?))
	`, models.RunStatusAssigned, models.RunStatusRunning, cutoff)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database connection
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}

// GetRunMetrics aggregates run statistics with SQL, avoiding a full table
// decode when runs pile up
func (s *SQLiteStore) GetRunMetrics() (*RunMetrics, error) {
	metrics := &RunMetrics{
		RunsByState: make(map[models.RunStatus]int),
		QueueDepth:  make(map[string]int),
	}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status models.RunStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		metrics.RunsByState[status] = count
		metrics.TotalRuns += count
		if models.IsActiveState(status) {
			metrics.ActiveRuns += count
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`
		SELECT COALESCE(NULLIF(queue, ''), 'default'), COUNT(*)
		FROM runs WHERE status IN (?, ?) GROUP BY 1
	`, models.RunStatusPending, models.RunStatusQueued)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var queue string
		var count int
		if err := rows.Scan(&queue, &count); err != nil {
			rows.Close()
			return nil, err
		}
		metrics.QueueDepth[queue] = count
		metrics.QueueLength += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// GPU demand needs the spec JSON
	queued, err := s.queryRuns(`
		SELECT `+runColumns+` FROM runs WHERE status IN (?, ?)
	`, models.RunStatusPending, models.RunStatusQueued)
	if err != nil {
		return nil, err
	}
	for _, run := range queued {
		metrics.GPUDemand += run.Spec.GPUsRequired()
	}

	var avg sql.NullFloat64
	err = s.db.QueryRow(`
		SELECT AVG((julianday(completed_at) - julianday(started_at)) * 86400.0)
		FROM runs
		WHERE status = ? AND started_at IS NOT NULL AND completed_at IS NOT NULL
	`, models.RunStatusCompleted).Scan(&avg)
	if err != nil {
		return nil, err
	}
	if avg.Valid {
		metrics.AvgDurationSec = avg.Float64
	}

	return metrics, nil
}

func requireRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// Ensure implementation satisfies the interface
var _ Store = (*SQLiteStore)(nil)
