package store

import (
	"errors"
	"time"

	"github.com/trainctl/trainctl/pkg/models"
)

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrRunNotFound  = errors.New("run not found")

	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// Store defines the interface for coordinator persistence.
// The in-memory store backs tests and throwaway setups, SQLite is the default.
type Store interface {
	// Node operations
	RegisterNode(node *models.Node) error
	GetNode(id string) (*models.Node, error)
	GetAllNodes() []*models.Node
	UpdateNodeStatus(id, status string) error
	UpdateNodeHeartbeat(id string) error
	DeleteNode(id string) error

	// Run operations
	CreateRun(run *models.Run) error
	GetRun(id string) (*models.Run, error)
	GetAllRuns() []*models.Run
	GetRuns(status string) ([]*models.Run, error)
	GetNextRun(nodeID string) (*models.Run, error)
	UpdateRun(run *models.Run) error
	UpdateRunStatus(id string, status models.RunStatus, errorMsg string) error
	UpdateRunEpoch(id string, epoch int) error
	UpdateRunActivity(id string) error
	DeleteRun(id string) error

	// Run state management
	AddStateTransition(id string, from, to models.RunStatus, reason string) error
	CancelRun(id string) error
	RetryRun(id string, errorMsg string) error
	GetRunsInState(state models.RunStatus) ([]*models.Run, error)
	GetOrphanedRuns(workerTimeout time.Duration) ([]*models.Run, error)

	// Lifecycle
	Close() error
	HealthCheck() error

	// Metrics operations (aggregated in the store, not in the exporter)
	GetRunMetrics() (*RunMetrics, error)
}

// RunMetrics contains aggregated run statistics for the metrics endpoint
type RunMetrics struct {
	RunsByState    map[models.RunStatus]int
	QueueDepth     map[string]int // queued runs per queue class
	ActiveRuns     int
	QueueLength    int
	TotalRuns      int
	AvgDurationSec float64 // completed runs only
	GPUDemand      int     // GPUs requested by queued runs
}

// Config holds database configuration
type Config struct {
	Type string // "sqlite" or "memory"
	Path string // database file for sqlite
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = "coordinator.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}
