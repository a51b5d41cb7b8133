package scheduler

import (
	"log"
	"time"

	"github.com/trainctl/trainctl/pkg/models"
	"github.com/trainctl/trainctl/pkg/store"
)

// Scheduler manages background run scheduling tasks
type Scheduler struct {
	store         store.Store
	timeouts      *models.RunTimeout
	checkInterval time.Duration
	stopCh        chan struct{}
}

// New creates a new Scheduler instance
func New(st store.Store, checkInterval time.Duration) *Scheduler {
	if checkInterval <= 0 {
		checkInterval = 15 * time.Second
	}
	return &Scheduler{
		store:         st,
		timeouts:      models.DefaultRunTimeout(),
		checkInterval: checkInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the background scheduling loop
func (s *Scheduler) Start() {
	log.Printf("Scheduler started (check interval: %v)", s.checkInterval)
	go s.run()
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	log.Println("Stopping scheduler...")
	close(s.stopCh)
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPendingRuns()
			s.checkTimedOutRuns()
		case <-s.stopCh:
			log.Println("Scheduler stopped")
			return
		}
	}
}

// processPendingRuns moves freshly submitted runs into the queue. Agents pull
// work via GetNextRun; the queued state just makes the wait explicit.
func (s *Scheduler) processPendingRuns() {
	pending, err := s.store.GetRunsInState(models.RunStatusPending)
	if err != nil {
		log.Printf("Scheduler: failed to list pending runs: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	for _, run := range pending {
		if err := s.store.UpdateRunStatus(run.ID, models.RunStatusQueued, ""); err != nil {
			log.Printf("Scheduler: failed to queue run %s: %v", run.ID, err)
			continue
		}
		log.Printf("Scheduler: run %s (seq#%d) queued, needs %d GPU(s)",
			run.ID, run.SequenceNumber, run.Spec.GPUsRequired())
	}
}

// checkTimedOutRuns marks runs that exceeded their epoch budget. The budget
// scales with the epoch count, so a 300-epoch run is not killed by a limit
// sized for smoke tests.
func (s *Scheduler) checkTimedOutRuns() {
	for _, state := range []models.RunStatus{models.RunStatusAssigned, models.RunStatusRunning} {
		runs, err := s.store.GetRunsInState(state)
		if err != nil {
			log.Printf("Scheduler: failed to list %s runs: %v", state, err)
			continue
		}

		now := time.Now()
		for _, run := range runs {
			if run.StartedAt == nil {
				continue
			}
			timeout := s.timeouts.CalculateTimeout(run)
			if now.Sub(*run.StartedAt) <= timeout {
				continue
			}

			log.Printf("Scheduler: run %s (seq#%d) timed out after %v (limit %v)",
				run.ID, run.SequenceNumber, now.Sub(*run.StartedAt), timeout)
			if err := s.store.UpdateRunStatus(run.ID, models.RunStatusTimedOut,
				"exceeded epoch time budget"); err != nil {
				log.Printf("Scheduler: failed to time out run %s: %v", run.ID, err)
			}
		}
	}
}
