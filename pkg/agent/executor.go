package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/trainctl/trainctl/pkg/launcher"
	"github.com/trainctl/trainctl/pkg/models"
	"github.com/trainctl/trainctl/pkg/runner"
)

const (
	// DefaultLogTailBytes bounds the console log tail attached to results
	DefaultLogTailBytes = 16 * 1024

	// cancelPollInterval is how often an executing run checks for cancellation
	cancelPollInterval = 10 * time.Second
)

// RunObserver receives execution progress, typically the agent metrics exporter.
type RunObserver interface {
	SetRunProgress(runID string, epoch, total int)
	ClearRunProgress()
	RecordRunCompletion(failed, canceled bool)
}

// nopObserver is used when no metrics exporter is wired in
type nopObserver struct{}

func (nopObserver) SetRunProgress(string, int, int) {}
func (nopObserver) ClearRunProgress()               {}
func (nopObserver) RecordRunCompletion(bool, bool)  {}

// Executor runs assigned training runs on the local machine and reports
// progress back to the coordinator.
type Executor struct {
	client       *Client
	launcher     launcher.Launcher
	workDir      string
	gracePeriod  time.Duration
	logTailBytes int
	observer     RunObserver
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithWorkDir roots relative run directories under dir.
func WithWorkDir(dir string) ExecutorOption {
	return func(e *Executor) { e.workDir = dir }
}

// WithGracePeriod sets the SIGTERM-to-SIGKILL grace period for cancellations.
func WithGracePeriod(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.gracePeriod = d }
}

// WithLogTail sets how many trailing console log bytes are reported.
func WithLogTail(n int) ExecutorOption {
	return func(e *Executor) { e.logTailBytes = n }
}

// WithObserver wires in a metrics observer.
func WithObserver(o RunObserver) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// NewExecutor creates an Executor.
func NewExecutor(client *Client, l launcher.Launcher, opts ...ExecutorOption) *Executor {
	e := &Executor{
		client:       client,
		launcher:     l,
		gracePeriod:  runner.DefaultGracePeriod,
		logTailBytes: DefaultLogTailBytes,
		observer:     nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one assigned training run to completion and returns the result
// to send to the coordinator. Execute never returns nil.
func (e *Executor) Execute(ctx context.Context, run *models.Run) *models.RunResult {
	start := time.Now()
	result := &models.RunResult{
		RunID:  run.ID,
		NodeID: e.client.NodeID(),
	}

	spec := run.Spec
	if e.workDir != "" && !filepath.IsAbs(spec.Project) {
		spec.Project = filepath.Join(e.workDir, spec.Project)
	}

	program, args, err := e.launcher.BuildCommand(spec)
	if err != nil {
		return e.fail(result, start, fmt.Sprintf("failed to build launcher command: %v", err))
	}

	runDir, err := runner.PrepareRunDir(spec)
	if err != nil {
		return e.fail(result, start, err.Error())
	}
	result.RunDir = runDir

	if err := runner.WriteOptYAML(runDir, spec); err != nil {
		return e.fail(result, start, err.Error())
	}

	// Cancellation from the coordinator flows in through ctx
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	canceled := false
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		ticker := time.NewTicker(cancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				current, err := e.client.GetRun(run.ID)
				if err != nil {
					continue
				}
				if current.Status == models.RunStatusCanceled {
					canceled = true
					cancel()
					return
				}
			}
		}
	}()

	r := runner.New(
		runner.WithGracePeriod(e.gracePeriod),
		runner.WithProgress(func(epoch, total int) {
			e.observer.SetRunProgress(run.ID, epoch, total)
			if err := e.client.ReportEpoch(run.ID, epoch); err != nil {
				log.Printf("Failed to report epoch %d for run %s: %v", epoch, run.ID, err)
			}
		}),
	)

	res, err := r.Run(runCtx, run.ID, runDir, program, args)
	cancel()
	<-watchDone
	e.observer.ClearRunProgress()

	if err != nil {
		return e.fail(result, start, err.Error())
	}

	result.ExitCode = res.ExitCode
	result.FinalEpoch = res.FinalEpoch
	result.Duration = res.Duration.Seconds()
	result.Logs = tailFile(res.LogPath, e.logTailBytes)
	result.CompletedAt = time.Now()

	last, best := runner.CheckpointPaths(runDir)
	if fileExists(last) {
		result.LastWeights = last
	}
	if fileExists(best) {
		result.BestWeights = best
	}

	switch {
	case canceled:
		result.Status = models.RunStatusCanceled
		result.Error = "canceled by user"
	case res.ExitCode == 0:
		result.Status = models.RunStatusCompleted
	default:
		result.Status = models.RunStatusFailed
		result.Error = fmt.Sprintf("training exited with code %d", res.ExitCode)
	}

	e.observer.RecordRunCompletion(result.Status == models.RunStatusFailed, canceled)
	return result
}

func (e *Executor) fail(result *models.RunResult, start time.Time, msg string) *models.RunResult {
	result.Status = models.RunStatusFailed
	result.Error = msg
	result.Duration = time.Since(start).Seconds()
	result.CompletedAt = time.Now()
	e.observer.RecordRunCompletion(true, false)
	return result
}

// tailFile returns the last maxBytes of the file at path
func tailFile(path string, maxBytes int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}

	size := info.Size()
	offset := int64(0)
	if size > int64(maxBytes) {
		offset = size - int64(maxBytes)
	}

	buf := make([]byte, size-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return ""
	}
	return string(buf)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
