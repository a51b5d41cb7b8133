package runner

// If the runner crashes, the training processes MUST survive it.
// Cancellation is SIGTERM first so checkpoints get flushed; SIGKILL is the
// last resort after the grace period.

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

const (
	// ConsoleLogName is the captured launcher output file inside the run dir
	ConsoleLogName = "console.log"

	// DefaultGracePeriod between SIGTERM and SIGKILL on cancellation
	DefaultGracePeriod = 30 * time.Second
)

// Result describes a finished launcher process.
type Result struct {
	RunID      string
	PID        int
	ExitCode   int
	Duration   time.Duration
	RunDir     string
	LogPath    string
	FinalEpoch int  // last epoch seen in the output, -1 if none
	Graceful   bool // true if a cancellation ended with SIGTERM alone
}

// ProgressFunc receives epoch progress parsed from launcher output.
type ProgressFunc func(epoch, total int)

// Runner supervises a single launcher process.
type Runner struct {
	gracePeriod time.Duration
	onProgress  ProgressFunc
}

// Option configures a Runner.
type Option func(*Runner)

// WithGracePeriod sets the SIGTERM-to-SIGKILL grace period.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Runner) { r.gracePeriod = d }
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Runner) { r.onProgress = fn }
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{gracePeriod: DefaultGracePeriod}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run spawns the command and blocks until it exits or ctx is canceled.
// Output is teed to the run directory's console log and scanned for epoch
// progress. The process gets its own group so it outlives a runner crash.
func (r *Runner) Run(ctx context.Context, runID, runDir, program string, args []string) (*Result, error) {
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory %s: %w", runDir, err)
	}

	logPath := filepath.Join(runDir, ConsoleLogName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open console log %s: %w", logPath, err)
	}
	defer logFile.Close()

	cmd := exec.Command(program, args...)
	cmd.Dir = runDir

	// New process group: the training job is independent of the runner
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start launcher: %w", err)
	}
	pid := cmd.Process.Pid

	progress := newProgressTracker(r.onProgress)
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		r.scanOutput(stdout, logFile, progress)
	}()

	// Cancellation path: signal the whole process group
	graceful := true
	waitDone := make(chan error, 1)
	go func() {
		// StdoutPipe contract: Wait closes the pipe and must not run
		// until all reads have completed
		<-scanDone
		waitDone <- cmd.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-waitDone:
	case <-ctx.Done():
		// Negative pid targets the whole group
		_ = syscall.Kill(-pid, syscall.SIGTERM)
		select {
		case waitErr = <-waitDone:
		case <-time.After(r.gracePeriod):
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			graceful = false
			waitErr = <-waitDone
		}
	}
	<-scanDone

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("launcher wait failed: %w", waitErr)
		}
	}

	return &Result{
		RunID:      runID,
		PID:        pid,
		ExitCode:   exitCode,
		Duration:   time.Since(start),
		RunDir:     runDir,
		LogPath:    logPath,
		FinalEpoch: progress.Last(),
		Graceful:   graceful,
	}, nil
}

// scanOutput tees launcher output into the log file and feeds the tracker.
func (r *Runner) scanOutput(src io.Reader, logFile io.Writer, progress *progressTracker) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(logFile, line)
		progress.Observe(line)
	}
}
