package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/trainctl/trainctl/pkg/agent"
	"github.com/trainctl/trainctl/pkg/launcher"
	"github.com/trainctl/trainctl/pkg/logging"
	"github.com/trainctl/trainctl/pkg/metrics"
	"github.com/trainctl/trainctl/pkg/models"
	"github.com/trainctl/trainctl/pkg/retry"
	"github.com/trainctl/trainctl/pkg/runner"
	"github.com/trainctl/trainctl/pkg/shutdown"
)

var logger *logging.Logger

func main() {
	coordinatorURL := flag.String("coordinator", "http://localhost:8080", "Coordinator URL")
	pollInterval := flag.Duration("poll-interval", 10*time.Second, "Run polling interval")
	heartbeatInterval := flag.Duration("heartbeat-interval", 30*time.Second, "Heartbeat interval")
	metricsPort := flag.String("metrics-port", "9091", "Prometheus metrics port")
	workDir := flag.String("work-dir", "", "Root directory for run artifacts (default: current directory)")
	python := flag.String("python", "python", "Python interpreter for the training launcher")
	trainScript := flag.String("train-script", "train.py", "Training entrypoint script")
	gracePeriod := flag.Duration("grace-period", runner.DefaultGracePeriod, "SIGTERM-to-SIGKILL grace period on cancellation")
	apiKey := flag.String("api-key", os.Getenv("TRAINCTL_API_KEY"), "Coordinator API key")
	logLevel := flag.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	logJSON := flag.Bool("log-json", false, "Emit logs as JSON")
	flag.Parse()

	var err error
	logger, err = logging.NewFileLogger("agent", logging.ParseLevel(*logLevel), *logJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info("Starting trainctl agent")
	logger.Info(fmt.Sprintf("Coordinator: %s", *coordinatorURL))

	caps, err := agent.DetectHardware()
	if err != nil {
		logger.Fatal(fmt.Sprintf("Failed to detect hardware: %v", err))
	}
	nodeType := agent.DetectNodeType(caps)

	logger.Info("Hardware detected", map[string]interface{}{
		"cpu_model":   caps.CPUModel,
		"cpu_threads": caps.CPUThreads,
		"ram":         agent.FormatRAM(caps.RAMTotalBytes),
		"gpu_count":   caps.GPUCount,
		"gpu_model":   caps.GPUModel,
		"node_type":   string(nodeType),
	})

	client := agent.NewClient(*coordinatorURL)
	if *apiKey != "" {
		client.SetAPIKey(*apiKey)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	if caps.Labels == nil {
		caps.Labels = make(map[string]string)
	}
	caps.Labels["node_type"] = string(nodeType)

	reg := &models.NodeRegistration{
		Address:       "http://" + hostname + ":" + *metricsPort,
		Type:          nodeType,
		GPUCount:      caps.GPUCount,
		GPUModel:      caps.GPUModel,
		GPUMemoryMB:   caps.GPUMemoryMB,
		CUDAVersion:   caps.CUDAVersion,
		CPUThreads:    caps.CPUThreads,
		CPUModel:      caps.CPUModel,
		RAMTotalBytes: caps.RAMTotalBytes,
		Labels:        caps.Labels,
	}

	// Registration retries so agents can boot before the coordinator
	var node *models.Node
	err = retry.Do(context.Background(), retry.DefaultConfig(), func() error {
		var regErr error
		node, regErr = client.Register(reg)
		return regErr
	})
	if err != nil {
		logger.Fatal(fmt.Sprintf("Failed to register with coordinator: %v", err))
	}
	logger.Info(fmt.Sprintf("Registered as node %s (%s)", node.ID, node.Name))

	exporter := metrics.NewAgentExporter(node.ID, caps.GPUCount > 0)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", exporter)
	metricsSrv := &http.Server{Addr: ":" + *metricsPort, Handler: metricsMux}
	go func() {
		logger.Info(fmt.Sprintf("Metrics listening on :%s", *metricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(fmt.Sprintf("Metrics server error: %v", err))
		}
	}()

	executor := agent.NewExecutor(client,
		launcher.NewTorchLauncher(*python, *trainScript),
		agent.WithWorkDir(*workDir),
		agent.WithGracePeriod(*gracePeriod),
		agent.WithObserver(exporter),
	)

	busy := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())

	// LIFO: cancel the in-flight run first, drain it, then stop metrics
	mgr := shutdown.New(*gracePeriod + 30*time.Second)
	mgr.Register(func(context.Context) error {
		return logger.Close()
	})
	mgr.Register(shutdown.StopHTTPServer(metricsSrv, "metrics"))
	mgr.Register(shutdown.WaitForRuns(func() bool { return len(busy) == 0 }, time.Second))
	mgr.Register(func(context.Context) error {
		logger.Info("Shutdown signal received, canceling in-flight run")
		cancel()
		return nil
	})

	// Heartbeat loop
	go func() {
		ticker := time.NewTicker(*heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := client.SendHeartbeat(); err != nil {
					logger.Warn(fmt.Sprintf("Heartbeat failed: %v", err))
				} else {
					exporter.IncrementHeartbeat()
				}
			}
		}
	}()

	// Run polling loop
	go func() {
		ticker := time.NewTicker(*pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			run, err := client.GetNextRun()
			if err != nil {
				logger.Warn(fmt.Sprintf("Failed to poll for runs: %v", err))
				continue
			}
			if run == nil {
				continue
			}

			runLog := logger.WithRun(run.ID)
			runLog.Info(fmt.Sprintf("Assigned run (%s, %d epochs, %d process(es))",
				run.Experiment, run.Spec.Epochs, run.Spec.NprocPerNode))

			busy <- struct{}{}
			exporter.SetActiveRuns(1)

			result := executor.Execute(ctx, run)

			exporter.SetActiveRuns(0)
			<-busy

			sendErr := retry.Do(context.Background(), retry.DefaultConfig(), func() error {
				return client.SendResult(result)
			})
			if sendErr != nil {
				runLog.Error(fmt.Sprintf("Failed to send result: %v", sendErr))
			} else {
				runLog.Info(fmt.Sprintf("Run finished: %s (epoch %d, %.0fs)",
					result.Status, result.FinalEpoch, result.Duration))
			}
		}
	}()

	mgr.Wait()
	logger.Info("Agent stopped")
}
