package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/trainctl/trainctl/pkg/api"
	"github.com/trainctl/trainctl/pkg/metrics"
	"github.com/trainctl/trainctl/pkg/models"
	"github.com/trainctl/trainctl/pkg/scheduler"
	"github.com/trainctl/trainctl/pkg/shutdown"
	"github.com/trainctl/trainctl/pkg/store"
)

func main() {
	port := flag.String("port", "8080", "Coordinator API port")
	dbType := flag.String("db", "sqlite", "Store backend: sqlite or memory")
	dbPath := flag.String("db-path", "coordinator.db", "SQLite database path")
	resultsDir := flag.String("results-dir", "results", "Directory for run result documents")
	checkInterval := flag.Duration("check-interval", 15*time.Second, "Scheduler check interval")
	recoveryInterval := flag.Duration("recovery-interval", 30*time.Second, "Node failure recovery check interval")
	nodeFailureThreshold := flag.Duration("node-failure-threshold", 90*time.Second, "Missed-heartbeat window before a node is marked dead")
	apiKey := flag.String("api-key", os.Getenv("TRAINCTL_API_KEY"), "API key for bearer-token auth (empty disables auth)")
	flag.Parse()

	log.Println("Starting trainctl coordinator")

	st, err := store.NewStore(store.Config{Type: *dbType, Path: *dbPath})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	log.Printf("Store: %s", *dbType)

	handler := api.NewCoordinatorHandler(st, *resultsDir)
	if *apiKey != "" {
		handler.SetAPIKey(*apiKey)
		log.Println("Bearer-token authentication enabled")
	}

	exporter := metrics.NewCoordinatorExporter(st)
	exporter.SetQueueStats(scheduler.NewPriorityQueueManager(st))
	handler.SetMetricsRecorder(exporter)

	sched := scheduler.New(st, *checkInterval)
	sched.Start()

	recovery := scheduler.NewRecoveryManager(st, models.DefaultRetryPolicy(), *nodeFailureThreshold)
	recoveryStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(*recoveryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				recovery.RunRecoveryCheck()
			case <-recoveryStop:
				return
			}
		}
	}()

	router := mux.NewRouter()
	router.Use(handler.AuthMiddleware)
	handler.RegisterRoutes(router)
	router.Handle("/metrics", exporter).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	mgr := shutdown.New(30 * time.Second)
	mgr.Register(shutdown.CloseResource(st, "store"))
	mgr.Register(func(ctx context.Context) error {
		sched.Stop()
		close(recoveryStop)
		return nil
	})
	mgr.Register(shutdown.StopHTTPServer(srv, "coordinator"))

	go func() {
		log.Printf("Coordinator listening on :%s", *port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	mgr.Wait()
	log.Println("Coordinator stopped")
}
