package api

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/trainctl/trainctl/pkg/models"
)

// ResultsWriter writes completed run results to disk: one JSON document per
// run for downstream tooling, plus an append-only results.txt summary.
type ResultsWriter struct {
	outputDir string
}

// NewResultsWriter creates a new results writer
func NewResultsWriter(outputDir string) *ResultsWriter {
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			log.Printf("Warning: failed to create results directory %s: %v", outputDir, err)
		}
	}
	return &ResultsWriter{
		outputDir: outputDir,
	}
}

// WriteRunResult writes a completed run result to a JSON file and appends a
// summary row to results.txt
func (w *ResultsWriter) WriteRunResult(run *models.Run, result *models.RunResult) error {
	if w.outputDir == "" {
		return nil // No output directory configured
	}

	doc := map[string]interface{}{
		"run_id":          run.ID,
		"sequence_number": run.SequenceNumber,
		"experiment":      run.Experiment,
		"spec":            run.Spec,
		"status":          run.Status,
		"node_id":         result.NodeID,
		"node_name":       run.NodeName,
		"run_dir":         result.RunDir,
		"final_epoch":     result.FinalEpoch,
		"epochs":          run.Spec.Epochs,
		"exit_code":       result.ExitCode,
		"duration":        result.Duration,
		"best_weights":    result.BestWeights,
		"last_weights":    result.LastWeights,
		"submitted_at":    run.CreatedAt.Unix(),
		"completed_at":    result.CompletedAt.Unix(),
	}
	if result.BestFitness > 0 {
		doc["best_fitness"] = result.BestFitness
	}

	filename := fmt.Sprintf("run_%04d_%s.json", run.SequenceNumber, run.ID)
	path := filepath.Join(w.outputDir, filename)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run result: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run result: %w", err)
	}

	return w.appendSummary(run, result)
}

// appendSummary adds one row per completed run to results.txt
func (w *ResultsWriter) appendSummary(run *models.Run, result *models.RunResult) error {
	path := filepath.Join(w.outputDir, "results.txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open results summary: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%s  seq=%d  experiment=%s  epochs=%d/%d  fitness=%.5g  duration=%s  node=%s\n",
		result.CompletedAt.Format(time.RFC3339), run.SequenceNumber, run.Experiment,
		result.FinalEpoch+1, run.Spec.Epochs, result.BestFitness,
		(time.Duration(result.Duration) * time.Second).Round(time.Second), run.NodeName)
	return err
}
