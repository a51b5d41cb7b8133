package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/trainctl/trainctl/pkg/experiment"
	"github.com/trainctl/trainctl/pkg/models"
)

var (
	// Run submit flags
	submitExperiment string
	submitManifest   string
	submitQueue      string
	submitPriority   string

	// Spec flags
	specData      string
	specBatch     int
	specWeights   string
	specWorkers   int
	specEpochs    int
	specNproc     int
	specDevice    string
	specImgSize   []int
	specDoSemi    bool
	specHyp       string
	specResume    bool
	specSingleCls bool
	specConfThres float64
	specIoUThres  float64
	specProject   string
	specName      string

	// Run status flags
	followStatus bool
)

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage training runs",
	Long:  `Commands for submitting, listing, and managing training runs on the coordinator.`,
}

var runsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new training run",
	Long: `Submit a new training run to the coordinator.

The run spec comes from an experiment preset (--experiment), a manifest file
(--manifest), or directly from flags. Flags override preset and manifest values.`,
	RunE: runRunsSubmit,
}

var runsStatusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Get run status",
	Long:  `Retrieve the status of a run by its ID or sequence number. With no argument, lists all runs.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRunsStatus,
}

var runsCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run",
	Long:  `Cancel a queued or running training run. A running process receives SIGTERM so checkpoints get flushed.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsCancel,
}

var runsRetryCmd = &cobra.Command{
	Use:   "retry <run-id>",
	Short: "Retry a failed run",
	Long:  `Requeue a failed or timed-out run with the same spec.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsRetry,
}

var runsLogsCmd = &cobra.Command{
	Use:   "logs <run-id>",
	Short: "Get console logs for a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsLogs,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsSubmitCmd)
	runsCmd.AddCommand(runsStatusCmd)
	runsCmd.AddCommand(runsCancelCmd)
	runsCmd.AddCommand(runsRetryCmd)
	runsCmd.AddCommand(runsLogsCmd)

	f := runsSubmitCmd.Flags()
	f.StringVar(&submitExperiment, "experiment", "", "experiment preset name (e.g., ddp-baseline)")
	f.StringVar(&submitManifest, "manifest", "", "path to an experiment manifest YAML")
	f.StringVar(&submitQueue, "queue", "default", "queue class (interactive, default, sweep)")
	f.StringVar(&submitPriority, "priority", "medium", "priority level (high, medium, low)")

	addSpecFlags(runsSubmitCmd)

	runsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll run status every 2 seconds until completion")
}

// addSpecFlags registers the training spec flags shared by submit and launch
func addSpecFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringVar(&specData, "data", "", "dataset descriptor YAML")
	f.IntVar(&specBatch, "batch", 0, "total batch size across all processes")
	f.StringVar(&specWeights, "weights", "", "pretrained checkpoint (.pt), empty trains from scratch")
	f.IntVar(&specWorkers, "workers", 0, "dataloader workers per process")
	f.IntVar(&specEpochs, "epochs", 0, "number of training epochs")
	f.IntVar(&specNproc, "nproc-per-node", 0, "distributed process count")
	f.StringVar(&specDevice, "device", "", "CUDA devices, e.g. 0 or 0,1, or cpu")
	f.IntSliceVar(&specImgSize, "img-size", nil, "train,test image sizes")
	f.BoolVar(&specDoSemi, "do-semi", false, "enable semi-supervised (STAC) training")
	f.StringVar(&specHyp, "hyp", "", "hyperparameter YAML")
	f.BoolVar(&specResume, "resume", false, "resume the most recent run of this experiment")
	f.BoolVar(&specSingleCls, "single-cls", false, "train as a single-class dataset")
	f.Float64Var(&specConfThres, "conf-thres", 0, "pseudo-label confidence threshold")
	f.Float64Var(&specIoUThres, "iou-thres", 0, "pseudo-label NMS IoU threshold")
	f.StringVar(&specProject, "project", "", "save root directory (default runs/train)")
	f.StringVar(&specName, "name", "", "run name under the project directory")
}

// resolveSpec builds the training spec from preset/manifest plus flag overrides.
// Returns the spec and the experiment name to attribute the run to.
func resolveSpec(cmd *cobra.Command) (experiment.Spec, string, error) {
	var spec experiment.Spec
	name := submitExperiment

	switch {
	case submitManifest != "":
		m, err := experiment.LoadManifest(submitManifest)
		if err != nil {
			return spec, "", err
		}
		spec = m.Spec
		name = m.Name
	case submitExperiment != "":
		p, err := experiment.FindPreset(submitExperiment)
		if err != nil {
			return spec, "", err
		}
		spec = p.Spec
	}

	// Explicitly-set flags win over preset and manifest values
	flags := cmd.Flags()
	if flags.Changed("data") {
		spec.Data = specData
	}
	if flags.Changed("batch") {
		spec.Batch = specBatch
	}
	if flags.Changed("weights") {
		spec.Weights = specWeights
	}
	if flags.Changed("workers") {
		spec.Workers = specWorkers
	}
	if flags.Changed("epochs") {
		spec.Epochs = specEpochs
	}
	if flags.Changed("nproc-per-node") {
		spec.NprocPerNode = specNproc
	}
	if flags.Changed("device") {
		spec.Device = specDevice
	}
	if flags.Changed("img-size") {
		spec.ImgSize = specImgSize
	}
	if flags.Changed("do-semi") {
		spec.DoSemi = specDoSemi
	}
	if flags.Changed("hyp") {
		spec.Hyp = specHyp
	}
	if flags.Changed("resume") {
		spec.Resume = specResume
	}
	if flags.Changed("single-cls") {
		spec.SingleCls = specSingleCls
	}
	if flags.Changed("conf-thres") {
		spec.ConfThres = specConfThres
	}
	if flags.Changed("iou-thres") {
		spec.IoUThres = specIoUThres
	}
	if flags.Changed("project") {
		spec.Project = specProject
	}
	if flags.Changed("name") {
		spec.Name = specName
	}

	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return spec, "", err
	}
	// When the descriptor is readable here, catch dataset problems before
	// the run ever reaches a node
	if err := spec.ValidateDataset(false); err != nil {
		return spec, "", err
	}
	return spec, name, nil
}

type runsListResponse struct {
	Runs  []models.Run `json:"runs"`
	Count int          `json:"count"`
}

func runRunsSubmit(cmd *cobra.Command, args []string) error {
	spec, name, err := resolveSpec(cmd)
	if err != nil {
		return err
	}

	req := models.RunRequest{
		Experiment: name,
		Spec:       spec,
		Queue:      submitQueue,
		Priority:   submitPriority,
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/runs", GetCoordinatorURL())
	httpReq, err := CreateAuthenticatedRequest("POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := GetHTTPClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to coordinator API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result models.Run
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
	} else {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Field", "Value")

		table.Append("Run #", fmt.Sprintf("%d", result.SequenceNumber))
		table.Append("Experiment", result.Experiment)
		table.Append("Status", string(result.Status))
		table.Append("Queue", result.Queue)
		table.Append("Epochs", fmt.Sprintf("%d", result.Spec.Epochs))
		table.Append("Batch", fmt.Sprintf("%d (%d per process)", result.Spec.Batch, result.Spec.BatchPerProcess()))
		table.Append("GPUs", fmt.Sprintf("%d", result.Spec.GPUsRequired()))
		table.Append("Created At", result.CreatedAt.Format(time.RFC3339))

		table.Render()
		fmt.Printf("\nRun submitted successfully! Run #%d\n", result.SequenceNumber)
	}

	return nil
}

func runRunsStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listAllRuns()
	}

	runID := args[0]

	if followStatus {
		fmt.Printf("Following run %s (press Ctrl+C to stop)...\n\n", runID)
		for {
			result, err := fetchRunStatus(runID)
			if err != nil {
				return err
			}

			fmt.Print("\033[H\033[2J")
			displayRunStatus(result)

			if models.IsTerminalState(result.Status) || result.Status == models.RunStatusTimedOut {
				fmt.Println("\n✓ Run reached terminal state")
				break
			}

			time.Sleep(2 * time.Second)
		}
		return nil
	}

	result, err := fetchRunStatus(runID)
	if err != nil {
		return err
	}
	displayRunStatus(result)
	return nil
}

func listAllRuns() error {
	url := fmt.Sprintf("%s/runs", GetCoordinatorURL())

	httpReq, err := CreateAuthenticatedRequest("GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := GetHTTPClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to coordinator API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result runsListResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Run #", "Experiment", "Status", "Epoch", "Progress", "Node", "Created")

	for _, run := range result.Runs {
		nodeName := run.NodeName
		if nodeName == "" && run.NodeID != "" {
			nodeName = run.NodeID[:8]
		} else if nodeName == "" {
			nodeName = "-"
		}

		table.Append(
			fmt.Sprintf("%d", run.SequenceNumber),
			run.Experiment,
			string(run.Status),
			fmt.Sprintf("%d/%d", run.Epoch, run.Spec.Epochs),
			fmt.Sprintf("%d%%", run.Progress()),
			nodeName,
			run.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	table.Render()
	fmt.Printf("\nTotal runs: %d\n", result.Count)
	return nil
}

func fetchRunStatus(runID string) (*models.Run, error) {
	url := fmt.Sprintf("%s/runs/%s", GetCoordinatorURL(), runID)

	httpReq, err := CreateAuthenticatedRequest("GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := GetHTTPClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coordinator API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result models.Run
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &result, nil
}

func displayRunStatus(run *models.Run) {
	if IsJSONOutput() {
		output, _ := json.MarshalIndent(run, "", "  ")
		fmt.Println(string(output))
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("Run #", fmt.Sprintf("%d", run.SequenceNumber))
	table.Append("Experiment", run.Experiment)
	table.Append("Status", string(run.Status))

	if run.Queue != "" {
		table.Append("Queue", run.Queue)
	}
	if run.Priority != "" {
		table.Append("Priority", run.Priority)
	}

	table.Append("Epoch", fmt.Sprintf("%d/%d (%d%%)", run.Epoch, run.Spec.Epochs, run.Progress()))
	table.Append("Batch", fmt.Sprintf("%d (%d per process)", run.Spec.Batch, run.Spec.BatchPerProcess()))
	table.Append("GPUs", fmt.Sprintf("%d", run.Spec.GPUsRequired()))
	if run.Spec.DoSemi {
		table.Append("Semi-Supervised", fmt.Sprintf("yes (burn-in %d epochs)", run.Spec.BurninEpochs()))
	}
	table.Append("Retry Count", fmt.Sprintf("%d", run.RetryCount))

	if run.NodeName != "" {
		table.Append("Node", run.NodeName)
	} else if run.NodeID != "" {
		table.Append("Node ID", run.NodeID)
	}
	if run.RunDir != "" {
		table.Append("Run Dir", run.RunDir)
	}

	table.Append("Created At", run.CreatedAt.Format(time.RFC3339))
	if run.StartedAt != nil {
		table.Append("Started At", run.StartedAt.Format(time.RFC3339))
	}
	if run.CompletedAt != nil {
		table.Append("Completed At", run.CompletedAt.Format(time.RFC3339))
	}
	if run.Error != "" {
		table.Append("Error", run.Error)
	}

	table.Render()
}

func runRunsCancel(cmd *cobra.Command, args []string) error {
	return controlRun(args[0], "cancel")
}

func runRunsRetry(cmd *cobra.Command, args []string) error {
	return controlRun(args[0], "retry")
}

func controlRun(runID, action string) error {
	url := fmt.Sprintf("%s/runs/%s/%s", GetCoordinatorURL(), runID, action)

	httpReq, err := CreateAuthenticatedRequest("POST", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := GetHTTPClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to coordinator API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	fmt.Printf("✓ Run %s: %s requested\n", runID, action)
	return nil
}

func runRunsLogs(cmd *cobra.Command, args []string) error {
	runID := args[0]
	url := fmt.Sprintf("%s/runs/%s/logs", GetCoordinatorURL(), runID)

	httpReq, err := CreateAuthenticatedRequest("GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := GetHTTPClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to coordinator API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		RunID string `json:"run_id"`
		Logs  string `json:"logs"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("=== Console log for run %s ===\n\n", runID)
		fmt.Println(result.Logs)
	}

	return nil
}
