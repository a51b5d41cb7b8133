package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/trainctl/trainctl/pkg/experiment"
)

var includeArchived bool

// experimentsCmd represents the experiments command
var experimentsCmd = &cobra.Command{
	Use:   "experiments",
	Short: "Manage experiment presets",
	Long:  `Commands for listing and inspecting the built-in experiment presets.`,
}

var experimentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiment presets",
	Long:  `List the experiment presets known to the coordinator. Archived presets are hidden unless --include-archived is set.`,
	RunE:  runExperimentsList,
}

var experimentsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show the full spec of an experiment preset",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentsShow,
}

func init() {
	rootCmd.AddCommand(experimentsCmd)
	experimentsCmd.AddCommand(experimentsListCmd)
	experimentsCmd.AddCommand(experimentsShowCmd)

	experimentsListCmd.Flags().BoolVar(&includeArchived, "include-archived", false, "include archived presets")
}

type experimentsListResponse struct {
	Experiments []experiment.Preset `json:"experiments"`
	Count       int                 `json:"count"`
}

func runExperimentsList(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/experiments", GetCoordinatorURL())
	if includeArchived {
		url += "?include_archived=true"
	}

	httpReq, err := CreateAuthenticatedRequest("GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := GetHTTPClient().Do(httpReq)
	if err != nil {
		// The presets are compiled into the CLI too, so listing works offline
		return displayPresets(experiment.Presets(includeArchived))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result experimentsListResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return displayPresets(result.Experiments)
}

func displayPresets(presets []experiment.Preset) error {
	if IsJSONOutput() {
		output, err := json.MarshalIndent(presets, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Name", "Epochs", "Batch", "Nproc", "Semi", "Archived", "Description")

	for _, p := range presets {
		semi := "-"
		if p.Spec.DoSemi {
			semi = "yes"
		}
		archived := "-"
		if p.Archived {
			archived = "yes"
		}
		table.Append(
			p.Name,
			fmt.Sprintf("%d", p.Spec.Epochs),
			fmt.Sprintf("%d", p.Spec.Batch),
			fmt.Sprintf("%d", p.Spec.NprocPerNode),
			semi,
			archived,
			p.Description,
		)
	}

	table.Render()
	fmt.Printf("\nTotal presets: %d\n", len(presets))
	return nil
}

func runExperimentsShow(cmd *cobra.Command, args []string) error {
	preset, err := experiment.FindPreset(args[0])
	if err != nil {
		return err
	}

	spec := preset.Spec
	spec.Normalize()

	if IsJSONOutput() {
		output, err := json.MarshalIndent(preset, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("Name", preset.Name)
	table.Append("Description", preset.Description)
	if preset.Archived {
		table.Append("Archived", "yes")
	}
	table.Append("Data", spec.Data)
	table.Append("Batch", fmt.Sprintf("%d (%d per process)", spec.Batch, spec.BatchPerProcess()))
	table.Append("Weights", orDash(spec.Weights))
	table.Append("Workers", fmt.Sprintf("%d", spec.Workers))
	table.Append("Epochs", fmt.Sprintf("%d", spec.Epochs))
	table.Append("Nproc Per Node", fmt.Sprintf("%d", spec.NprocPerNode))
	table.Append("Device", orDash(spec.Device))
	table.Append("Image Size", fmt.Sprintf("%v", spec.ImgSize))
	if spec.DoSemi {
		table.Append("Semi-Supervised", fmt.Sprintf("yes (burn-in %d epochs)", spec.BurninEpochs()))
		table.Append("Conf Threshold", fmt.Sprintf("%g", spec.ConfThres))
		table.Append("IoU Threshold", fmt.Sprintf("%g", spec.IoUThres))
	}
	table.Append("GPUs Required", fmt.Sprintf("%d", spec.GPUsRequired()))
	table.Append("Save Dir", strings.TrimRight(spec.Project, "/")+"/"+spec.Name)

	table.Render()
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
