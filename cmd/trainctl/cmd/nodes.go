package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/trainctl/trainctl/pkg/agent"
	"github.com/trainctl/trainctl/pkg/models"
)

// nodesCmd represents the nodes command
var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Manage training nodes",
	Long:  `Commands for listing and managing GPU nodes registered with the coordinator.`,
}

var nodesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered nodes",
	RunE:  runNodesList,
}

var nodesShowCmd = &cobra.Command{
	Use:   "show <node-id>",
	Short: "Show node details",
	Args:  cobra.ExactArgs(1),
	RunE:  runNodesShow,
}

var nodesRemoveCmd = &cobra.Command{
	Use:   "remove <node-id>",
	Short: "Remove a node from the fleet",
	Long:  `Remove a node from the fleet. Nodes executing a run cannot be removed.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runNodesRemove,
}

func init() {
	rootCmd.AddCommand(nodesCmd)
	nodesCmd.AddCommand(nodesListCmd)
	nodesCmd.AddCommand(nodesShowCmd)
	nodesCmd.AddCommand(nodesRemoveCmd)
}

type nodesListResponse struct {
	Nodes []models.Node `json:"nodes"`
	Count int           `json:"count"`
}

func runNodesList(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/nodes", GetCoordinatorURL())

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

	var result nodesListResponse
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
	table.Header("ID", "Name", "Type", "GPUs", "GPU Model", "RAM", "Status", "Last Heartbeat")

	for _, node := range result.Nodes {
		gpuModel := node.GPUModel
		if gpuModel == "" {
			gpuModel = "-"
		}
		heartbeat := "-"
		if !node.LastHeartbeat.IsZero() {
			heartbeat = fmt.Sprintf("%s ago", time.Since(node.LastHeartbeat).Round(time.Second))
		}

		table.Append(
			node.ID[:8],
			node.Name,
			string(node.Type),
			fmt.Sprintf("%d", node.GPUCount),
			gpuModel,
			agent.FormatRAM(node.RAMTotalBytes),
			node.Status,
			heartbeat,
		)
	}

	table.Render()
	fmt.Printf("\nTotal nodes: %d\n", result.Count)
	return nil
}

func runNodesShow(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/nodes/%s", GetCoordinatorURL(), args[0])

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

	var node models.Node
	if err := json.Unmarshal(body, &node); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(node, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("ID", node.ID)
	table.Append("Name", node.Name)
	table.Append("Address", node.Address)
	table.Append("Type", string(node.Type))
	table.Append("Status", node.Status)
	table.Append("GPUs", fmt.Sprintf("%d", node.GPUCount))
	if node.GPUModel != "" {
		table.Append("GPU Model", node.GPUModel)
		table.Append("GPU Memory", fmt.Sprintf("%d MB", node.GPUMemoryMB))
	}
	if node.CUDAVersion != "" {
		table.Append("CUDA Version", node.CUDAVersion)
	}
	table.Append("CPU", fmt.Sprintf("%s (%d threads)", node.CPUModel, node.CPUThreads))
	table.Append("RAM", agent.FormatRAM(node.RAMTotalBytes))
	if node.CurrentRunID != "" {
		table.Append("Current Run", node.CurrentRunID)
	}
	table.Append("Registered At", node.RegisteredAt.Format(time.RFC3339))
	if !node.LastHeartbeat.IsZero() {
		table.Append("Last Heartbeat", node.LastHeartbeat.Format(time.RFC3339))
	}

	table.Render()
	return nil
}

func runNodesRemove(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/nodes/%s", GetCoordinatorURL(), args[0])

	httpReq, err := CreateAuthenticatedRequest("DELETE", url, nil)
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

	fmt.Printf("✓ Node %s removed\n", args[0])
	return nil
}
