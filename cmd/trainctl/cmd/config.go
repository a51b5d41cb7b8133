package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/trainctl/trainctl/pkg/agent"
	"github.com/trainctl/trainctl/pkg/models"
)

var (
	configNproc  int
	configFormat string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration recommendations",
	Long:  `Commands for generating training configuration recommendations from local hardware.`,
}

var configRecommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Recommend training parameters for this machine",
	Long: `Analyzes local hardware (CPU, RAM, GPUs) and recommends launch parameters:
distributed process count, dataloader workers, and node classification.`,
	RunE: runConfigRecommend,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configRecommendCmd)

	configRecommendCmd.Flags().IntVar(&configNproc, "nproc-per-node", 0,
		"override the process count the recommendation is computed for (default: one per GPU)")
	configRecommendCmd.Flags().StringVarP(&configFormat, "format", "f", "text",
		"output format: text, json, yaml")
}

type configRecommendation struct {
	Hardware        hardwareInfo `json:"hardware" yaml:"hardware"`
	Recommendations trainConfig  `json:"recommendations" yaml:"recommendations"`
	Rationale       string       `json:"rationale" yaml:"rationale"`
}

type hardwareInfo struct {
	CPUModel     string `json:"cpu_model" yaml:"cpu_model"`
	CPUThreads   int    `json:"cpu_threads" yaml:"cpu_threads"`
	RAM          string `json:"ram" yaml:"ram"`
	GPUCount     int    `json:"gpu_count" yaml:"gpu_count"`
	GPUModel     string `json:"gpu_model,omitempty" yaml:"gpu_model,omitempty"`
	CUDAVersion  string `json:"cuda_version,omitempty" yaml:"cuda_version,omitempty"`
	NodeType     string `json:"node_type" yaml:"node_type"`
	OS           string `json:"os" yaml:"os"`
	Architecture string `json:"architecture" yaml:"architecture"`
}

type trainConfig struct {
	NprocPerNode int `json:"nproc_per_node" yaml:"nproc_per_node"`
	Workers      int `json:"workers" yaml:"workers"`
}

func runConfigRecommend(cmd *cobra.Command, args []string) error {
	caps, err := agent.DetectHardware()
	if err != nil {
		return fmt.Errorf("failed to detect hardware: %w", err)
	}

	nodeType := agent.DetectNodeType(caps)

	hardware := hardwareInfo{
		CPUModel:     caps.CPUModel,
		CPUThreads:   caps.CPUThreads,
		RAM:          agent.FormatRAM(caps.RAMTotalBytes),
		GPUCount:     caps.GPUCount,
		GPUModel:     caps.GPUModel,
		CUDAVersion:  caps.CUDAVersion,
		NodeType:     string(nodeType),
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
	}

	nproc := configNproc
	if nproc <= 0 {
		nproc = caps.GPUCount
	}
	if nproc < 1 {
		nproc = 1
	}

	workers := agent.RecommendedWorkers(caps.CPUThreads, nproc)

	rec := configRecommendation{
		Hardware: hardware,
		Recommendations: trainConfig{
			NprocPerNode: nproc,
			Workers:      workers,
		},
		Rationale: buildRationale(hardware, nodeType, nproc, workers),
	}

	return outputRecommendation(rec, configFormat)
}

func buildRationale(hw hardwareInfo, nodeType models.NodeType, nproc, workers int) string {
	gpuText := "no GPU"
	if hw.GPUCount > 0 {
		gpuText = fmt.Sprintf("%d x %s", hw.GPUCount, hw.GPUModel)
	}
	return fmt.Sprintf(
		"Based on %d CPU threads, %s, and %s (%s node): %d training process(es) "+
			"with %d dataloader workers each leaves headroom for the main process",
		hw.CPUThreads, hw.RAM, gpuText, nodeType, nproc, workers,
	)
}

func outputRecommendation(rec configRecommendation, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rec)

	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(rec)

	default: // text
		fmt.Println("Hardware:")
		fmt.Printf("  CPU: %s (%d threads)\n", rec.Hardware.CPUModel, rec.Hardware.CPUThreads)
		fmt.Printf("  RAM: %s\n", rec.Hardware.RAM)
		if rec.Hardware.GPUCount > 0 {
			fmt.Printf("  GPU: %d x %s", rec.Hardware.GPUCount, rec.Hardware.GPUModel)
			if rec.Hardware.CUDAVersion != "" {
				fmt.Printf(" (CUDA %s)", rec.Hardware.CUDAVersion)
			}
			fmt.Println()
		} else {
			fmt.Println("  GPU: none detected")
		}
		fmt.Printf("  Node Type: %s\n", rec.Hardware.NodeType)
		fmt.Printf("  OS: %s/%s\n", rec.Hardware.OS, rec.Hardware.Architecture)
		fmt.Println()

		fmt.Println("Recommended launch parameters:")
		fmt.Printf("  --nproc-per-node %d\n", rec.Recommendations.NprocPerNode)
		fmt.Printf("  --workers %d\n", rec.Recommendations.Workers)
		fmt.Println()

		fmt.Println("Rationale:")
		fmt.Printf("  %s\n", rec.Rationale)
		fmt.Println()

		fmt.Println("Example command:")
		fmt.Printf("  trainctl launch --experiment ddp-baseline \\\n")
		fmt.Printf("    --nproc-per-node %d \\\n", rec.Recommendations.NprocPerNode)
		fmt.Printf("    --workers %d\n", rec.Recommendations.Workers)

		return nil
	}
}
