package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/trainctl/trainctl/pkg/launcher"
	"github.com/trainctl/trainctl/pkg/runner"
)

var (
	launchPython      string
	launchScript      string
	launchGracePeriod time.Duration
	launchDryRun      bool
)

// launchCmd runs a training job on the local machine without a coordinator
var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch a training run locally",
	Long: `Launch a training run on the local machine, bypassing the coordinator.

The spec comes from an experiment preset (--experiment), a manifest file
(--manifest), or directly from flags. The run directory, opt.yaml snapshot,
and console log are produced exactly as they would be for a scheduled run.`,
	RunE: runLaunch,
}

func init() {
	rootCmd.AddCommand(launchCmd)

	f := launchCmd.Flags()
	f.StringVar(&submitExperiment, "experiment", "", "experiment preset name (e.g., ddp-baseline)")
	f.StringVar(&submitManifest, "manifest", "", "path to an experiment manifest YAML")
	f.StringVar(&launchPython, "python", "python", "python interpreter to invoke")
	f.StringVar(&launchScript, "train-script", "train.py", "training entrypoint script")
	f.DurationVar(&launchGracePeriod, "grace-period", runner.DefaultGracePeriod, "SIGTERM-to-SIGKILL grace period on interrupt")
	f.BoolVar(&launchDryRun, "dry-run", false, "print the launcher command without executing it")

	addSpecFlags(launchCmd)
}

func runLaunch(cmd *cobra.Command, args []string) error {
	spec, name, err := resolveSpec(cmd)
	if err != nil {
		return err
	}
	if name == "" {
		name = "adhoc"
	}

	// Local execution needs the descriptor on this machine
	if !launchDryRun {
		if err := spec.ValidateDataset(true); err != nil {
			return err
		}
	}

	l, err := launcher.Select(launcher.TypeAuto, launchPython, launchScript)
	if err != nil {
		return err
	}

	program, cmdArgs, err := l.BuildCommand(spec)
	if err != nil {
		return fmt.Errorf("failed to build launcher command: %w", err)
	}

	if launchDryRun {
		fmt.Printf("%s %s\n", program, strings.Join(cmdArgs, " "))
		return nil
	}

	runDir, err := runner.PrepareRunDir(spec)
	if err != nil {
		return err
	}
	if err := runner.WriteOptYAML(runDir, spec); err != nil {
		return err
	}

	runID := uuid.New().String()
	fmt.Printf("Launching %s (%d epochs, %d process(es))\n", name, spec.Epochs, spec.NprocPerNode)
	fmt.Printf("Run dir: %s\n", runDir)
	if spec.DoSemi {
		fmt.Printf("Semi-supervised: burn-in for %d epochs before pseudo-labeling\n", spec.BurninEpochs())
	}

	// Ctrl+C cancels the run; the runner escalates SIGTERM -> SIGKILL
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := runner.New(
		runner.WithGracePeriod(launchGracePeriod),
		runner.WithProgress(func(epoch, total int) {
			fmt.Printf("Epoch %d/%d complete\n", epoch+1, total)
		}),
	)

	result, err := r.Run(ctx, runID, runDir, program, cmdArgs)
	if err != nil {
		return fmt.Errorf("launch failed: %w", err)
	}

	fmt.Printf("\nRun finished in %s (exit code %d)\n", result.Duration.Round(time.Second), result.ExitCode)
	fmt.Printf("Console log: %s\n", result.LogPath)

	last, best := runner.CheckpointPaths(runDir)
	if _, err := os.Stat(best); err == nil {
		fmt.Printf("Best weights: %s\n", best)
	}
	if _, err := os.Stat(last); err == nil {
		fmt.Printf("Last weights: %s\n", last)
	}

	if result.ExitCode != 0 {
		return fmt.Errorf("training exited with code %d", result.ExitCode)
	}
	return nil
}
