package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lulan-cc/RICE/internal/report"
)

var runFlags struct {
	config  string
	verbose bool
}

var runCmd = &cobra.Command{
	Use:   "run <report.md>",
	Short: "Run one discovery loop seeded by an ICE report",
	Long: `Run parses the given markdown ICE report, extracts its defect-prone
pattern, and searches for novel crashes until a budget is exhausted.
A run that completes with zero findings exits 0.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.config, "config", "c", "rice.yaml", "Path to config file (YAML or JSON)")
	f.BoolVarP(&runFlags.verbose, "verbose", "v", false, "Enable debug logging")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig(runFlags.config, runFlags.verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	rep, err := report.Load(args[0])
	if err != nil {
		return err
	}

	runner, st, err := buildRunner(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// SIGINT/SIGTERM cancel the loop; in-flight candidates finish or are
	// killed by the harness, and the run summary still prints.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := runner.Run(ctx, rep)
	if err != nil {
		return err
	}

	fmt.Printf("run %d finished: %d candidates, %d findings in %s\n",
		sum.RunID, sum.Candidates, sum.Findings, sum.Elapsed.Round(time.Second))
	if sum.Findings > 0 {
		fmt.Printf("artifacts under %s/run-%d/findings/\n", cfg.OutputDir, sum.RunID)
	}
	return nil
}
