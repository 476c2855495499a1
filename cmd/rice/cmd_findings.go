package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lulan-cc/RICE/internal/store"
)

var findingsFlags struct {
	db   string
	run  int64
	code bool
}

var findingsCmd = &cobra.Command{
	Use:   "findings",
	Short: "List persisted findings from a previous run",
	RunE:  runFindings,
}

func init() {
	f := findingsCmd.Flags()
	f.StringVar(&findingsFlags.db, "db", store.DefaultDBPath, "Path to the findings database")
	f.Int64Var(&findingsFlags.run, "run", 0, "Run id to list (0 = latest)")
	f.BoolVar(&findingsFlags.code, "code", false, "Print each finding's candidate source")
}

func runFindings(cmd *cobra.Command, _ []string) error {
	st, err := store.Open(findingsFlags.db)
	if err != nil {
		return err
	}
	defer st.Close()

	runID := findingsFlags.run
	if runID == 0 {
		runID, err = st.LatestRunID()
		if err != nil {
			return err
		}
		if runID == 0 {
			fmt.Println("no runs recorded")
			return nil
		}
	}

	run, err := st.GetRun(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %d not found", runID)
	}

	findings, err := st.FindingsByRun(runID)
	if err != nil {
		return err
	}

	fmt.Printf("run %d  report=%s  revision=%s  started=%s\n",
		run.ID, run.ReportID, run.Revision, run.StartedAt)
	if len(findings) == 0 {
		fmt.Println("no findings")
		return nil
	}
	for _, f := range findings {
		fmt.Printf("  %s  context=%s  %s\n", f.SignatureKey, f.ContextID, f.PanicMessage)
		if findingsFlags.code {
			fmt.Println("  ---")
			fmt.Println(f.Code)
			fmt.Println("  ---")
		}
	}
	return nil
}
