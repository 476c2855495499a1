package main

import (
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lulan-cc/RICE/internal/classify"
	"github.com/lulan-cc/RICE/internal/generate"
	"github.com/lulan-cc/RICE/internal/toolchain"
)

var detectFlags struct {
	config   string
	revision string
	verbose  bool
}

var detectCmd = &cobra.Command{
	Use:   "detect <dir>",
	Short: "Classify existing .rs files against the pinned compiler",
	Long: `Detect compiles every .rs file under the given directory with the
configured toolchain and reports which ones trigger an ICE. No pattern
extraction or mutation happens; this is the execute/classify tail of the
pipeline run standalone.`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func init() {
	f := detectCmd.Flags()
	f.StringVarP(&detectFlags.config, "config", "c", "rice.yaml", "Path to config file (YAML or JSON)")
	f.StringVar(&detectFlags.revision, "revision", "", "Compiler revision to build (default: config default_revision)")
	f.BoolVarP(&detectFlags.verbose, "verbose", "v", false, "Enable debug logging")
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig(detectFlags.config, detectFlags.verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	revision := detectFlags.revision
	if revision == "" {
		revision = cfg.DefaultRevision
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := toolchain.NewManager(newBuilder(cfg))
	handle, err := mgr.EnsureBuilt(ctx, revision)
	if err != nil {
		return err
	}

	harness := &toolchain.Harness{Edition: cfg.Edition}
	cls := classify.NewClassifier()
	cls.HangAsFinding = cfg.HangAsFinding

	var total, ices int
	err = filepath.WalkDir(args[0], func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".rs") {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		total++

		cand := &generate.Candidate{ID: uuid.NewString(), ContextID: path, Code: string(src)}
		res, err := harness.Run(ctx, handle, cand, cfg.ExecTimeout.Std())
		if err != nil {
			fmt.Printf("%-12s %s (%v)\n", "error", path, err)
			return nil
		}

		outcome := cls.Classify(res)
		switch outcome.Verdict {
		case classify.Ice, classify.Hang:
			ices++
			fmt.Printf("%-12s %s  [%s] %s\n", strings.ToLower(outcome.Verdict.String()), path,
				outcome.Signature.Key, outcome.Signature.PanicMessage)
		default:
			fmt.Printf("%-12s %s\n", strings.ToLower(outcome.Verdict.String()), path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("%d files checked, %d crash(es)\n", total, ices)
	return nil
}
