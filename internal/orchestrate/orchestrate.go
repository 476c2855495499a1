// Package orchestrate drives the end-to-end discovery loop: extract the
// pattern once, then repeatedly sample contexts, generate candidates, run
// them against the pinned toolchain, classify the results, and persist any
// novel crash.
package orchestrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lulan-cc/RICE/internal/classify"
	"github.com/lulan-cc/RICE/internal/config"
	"github.com/lulan-cc/RICE/internal/corpus"
	"github.com/lulan-cc/RICE/internal/generate"
	"github.com/lulan-cc/RICE/internal/logging"
	"github.com/lulan-cc/RICE/internal/metrics"
	"github.com/lulan-cc/RICE/internal/pattern"
	"github.com/lulan-cc/RICE/internal/report"
	"github.com/lulan-cc/RICE/internal/store"
	"github.com/lulan-cc/RICE/internal/toolchain"
)

// Deps bundles the pipeline components the runner drives.
type Deps struct {
	Extractor  *pattern.Extractor
	Pool       *corpus.Pool
	Generator  *generate.Generator
	Builds     *toolchain.Manager
	Harness    *toolchain.Harness
	Classifier *classify.Classifier
	Store      *store.Store
}

// Summary is what a completed (or budget-exhausted) run reports.
type Summary struct {
	RunID      int64
	Revision   string
	Candidates int
	Findings   int
	Elapsed    time.Duration
}

// Runner executes one discovery run for one report.
type Runner struct {
	cfg  config.Config
	deps Deps
}

func New(cfg config.Config, deps Deps) *Runner {
	return &Runner{cfg: cfg, deps: deps}
}

// Run performs the full loop. Fatal conditions (extraction failure after
// retries, build failure) surface as errors; per-candidate failures are
// absorbed, logged, and the loop continues. A zero-finding run is a normal
// completion, not an error.
func (r *Runner) Run(ctx context.Context, rep *report.IssueReport) (*Summary, error) {
	logger := logging.New("orchestrate")
	start := time.Now()

	revision := rep.Revision
	if revision == "" {
		revision = r.cfg.DefaultRevision
	}

	runID, err := r.deps.Store.BeginRun(rep.SourceID, revision)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}

	pat, err := r.deps.Extractor.Extract(ctx, rep)
	if err != nil {
		return nil, err
	}
	metrics.ModelCalls.WithLabelValues("extract").Inc()

	// One build per run in the common case; the manager still guards
	// against duplicate builds if the revision shows up concurrently.
	handle, err := r.deps.Builds.EnsureBuilt(ctx, revision)
	if err != nil {
		return nil, err
	}

	if r.cfg.TimeBudget.Std() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.TimeBudget.Std())
		defer cancel()
	}

	runDir := filepath.Join(r.cfg.OutputDir, fmt.Sprintf("run-%d", runID))
	if r.cfg.CapturePrompts {
		r.deps.Generator.PromptDir = filepath.Join(runDir, "mutation-prompts")
	}

	var (
		candidates atomic.Int64
		findings   atomic.Int64

		exclMu  sync.Mutex
		exclude = make(map[string]bool)
	)

	budgetLeft := func() bool {
		return r.cfg.CandidateBudget <= 0 || candidates.Load() < int64(r.cfg.CandidateBudget)
	}

	logger.Info("run started",
		"run_id", runID, "report", rep.SourceID, "revision", revision,
		"pool_size", r.deps.Pool.Size(), "workers", r.cfg.Workers)

	for ctx.Err() == nil && budgetLeft() {
		exclMu.Lock()
		hosts := r.deps.Pool.Sample(pat, r.cfg.ContextsPerRound, exclude)
		for _, h := range hosts {
			exclude[h.ID] = true
		}
		exclMu.Unlock()

		if len(hosts) == 0 {
			logger.Info("context pool exhausted", "run_id", runID)
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Workers)
		for _, host := range hosts {
			host := host
			g.Go(func() error {
				r.processContext(gctx, runID, runDir, pat, host, handle, &candidates, &findings, budgetLeft)
				return nil
			})
		}
		_ = g.Wait() // per-context failures are absorbed inside processContext
	}

	summary := &Summary{
		RunID:      runID,
		Revision:   revision,
		Candidates: int(candidates.Load()),
		Findings:   int(findings.Load()),
		Elapsed:    time.Since(start),
	}
	if err := r.deps.Store.FinishRun(runID, summary.Findings); err != nil {
		logger.Warn("finish run failed", "run_id", runID, "error", err)
	}

	logger.Info("run finished",
		"run_id", runID, "candidates", summary.Candidates,
		"findings", summary.Findings, "elapsed", summary.Elapsed)
	return summary, nil
}

// processContext runs the generate→execute→classify pipeline for one sampled
// host. All failures here are non-fatal to the run.
func (r *Runner) processContext(
	ctx context.Context, runID int64, runDir string,
	pat *pattern.BuggyPattern, host *corpus.Context, handle *toolchain.Handle,
	candidates, findings *atomic.Int64, budgetLeft func() bool,
) {
	logger := logging.New("orchestrate")

	if ctx.Err() != nil || !budgetLeft() {
		return
	}

	cands, err := r.deps.Generator.Generate(ctx, pat, host, r.cfg.VariantsPerContext)
	metrics.ModelCalls.WithLabelValues("generate").Add(float64(r.cfg.VariantsPerContext))
	if err != nil {
		logger.Warn("generation failed", "context", host.ID, "error", err)
		return
	}
	if len(cands) == 0 {
		// Expected, common outcome: no viable mutation for this host.
		logger.Debug("no valid variants", "context", host.ID)
		return
	}
	metrics.CandidatesGenerated.Add(float64(len(cands)))

	for _, cand := range cands {
		if ctx.Err() != nil || !budgetLeft() {
			return
		}
		candidates.Add(1)

		res, err := r.deps.Harness.Run(ctx, handle, cand, r.cfg.ExecTimeout.Std())
		if err != nil {
			logger.Warn("execution failed", "candidate", cand.ID, "error", err)
			continue
		}
		metrics.CandidatesExecuted.Inc()
		metrics.ExecutionSeconds.Observe(res.WallTime.Seconds())

		// A cancelled execution must not become a partial finding.
		if ctx.Err() != nil {
			return
		}

		outcome := r.deps.Classifier.Classify(res)
		metrics.Verdicts.WithLabelValues(outcome.Verdict.String()).Inc()

		switch outcome.Verdict {
		case classify.Ice, classify.Hang:
			if !outcome.New {
				logger.Info("duplicate crash", "candidate", cand.ID, "signature", outcome.Signature.Key)
				continue
			}
			if err := r.persistFinding(runID, runDir, cand, res, outcome.Signature); err != nil {
				logger.Error("persist finding failed", "candidate", cand.ID, "error", err)
				continue
			}
			findings.Add(1)
			metrics.FindingsPersisted.Inc()
			logger.Info("new crash found",
				"candidate", cand.ID, "context", cand.ContextID,
				"signature", outcome.Signature.Key, "panic", outcome.Signature.PanicMessage)
		case classify.CompileError:
			logger.Debug("compile error", "candidate", cand.ID)
		default:
			logger.Debug("no crash", "candidate", cand.ID, "timed_out", res.TimedOut)
		}
	}
}

// persistFinding writes the finding to the store and mirrors the artifacts
// (candidate source plus raw stderr) under the run directory.
func (r *Runner) persistFinding(
	runID int64, runDir string,
	cand *generate.Candidate, res *toolchain.ExecutionResult, sig *classify.Signature,
) error {
	if _, err := r.deps.Store.SaveFinding(&store.Finding{
		RunID:        runID,
		SignatureKey: sig.Key,
		PanicMessage: sig.PanicMessage,
		CandidateID:  cand.ID,
		ContextID:    cand.ContextID,
		Code:         cand.Code,
		Stderr:       res.Stderr,
	}); err != nil {
		return err
	}

	dir := filepath.Join(runDir, "findings", sig.Key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create finding dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "candidate.rs"), []byte(cand.Code), 0o644); err != nil {
		return fmt.Errorf("write finding source: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stderr.log"), []byte(res.Stderr), 0o644); err != nil {
		return fmt.Errorf("write finding stderr: %w", err)
	}
	return nil
}
