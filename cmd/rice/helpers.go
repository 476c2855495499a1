package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/lulan-cc/RICE/internal/classify"
	"github.com/lulan-cc/RICE/internal/config"
	"github.com/lulan-cc/RICE/internal/corpus"
	"github.com/lulan-cc/RICE/internal/generate"
	"github.com/lulan-cc/RICE/internal/llm"
	"github.com/lulan-cc/RICE/internal/logging"
	"github.com/lulan-cc/RICE/internal/metrics"
	"github.com/lulan-cc/RICE/internal/orchestrate"
	"github.com/lulan-cc/RICE/internal/pattern"
	"github.com/lulan-cc/RICE/internal/store"
	"github.com/lulan-cc/RICE/internal/toolchain"
)

func loadConfig(path string, verbose bool) (*config.Config, func() error, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	closer, err := logging.InitWithHistory(level, "text", filepath.Join(cfg.OutputDir, "history.log"))
	if err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}

	if cfg.MetricsAddr != "" {
		metrics.Serve(cfg.MetricsAddr)
	}
	return cfg, closer.Close, nil
}

// newBuilder picks the toolchain strategy: a prebuilt rustc wins over a
// checkout-and-build of the compiler repo.
func newBuilder(cfg *config.Config) toolchain.Builder {
	if cfg.PrebuiltRustc != "" {
		return &toolchain.PrebuiltBuilder{RustcPath: cfg.PrebuiltRustc}
	}
	return &toolchain.ScriptBuilder{RepoDir: cfg.CompilerRepo}
}

// buildRunner assembles the full discovery pipeline from config. The caller
// owns closing the returned store.
func buildRunner(cfg *config.Config) (*orchestrate.Runner, *store.Store, error) {
	client, err := llm.NewClient(cfg.Model)
	if err != nil {
		return nil, nil, err
	}

	pool, err := corpus.Scan(cfg.CorpusDir, cfg.Seed)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}

	cls := classify.NewClassifier()
	cls.HangAsFinding = cfg.HangAsFinding
	if cfg.DedupAcrossRuns {
		cls.Persisted = st
	}

	deps := orchestrate.Deps{
		Extractor:  pattern.NewExtractor(client),
		Pool:       pool,
		Generator:  generate.NewGenerator(client),
		Builds:     toolchain.NewManager(newBuilder(cfg)),
		Harness:    &toolchain.Harness{Edition: cfg.Edition},
		Classifier: cls,
		Store:      st,
	}
	return orchestrate.New(*cfg, deps), st, nil
}
