package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/lulan-cc/RICE/internal/generate"
)

// ExecutionResult captures one compiler invocation over one candidate.
// Consumed immediately by classification; retained only for findings.
type ExecutionResult struct {
	CandidateID string
	ExitCode    int // -1 when terminated by signal or timeout
	Stdout      string
	Stderr      string
	WallTime    time.Duration
	TimedOut    bool
}

// Harness runs candidates through a toolchain with bounded time. Every run
// uses a transient directory that is removed on all exit paths, so neither
// the source file nor compiler outputs outlive the pass.
type Harness struct {
	Edition   string   // --edition flag; empty means compiler default
	ExtraArgs []string // extra rustc flags
}

// Run writes the candidate to a transient file, invokes rustc on it with the
// given timeout, and captures the outcome. A timeout sets TimedOut and leaves
// ExitCode at -1 with stderr captured up to that point.
func (h *Harness) Run(ctx context.Context, handle *Handle, cand *generate.Candidate, timeout time.Duration) (*ExecutionResult, error) {
	dir, err := os.MkdirTemp("", "rice-candidate-")
	if err != nil {
		return nil, fmt.Errorf("create transient dir: %w", err)
	}
	defer os.RemoveAll(dir)

	srcPath := filepath.Join(dir, "candidate.rs")
	if err := os.WriteFile(srcPath, []byte(cand.Code), 0o644); err != nil {
		return nil, fmt.Errorf("write candidate: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{srcPath, "--out-dir", dir}
	if h.Edition != "" {
		args = append(args, "--edition", h.Edition)
	}
	args = append(args, h.ExtraArgs...)

	cmd := exec.CommandContext(runCtx, handle.RustcPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	res := &ExecutionResult{
		CandidateID: cand.ID,
		ExitCode:    -1,
		Stdout:      stdout.String(),
		Stderr:      stderr.String(),
		WallTime:    elapsed,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// Harness-internal failure (binary missing, fork failure);
			// distinct from the compiler merely exiting non-zero.
			return nil, fmt.Errorf("invoke %s: %w", handle.RustcPath, runErr)
		}
	}
	return res, nil
}
