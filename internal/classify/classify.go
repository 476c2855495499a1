// Package classify decides whether an execution result is an internal
// compiler error and deduplicates crashes by normalized signature.
package classify

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/lulan-cc/RICE/internal/logging"
	"github.com/lulan-cc/RICE/internal/toolchain"
)

// Verdict is the classification of one execution result.
type Verdict int

const (
	// Normal: successful compile, or a timeout under the default policy.
	Normal Verdict = iota
	// CompileError: the compiler diagnosed the program and exited cleanly.
	CompileError
	// Ice: the compiler itself crashed.
	Ice
	// Hang: the execution timed out and hangs are configured as findings.
	Hang
)

func (v Verdict) String() string {
	switch v {
	case Normal:
		return "normal"
	case CompileError:
		return "compile-error"
	case Ice:
		return "ice"
	case Hang:
		return "hang"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Signature is the canonical identity of a distinct crash.
type Signature struct {
	Key              string // normalized fingerprint, stable across paths/lines
	PanicMessage     string // normalized panic message template
	PanicLocation    string // normalized source location of the panic
	TopFrame         string // top backtrace frame function name, if present
	FirstCandidateID string // candidate that first produced this signature
}

// Outcome is the result of classifying one execution.
type Outcome struct {
	Verdict   Verdict
	Signature *Signature // non-nil for Ice and Hang
	New       bool       // true when the signature was first seen by this classification
}

// iceMarkers are the abnormal-termination markers recognized in compiler
// output. Matching is case-insensitive on the lowered stderr text.
var iceMarkers = []string{
	"internal compiler error",
	"thread 'rustc' panicked",
	"unexpectedly panicked",
	"query stack during panic",
	"delay_span_bug",
	"box<any>",
}

var diagnosedErrorRe = regexp.MustCompile(`(?m)^error(\[E\d{4}\])?[:]`)

// PersistedSet is an optional cross-run signature store. A signature present
// there is treated as already seen even on its first in-run occurrence.
type PersistedSet interface {
	HasSignature(key string) (bool, error)
	InsertSignature(sig *Signature) error
}

// Classifier holds the run-wide signature set. The check-then-insert on the
// set is atomic, so two concurrent candidates crashing identically yield
// exactly one new signature.
type Classifier struct {
	// HangAsFinding designates timeouts as an interesting, distinct
	// signature category instead of classifying them Normal.
	HangAsFinding bool

	// Persisted, when set, extends deduplication across runs.
	Persisted PersistedSet

	mu   sync.Mutex
	seen map[string]*Signature
}

func NewClassifier() *Classifier {
	return &Classifier{seen: make(map[string]*Signature)}
}

// Classify decides the verdict for one execution result and, for crashes,
// registers the normalized signature. Classification is idempotent: a second
// call with the same result reports the same verdict with New=false.
func (c *Classifier) Classify(res *toolchain.ExecutionResult) Outcome {
	if res.TimedOut {
		if !c.HangAsFinding {
			return Outcome{Verdict: Normal}
		}
		sig := hangSignature(res)
		return Outcome{Verdict: Hang, Signature: sig, New: c.observe(sig, res.CandidateID)}
	}

	combined := res.Stderr + "\n" + res.Stdout
	lowered := strings.ToLower(combined)
	for _, marker := range iceMarkers {
		if strings.Contains(lowered, marker) {
			sig := Normalize(combined)
			return Outcome{Verdict: Ice, Signature: sig, New: c.observe(sig, res.CandidateID)}
		}
	}

	switch {
	case res.ExitCode == 0:
		return Outcome{Verdict: Normal}
	case res.ExitCode == -1:
		// Killed by signal without a recognizable panic: still abnormal.
		sig := Normalize(combined)
		if sig.PanicMessage == "" {
			sig.PanicMessage = "terminated by signal"
			sig.Key = fingerprint("signal|" + lastNonEmptyLine(res.Stderr))
		}
		return Outcome{Verdict: Ice, Signature: sig, New: c.observe(sig, res.CandidateID)}
	case diagnosedErrorRe.MatchString(res.Stderr):
		return Outcome{Verdict: CompileError}
	default:
		// Non-zero exit with no diagnostics and no panic marker; treat as a
		// diagnosed failure rather than inventing a crash.
		return Outcome{Verdict: CompileError}
	}
}

// observe atomically checks-and-inserts the signature. Returns true when the
// signature is new to this run (and to the persisted set, when configured).
func (c *Classifier) observe(sig *Signature, candidateID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[sig.Key]; ok {
		return false
	}
	sig.FirstCandidateID = candidateID
	c.seen[sig.Key] = sig

	if c.Persisted != nil {
		known, err := c.Persisted.HasSignature(sig.Key)
		if err != nil {
			logging.New("classify").Warn("persisted signature lookup failed", "key", sig.Key, "error", err)
		} else if known {
			return false
		}
		if err := c.Persisted.InsertSignature(sig); err != nil {
			logging.New("classify").Warn("persist signature failed", "key", sig.Key, "error", err)
		}
	}
	return true
}

// SeenCount reports the number of distinct signatures observed this run.
func (c *Classifier) SeenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func hangSignature(res *toolchain.ExecutionResult) *Signature {
	line := lastNonEmptyLine(res.Stderr)
	msg := "compilation hang"
	if line != "" {
		msg = "compilation hang after: " + scrub(line)
	}
	return &Signature{
		Key:          fingerprint("hang|" + scrub(line)),
		PanicMessage: msg,
	}
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
