// Package generate turns (pattern, context) pairs into concrete candidate
// programs by asking the model to weave the buggy shape into the host code.
package generate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/lulan-cc/RICE/internal/corpus"
	"github.com/lulan-cc/RICE/internal/llm"
	"github.com/lulan-cc/RICE/internal/logging"
	"github.com/lulan-cc/RICE/internal/pattern"
)

// Candidate is one generated program. Candidates are ephemeral: they live for
// a single build/execute/classify pass and are only persisted when they yield
// a finding.
type Candidate struct {
	ID        string // uuid
	PatternID string // source report id of the applied pattern
	ContextID string // corpus context the code was woven into
	Code      string
	Attempt   int // 1-based variant index within the generation call
}

// Generator invokes the model to produce candidate variants.
type Generator struct {
	client llm.Client

	// PromptDir, when set, captures every mutation prompt under this
	// directory for later audit.
	PromptDir string
}

func NewGenerator(client llm.Client) *Generator {
	return &Generator{client: client}
}

const generateSystemPrompt = `You are a Rust expert refactoring programs so they exhibit a specific defect-prone code pattern
while preserving the surrounding program structure. Output complete, compilable Rust programs.`

// Generate asks for nVariants syntactically distinct weavings of the pattern
// into the host context. Malformed variants are dropped, not surfaced: a call
// that produces zero valid variants returns an empty slice and a nil error,
// since "no viable mutation for this context" is a common, expected outcome.
// Only infrastructure problems (unreadable context source) return an error.
func (g *Generator) Generate(ctx context.Context, pat *pattern.BuggyPattern, host *corpus.Context, nVariants int) ([]*Candidate, error) {
	src, err := host.Source()
	if err != nil {
		return nil, err
	}

	logger := logging.New("generate")
	var out []*Candidate
	for attempt := 1; attempt <= nVariants; attempt++ {
		prompt := buildMutatePrompt(pat, src, attempt)
		g.capturePrompt(host.ID, attempt, prompt)

		resp, err := g.client.Chat(ctx, generateSystemPrompt, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return out, nil
			}
			logger.Warn("generation call failed", "context", host.ID, "attempt", attempt, "error", err)
			continue
		}

		code := strings.TrimSpace(llm.FirstFencedBlock(resp.Content, "rust"))
		if code == "" {
			logger.Warn("generation response had no rust block", "context", host.ID, "attempt", attempt)
			continue
		}
		if err := checkSyntax(code); err != nil {
			logger.Warn("variant rejected by sanity check", "context", host.ID, "attempt", attempt, "reason", err)
			continue
		}

		out = append(out, &Candidate{
			ID:        uuid.NewString(),
			PatternID: pat.SourceID,
			ContextID: host.ID,
			Code:      code,
			Attempt:   attempt,
		})
	}
	return out, nil
}

func buildMutatePrompt(pat *pattern.BuggyPattern, hostSrc string, attempt int) string {
	var b strings.Builder
	b.WriteString("OBJECTIVE: Based on the description in DEFECT-PRONE CODE PATTERN CHARACTERISTICS,\n")
	b.WriteString("refactor the TARGET CODE so that it possesses similar features to the\n")
	b.WriteString("DEFECT-PRONE CODE PATTERN, while keeping the target's overall structure intact.\n")
	if attempt > 1 {
		fmt.Fprintf(&b, "Produce a weaving that is syntactically different from your previous %d attempt(s).\n", attempt-1)
	}
	b.WriteString("\nDEFECT-PRONE CODE PATTERN:\n```rust\n")
	b.WriteString(pat.Snippet)
	b.WriteString("\n```\n\nDEFECT-PRONE CODE PATTERN CHARACTERISTICS:\n")
	b.WriteString(pat.Description)
	b.WriteString("\n\nTARGET CODE:\n```rust\n")
	b.WriteString(hostSrc)
	b.WriteString("\n```\n\n")
	b.WriteString("OUTPUT FORMAT (strictly follow; no extra content):\nMutated Code\n```rust\n<full mutated target code>\n```\n")
	return b.String()
}

// capturePrompt mirrors the audit trail the tool keeps for mutation prompts.
// Failures here are deliberately ignored: auditing must never block discovery.
func (g *Generator) capturePrompt(contextID string, attempt int, prompt string) {
	if g.PromptDir == "" {
		return
	}
	name := strings.ReplaceAll(contextID, string(filepath.Separator), "_")
	path := filepath.Join(g.PromptDir, fmt.Sprintf("%s.v%d.txt", strings.TrimSuffix(name, ".rs"), attempt))
	if err := os.MkdirAll(g.PromptDir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(path, []byte(prompt), 0o644)
}
