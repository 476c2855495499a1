// Package pattern generalizes a concrete ICE trigger into an abstract
// defect-prone code pattern that can be transplanted into other programs.
package pattern

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lulan-cc/RICE/internal/llm"
	"github.com/lulan-cc/RICE/internal/logging"
	"github.com/lulan-cc/RICE/internal/report"
)

// BuggyPattern is the generalized crash-inducing code shape derived from one
// IssueReport. Read-only after extraction.
type BuggyPattern struct {
	SourceID    string   // report the pattern was derived from
	Description string   // natural-language characteristics of the defect shape
	Snippet     string   // abstracted rust fragment exhibiting the shape
	Hints       []string // lowercase applicability tags, e.g. "traits", "generics"
}

// ExtractionError is returned when the model failed to produce a usable
// pattern after all retry attempts.
type ExtractionError struct {
	SourceID string
	Attempts int
	Last     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("pattern extraction for report %s failed after %d attempts: %v", e.SourceID, e.Attempts, e.Last)
}

func (e *ExtractionError) Unwrap() error { return e.Last }

const maxAttempts = 3

// Extractor derives patterns from reports, caching one pattern per report so
// extraction is never re-run for the same report within a run.
type Extractor struct {
	client llm.Client

	mu    sync.Mutex
	cache map[string]*BuggyPattern
}

func NewExtractor(client llm.Client) *Extractor {
	return &Extractor{client: client, cache: make(map[string]*BuggyPattern)}
}

const extractSystemPrompt = `You are an expert in researching Rust compiler ICE (internal compiler error) bugs,
with exceptional skill in identifying the core code patterns that trigger ICEs.`

// Extract derives the defect-prone pattern for a report. The same prompt is
// retried up to three times before the error surfaces; responses missing
// either the snippet or the characteristics section count as failures.
func (e *Extractor) Extract(ctx context.Context, rep *report.IssueReport) (*BuggyPattern, error) {
	e.mu.Lock()
	if p, ok := e.cache[rep.SourceID]; ok {
		e.mu.Unlock()
		return p, nil
	}
	e.mu.Unlock()

	prompt := buildExtractPrompt(rep)
	logger := logging.New("pattern")

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := e.client.Chat(ctx, extractSystemPrompt, prompt)
		if err != nil {
			lastErr = err
			logger.Warn("extraction call failed", "report", rep.SourceID, "attempt", attempt, "error", err)
			continue
		}
		p, err := parsePattern(resp.Content)
		if err != nil {
			lastErr = err
			logger.Warn("extraction response rejected", "report", rep.SourceID, "attempt", attempt, "error", err)
			continue
		}
		p.SourceID = rep.SourceID

		e.mu.Lock()
		e.cache[rep.SourceID] = p
		e.mu.Unlock()

		logger.Info("pattern extracted", "report", rep.SourceID, "hints", strings.Join(p.Hints, ","))
		return p, nil
	}
	return nil, &ExtractionError{SourceID: rep.SourceID, Attempts: maxAttempts, Last: lastErr}
}

func buildExtractPrompt(rep *report.IssueReport) string {
	var b strings.Builder
	b.WriteString("OBJECTIVE: Combining the compiler crash output and the trigger code, extract the minimal\n")
	b.WriteString("defect-prone code pattern that causes the compiler crash, generalized away from the\n")
	b.WriteString("surrounding code so it can be woven into unrelated programs.\n\n")
	b.WriteString("TRIGGER CODE:\n```rust\n")
	b.WriteString(rep.TriggerCode)
	b.WriteString("\n```\n\nCOMPILER OUTPUT:\n```\n")
	b.WriteString(rep.CrashOutput)
	b.WriteString("\n```\n\n")
	b.WriteString("OUTPUT FORMAT (strictly follow; no extra content):\n")
	b.WriteString("Defect-Prone Code Pattern\n```rust\n<core defect-prone code snippet>\n```\n")
	b.WriteString("Defect Code Pattern Characteristics\n<key characteristics of the defect-prone pattern>\n")
	b.WriteString("Applicability: <comma-separated lowercase tags naming the language features involved, e.g. traits, generics, closures>\n")
	return b.String()
}

// parsePattern validates and decomposes a model response. The response must
// contain a rust snippet and a non-empty characteristics description.
func parsePattern(content string) (*BuggyPattern, error) {
	snippet := strings.TrimSpace(llm.FirstFencedBlock(content, "rust"))
	if snippet == "" {
		return nil, fmt.Errorf("response has no rust snippet")
	}

	desc := descriptionAfterSnippet(content)
	if desc == "" {
		return nil, fmt.Errorf("response has no characteristics description")
	}

	return &BuggyPattern{
		Description: desc,
		Snippet:     snippet,
		Hints:       parseHints(content),
	}, nil
}

// descriptionAfterSnippet returns the prose after the last code fence,
// excluding the Applicability tag line.
func descriptionAfterSnippet(content string) string {
	idx := strings.LastIndex(content, "```")
	if idx < 0 {
		return ""
	}
	rest := content[idx+3:]
	var lines []string
	for _, line := range strings.Split(rest, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "Applicability:") {
			continue
		}
		if trimmed == "Defect Code Pattern Characteristics" {
			continue
		}
		lines = append(lines, trimmed)
	}
	return strings.Join(lines, "\n")
}

func parseHints(content string) []string {
	var hints []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "Applicability:") {
			continue
		}
		for _, tag := range strings.Split(strings.TrimPrefix(trimmed, "Applicability:"), ",") {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag != "" {
				hints = append(hints, tag)
			}
		}
		break
	}
	return hints
}
