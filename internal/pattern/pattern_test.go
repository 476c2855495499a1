package pattern

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lulan-cc/RICE/internal/llm"
	"github.com/lulan-cc/RICE/internal/report"
)

// fakeClient replays canned responses in order; each call consumes one.
type fakeClient struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeClient) Chat(ctx context.Context, system, user string) (*llm.Response, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.responses) {
		return nil, fmt.Errorf("fake exhausted after %d calls", i)
	}
	return &llm.Response{Content: f.responses[i]}, nil
}

const goodResponse = "Defect-Prone Code Pattern\n```rust\nfn f<T>() { f::<Vec<T>>() }\n```\n" +
	"Defect Code Pattern Characteristics\n" +
	"A generic function that recursively instantiates itself with a strictly growing type argument, causing infinite monomorphization.\n" +
	"Applicability: generics, recursion, monomorphization\n"

func testReport() *report.IssueReport {
	return &report.IssueReport{
		SourceID:    "133808",
		TriggerCode: "fn f<T>() { f::<Vec<T>>() }",
		CrashOutput: "stack overflow during monomorphization",
	}
}

func TestExtract_Valid(t *testing.T) {
	fc := &fakeClient{responses: []string{goodResponse}}
	ex := NewExtractor(fc)

	p, err := ex.Extract(context.Background(), testReport())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if p.Snippet != "fn f<T>() { f::<Vec<T>>() }" {
		t.Errorf("snippet: %q", p.Snippet)
	}
	if !strings.Contains(p.Description, "recursively instantiates") {
		t.Errorf("description should reference recursive instantiation: %q", p.Description)
	}
	if diff := cmp.Diff([]string{"generics", "recursion", "monomorphization"}, p.Hints); diff != "" {
		t.Errorf("hints mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_CachedPerReport(t *testing.T) {
	fc := &fakeClient{responses: []string{goodResponse, goodResponse}}
	ex := NewExtractor(fc)

	rep := testReport()
	if _, err := ex.Extract(context.Background(), rep); err != nil {
		t.Fatalf("first Extract: %v", err)
	}
	if _, err := ex.Extract(context.Background(), rep); err != nil {
		t.Fatalf("second Extract: %v", err)
	}
	if fc.calls != 1 {
		t.Errorf("want 1 model call for cached report, got %d", fc.calls)
	}
}

func TestExtract_RetriesThenSucceeds(t *testing.T) {
	fc := &fakeClient{
		responses: []string{"no code at all", "still nothing", goodResponse},
	}
	ex := NewExtractor(fc)

	p, err := ex.Extract(context.Background(), testReport())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if fc.calls != 3 {
		t.Errorf("want 3 attempts, got %d", fc.calls)
	}
	if p.Snippet == "" {
		t.Error("snippet empty after successful retry")
	}
}

func TestExtract_FailsAfterRetryBudget(t *testing.T) {
	fc := &fakeClient{responses: []string{"garbage", "garbage", "garbage"}}
	ex := NewExtractor(fc)

	_, err := ex.Extract(context.Background(), testReport())
	var exErr *ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("want ExtractionError, got %v", err)
	}
	if exErr.Attempts != 3 {
		t.Errorf("attempts: %d", exErr.Attempts)
	}
}

func TestParsePattern_MissingDescription(t *testing.T) {
	content := "Defect-Prone Code Pattern\n```rust\nfn main() {}\n```\n"
	if _, err := parsePattern(content); err == nil {
		t.Fatal("want error for missing characteristics section")
	}
}
