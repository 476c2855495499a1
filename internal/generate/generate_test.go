package generate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/lulan-cc/RICE/internal/corpus"
	"github.com/lulan-cc/RICE/internal/llm"
	"github.com/lulan-cc/RICE/internal/pattern"
)

type fakeClient struct {
	responses []string
	calls     int
}

func (f *fakeClient) Chat(ctx context.Context, system, user string) (*llm.Response, error) {
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		return nil, fmt.Errorf("fake exhausted")
	}
	return &llm.Response{Content: f.responses[i]}, nil
}

func hostContext(t *testing.T) *corpus.Context {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "traits", "host.rs")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("fn host<T: Clone>(x: T) -> T { x.clone() }\nfn main() {}"), 0o644); err != nil {
		t.Fatal(err)
	}
	pool, err := corpus.Scan(root, 1)
	if err != nil {
		t.Fatal(err)
	}
	return pool.Sample(nil, 1, nil)[0]
}

func testPattern() *pattern.BuggyPattern {
	return &pattern.BuggyPattern{
		SourceID:    "133808",
		Description: "recursive generic instantiation",
		Snippet:     "fn f<T>() { f::<Vec<T>>() }",
		Hints:       []string{"generics"},
	}
}

func TestGenerate_ValidVariants(t *testing.T) {
	fc := &fakeClient{responses: []string{
		"Mutated Code\n```rust\nfn host<T: Clone>(x: T) -> T { host::<Vec<T>>(vec![x]).remove(0) }\nfn main() {}\n```",
		"Mutated Code\n```rust\nfn host<T>(x: T) { host::<(T, T)>((x, x)) }\nfn main() {}\n```",
	}}
	g := NewGenerator(fc)

	cands, err := g.Generate(context.Background(), testPattern(), hostContext(t), 2)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("want 2 candidates, got %d", len(cands))
	}
	if cands[0].ID == cands[1].ID {
		t.Error("candidate ids must be unique")
	}
	if cands[0].Attempt != 1 || cands[1].Attempt != 2 {
		t.Errorf("attempt indices: %d, %d", cands[0].Attempt, cands[1].Attempt)
	}
	if cands[0].PatternID != "133808" {
		t.Errorf("pattern ref: %q", cands[0].PatternID)
	}
}

func TestGenerate_DropsMalformedVariants(t *testing.T) {
	fc := &fakeClient{responses: []string{
		"Mutated Code\n```rust\nfn broken( {\n```",          // unbalanced
		"no code block at all",                              // missing fence
		"Mutated Code\n```rust\nfn ok() {}\nfn main() {}\n```", // valid
	}}
	g := NewGenerator(fc)

	cands, err := g.Generate(context.Background(), testPattern(), hostContext(t), 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("want 1 surviving candidate, got %d", len(cands))
	}
}

func TestGenerate_ZeroValidIsNotAnError(t *testing.T) {
	fc := &fakeClient{responses: []string{"garbage", "more garbage"}}
	g := NewGenerator(fc)

	cands, err := g.Generate(context.Background(), testPattern(), hostContext(t), 2)
	if err != nil {
		t.Fatalf("zero variants must not be an error, got %v", err)
	}
	if len(cands) != 0 {
		t.Fatalf("want empty slice, got %d", len(cands))
	}
}

func TestGenerate_CapturesPrompts(t *testing.T) {
	fc := &fakeClient{responses: []string{"Mutated Code\n```rust\nfn main() {}\n```"}}
	g := NewGenerator(fc)
	g.PromptDir = t.TempDir()

	if _, err := g.Generate(context.Background(), testPattern(), hostContext(t), 1); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	entries, err := os.ReadDir(g.PromptDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 captured prompt, got %d", len(entries))
	}
}

func TestCheckSyntax(t *testing.T) {
	cases := []struct {
		name string
		code string
		ok   bool
	}{
		{"simple fn", "fn main() { let x = 1; }", true},
		{"string with brace", `fn main() { let s = "{"; }`, true},
		{"raw string with brace", `fn main() { let s = r#"{"#; }`, true},
		{"comment with brace", "fn main() {\n// {\n}", true},
		{"block comment", "fn main() { /* { [ */ }", true},
		{"lifetime", "fn f<'a>(x: &'a str) -> &'a str { x }", true},
		{"unclosed brace", "fn main() {", false},
		{"extra closer", "fn main() {}}", false},
		{"mismatched", "fn main() { (] }", false},
		{"empty", "   \n", false},
		{"no top-level item", "let x = 1;", false},
		{"attr item", "#[derive(Clone)]\nstruct S;\nfn main() {}", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := checkSyntax(tc.code)
			if tc.ok && err != nil {
				t.Errorf("checkSyntax(%q) = %v, want ok", tc.code, err)
			}
			if !tc.ok && err == nil {
				t.Errorf("checkSyntax(%q) = nil, want error", tc.code)
			}
		})
	}
}
