package report

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const validDoc = "# ICE 133808\n\n" +
	"rustc 1.85.0-nightly (7442931d4 2024-12-02) running on x86_64-unknown-linux-gnu\n\n" +
	"## Trigger Code\n\n```rust\nfn f<T>() { f::<Vec<T>>() }\nfn main() { f::<u8>(); }\n```\n\n" +
	"## Compiler Output\n\n```\nthread 'rustc' panicked at compiler/rustc_middle/src/ty/mod.rs:123:45:\nstack overflow during monomorphization\n```\n"

func TestParse_Valid(t *testing.T) {
	rep, err := Parse(validDoc, "133808.md")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rep.TriggerCode == "" || rep.CrashOutput == "" {
		t.Fatalf("empty sections: %+v", rep)
	}
	if want := "fn f<T>() { f::<Vec<T>>() }\nfn main() { f::<u8>(); }"; rep.TriggerCode != want {
		t.Errorf("trigger code: got %q, want %q", rep.TriggerCode, want)
	}
	if rep.Revision != "7442931d4" {
		t.Errorf("revision: got %q", rep.Revision)
	}
}

func TestParse_MissingTrigger(t *testing.T) {
	doc := "## Compiler Output\n```\nboom\n```\n"
	_, err := Parse(doc, "x.md")
	var merr *MalformedReportError
	if !errors.As(err, &merr) {
		t.Fatalf("want MalformedReportError, got %v", err)
	}
	if merr.Missing != "trigger code section" {
		t.Errorf("missing: got %q", merr.Missing)
	}
}

func TestParse_MissingOutput(t *testing.T) {
	doc := "## Trigger Code\n```rust\nfn main() {}\n```\n"
	_, err := Parse(doc, "x.md")
	var merr *MalformedReportError
	if !errors.As(err, &merr) {
		t.Fatalf("want MalformedReportError, got %v", err)
	}
}

func TestParse_EmptySection(t *testing.T) {
	doc := "## Trigger Code\n```rust\n\n```\n## Compiler Output\n```\nboom\n```\n"
	if _, err := Parse(doc, "x.md"); err == nil {
		t.Fatal("want error for empty trigger block")
	}
}

func TestLoad_SetsSourceID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "133808.md")
	if err := os.WriteFile(path, []byte(validDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	rep, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rep.SourceID != "133808" {
		t.Errorf("source id: got %q", rep.SourceID)
	}
}

func TestParse_NoRevision(t *testing.T) {
	doc := "## Trigger Code\n```rust\nfn main() {}\n```\n## Compiler Output\n```\nboom\n```\n"
	rep, err := Parse(doc, "x.md")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rep.Revision != "" {
		t.Errorf("revision should be empty, got %q", rep.Revision)
	}
}
