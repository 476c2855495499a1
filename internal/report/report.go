// Package report parses historical ICE issue records into structured reports.
//
// A report file is a markdown document with two mandatory sections in fixed
// order: a "## Trigger Code" section holding a fenced rust block, and a
// "## Compiler Output" section holding a fenced block with the crash text.
// The rustc version line inside the document, when present, pins the compiler
// revision the crash was observed on.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// IssueReport is the parsed form of one historical issue record.
// Immutable once loaded.
type IssueReport struct {
	SourceID    string // derived from the file name, e.g. "133808"
	TriggerCode string // the rust snippet that crashed the compiler
	CrashOutput string // the compiler's stderr at the time of the report
	Revision    string // commit hash from the rustc version line; may be empty
}

// MalformedReportError is returned when a report file is missing a mandatory
// section or a section is empty.
type MalformedReportError struct {
	Path    string
	Missing string
}

func (e *MalformedReportError) Error() string {
	return fmt.Sprintf("malformed report %s: missing %s", e.Path, e.Missing)
}

var (
	triggerRe  = regexp.MustCompile("(?s)## Trigger Code\\s+```rust(.*?)```")
	outputRe   = regexp.MustCompile("(?s)## Compiler Output\\s+```(?:text|console)?\n?(.*?)```")
	revisionRe = regexp.MustCompile(`rustc [^\s]+ \(([0-9a-fA-F]{7,40})`)
)

// Load reads and parses a report file.
func Load(path string) (*IssueReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	rep, err := Parse(string(data), path)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	rep.SourceID = strings.TrimSuffix(base, filepath.Ext(base))
	return rep, nil
}

// Parse parses report text. path is used only for error messages.
func Parse(doc, path string) (*IssueReport, error) {
	rep := &IssueReport{}

	m := triggerRe.FindStringSubmatch(doc)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return nil, &MalformedReportError{Path: path, Missing: "trigger code section"}
	}
	rep.TriggerCode = strings.TrimSpace(m[1])

	m = outputRe.FindStringSubmatch(doc)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return nil, &MalformedReportError{Path: path, Missing: "compiler output section"}
	}
	rep.CrashOutput = strings.TrimSpace(m[1])

	if m = revisionRe.FindStringSubmatch(doc); m != nil {
		rep.Revision = m[1]
	}
	return rep, nil
}
