// Package store persists runs, crash signatures, and findings in SQLite.
//
// The signatures table doubles as the optional cross-run deduplication set;
// findings are the tool's durable deliverable and are never mutated after
// insertion.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lulan-cc/RICE/internal/classify"
)

// DefaultDBPath is where the CLI keeps its store unless told otherwise.
const DefaultDBPath = "output/rice.db"

func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

// Finding is one persisted discovery: a novel crash signature together with
// the program and output that produced it.
type Finding struct {
	ID           int64
	RunID        int64
	SignatureKey string
	PanicMessage string
	CandidateID  string
	ContextID    string
	Code         string
	Stderr       string
	DiscoveredAt string
}

// Run is one orchestrator invocation.
type Run struct {
	ID         int64
	ReportID   string
	Revision   string
	StartedAt  string
	FinishedAt string
	Findings   int
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	report_id TEXT NOT NULL,
	revision TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL DEFAULT '',
	findings INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS signatures (
	key TEXT PRIMARY KEY,
	panic_message TEXT NOT NULL DEFAULT '',
	panic_location TEXT NOT NULL DEFAULT '',
	top_frame TEXT NOT NULL DEFAULT '',
	first_candidate TEXT NOT NULL DEFAULT '',
	first_seen TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS findings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id),
	signature_key TEXT NOT NULL REFERENCES signatures(key),
	panic_message TEXT NOT NULL DEFAULT '',
	candidate_id TEXT NOT NULL,
	context_id TEXT NOT NULL DEFAULT '',
	code TEXT NOT NULL,
	stderr TEXT NOT NULL,
	discovered_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_findings_run ON findings(run_id);
`

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// BeginRun records the start of an orchestrator run.
func (s *Store) BeginRun(reportID, revision string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO runs (report_id, revision, started_at) VALUES (?, ?, ?)`,
		reportID, revision, nowUTC())
	if err != nil {
		return 0, fmt.Errorf("begin run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun stamps the run's end and its finding count.
func (s *Store) FinishRun(runID int64, findings int) error {
	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, findings = ? WHERE id = ?`,
		nowUTC(), findings, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRun loads one run row.
func (s *Store) GetRun(runID int64) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT id, report_id, revision, started_at, finished_at, findings FROM runs WHERE id = ?`, runID)
	var r Run
	err := row.Scan(&r.ID, &r.ReportID, &r.Revision, &r.StartedAt, &r.FinishedAt, &r.Findings)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// HasSignature reports whether the signature key was recorded by any run.
func (s *Store) HasSignature(key string) (bool, error) {
	row := s.db.QueryRow(`SELECT 1 FROM signatures WHERE key = ?`, key)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup signature: %w", err)
	}
	return true, nil
}

// InsertSignature records a newly seen signature. Re-inserting an existing
// key is a no-op so the call is safe from concurrent classifications.
func (s *Store) InsertSignature(sig *classify.Signature) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO signatures (key, panic_message, panic_location, top_frame, first_candidate, first_seen)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sig.Key, sig.PanicMessage, sig.PanicLocation, sig.TopFrame, sig.FirstCandidateID, nowUTC())
	if err != nil {
		return fmt.Errorf("insert signature: %w", err)
	}
	return nil
}

// SaveFinding persists one finding and returns its id.
func (s *Store) SaveFinding(f *Finding) (int64, error) {
	if f.DiscoveredAt == "" {
		f.DiscoveredAt = nowUTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO findings (run_id, signature_key, panic_message, candidate_id, context_id, code, stderr, discovered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.RunID, f.SignatureKey, f.PanicMessage, f.CandidateID, f.ContextID, f.Code, f.Stderr, f.DiscoveredAt)
	if err != nil {
		return 0, fmt.Errorf("save finding: %w", err)
	}
	return res.LastInsertId()
}

// FindingsByRun lists a run's findings, oldest first.
func (s *Store) FindingsByRun(runID int64) ([]*Finding, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, signature_key, panic_message, candidate_id, context_id, code, stderr, discovered_at
		 FROM findings WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	var out []*Finding
	for rows.Next() {
		var f Finding
		if err := rows.Scan(&f.ID, &f.RunID, &f.SignatureKey, &f.PanicMessage, &f.CandidateID,
			&f.ContextID, &f.Code, &f.Stderr, &f.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// LatestRunID returns the id of the most recently started run, or 0 when the
// store holds no runs.
func (s *Store) LatestRunID() (int64, error) {
	row := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM runs`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("latest run: %w", err)
	}
	return id, nil
}

// CountFindings reports the number of findings for one run.
func (s *Store) CountFindings(runID int64) (int, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM findings WHERE run_id = ?`, runID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count findings: %w", err)
	}
	return n, nil
}
