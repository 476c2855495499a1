package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lulan-cc/RICE/internal/classify"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "rice.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)

	runID, err := s.BeginRun("133808", "7442931d4")
	require.NoError(t, err)
	require.NotZero(t, runID)

	require.NoError(t, s.FinishRun(runID, 2))

	run, err := s.GetRun(runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "133808", run.ReportID)
	assert.Equal(t, "7442931d4", run.Revision)
	assert.Equal(t, 2, run.Findings)
	assert.NotEmpty(t, run.FinishedAt)
}

func TestLatestRunID(t *testing.T) {
	s := openTestStore(t)

	id, err := s.LatestRunID()
	require.NoError(t, err)
	assert.Zero(t, id)

	_, err = s.BeginRun("133808", "7442931d4")
	require.NoError(t, err)
	second, err := s.BeginRun("140011", "7442931d4")
	require.NoError(t, err)

	id, err = s.LatestRunID()
	require.NoError(t, err)
	assert.Equal(t, second, id)
}

func TestGetRun_Missing(t *testing.T) {
	s := openTestStore(t)
	run, err := s.GetRun(999)
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestSignatureDedupSet(t *testing.T) {
	s := openTestStore(t)

	known, err := s.HasSignature("abc")
	require.NoError(t, err)
	assert.False(t, known)

	sig := &classify.Signature{
		Key:              "abc",
		PanicMessage:     "unexpected type during borrow-check",
		TopFrame:         "rustc_borrowck::type_check",
		FirstCandidateID: "cand-1",
	}
	require.NoError(t, s.InsertSignature(sig))

	known, err = s.HasSignature("abc")
	require.NoError(t, err)
	assert.True(t, known)

	// Duplicate insert must be a no-op, not an error.
	require.NoError(t, s.InsertSignature(sig))
}

func TestSaveAndListFindings(t *testing.T) {
	s := openTestStore(t)

	runID, err := s.BeginRun("133808", "")
	require.NoError(t, err)

	require.NoError(t, s.InsertSignature(&classify.Signature{Key: "sig-1"}))
	id, err := s.SaveFinding(&Finding{
		RunID:        runID,
		SignatureKey: "sig-1",
		PanicMessage: "boom",
		CandidateID:  "cand-9",
		ContextID:    "traits/a.rs",
		Code:         "fn main() {}",
		Stderr:       "thread 'rustc' panicked",
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	findings, err := s.FindingsByRun(runID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "sig-1", findings[0].SignatureKey)
	assert.Equal(t, "fn main() {}", findings[0].Code)
	assert.NotEmpty(t, findings[0].DiscoveredAt)

	n, err := s.CountFindings(runID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
