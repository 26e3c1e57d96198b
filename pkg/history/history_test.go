package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/store"
	"github.com/baylabs/bay/pkg/types"
)

func newService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.NewTest()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st), st
}

func seedExecution(t *testing.T, st *store.Store, owner string) *types.ExecutionRecord {
	t.Helper()
	rec := &types.ExecutionRecord{
		ID:        types.NewExecutionID(),
		SandboxID: "sandbox-abc",
		Owner:     owner,
		Type:      types.ExecPython,
		Input:     "print(1)",
		Output:    "1",
		Success:   true,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, st.Executions.Create(context.Background(), rec))
	return rec
}

func evaluatedCandidate(t *testing.T, s *Service, st *store.Store, owner, skillKey string) *types.SkillCandidate {
	t.Helper()
	rec := seedExecution(t, st, owner)
	candidate, err := s.CreateCandidate(context.Background(), owner, skillKey, []string{rec.ID})
	require.NoError(t, err)
	candidate, err = s.Evaluate(context.Background(), owner, candidate.ID, 0.9, true)
	require.NoError(t, err)
	return candidate
}

func TestCreateCandidateValidation(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()
	rec := seedExecution(t, st, "alice")

	_, err := s.CreateCandidate(ctx, "alice", "", []string{rec.ID})
	assert.Equal(t, bayerr.CodeValidation, bayerr.CodeOf(err))

	_, err = s.CreateCandidate(ctx, "alice", "csv-import", nil)
	assert.Equal(t, bayerr.CodeValidation, bayerr.CodeOf(err))

	// Every referenced execution must exist and belong to the owner.
	_, err = s.CreateCandidate(ctx, "alice", "csv-import", []string{"exec-missing"})
	assert.Equal(t, bayerr.CodeNotFound, bayerr.CodeOf(err))
	_, err = s.CreateCandidate(ctx, "bob", "csv-import", []string{rec.ID})
	assert.Equal(t, bayerr.CodeNotFound, bayerr.CodeOf(err))

	candidate, err := s.CreateCandidate(ctx, "alice", "csv-import", []string{rec.ID})
	require.NoError(t, err)
	assert.Equal(t, types.CandidateDraft, candidate.State)
}

func TestEvaluateVerdicts(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()
	rec := seedExecution(t, st, "alice")

	passing, err := s.CreateCandidate(ctx, "alice", "csv-import", []string{rec.ID})
	require.NoError(t, err)
	passing, err = s.Evaluate(ctx, "alice", passing.ID, 0.9, true)
	require.NoError(t, err)
	assert.Equal(t, types.CandidateEvaluated, passing.State)

	failing, err := s.CreateCandidate(ctx, "alice", "csv-import", []string{rec.ID})
	require.NoError(t, err)
	failing, err = s.Evaluate(ctx, "alice", failing.ID, 0.2, false)
	require.NoError(t, err)
	assert.Equal(t, types.CandidateRejected, failing.State)

	// A settled candidate cannot be re-evaluated.
	_, err = s.Evaluate(ctx, "alice", failing.ID, 0.9, true)
	assert.Equal(t, bayerr.CodeConflict, bayerr.CodeOf(err))
}

func TestPromoteGuards(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()
	rec := seedExecution(t, st, "alice")

	draft, err := s.CreateCandidate(ctx, "alice", "csv-import", []string{rec.ID})
	require.NoError(t, err)

	// Draft candidates do not promote.
	_, err = s.Promote(ctx, "alice", draft.ID, types.StageCanary)
	assert.Equal(t, bayerr.CodeConflict, bayerr.CodeOf(err))

	evaluated := evaluatedCandidate(t, s, st, "alice", "csv-import")
	_, err = s.Promote(ctx, "alice", evaluated.ID, "production")
	assert.Equal(t, bayerr.CodeValidation, bayerr.CodeOf(err))

	release, err := s.Promote(ctx, "alice", evaluated.ID, types.StageCanary)
	require.NoError(t, err)
	assert.Equal(t, 1, release.Version)
	assert.True(t, release.Active)

	// Promotion settles the candidate.
	got, err := s.GetCandidate(ctx, "alice", evaluated.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CandidatePromoted, got.State)
	_, err = s.Promote(ctx, "alice", evaluated.ID, types.StageStable)
	assert.Equal(t, bayerr.CodeConflict, bayerr.CodeOf(err))
}

func TestPromoteSupersedes(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()

	first := evaluatedCandidate(t, s, st, "alice", "csv-import")
	second := evaluatedCandidate(t, s, st, "alice", "csv-import")

	r1, err := s.Promote(ctx, "alice", first.ID, types.StageStable)
	require.NoError(t, err)
	r2, err := s.Promote(ctx, "alice", second.ID, types.StageStable)
	require.NoError(t, err)
	assert.Greater(t, r2.Version, r1.Version)

	releases, err := s.ListReleases(ctx, "alice", "csv-import")
	require.NoError(t, err)
	active := 0
	for _, r := range releases {
		if r.Active {
			active++
			assert.Equal(t, r2.ID, r.ID)
		}
	}
	assert.Equal(t, 1, active)
}

func TestRollback(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()

	first := evaluatedCandidate(t, s, st, "alice", "csv-import")
	second := evaluatedCandidate(t, s, st, "alice", "csv-import")

	r1, err := s.Promote(ctx, "alice", first.ID, types.StageStable)
	require.NoError(t, err)
	_, err = s.Promote(ctx, "alice", second.ID, types.StageStable)
	require.NoError(t, err)

	restored, err := s.Rollback(ctx, "alice", "csv-import", types.StageStable)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, r1.Version, restored.Version)

	// Rolling back the only remaining version leaves the stage empty.
	restored, err = s.Rollback(ctx, "alice", "csv-import", types.StageStable)
	require.NoError(t, err)
	assert.Nil(t, restored)

	_, err = s.Rollback(ctx, "alice", "csv-import", "production")
	assert.Equal(t, bayerr.CodeValidation, bayerr.CodeOf(err))
}

func TestExecutionHistoryPassthrough(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()
	rec := seedExecution(t, st, "alice")

	listed, err := s.ListExecutions(ctx, "alice", store.ExecutionFilter{SandboxID: "sandbox-abc"})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	got, err := s.GetExecution(ctx, "alice", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	last, err := s.GetLastExecution(ctx, "alice", "sandbox-abc")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, last.ID)

	desc := "smoke"
	annotated, err := s.Annotate(ctx, "alice", rec.ID, &desc, []string{"ci"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "smoke", annotated.Description)
	assert.Equal(t, []string{"ci"}, annotated.Tags)
}
