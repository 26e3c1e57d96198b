package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/types"
)

func testCandidate(owner, skillKey string, state types.CandidateState) *types.SkillCandidate {
	now := time.Now().UTC()
	return &types.SkillCandidate{
		ID:           types.NewCandidateID(),
		Owner:        owner,
		SkillKey:     skillKey,
		ExecutionIDs: []string{types.NewExecutionID()},
		State:        state,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func promote(t *testing.T, s *Store, owner, skillKey, candidateID string, stage types.ReleaseStage) *types.SkillRelease {
	t.Helper()
	release := &types.SkillRelease{
		ID:          types.NewReleaseID(),
		Owner:       owner,
		SkillKey:    skillKey,
		Stage:       stage,
		CandidateID: candidateID,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.Skills.PromoteCandidate(context.Background(), release))
	return release
}

func TestCandidateLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := testCandidate("alice", "csv-import", types.CandidateDraft)
	require.NoError(t, s.Skills.CreateCandidate(ctx, c))

	got, err := s.Skills.GetCandidate(ctx, "alice", c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CandidateDraft, got.State)
	assert.Equal(t, c.ExecutionIDs, got.ExecutionIDs)

	score := 0.92
	passed := true
	c.State = types.CandidateEvaluated
	c.Score = &score
	c.Passed = &passed
	require.NoError(t, s.Skills.UpdateCandidate(ctx, c, types.CandidateDraft))

	got, err = s.Skills.GetCandidate(ctx, "alice", c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CandidateEvaluated, got.State)
	require.NotNil(t, got.Score)
	assert.InDelta(t, 0.92, *got.Score, 0.001)

	// The state check refuses a stale transition.
	c.State = types.CandidatePromoted
	err = s.Skills.UpdateCandidate(ctx, c, types.CandidateDraft)
	assert.Equal(t, bayerr.CodeConflict, bayerr.CodeOf(err))
}

func TestCandidateListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	draft := testCandidate("alice", "csv-import", types.CandidateDraft)
	evaluated := testCandidate("alice", "csv-import", types.CandidateEvaluated)
	other := testCandidate("alice", "pdf-export", types.CandidateDraft)
	require.NoError(t, s.Skills.CreateCandidate(ctx, draft))
	require.NoError(t, s.Skills.CreateCandidate(ctx, evaluated))
	require.NoError(t, s.Skills.CreateCandidate(ctx, other))

	got, err := s.Skills.ListCandidates(ctx, "alice", "csv-import", "")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Skills.ListCandidates(ctx, "alice", "", types.CandidateDraft)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Skills.ListCandidates(ctx, "bob", "", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPromoteAllocatesVersionsAndDeactivates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c1 := testCandidate("alice", "csv-import", types.CandidateEvaluated)
	c2 := testCandidate("alice", "csv-import", types.CandidateEvaluated)
	require.NoError(t, s.Skills.CreateCandidate(ctx, c1))
	require.NoError(t, s.Skills.CreateCandidate(ctx, c2))

	first := promote(t, s, "alice", "csv-import", c1.ID, types.StageCanary)
	assert.Equal(t, 1, first.Version)
	assert.True(t, first.Active)

	second := promote(t, s, "alice", "csv-import", c2.ID, types.StageCanary)
	assert.Equal(t, 2, second.Version)

	releases, err := s.Skills.ListReleases(ctx, "alice", "csv-import")
	require.NoError(t, err)
	require.Len(t, releases, 2)
	// Newest version first; only it stays active for the stage.
	assert.Equal(t, 2, releases[0].Version)
	assert.True(t, releases[0].Active)
	assert.False(t, releases[1].Active)
}

func TestPromoteStagesAreIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := testCandidate("alice", "csv-import", types.CandidateEvaluated)
	require.NoError(t, s.Skills.CreateCandidate(ctx, c))

	canary := promote(t, s, "alice", "csv-import", c.ID, types.StageCanary)
	stable := promote(t, s, "alice", "csv-import", c.ID, types.StageStable)

	// Versions share one sequence per skill, but activation is per stage.
	assert.Equal(t, 1, canary.Version)
	assert.Equal(t, 2, stable.Version)

	releases, err := s.Skills.ListReleases(ctx, "alice", "csv-import")
	require.NoError(t, err)
	for _, r := range releases {
		assert.True(t, r.Active)
	}
}

func TestRollbackRestoresPrevious(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := testCandidate("alice", "csv-import", types.CandidateEvaluated)
	require.NoError(t, s.Skills.CreateCandidate(ctx, c))

	v1 := promote(t, s, "alice", "csv-import", c.ID, types.StageStable)
	v2 := promote(t, s, "alice", "csv-import", c.ID, types.StageStable)

	restored, err := s.Skills.Rollback(ctx, "alice", "csv-import", types.StageStable, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, v1.Version, restored.Version)
	assert.True(t, restored.Active)

	releases, err := s.Skills.ListReleases(ctx, "alice", "csv-import")
	require.NoError(t, err)
	require.Len(t, releases, 2)
	for _, r := range releases {
		if r.Version == v2.Version {
			assert.False(t, r.Active)
			assert.True(t, r.RolledBack)
		}
	}

	// A rolled-back version is never restored again.
	restored, err = s.Skills.Rollback(ctx, "alice", "csv-import", types.StageStable, time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, restored)
}

func TestRollbackWithoutActiveRelease(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Skills.Rollback(context.Background(), "alice", "ghost", types.StageStable, time.Now().UTC())
	assert.Equal(t, bayerr.CodeNotFound, bayerr.CodeOf(err))
}
