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

func testExecution(owner, sandboxID string, execType types.ExecType, success bool, startedAt time.Time) *types.ExecutionRecord {
	return &types.ExecutionRecord{
		ID:         types.NewExecutionID(),
		SandboxID:  sandboxID,
		Owner:      owner,
		Type:       execType,
		Input:      "print(1)",
		Output:     "1",
		Success:    success,
		DurationMS: 42,
		StartedAt:  startedAt,
	}
}

func TestExecutionCreateGetScopedToOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testExecution("alice", "sandbox-abc", types.ExecPython, true, time.Now().UTC())
	require.NoError(t, s.Executions.Create(ctx, rec))

	got, err := s.Executions.Get(ctx, "alice", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Input, got.Input)

	_, err = s.Executions.Get(ctx, "bob", rec.ID)
	assert.Equal(t, bayerr.CodeNotFound, bayerr.CodeOf(err))
}

func TestExecutionGetLast(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	older := testExecution("alice", "sandbox-abc", types.ExecPython, true, base)
	newer := testExecution("alice", "sandbox-abc", types.ExecShell, false, base.Add(time.Minute))
	require.NoError(t, s.Executions.Create(ctx, older))
	require.NoError(t, s.Executions.Create(ctx, newer))

	got, err := s.Executions.GetLast(ctx, "alice", "sandbox-abc")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	_, err = s.Executions.GetLast(ctx, "alice", "sandbox-empty")
	assert.Equal(t, bayerr.CodeNotFound, bayerr.CodeOf(err))
}

func TestExecutionListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	pyOK := testExecution("alice", "sandbox-a", types.ExecPython, true, base)
	pyFail := testExecution("alice", "sandbox-a", types.ExecPython, false, base.Add(time.Second))
	shOK := testExecution("alice", "sandbox-b", types.ExecShell, true, base.Add(2*time.Second))
	require.NoError(t, s.Executions.Create(ctx, pyOK))
	require.NoError(t, s.Executions.Create(ctx, pyFail))
	require.NoError(t, s.Executions.Create(ctx, shOK))

	tests := []struct {
		name   string
		filter ExecutionFilter
		want   []string
	}{
		{"all newest first", ExecutionFilter{}, []string{shOK.ID, pyFail.ID, pyOK.ID}},
		{"by sandbox", ExecutionFilter{SandboxID: "sandbox-b"}, []string{shOK.ID}},
		{"by type", ExecutionFilter{Type: types.ExecPython}, []string{pyFail.ID, pyOK.ID}},
		{"by success", ExecutionFilter{Success: boolPtr(false)}, []string{pyFail.ID}},
		{"limit and offset", ExecutionFilter{Limit: 1, Offset: 1}, []string{pyFail.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Executions.List(ctx, "alice", tt.filter)
			require.NoError(t, err)
			ids := make([]string, len(got))
			for i, rec := range got {
				ids[i] = rec.ID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestExecutionListByTag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tagged := testExecution("alice", "sandbox-a", types.ExecPython, true, time.Now().UTC())
	tagged.Tags = []string{"etl", "smoke-test"}
	require.NoError(t, s.Executions.Create(ctx, tagged))

	plain := testExecution("alice", "sandbox-a", types.ExecPython, true, time.Now().UTC())
	require.NoError(t, s.Executions.Create(ctx, plain))

	got, err := s.Executions.List(ctx, "alice", ExecutionFilter{Tag: "etl"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tagged.ID, got[0].ID)

	// Substrings of a tag must not match.
	got, err = s.Executions.List(ctx, "alice", ExecutionFilter{Tag: "et"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExecutionAnnotate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testExecution("alice", "sandbox-a", types.ExecPython, true, time.Now().UTC())
	require.NoError(t, s.Executions.Create(ctx, rec))

	desc := "nightly import"
	got, err := s.Executions.Annotate(ctx, "alice", rec.ID, &desc, []string{"etl"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "nightly import", got.Description)
	assert.Equal(t, []string{"etl"}, got.Tags)

	// Nil fields leave earlier annotations in place.
	notes := "ran clean"
	got, err = s.Executions.Annotate(ctx, "alice", rec.ID, nil, nil, &notes)
	require.NoError(t, err)
	assert.Equal(t, "nightly import", got.Description)
	assert.Equal(t, []string{"etl"}, got.Tags)
	assert.Equal(t, "ran clean", got.Notes)

	_, err = s.Executions.Annotate(ctx, "bob", rec.ID, &desc, nil, nil)
	assert.Equal(t, bayerr.CodeNotFound, bayerr.CodeOf(err))
}

func boolPtr(b bool) *bool { return &b }
