package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/baylabs/bay/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewTest()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSandbox(owner string, createdAt time.Time) *types.Sandbox {
	return &types.Sandbox{
		ID:           types.NewSandboxID(),
		Owner:        owner,
		ProfileID:    "python-default",
		CargoID:      types.NewCargoID(),
		DesiredState: types.DesiredRunning,
		LastActivity: createdAt,
		CreatedAt:    createdAt,
		Version:      1,
	}
}
