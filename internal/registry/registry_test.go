package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistry_UpsertAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	reg, err := Open(path)
	require.NoError(t, err)
	defer reg.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, reg.Upsert(RunRecord{
		RunName: "run-a", RepoPath: "/repo", NCells: 100, NPerCell: 200000,
		GlobalSeed: 1337, Status: "running", StartedAt: now, UpdatedAt: now,
	}))

	later := now.Add(time.Hour)
	require.NoError(t, reg.Upsert(RunRecord{
		RunName: "run-a", RepoPath: "/repo", NCells: 100, NPerCell: 200000,
		GlobalSeed: 1337, Status: "complete", StartedAt: now, UpdatedAt: later, CompletedAt: &later,
	}))

	records, err := reg.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "complete", records[0].Status)
	require.NotNil(t, records[0].CompletedAt)
}
