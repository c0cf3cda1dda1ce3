package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndFinishRun(t *testing.T) {
	j := openTemp(t)

	id, err := j.BeginRun("/dev/sda1", []string{"fsck", "minimize", "reencrypt"})
	require.NoError(t, err)
	require.NotZero(t, id)

	require.NoError(t, j.RecordStep(id, 1, "fsck"))
	require.NoError(t, j.RecordStep(id, 2, "minimize"))
	require.NoError(t, j.FinishRun(id, "failed", "command failed (rc=4): e2fsck -f -y /dev/sda1"))

	runs, err := j.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, "/dev/sda1", run.Device)
	assert.Equal(t, []string{"fsck", "minimize", "reencrypt"}, run.Steps)
	assert.Equal(t, "failed", run.Outcome)
	assert.Contains(t, run.Error, "e2fsck")
	assert.NotNil(t, run.FinishedAt)
}

func TestRecentRunsNewestFirst(t *testing.T) {
	j := openTemp(t)

	first, err := j.BeginRun("/dev/sda1", []string{"reencrypt"})
	require.NoError(t, err)
	second, err := j.BeginRun("/dev/sdb2", []string{"reencrypt"})
	require.NoError(t, err)
	require.NoError(t, j.FinishRun(first, "completed", ""))
	require.NoError(t, j.FinishRun(second, "completed", ""))

	runs, err := j.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "/dev/sdb2", runs[0].Device)
	assert.Equal(t, "/dev/sda1", runs[1].Device)
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	require.NoError(t, err)
	id, err := j.BeginRun("/dev/sda1", []string{"reencrypt"})
	require.NoError(t, err)
	require.NoError(t, j.FinishRun(id, "completed", ""))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	runs, err := j.RecentRuns(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
