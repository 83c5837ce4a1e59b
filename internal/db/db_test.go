package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-data/detector.link/internal/axistream"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detector_test.db")
	database, err := NewDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.MigrateUp("migrations"))
	return database
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	t.Parallel()

	database := setupTestDB(t)
	require.NoError(t, database.MigrateUp("migrations"))

	version, dirty, err := database.MigrateVersion("migrations")
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)
}

func TestMigrateDownRemovesSchema(t *testing.T) {
	t.Parallel()

	database := setupTestDB(t)
	require.NoError(t, database.MigrateDown("migrations"))

	_, err := database.StartSession("continuous", 1024, 1024, "")
	assert.Error(t, err, "scan_sessions table should be gone")
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	database := setupTestDB(t)
	id, err := database.StartSession("continuous", 512, 640, "bench rig")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, database.EndSession(id))
	assert.Error(t, database.EndSession("not-a-session"))
}

func TestRecordAndReadFrames(t *testing.T) {
	t.Parallel()

	database := setupTestDB(t)
	id, err := database.StartSession("single", 4, 8, "")
	require.NoError(t, err)

	recs := []FrameRecord{
		{FrameID: 1, Status: FrameComplete, Rows: 4, Cols: 8, PixelCount: 32, MeanValue: 17.5, MaxValue: 42},
		{FrameID: 2, Status: FrameIncomplete, Rows: 4, Cols: 8, PixelCount: 0, MissingPackets: 3},
		{FrameID: 3, Status: FrameRecovered, Rows: 4, Cols: 8, PixelCount: 32, MissingPackets: 1, StallCycles: 9},
	}
	for _, rec := range recs {
		require.NoError(t, database.RecordFrame(id, rec))
	}

	got, err := database.SessionFrames(id)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, recs[0], got[0])
	assert.Equal(t, recs[1], got[1])
	assert.Equal(t, recs[2], got[2])

	counts, err := database.SessionCompleteness(id)
	require.NoError(t, err)
	assert.Equal(t, map[FrameStatus]int{
		FrameComplete:   1,
		FrameIncomplete: 1,
		FrameRecovered:  1,
	}, counts)
}

func TestFramesAreScopedToSession(t *testing.T) {
	t.Parallel()

	database := setupTestDB(t)
	a, err := database.StartSession("continuous", 4, 4, "")
	require.NoError(t, err)
	b, err := database.StartSession("continuous", 4, 4, "")
	require.NoError(t, err)

	require.NoError(t, database.RecordFrame(a, FrameRecord{FrameID: 1, Status: FrameComplete, Rows: 4, Cols: 4, PixelCount: 16}))

	got, err := database.SessionFrames(b)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLinkStatsRoundTrip(t *testing.T) {
	t.Parallel()

	database := setupTestDB(t)
	id, err := database.StartSession("continuous", 4, 4, "")
	require.NoError(t, err)

	stats := axistream.Stats{
		TotalCycles:           100,
		TotalStallCycles:      12,
		TotalBytesTransferred: 704,
		FifoLevel:             3,
	}
	require.NoError(t, database.RecordLinkStats(id, stats))

	got, err := database.LinkStatsSince(id, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stats.TotalCycles, got[0].TotalCycles)
	assert.Equal(t, stats.TotalStallCycles, got[0].TotalStallCycles)
	assert.Equal(t, stats.TotalBytesTransferred, got[0].TotalBytesTransferred)
	assert.Equal(t, stats.FifoLevel, got[0].FifoLevel)
}
