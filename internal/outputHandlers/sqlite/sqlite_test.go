package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AlfredBerg/rod-capture/internal/export"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRecordAndList(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	o := &SqliteOutput{Database: db, Logger: zaptest.NewLogger(t)}
	require.NoError(t, o.Init())

	ctx := context.Background()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, o.RecordRun(ctx, export.Record{
				JobID: "job", Kind: "export", Target: "https://example.com", Path: "/out/a.pdf",
				Format: "pdf", Status: export.StatusOK, Elapsed: 1500 * time.Millisecond, CreatedAt: now,
			}))
		}()
	}
	wg.Wait()
	require.NoError(t, o.RecordRun(ctx, export.Record{
		JobID: "last", Kind: "search", Target: "https://example.com/search",
		Status: export.StatusFailed, Error: "boom", CreatedAt: now.Add(time.Second),
	}))
	require.NoError(t, o.Cleanup())

	reader := &SqliteOutput{Database: db}
	require.NoError(t, reader.Init())
	defer reader.Cleanup()

	runs, err := reader.ListRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 5)

	assert.Equal(t, "last", runs[0].JobID)
	assert.Equal(t, export.StatusFailed, runs[0].Status)
	assert.Equal(t, "boom", runs[0].Error)
	assert.Empty(t, runs[0].Path)
	assert.True(t, now.Add(time.Second).Equal(runs[0].CreatedAt))

	assert.Equal(t, "/out/a.pdf", runs[1].Path)
	assert.Equal(t, 1500*time.Millisecond, runs[1].Elapsed)

	all, err := reader.ListRuns(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, all, 31)
}

func TestRecordAfterCleanup(t *testing.T) {
	o := &SqliteOutput{Database: filepath.Join(t.TempDir(), "runs.db")}
	require.NoError(t, o.Init())
	require.NoError(t, o.Cleanup())
	require.NoError(t, o.Cleanup())

	err := o.RecordRun(context.Background(), export.Record{JobID: "x"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInitWithoutDatabase(t *testing.T) {
	assert.Error(t, (&SqliteOutput{}).Init())
}
