package trace

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestFileSinkAppendsJSONLines(t *testing.T) {
	fs := afero.NewMemMapFs()
	sink, err := NewFileSink(fs, "/traces", "run-1", nil)
	require.NoError(t, err)

	require.NoError(t, sink.Emit(NewEvent("run-1", "info", "stage_start", "starting", nil, time.Unix(0, 0).UTC())))
	require.NoError(t, sink.Emit(NewEvent("run-1", "info", "stage_end", "done", map[string]interface{}{"status": "SUCCESS"}, time.Unix(1, 0).UTC())))
	require.NoError(t, sink.Close())

	data, err := afero.ReadFile(fs, "/traces/run-1/trace.log")
	require.NoError(t, err)
	require.Contains(t, string(data), "stage_start")
	require.Contains(t, string(data), "stage_end")
}

func TestAuditStoreDedup(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/audit")
	instant := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	recorded, err := store.IsRecorded("nightly", instant)
	require.NoError(t, err)
	require.False(t, recorded)

	require.NoError(t, store.Save(AuditRecord{Workflow: "nightly", Instant: instant, RunID: "r1", Status: "SUCCESS"}))

	recorded, err = store.IsRecorded("nightly", instant)
	require.NoError(t, err)
	require.True(t, recorded)
}

func TestAuditStoreListChronological(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/audit")
	i1 := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	i2 := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(AuditRecord{Workflow: "nightly", Instant: i1, RunID: "r1"}))
	require.NoError(t, store.Save(AuditRecord{Workflow: "nightly", Instant: i2, RunID: "r2"}))

	records, err := store.List("nightly")
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestAuditStoreListOnMissingWorkflowIsEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/audit")
	records, err := store.List("never-seen")
	require.NoError(t, err)
	require.Empty(t, records)
}
