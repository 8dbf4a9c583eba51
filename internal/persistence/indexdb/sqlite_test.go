package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkplan.ai/internal/geom"
	"linkplan.ai/internal/remote"
)

func TestRecordTxDropsWhenQueueFull(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan remote.TxRecord, 1)}

	require.NoError(t, s.RecordTx(remote.TxRecord{ID: "a"}))
	require.NoError(t, s.RecordTx(remote.TxRecord{ID: "b"}))

	st := s.Stats()
	assert.EqualValues(t, 1, st.DropTotal)
	assert.Equal(t, 1, st.QueueDepth)
	assert.Equal(t, 1, st.QueueCapacity)
}

func TestRecordAfterCloseIsIgnored(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.NoError(t, s.RecordTx(remote.TxRecord{ID: "late"}))
	assert.Zero(t, s.Stats().DropTotal)
}

func TestIndexRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordTx(remote.TxRecord{
		ID: "tx-1", Label: "connect fluid", Outcome: remote.OutcomeFailure, Error: "path blocked",
		StartedAt: t0, FinishedAt: t0.Add(time.Second),
		Calls: []remote.CallRecord{{Op: "submit_path", DurationMS: 1.5}},
		Attempts: []remote.AttemptRecord{
			{Kind: "fluid", Strategy: "direct", Start: geom.Pt(0.5, 0.5), Finish: geom.Pt(5.5, 0.5), ConnectorSize: 1.5, Radius: 0.5, Error: "path blocked"},
			{Kind: "fluid", Strategy: "direct", Start: geom.Pt(0.5, 0.5), Finish: geom.Pt(5.5, 0.5), ConnectorSize: 1, Radius: 0.5, Success: true, Placed: 6, Required: 6},
		},
	}))
	require.NoError(t, s.RecordTx(remote.TxRecord{
		ID: "tx-2", Label: "connect power", Outcome: remote.OutcomeSuccess,
		StartedAt: t0.Add(time.Minute), FinishedAt: t0.Add(time.Minute),
		Attempts: []remote.AttemptRecord{{Kind: "power", Strategy: "direct", Success: true, Placed: 3, Required: 3}},
	}))
	// Close drains the queue.
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "tx-2", recent[0].ID)
	assert.Equal(t, "tx-1", recent[1].ID)
	assert.Equal(t, "path blocked", recent[1].Error)
	assert.Equal(t, 1, recent[1].Calls)
	assert.Equal(t, 2, recent[1].Attempts)
	assert.True(t, recent[1].StartedAt.Equal(t0))

	attempts, err := s.Attempts(ctx, "tx-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.False(t, attempts[0].Success)
	assert.Equal(t, 1.5, attempts[0].ConnectorSize)
	assert.True(t, attempts[1].Success)
	assert.Equal(t, 6, attempts[1].Placed)
	assert.True(t, attempts[1].Finish.Equal(geom.Pt(5.5, 0.5)))

	stats, err := s.StrategyStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []StrategyStat{
		{Kind: "fluid", Strategy: "direct", Total: 2, Successes: 1},
		{Kind: "power", Strategy: "direct", Total: 1, Successes: 1},
	}, stats)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := OpenSQLite("")
	assert.Error(t, err)
}
