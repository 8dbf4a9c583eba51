package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/geom"
	"linkplan.ai/internal/protocol"
	"linkplan.ai/internal/remote"
	"linkplan.ai/internal/remote/remotetest"
)

func TestDecodeEntityValidatesRecords(t *testing.T) {
	e, err := remote.DecodeEntity(json.RawMessage(`{"name":"pipe","position":{"x":1.5,"y":2.5},"direction":1,"network_id":7}`))
	require.NoError(t, err)
	assert.Equal(t, "pipe", e.Name)
	assert.Equal(t, geom.Pt(1.5, 2.5), e.Position)
	assert.Equal(t, geom.East, e.Direction)
	assert.Equal(t, 7, e.NetworkID)

	bad := []string{
		`{"position":{"x":1,"y":2}}`,
		`{"name":"pipe"}`,
		`{"name":"pipe","position":{"x":"one","y":2}}`,
		`{"name":"pipe","position":{"x":1,"y":2},"direction":9}`,
		`{"name":"belt","position":{"x":1,"y":2},"underground_type":"sideways"}`,
		`not json`,
	}
	for _, b := range bad {
		_, err := remote.DecodeEntity(json.RawMessage(b))
		assert.Error(t, err, "record %s", b)
	}
}

func TestDecodeIndexedKeepsIndexOrder(t *testing.T) {
	raws := map[int]json.RawMessage{
		2: remote.EncodeEntity(entity.Entity{Name: "pipe", Position: geom.Pt(2.5, 0.5)}),
		0: remote.EncodeEntity(entity.Entity{Name: "pipe", Position: geom.Pt(0.5, 0.5)}),
		1: remote.EncodeEntity(entity.Entity{Name: "pipe", Position: geom.Pt(1.5, 0.5)}),
	}
	es, err := remote.DecodeIndexed(raws)
	require.NoError(t, err)
	require.Len(t, es, 3)
	for i, e := range es {
		assert.Equal(t, float64(i)+0.5, e.Position.X)
	}
}

type memRecorder struct{ recs []remote.TxRecord }

func (m *memRecorder) RecordTx(r remote.TxRecord) error {
	m.recs = append(m.recs, r)
	return nil
}

type failingRecorder struct{}

func (failingRecorder) RecordTx(remote.TxRecord) error { return errors.New("disk full") }

func TestTxRecordsCallsAndCommitsOnce(t *testing.T) {
	w := remotetest.NewWorld()
	w.SetInventory("pipe", 3)
	rec := &memRecorder{}
	tx := remote.Begin(w, "pipe a->b", nil, rec, failingRecorder{})

	n, err := tx.InventoryCount(context.Background(), "pipe")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = tx.QueryEntities(context.Background(), geom.Pt(0, 0), 1)
	require.NoError(t, err)
	tx.RecordAttempt(remote.AttemptRecord{Kind: "fluid", Success: true})

	require.NoError(t, tx.Commit(remote.OutcomeSuccess, nil))
	assert.ErrorIs(t, tx.Commit(remote.OutcomeSuccess, nil), remote.ErrTxClosed)

	require.Len(t, rec.recs, 1)
	got := rec.recs[0]
	assert.Equal(t, tx.ID(), got.ID)
	assert.Equal(t, "pipe a->b", got.Label)
	assert.Equal(t, remote.OutcomeSuccess, got.Outcome)
	require.Len(t, got.Calls, 2)
	assert.Equal(t, protocol.OpInventoryCount, got.Calls[0].Op)
	assert.Equal(t, protocol.OpQueryEntities, got.Calls[1].Op)
	assert.Len(t, got.Attempts, 1)
}

func TestWSClientRoundTrip(t *testing.T) {
	w := remotetest.NewWorld()
	w.SetInventory("pipe", 10)
	srv := httptest.NewServer(remotetest.NewServer(w).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := remote.Dial(ctx, remote.WSConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, nil)
	require.NoError(t, err)
	defer c.Close()

	n, err := c.InventoryCount(ctx, "pipe")
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	h, err := c.SubmitPathRequest(ctx, remote.PathRequest{Start: geom.Pt(0.5, 0.5), Finish: geom.Pt(3.5, 0.5), Radius: 0.5, ConnectorSize: 1.5})
	require.NoError(t, err)
	out, err := c.FetchPathOutcome(ctx, h, remote.FetchRequest{Start: geom.Pt(0.5, 0.5), Finish: geom.Pt(3.5, 0.5), Connectors: []string{"pipe"}, Available: 10})
	require.NoError(t, err)
	require.True(t, out.Success, out.Error)
	es, err := remote.DecodeIndexed(out.Entities)
	require.NoError(t, err)
	assert.Len(t, es, 4)

	raws, err := c.QueryEntitiesByKind(ctx, []string{"pipe"}, geom.Pt(2, 0.5), 5)
	require.NoError(t, err)
	assert.Len(t, raws, 4)

	require.NoError(t, c.Pickup(ctx, es[0]))
	err = c.Pickup(ctx, es[0])
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, protocol.ErrInvalidTarget, re.Code)

	_, err = c.FetchPathOutcome(ctx, h, remote.FetchRequest{Connectors: []string{"pipe"}})
	require.ErrorAs(t, err, &re)
	assert.Equal(t, protocol.ErrStale, re.Code)

	require.NoError(t, c.InstallCollisionBuffer(ctx, geom.Pt(0, 0), geom.Pt(4, 1)))
	require.NoError(t, c.ClearCollisionBuffer(ctx))
	assert.Equal(t, 0, w.ActiveBuffers())
}

func TestWSClientCallsFailAfterClose(t *testing.T) {
	w := remotetest.NewWorld()
	srv := httptest.NewServer(remotetest.NewServer(w).Handler())
	defer srv.Close()

	ctx := context.Background()
	c, err := remote.Dial(ctx, remote.WSConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), RequestTimeout: time.Second}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.InventoryCount(ctx, "pipe")
	assert.Error(t, err)
}
