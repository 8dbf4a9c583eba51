package plan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/geom"
	"linkplan.ai/internal/observability"
	"linkplan.ai/internal/plan/construct"
	"linkplan.ai/internal/protocol"
	"linkplan.ai/internal/remote"
	"linkplan.ai/internal/remote/remotetest"
)

func newPlanner(w *remotetest.World, opts ...Option) *Planner {
	opts = append(opts, WithEngineOptions(construct.WithSleeper(func(time.Duration) {})))
	return New(w, entity.MustDefaultCatalog(), DefaultConfig(), nil, opts...)
}

func waypoints(ws ...entity.Waypoint) []entity.Waypoint { return ws }

func TestConnectBeltBetweenPoints(t *testing.T) {
	w := remotetest.NewWorld()
	w.SetInventory("transport-belt", 20)

	res, err := newPlanner(w).Connect(context.Background(), Request{
		Waypoints:  waypoints(geom.Pt(0.5, 0.5), geom.Pt(10.5, 0.5)),
		Connectors: []string{"transport-belt"},
	})
	require.NoError(t, err)
	run, ok := res.Group.(*entity.ConveyorRun)
	require.True(t, ok, "got %T", res.Group)

	assert.Len(t, run.Belts, 11)
	require.Len(t, run.Inputs, 1)
	assert.Equal(t, geom.Pt(0.5, 0.5), run.Inputs[0].Position)
	require.Len(t, run.Outputs, 1)
	assert.Equal(t, geom.Pt(10.5, 0.5), run.Outputs[0].Position)
	assert.Equal(t, 9, w.Inventory("transport-belt"))
}

func TestConnectExtendsConduitNetwork(t *testing.T) {
	w := remotetest.NewWorld()
	w.SetInventory("pipe", 10)
	var member entity.Entity
	for x := 0.5; x < 4; x++ {
		member = w.Place(entity.Entity{Name: "pipe", Position: geom.Pt(x, 0.5)})
	}

	res, err := newPlanner(w).Connect(context.Background(), Request{
		Waypoints:  waypoints(member, geom.Pt(6.5, 0.5)),
		Connectors: []string{"pipe"},
	})
	require.NoError(t, err)
	net, ok := res.Group.(*entity.ConduitNetwork)
	require.True(t, ok, "got %T", res.Group)
	assert.Len(t, net.Pipes, 7)
	for _, p := range net.Pipes {
		assert.Equal(t, net.ID, p.NetworkID)
	}
	assert.Len(t, res.Placed, 3)
}

func TestConnectReturnsWholeNetworkBeyondPad(t *testing.T) {
	w := remotetest.NewWorld()
	w.SetInventory("pipe", 10)
	var member entity.Entity
	for x := 0.5; x < 20; x++ {
		member = w.Place(entity.Entity{Name: "pipe", Position: geom.Pt(x, 0.5)})
	}

	res, err := newPlanner(w).Connect(context.Background(), Request{
		Waypoints:  waypoints(member, geom.Pt(22.5, 0.5)),
		Connectors: []string{"pipe"},
	})
	require.NoError(t, err)
	require.Len(t, res.Placed, 3)
	net, ok := res.Group.(*entity.ConduitNetwork)
	require.True(t, ok, "got %T", res.Group)
	assert.Len(t, net.Pipes, 23)
	assert.Len(t, w.Entities("pipe"), 23)
}

func TestMixedKindsRejectedWithoutRemoteCalls(t *testing.T) {
	w := remotetest.NewWorld()
	_, err := newPlanner(w).Connect(context.Background(), Request{
		Waypoints:  waypoints(geom.Pt(0.5, 0.5), geom.Pt(5.5, 0.5)),
		Connectors: []string{"pipe", "transport-belt"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMixedKinds))
	assert.True(t, IsConfigError(err))
	assert.Zero(t, w.TotalCalls())
}

func TestConfigErrorsBeforeRemoteCalls(t *testing.T) {
	w := remotetest.NewWorld()
	p := newPlanner(w)
	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"one waypoint", Request{Waypoints: waypoints(geom.Pt(0, 0)), Connectors: []string{"pipe"}}, ErrTooFewWaypoints},
		{"unknown connector", Request{Waypoints: waypoints(geom.Pt(0, 0), geom.Pt(1, 1)), Connectors: []string{"rail"}}, ErrUnknownConnector},
		{"bare points without connectors", Request{Waypoints: waypoints(geom.Pt(0, 0), geom.Pt(1, 1))}, ErrAmbiguousKind},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Connect(context.Background(), tc.req)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
	assert.Zero(t, w.TotalCalls())
}

func TestDryRunReportsShortfall(t *testing.T) {
	w := remotetest.NewWorld()
	w.SetInventory("pipe", 3)

	res, err := newPlanner(w).Connect(context.Background(), Request{
		Waypoints:  waypoints(geom.Pt(0.5, 0.5), geom.Pt(10.5, 0.5)),
		Connectors: []string{"pipe"},
		DryRun:     true,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Estimate)
	assert.Equal(t, 11, res.Estimate.Required)
	assert.Equal(t, 3, res.Estimate.Available)
	assert.Less(t, res.Estimate.Available, res.Estimate.Required)
	assert.Nil(t, res.Group)
	assert.Empty(t, w.Entities(""))
}

func TestDryRunSumsSegments(t *testing.T) {
	w := remotetest.NewWorld()
	w.SetInventory("pipe", 50)

	res, err := newPlanner(w).Connect(context.Background(), Request{
		Waypoints:  waypoints(geom.Pt(0.5, 0.5), geom.Pt(5.5, 0.5), geom.Pt(5.5, 5.5)),
		Connectors: []string{"pipe"},
		DryRun:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, construct.CostEstimate{Required: 12, Available: 50}, *res.Estimate)
	assert.Equal(t, 2, w.Calls(protocol.OpInventoryCount), "pipe and pipe-to-ground read once each")
}

var westPort = entity.Port{Position: geom.Pt(8.5, 10.5), Direction: geom.West}

func tankWorld() (*remotetest.World, entity.Entity) {
	w := remotetest.NewWorld()
	tank := w.Place(entity.Entity{
		Name: "storage-tank", Position: geom.Pt(10.5, 10.5), TileWidth: 3, TileHeight: 3,
		Ports: []entity.Port{westPort, {Position: geom.Pt(12.5, 10.5), Direction: geom.East}},
	})
	w.SetInventory("pipe", 50)
	w.SetInventory("pipe-to-ground", 4)
	return w, tank
}

func isUnderground(f remote.FetchRequest) bool {
	return len(f.Connectors) == 1 && f.Connectors[0] == "pipe-to-ground"
}

func TestConnectToBlockedDeviceBridges(t *testing.T) {
	w, tank := tankWorld()
	w.Reject = func(sub remote.PathRequest, f remote.FetchRequest) string {
		if !isUnderground(f) && (f.Start.Equal(westPort.Position) || f.Finish.Equal(westPort.Position)) {
			return "cannot connect: would merge with adjacent network"
		}
		return ""
	}

	res, err := newPlanner(w).Connect(context.Background(), Request{
		Waypoints:  waypoints(geom.Pt(0.5, 10.5), tank),
		Connectors: []string{"pipe"},
	})
	require.NoError(t, err)
	net, ok := res.Group.(*entity.ConduitNetwork)
	require.True(t, ok, "got %T", res.Group)
	assert.Len(t, w.Entities("pipe-to-ground"), 2)
	assert.True(t, net.Contains(westPort.Position))
	assert.Equal(t, 2, w.Inventory("pipe-to-ground"))
}

func TestBridgeSendsEachConnectorsOwnStock(t *testing.T) {
	w, tank := tankWorld()
	var middle, extension []int
	w.Reject = func(sub remote.PathRequest, f remote.FetchRequest) string {
		if isUnderground(f) {
			extension = append(extension, f.Available)
			return ""
		}
		if f.Start.Equal(westPort.Position) || f.Finish.Equal(westPort.Position) {
			return "cannot connect: would merge with adjacent network"
		}
		middle = append(middle, f.Available)
		return ""
	}

	_, err := newPlanner(w).Connect(context.Background(), Request{
		Waypoints:  waypoints(geom.Pt(0.5, 10.5), tank),
		Connectors: []string{"pipe"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, middle)
	for _, n := range middle {
		assert.Equal(t, 50, n, "middle path carries pipe stock")
	}
	require.NotEmpty(t, extension)
	for _, n := range extension {
		assert.Equal(t, 4, n, "extension carries pipe-to-ground stock")
	}
}

func TestFailedBridgeLeavesNoOrphans(t *testing.T) {
	w, tank := tankWorld()
	w.Reject = func(sub remote.PathRequest, f remote.FetchRequest) string {
		if isUnderground(f) {
			return ""
		}
		return "path blocked"
	}

	_, err := newPlanner(w).Connect(context.Background(), Request{
		Waypoints:  waypoints(geom.Pt(0.5, 10.5), tank),
		Connectors: []string{"pipe"},
	})
	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex), "got %v", err)
	assert.Contains(t, ex.Source, "(0.5, 10.5)")
	assert.Contains(t, ex.Target, "storage-tank")
	assert.Equal(t, "path blocked", ex.Cause)

	assert.Empty(t, w.Entities("pipe-to-ground"))
	assert.Equal(t, 4, w.Inventory("pipe-to-ground"))
	assert.Positive(t, w.Calls(protocol.OpPickup))
	assert.Equal(t, w.Calls(protocol.OpInstallBuffer), w.Calls(protocol.OpClearBuffer))
}

func TestExhaustionTranslatesOpaqueErrors(t *testing.T) {
	w := remotetest.NewWorld()
	w.SetInventory("stone-wall", 10)
	w.Reject = func(remote.PathRequest, remote.FetchRequest) string {
		return "attempt to index a nil value (field 'position')"
	}
	_, err := newPlanner(w).Connect(context.Background(), Request{
		Waypoints:  waypoints(geom.Pt(0.5, 0.5), geom.Pt(4.5, 0.5)),
		Connectors: []string{"stone-wall"},
	})
	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, protocol.UnrecognizedFailure, ex.Cause)
	assert.False(t, IsConfigError(err))
}

func TestConnectInfersPowerFromRelay(t *testing.T) {
	w := remotetest.NewWorld()
	w.SetInventory("small-electric-pole", 10)
	pole := w.Place(entity.Entity{Name: "small-electric-pole", Position: geom.Pt(0.5, 0.5)})

	res, err := newPlanner(w).Connect(context.Background(), Request{
		Waypoints: waypoints(pole, geom.Pt(20.5, 0.5)),
	})
	require.NoError(t, err)
	net, ok := res.Group.(*entity.ElectricalNetwork)
	require.True(t, ok, "got %T", res.Group)
	assert.Len(t, net.Poles, 5)
	assert.Equal(t, entity.StatusConnected, net.Status())
	for _, p := range net.Poles {
		assert.True(t, p.Position.IsSnapped())
	}
}

func TestResolveEndpoint(t *testing.T) {
	w := remotetest.NewWorld()
	w.Place(entity.Entity{Name: "pipe", Position: geom.Pt(0.5, 0.5)})
	w.Place(entity.Entity{Name: "pipe", Position: geom.Pt(5.5, 0.5)})
	w.Place(entity.Entity{Name: "pipe", Position: geom.Pt(6.5, 0.5)})
	p := newPlanner(w)
	tx := remote.Begin(w, "test", nil)
	ctx := context.Background()

	got, err := p.ResolveEndpoint(ctx, tx, geom.Pt(0.5, 0.5))
	require.NoError(t, err)
	assert.Equal(t, "pipe", got.(entity.Entity).Name)

	got, err = p.ResolveEndpoint(ctx, tx, geom.Pt(0.5, 1.0))
	require.NoError(t, err)
	assert.Equal(t, geom.Pt(0.5, 0.5), got.Anchor(), "single hit within tolerance")

	got, err = p.ResolveEndpoint(ctx, tx, geom.Pt(6.0, 0.5))
	require.NoError(t, err)
	assert.Equal(t, geom.Pt(6.0, 0.5), got, "ambiguous hit keeps the point")

	got, err = p.ResolveEndpoint(ctx, tx, geom.Pt(20, 20))
	require.NoError(t, err)
	assert.Equal(t, geom.Pt(20, 20), got)

	w.Place(entity.Entity{Name: "storage-tank", Position: geom.Pt(10.5, 10.5), TileWidth: 3, TileHeight: 3})
	got, err = p.ResolveEndpoint(ctx, tx, geom.Pt(11.5, 9.5))
	require.NoError(t, err)
	assert.Equal(t, "storage-tank", got.(entity.Entity).Name, "point on a device footprint")
}

type memRecorder struct {
	mu   sync.Mutex
	recs []remote.TxRecord
}

func (m *memRecorder) RecordTx(r remote.TxRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

func TestConnectCommitsTransactionAndMetrics(t *testing.T) {
	w := remotetest.NewWorld()
	w.SetInventory("pipe", 10)
	rec := &memRecorder{}
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	res, err := newPlanner(w, WithRecorders(rec), WithMetrics(m)).Connect(context.Background(), Request{
		Waypoints:  waypoints(geom.Pt(0.5, 0.5), geom.Pt(3.5, 0.5)),
		Connectors: []string{"pipe"},
	})
	require.NoError(t, err)

	require.Len(t, rec.recs, 1)
	r := rec.recs[0]
	assert.Equal(t, res.TxID, r.ID)
	assert.Equal(t, remote.OutcomeSuccess, r.Outcome)
	assert.NotEmpty(t, r.Attempts)
	assert.Equal(t, w.TotalCalls(), len(r.Calls))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections.WithLabelValues("fluid", remote.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Attempts.WithLabelValues("fluid", "direct", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BuffersHeld))
}
