package construct

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/geom"
	"linkplan.ai/internal/protocol"
	"linkplan.ai/internal/remote"
	"linkplan.ai/internal/remote/remotetest"
)

var westPort = entity.Port{Position: geom.Pt(8.5, 10.5), Direction: geom.West}

func tankWorld() *remotetest.World {
	w := remotetest.NewWorld()
	w.Place(entity.Entity{
		Name: "storage-tank", Position: geom.Pt(10.5, 10.5), TileWidth: 3, TileHeight: 3,
		Ports: []entity.Port{westPort, {Position: geom.Pt(12.5, 10.5), Direction: geom.East}},
	})
	w.SetInventory("pipe", 50)
	w.SetInventory("pipe-to-ground", 4)
	return w
}

// blockPort rejects every normal path touching the port tile.
func blockPort(sub remote.PathRequest, f remote.FetchRequest) string {
	if len(f.Connectors) == 1 && f.Connectors[0] == "pipe-to-ground" {
		return ""
	}
	if f.Start.Equal(westPort.Position) || f.Finish.Equal(westPort.Position) {
		return "cannot connect: adjacent network"
	}
	return ""
}

func bridgeRequest(stock int) BridgeRequest {
	p := westPort
	return BridgeRequest{
		Source:     geom.Pt(0.5, 10.5),
		Target:     westPort.Position,
		TargetPort: &p,
		Connectors: []string{"pipe"},
		Stock:      stock,
	}
}

func TestBridgeAroundBlockedPort(t *testing.T) {
	w := tankWorld()
	w.Reject = blockPort
	tx := remote.Begin(w, "test", nil)
	e := newEngine()

	direct, err := e.Build(context.Background(), tx, request(entity.KindFluid, geom.Pt(0.5, 10.5), westPort.Position, "pipe"))
	require.NoError(t, err)
	require.False(t, direct.Success)

	res, err := e.Bridge(context.Background(), tx, bridgeRequest(4))
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	ug := w.Entities("pipe-to-ground")
	require.Len(t, ug, 2)
	assert.Equal(t, geom.Pt(5.5, 10.5), ug[0].Position, "shortest extension first")
	assert.Equal(t, westPort.Position, ug[1].Position)
	assert.Len(t, res.Entities, 2+5)

	ids := map[int]bool{}
	for _, p := range append(w.Entities("pipe"), ug...) {
		ids[p.NetworkID] = true
	}
	assert.Len(t, ids, 1, "extension and middle path form one network")
}

func TestBridgeNeverExceedsSpanAndCleansUp(t *testing.T) {
	w := tankWorld()
	var lengths []float64
	w.Reject = func(sub remote.PathRequest, f remote.FetchRequest) string {
		if len(f.Connectors) == 1 && f.Connectors[0] == "pipe-to-ground" {
			lengths = append(lengths, f.Start.Manhattan(f.Finish))
			return ""
		}
		return "middle path blocked"
	}
	tx := remote.Begin(w, "test", nil)
	e := newEngine()

	res, err := e.Bridge(context.Background(), tx, bridgeRequest(4))
	require.NoError(t, err)
	assert.False(t, res.Success)

	ug, _ := entity.MustDefaultCatalog().Underground(entity.KindFluid)
	lo, hi := e.BridgeLimits(ug)
	require.Equal(t, hi-lo+1, len(lengths))
	for i, l := range lengths {
		assert.Equal(t, float64(lo+i), l)
		assert.LessOrEqual(t, l, float64(ug.MaxSpan-DefaultConfig().BridgeMargin))
	}

	assert.Empty(t, w.Entities("pipe-to-ground"), "no orphaned extensions")
	assert.Equal(t, 4, w.Inventory("pipe-to-ground"))
	assert.Equal(t, w.Calls(protocol.OpInstallBuffer), w.Calls(protocol.OpClearBuffer))
}

func TestBridgeNeedsStockAndNoDryRun(t *testing.T) {
	w := tankWorld()
	e := newEngine()

	res, err := e.Bridge(context.Background(), remote.Begin(w, "test", nil), bridgeRequest(1))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Zero(t, w.TotalCalls())

	req := bridgeRequest(4)
	req.DryRun = true
	res, err = e.Bridge(context.Background(), remote.Begin(w, "test", nil), req)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Zero(t, w.TotalCalls())

	req = bridgeRequest(4)
	req.TargetPort = nil
	assert.False(t, e.CanBridge(req))
}

func TestBridgeSkipsObstructedAnchor(t *testing.T) {
	w := tankWorld()
	w.Reject = blockPort
	w.Block(geom.Pt(5.5, 10.5))
	w.Place(entity.Entity{Name: "stone-wall", Position: geom.Pt(5.5, 10.5)})

	res, err := newEngine().Bridge(context.Background(), remote.Begin(w, "test", nil), bridgeRequest(4))
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	ug := w.Entities("pipe-to-ground")
	require.Len(t, ug, 2)
	assert.Equal(t, geom.Pt(4.5, 10.5), ug[0].Position)
}

func TestBridgeSidesPickLengthsIndependently(t *testing.T) {
	w := tankWorld()
	eastPort := entity.Port{Position: geom.Pt(0.5, 10.5), Direction: geom.East}
	farPort := entity.Port{Position: geom.Pt(12.5, 10.5), Direction: geom.West}
	w.Place(entity.Entity{
		Name: "storage-tank", Position: geom.Pt(-1.5, 10.5), TileWidth: 3, TileHeight: 3,
		Ports: []entity.Port{eastPort, {Position: geom.Pt(-1.5, 8.5), Direction: geom.North}},
	})
	w.Place(entity.Entity{
		Name: "storage-tank", Position: geom.Pt(14.5, 10.5), TileWidth: 3, TileHeight: 3,
		Ports: []entity.Port{farPort, {Position: geom.Pt(14.5, 8.5), Direction: geom.North}},
	})
	// The target side's shortest anchor is taken; the source side's is not.
	w.Block(geom.Pt(9.5, 10.5))
	w.Place(entity.Entity{Name: "stone-wall", Position: geom.Pt(9.5, 10.5)})

	res, err := newEngine().Bridge(context.Background(), remote.Begin(w, "test", nil), BridgeRequest{
		Source:           eastPort.Position,
		Target:           farPort.Position,
		SourcePort:       &eastPort,
		TargetPort:       &farPort,
		Connectors:       []string{"pipe"},
		SurfaceAvailable: 50,
		Stock:            4,
	})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 50, res.Available)

	var got []geom.Point
	for _, e := range w.Entities("pipe-to-ground") {
		got = append(got, e.Position)
	}
	geom.SortPoints(got)
	assert.Equal(t, []geom.Point{
		geom.Pt(0.5, 10.5), geom.Pt(3.5, 10.5),
		geom.Pt(8.5, 10.5), geom.Pt(12.5, 10.5),
	}, got)
}

func TestBridgeMiddleCarriesSurfaceStock(t *testing.T) {
	w := tankWorld()
	var middle []int
	w.Reject = func(sub remote.PathRequest, f remote.FetchRequest) string {
		if len(f.Connectors) == 1 && f.Connectors[0] == "pipe" {
			middle = append(middle, f.Available)
		}
		return ""
	}
	req := bridgeRequest(4)
	req.SurfaceAvailable = 50

	res, err := newEngine().Bridge(context.Background(), remote.Begin(w, "test", nil), req)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	require.NotEmpty(t, middle)
	for _, n := range middle {
		assert.Equal(t, 50, n)
	}
	assert.Equal(t, 50, res.Available)
}
