package groups

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/geom"
	"linkplan.ai/internal/remote/remotetest"
)

func belt(x, y float64, d geom.Direction) entity.Entity {
	p := geom.Pt(x, y)
	return entity.Entity{
		Name: "transport-belt", Position: p, Direction: d,
		InputPosition: entity.PointPtr(d.Step(p, -1)), OutputPosition: entity.PointPtr(d.Step(p, 1)),
	}
}

func underground(x, y float64, d geom.Direction, typ string) entity.Entity {
	e := belt(x, y, d)
	e.Name = "underground-belt"
	e.UndergroundType = typ
	return e
}

func TestUndergroundPairingIsOneToOneNearest(t *testing.T) {
	g := New(entity.MustDefaultCatalog())
	es := []entity.Entity{
		underground(0.5, 0.5, geom.East, entity.UndergroundInput),  // E1
		underground(-0.5, 0.5, geom.East, entity.UndergroundInput), // E2
		underground(3.5, 0.5, geom.East, entity.UndergroundOutput), // X1
		underground(4.5, 0.5, geom.East, entity.UndergroundOutput), // X2
	}
	pairs := g.pairUnderground(es)
	assert.Equal(t, 2, pairs[0], "E1 takes its nearest exit")
	assert.Equal(t, 3, pairs[1], "E2 does not also take X1")
	assert.Len(t, pairs, 2)
}

func TestUndergroundPairingIsDeterministic(t *testing.T) {
	g := New(entity.MustDefaultCatalog())
	es := []entity.Entity{
		underground(5.5, 0.5, geom.South, entity.UndergroundInput),
		underground(5.5, 3.5, geom.South, entity.UndergroundOutput),
		underground(0.5, 0.5, geom.South, entity.UndergroundInput),
		underground(0.5, 3.5, geom.South, entity.UndergroundOutput),
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, map[int]int{0: 1, 2: 3}, g.pairUnderground(es))
	}
}

func TestUndergroundPairingRespectsSpanAndFacing(t *testing.T) {
	g := New(entity.MustDefaultCatalog())
	es := []entity.Entity{
		underground(0.5, 0.5, geom.East, entity.UndergroundInput),
		underground(9.5, 0.5, geom.East, entity.UndergroundOutput), // beyond span 5
		underground(2.5, 0.5, geom.West, entity.UndergroundOutput), // wrong facing
		underground(-2.5, 0.5, geom.East, entity.UndergroundOutput), // behind
	}
	assert.Empty(t, g.pairUnderground(es))
}

func TestConveyorRunConsolidatesUnderground(t *testing.T) {
	g := New(entity.MustDefaultCatalog())
	raw := []entity.Entity{
		belt(0.5, 0.5, geom.East),
		belt(1.5, 0.5, geom.East),
		underground(2.5, 0.5, geom.East, entity.UndergroundInput),
		underground(5.5, 0.5, geom.East, entity.UndergroundOutput),
		belt(6.5, 0.5, geom.East),
	}
	runs := g.conveyorRuns(raw)
	require.Len(t, runs, 1)
	run := runs[0]
	require.Len(t, run.Belts, 4)

	require.Len(t, run.Inputs, 1)
	assert.Equal(t, geom.Pt(0.5, 0.5), run.Inputs[0].Position)
	require.Len(t, run.Outputs, 1)
	assert.Equal(t, geom.Pt(6.5, 0.5), run.Outputs[0].Position)

	var seg *entity.Entity
	for i := range run.Belts {
		if run.Belts[i].Segment != nil {
			seg = &run.Belts[i]
		}
	}
	require.NotNil(t, seg)
	assert.Equal(t, "underground-belt", seg.Name)
	assert.Equal(t, geom.Pt(2.5, 0.5), seg.Segment.Entry)
	assert.Equal(t, geom.Pt(5.5, 0.5), seg.Segment.Exit)
	assert.Equal(t, geom.Pt(6.5, 0.5), *seg.OutputPosition)
	assert.True(t, run.Contains(geom.Pt(5.5, 0.5)))
}

func TestConveyorSeparateRunsStaySeparate(t *testing.T) {
	g := New(entity.MustDefaultCatalog())
	raw := []entity.Entity{
		belt(0.5, 0.5, geom.East), belt(1.5, 0.5, geom.East),
		belt(0.5, 5.5, geom.West), belt(-0.5, 5.5, geom.West),
	}
	runs := g.conveyorRuns(raw)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Len(t, r.Belts, 2)
		assert.Len(t, r.Inputs, 1)
		assert.Len(t, r.Outputs, 1)
	}
}

func TestConveyorMergesSideload(t *testing.T) {
	g := New(entity.MustDefaultCatalog())
	raw := []entity.Entity{
		belt(0.5, 0.5, geom.East), belt(1.5, 0.5, geom.East), belt(2.5, 0.5, geom.East),
		// feeds into the middle of the first run from the north
		belt(1.5, -1.5, geom.South), belt(1.5, -0.5, geom.South),
	}
	raw[0].IsSource = true
	raw[3].IsSource = true
	runs := g.conveyorRuns(raw)
	require.Len(t, runs, 1)
	assert.Len(t, runs[0].Belts, 5)
	assert.Len(t, runs[0].Inputs, 2)
	assert.Len(t, runs[0].Outputs, 1)
}

func TestConveyorLoopWithoutFlags(t *testing.T) {
	g := New(entity.MustDefaultCatalog())
	raw := []entity.Entity{
		belt(0.5, 0.5, geom.East), belt(1.5, 0.5, geom.South),
		belt(1.5, 1.5, geom.West), belt(0.5, 1.5, geom.North),
	}
	runs := g.conveyorRuns(raw)
	require.Len(t, runs, 1)
	assert.Len(t, runs[0].Belts, 4)
	assert.Empty(t, runs[0].Inputs)
	assert.Empty(t, runs[0].Outputs)
}

func TestNetworksGroupByIDAndDedupe(t *testing.T) {
	g := New(entity.MustDefaultCatalog())
	raw := []entity.Entity{
		{Name: "pipe", Position: geom.Pt(0.5, 0.5), NetworkID: 7},
		{Name: "pipe", Position: geom.Pt(9.5, 0.5), NetworkID: 8},
		{Name: "pipe", Position: geom.Pt(1.5, 0.5), NetworkID: 7},
		{Name: "pipe", Position: geom.Pt(0.5, 0.5), NetworkID: 7, Contents: 50},
	}
	out := g.Build(entity.KindFluid, raw, nil, nil, geom.Pt(9.5, 0.5))
	require.Len(t, out, 2)

	first := out[0].(*entity.ConduitNetwork)
	assert.Equal(t, 8, first.ID, "group holding the anchor first")

	net := out[1].(*entity.ConduitNetwork)
	assert.Equal(t, 7, net.ID)
	require.Len(t, net.Pipes, 2)
	assert.Equal(t, 50.0, net.Pipes[1].Contents, "later record wins")
	assert.Equal(t, entity.StatusFull, net.Status())
}

func TestWallRunsAreComponents(t *testing.T) {
	g := New(entity.MustDefaultCatalog())
	var raw []entity.Entity
	for _, x := range []float64{0.5, 1.5, 2.5, 6.5} {
		raw = append(raw, entity.Entity{Name: "stone-wall", Position: geom.Pt(x, 0.5)})
	}
	out := g.Build(entity.KindWall, raw, nil, nil, geom.Pt(100, 100))
	require.Len(t, out, 2)
	assert.Len(t, out[0].Members(), 3)
	assert.Len(t, out[1].Members(), 1)
}

func TestRegroupReturnsAnchorGroup(t *testing.T) {
	w := remotetest.NewWorld()
	for x := 0.5; x < 4; x++ {
		w.Place(entity.Entity{Name: "pipe", Position: geom.Pt(x, 0.5)})
	}
	w.Place(entity.Entity{Name: "pipe", Position: geom.Pt(0.5, 6.5)})

	g := New(entity.MustDefaultCatalog())
	area := geom.Bounds(2, geom.Pt(0.5, 0.5), geom.Pt(3.5, 6.5))
	got, all, err := g.Regroup(context.Background(), w, entity.KindFluid, area, geom.Pt(2.5, 0.5), nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.NotNil(t, got)
	assert.Len(t, got.Members(), 4)

	got, _, err = g.Regroup(context.Background(), w, entity.KindFluid, area, geom.Pt(20.5, 20.5), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRegroupFollowsNetworkPastArea(t *testing.T) {
	w := remotetest.NewWorld()
	for x := 0.5; x < 40; x++ {
		w.Place(entity.Entity{Name: "pipe", Position: geom.Pt(x, 0.5)})
	}

	g := New(entity.MustDefaultCatalog())
	area := geom.Bounds(1, geom.Pt(38.5, 0.5), geom.Pt(39.5, 0.5))
	got, _, err := g.Regroup(context.Background(), w, entity.KindFluid, area, geom.Pt(39.5, 0.5), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Members(), 40)
}

func TestRegroupFollowsPolesBeyondPad(t *testing.T) {
	w := remotetest.NewWorld()
	for x := 0.5; x < 60; x += 7 {
		w.Place(entity.Entity{Name: "small-electric-pole", Position: geom.Pt(x, 0.5)})
	}

	g := New(entity.MustDefaultCatalog())
	area := geom.Bounds(1, geom.Pt(56.5, 0.5))
	got, _, err := g.Regroup(context.Background(), w, entity.KindPower, area, geom.Pt(56.5, 0.5), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Members(), 9)
}
