// Package groups rebuilds logical networks from the flat entity lists the
// authority reports.
package groups

import (
	"context"
	"fmt"
	"math"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/geom"
	"linkplan.ai/internal/remote"
)

// Engine builds groups for one connector catalog.
type Engine struct {
	catalog *entity.Catalog
}

func New(cat *entity.Catalog) *Engine {
	return &Engine{catalog: cat}
}

// Build groups raw entities of kind. Groups containing anchor come first,
// then groups touching the source or target, then the rest in discovery
// order.
func (g *Engine) Build(kind entity.ConnectionKind, raw []entity.Entity, source, target entity.Waypoint, anchor geom.Point) []entity.Group {
	var out []entity.Group
	switch kind {
	case entity.KindFluid:
		for _, id := range byNetwork(raw) {
			out = append(out, &entity.ConduitNetwork{ID: id.id, Pipes: id.members})
		}
	case entity.KindPower:
		for _, id := range byNetwork(raw) {
			out = append(out, &entity.ElectricalNetwork{ID: id.id, Poles: id.members})
		}
	case entity.KindTransport:
		for _, r := range g.conveyorRuns(raw) {
			out = append(out, r)
		}
	case entity.KindWall:
		for _, w := range wallRuns(raw) {
			out = append(out, w)
		}
	}
	rank := func(gr entity.Group) int {
		switch {
		case gr.Contains(anchor):
			return 0
		case touches(gr, source) || touches(gr, target):
			return 1
		}
		return 2
	}
	sorted := make([]entity.Group, 0, len(out))
	for r := 0; r <= 2; r++ {
		for _, gr := range out {
			if rank(gr) == r {
				sorted = append(sorted, gr)
			}
		}
	}
	return sorted
}

func touches(g entity.Group, w entity.Waypoint) bool {
	if w == nil {
		return false
	}
	if e, ok := w.(entity.Entity); ok {
		return g.Contains(e.Position)
	}
	if other, ok := w.(entity.Group); ok {
		for _, m := range other.Members() {
			if g.Contains(m.Position) {
				return true
			}
		}
		return false
	}
	return g.Contains(w.Anchor())
}

type network struct {
	id      int
	members []entity.Entity
}

// byNetwork groups by the authority's network id in first-seen order.
// Entities without an id stand alone.
func byNetwork(raw []entity.Entity) []network {
	var out []network
	index := map[int]int{}
	for _, e := range raw {
		if e.NetworkID == 0 {
			out = append(out, network{members: []entity.Entity{e}})
			continue
		}
		i, ok := index[e.NetworkID]
		if !ok {
			i = len(out)
			index[e.NetworkID] = i
			out = append(out, network{id: e.NetworkID})
		}
		out[i].members = append(out[i].members, e)
	}
	for i := range out {
		out[i].members = entity.Dedupe(out[i].members)
	}
	return out
}

var wallSteps = []geom.Direction{geom.North, geom.East, geom.South, geom.West}

// wallRuns splits walls into 4-connected components.
func wallRuns(raw []entity.Entity) []*entity.WallRun {
	walls := entity.Dedupe(raw)
	at := make(map[geom.Key]int, len(walls))
	for i, w := range walls {
		at[w.Position.Key()] = i
	}
	seen := make([]bool, len(walls))
	var out []*entity.WallRun
	for i := range walls {
		if seen[i] {
			continue
		}
		seen[i] = true
		run := &entity.WallRun{}
		stack := []int{i}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			run.Walls = append(run.Walls, walls[cur])
			for _, d := range wallSteps {
				j, ok := at[d.Step(walls[cur].Position, 1).Key()]
				if ok && !seen[j] {
					seen[j] = true
					stack = append(stack, j)
				}
			}
		}
		out = append(out, run)
	}
	return out
}

// maxWiden bounds how often Regroup grows its query area.
const maxWiden = 32

// Regroup re-queries area for every connector of kind and rebuilds its
// groups. While the group containing anchor keeps gaining members, the area
// is grown around that group and queried again, so a network reaching past
// area is returned whole. The first return is the group containing anchor,
// or nil when no group does.
func (g *Engine) Regroup(ctx context.Context, a remote.Authority, kind entity.ConnectionKind, area geom.Area, anchor geom.Point, source, target entity.Waypoint) (entity.Group, []entity.Group, error) {
	pad := g.widenPad(kind)
	seen := 0
	for i := 0; ; i++ {
		found, all, err := g.regroupOnce(ctx, a, kind, area, anchor, source, target)
		if err != nil || found == nil {
			return found, all, err
		}
		members := found.Members()
		if len(members) <= seen || i == maxWiden {
			return found, all, nil
		}
		seen = len(members)
		ps := make([]geom.Point, 0, len(members)+2)
		ps = append(ps, area.Min, area.Max)
		for _, m := range members {
			ps = append(ps, m.Position)
			if m.Segment != nil {
				ps = append(ps, m.Segment.Exit)
			}
		}
		area = geom.Bounds(pad, ps...)
	}
}

func (g *Engine) regroupOnce(ctx context.Context, a remote.Authority, kind entity.ConnectionKind, area geom.Area, anchor geom.Point, source, target entity.Waypoint) (entity.Group, []entity.Group, error) {
	names := g.catalog.Names(kind)
	raws, err := a.QueryEntitiesByKind(ctx, names, area.Center(), area.Radius())
	if err != nil {
		return nil, nil, fmt.Errorf("regroup %s: %w", kind, err)
	}
	es, err := remote.DecodeEntities(raws)
	if err != nil {
		return nil, nil, fmt.Errorf("regroup %s: %w", kind, err)
	}
	all := g.Build(kind, es, source, target, anchor)
	for _, gr := range all {
		if gr.Contains(anchor) {
			return gr, all, nil
		}
	}
	return nil, all, nil
}

// widenPad is the farthest a member of kind can sit from its nearest
// neighbour in the same group: a tile, an underground span or a wire reach.
func (g *Engine) widenPad(kind entity.ConnectionKind) float64 {
	pad := math.Max(1, float64(g.catalog.MaxSpan(kind)))
	for _, n := range g.catalog.Names(kind) {
		if c, ok := g.catalog.Lookup(n); ok {
			pad = math.Max(pad, c.Reach)
		}
	}
	return pad
}
