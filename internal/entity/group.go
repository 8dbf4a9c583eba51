package entity

import (
	"fmt"
	"sort"
	"strings"

	"linkplan.ai/internal/geom"
)

const (
	StatusWorking   = "working"
	StatusFull      = "full"
	StatusEmpty     = "empty"
	StatusConnected = "connected"
	StatusIsolated  = "isolated"
	StatusBuilt     = "built"
)

// BeltCapacity is the item count at which a single belt tile counts as full.
const BeltCapacity = 8

// Waypoint is an endpoint of a connection: a geom.Point, an Entity or a Group.
type Waypoint interface {
	Anchor() geom.Point
	Describe() string
}

// Group is a logical network of entities sharing one physical connection.
type Group interface {
	Anchor() geom.Point
	Describe() string
	Kind() ConnectionKind
	Members() []Entity
	Status() string
	Contains(p geom.Point) bool
}

// ConveyorRun is a connected set of belts with explicit ends.
type ConveyorRun struct {
	Belts     []Entity
	Inputs    []Entity
	Outputs   []Entity
	Inventory map[string]int
	status    string
}

func NewConveyorRun(belts, inputs, outputs []Entity) *ConveyorRun {
	r := &ConveyorRun{
		Belts:     Dedupe(belts),
		Inputs:    inputs,
		Outputs:   outputs,
		Inventory: map[string]int{},
	}
	full := len(r.Belts) > 0
	total := 0
	for _, b := range r.Belts {
		n := 0
		for item, c := range b.Inventory {
			r.Inventory[item] += c
			n += c
		}
		total += n
		if n < BeltCapacity && b.Status != StatusFull {
			full = false
		}
	}
	switch {
	case total == 0:
		r.status = StatusEmpty
	case full:
		r.status = StatusFull
	default:
		r.status = StatusWorking
	}
	return r
}

func (r *ConveyorRun) Kind() ConnectionKind { return KindTransport }
func (r *ConveyorRun) Members() []Entity    { return r.Belts }
func (r *ConveyorRun) Status() string       { return r.status }

func (r *ConveyorRun) Anchor() geom.Point {
	if len(r.Inputs) > 0 {
		return r.Inputs[0].Position
	}
	return firstPosition(r.Belts)
}

func (r *ConveyorRun) Contains(p geom.Point) bool { return containsPoint(r.Belts, p) }

func (r *ConveyorRun) Describe() string {
	return fmt.Sprintf("ConveyorRun(%d belts, inputs=%s, outputs=%s, status=%s)",
		len(r.Belts), positions(r.Inputs), positions(r.Outputs), r.status)
}

// ConduitNetwork is every conduit sharing one fluid network id.
type ConduitNetwork struct {
	ID    int
	Pipes []Entity
}

func (n *ConduitNetwork) Kind() ConnectionKind       { return KindFluid }
func (n *ConduitNetwork) Members() []Entity          { return n.Pipes }
func (n *ConduitNetwork) Anchor() geom.Point         { return firstPosition(n.Pipes) }
func (n *ConduitNetwork) Contains(p geom.Point) bool { return containsPoint(n.Pipes, p) }

func (n *ConduitNetwork) Status() string {
	contents := 0.0
	for _, p := range n.Pipes {
		if p.Flow > 0 {
			return StatusWorking
		}
		contents += p.Contents
	}
	if contents > 0 {
		return StatusFull
	}
	return StatusEmpty
}

func (n *ConduitNetwork) Describe() string {
	return fmt.Sprintf("ConduitNetwork(id=%d, %d pipes, status=%s)", n.ID, len(n.Pipes), n.Status())
}

// ElectricalNetwork is every relay sharing one electrical network id.
type ElectricalNetwork struct {
	ID    int
	Poles []Entity
}

func (n *ElectricalNetwork) Kind() ConnectionKind       { return KindPower }
func (n *ElectricalNetwork) Members() []Entity          { return n.Poles }
func (n *ElectricalNetwork) Anchor() geom.Point         { return firstPosition(n.Poles) }
func (n *ElectricalNetwork) Contains(p geom.Point) bool { return containsPoint(n.Poles, p) }

func (n *ElectricalNetwork) Status() string {
	if len(n.Poles) < 2 {
		return StatusIsolated
	}
	for _, p := range n.Poles {
		if p.NetworkID != n.ID {
			return StatusIsolated
		}
	}
	return StatusConnected
}

func (n *ElectricalNetwork) Describe() string {
	return fmt.Sprintf("ElectricalNetwork(id=%d, %d poles, status=%s)", n.ID, len(n.Poles), n.Status())
}

// WallRun is a connected set of barriers.
type WallRun struct {
	Walls []Entity
}

func (w *WallRun) Kind() ConnectionKind       { return KindWall }
func (w *WallRun) Members() []Entity          { return w.Walls }
func (w *WallRun) Status() string             { return StatusBuilt }
func (w *WallRun) Anchor() geom.Point         { return firstPosition(w.Walls) }
func (w *WallRun) Contains(p geom.Point) bool { return containsPoint(w.Walls, p) }

func (w *WallRun) Describe() string {
	return fmt.Sprintf("WallRun(%d walls)", len(w.Walls))
}

// NearestWithin returns the entity whose position is within tol of p or
// whose footprint holds p, preferring the closest.
func NearestWithin(es []Entity, p geom.Point, tol float64) (Entity, bool) {
	var (
		best  Entity
		bestD = -1.0
	)
	for _, m := range es {
		if !m.Position.Near(p, tol) && !m.Contains(p) {
			continue
		}
		if d := m.Position.Distance(p); bestD < 0 || d < bestD {
			best, bestD = m, d
		}
	}
	return best, bestD >= 0
}

func containsPoint(es []Entity, p geom.Point) bool {
	for _, e := range es {
		if e.Contains(p) {
			return true
		}
		if e.Segment != nil && (e.Segment.Entry.Equal(p) || e.Segment.Exit.Equal(p)) {
			return true
		}
	}
	return false
}

func firstPosition(es []Entity) geom.Point {
	if len(es) == 0 {
		return geom.Point{}
	}
	return es[0].Position
}

func positions(es []Entity) string {
	ps := make([]geom.Point, 0, len(es))
	for _, e := range es {
		ps = append(ps, e.Position)
	}
	sort.SliceStable(ps, func(i, j int) bool { return geom.Less(ps[i], ps[j]) })
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		parts = append(parts, p.String())
	}
	return "[" + strings.Join(parts, " ") + "]"
}
