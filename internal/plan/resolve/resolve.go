// Package resolve turns abstract connection endpoints into concrete point
// pairs, most preferred first.
package resolve

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/geom"
)

var ErrAmbiguousKind = errors.New("cannot infer connection kind from endpoints")

// Candidate is one concrete pair of points to attempt. A port is set when
// the endpoint is a multi-port device and the pair is restricted to it.
type Candidate struct {
	Source     geom.Point
	Target     geom.Point
	SourcePort *entity.Port
	TargetPort *entity.Port
}

func (c Candidate) Length() float64 { return c.Source.Distance(c.Target) }

type Resolver func(source, target entity.Waypoint) []Candidate

var resolvers = map[entity.ConnectionKind]Resolver{
	entity.KindFluid:     Fluid,
	entity.KindTransport: Transport,
	entity.KindPower:     Power,
	entity.KindWall:      Wall,
}

// Resolve dispatches to the resolver of kind. Every returned point lies on
// the half grid.
func Resolve(kind entity.ConnectionKind, source, target entity.Waypoint) ([]Candidate, error) {
	r, ok := resolvers[kind]
	if !ok {
		return nil, fmt.Errorf("no resolver for connection kind %s", kind)
	}
	if source == nil || target == nil {
		return nil, fmt.Errorf("resolve %s: nil endpoint", kind)
	}
	return r(source, target), nil
}

// Power pairs every member of an electrical network source with the target,
// so placement can attach to the nearest relay. Positions are snapped to the
// half grid.
func Power(source, target entity.Waypoint) []Candidate {
	if net, ok := source.(*entity.ElectricalNetwork); ok && len(net.Poles) > 0 {
		t := nearestAnchor(target, net.Anchor())
		out := make([]Candidate, 0, len(net.Poles))
		for _, p := range net.Poles {
			out = append(out, Candidate{Source: p.Position, Target: t})
		}
		normalize(out)
		return out
	}
	return Wall(source, target)
}

// Wall is the plain endpoint pair, snapped.
func Wall(source, target entity.Waypoint) []Candidate {
	s := nearestAnchor(source, target.Anchor())
	t := nearestAnchor(target, s)
	out := []Candidate{{Source: s, Target: t}}
	normalize(out)
	return out
}

type endpoint struct {
	pos  geom.Point
	port *entity.Port
	// dir is the flow direction of the belt that owns the endpoint, if any.
	dir *geom.Direction
	own geom.Point
}

// Fluid expands conduit networks member by member and restricts multi-port
// devices to the port nearest the other side.
func Fluid(source, target entity.Waypoint) []Candidate {
	var out []Candidate
	switch {
	case isGroup(source):
		tgt := fluidEndpoints(target, source.Anchor())
		for _, s := range fluidEndpoints(source, target.Anchor()) {
			t := closest(tgt, s.pos)
			out = append(out, Candidate{Source: s.pos, Target: t.pos, SourcePort: s.port, TargetPort: t.port})
		}
	case isGroup(target):
		src := fluidEndpoints(source, target.Anchor())
		for _, t := range fluidEndpoints(target, source.Anchor()) {
			s := closest(src, t.pos)
			out = append(out, Candidate{Source: s.pos, Target: t.pos, SourcePort: s.port, TargetPort: t.port})
		}
	default:
		s := fluidEndpoints(source, target.Anchor())[0]
		t := fluidEndpoints(target, s.pos)[0]
		if s.port == nil {
			// re-aim the source at the chosen target port
			s = fluidEndpoints(source, t.pos)[0]
		}
		out = append(out, Candidate{Source: s.pos, Target: t.pos, SourcePort: s.port, TargetPort: t.port})
	}
	normalize(out)
	return out
}

func fluidEndpoints(w entity.Waypoint, toward geom.Point) []endpoint {
	switch v := w.(type) {
	case entity.Group:
		return groupEndpoints(v, toward)
	case entity.Entity:
		if port, ok := v.NearestPort(toward); ok {
			return []endpoint{{pos: port.Position, port: &port}}
		}
		return []endpoint{{pos: v.Position}}
	default:
		return []endpoint{{pos: w.Anchor()}}
	}
}

// Transport follows belt flow: runs are extended from their outputs and fed
// through their inputs, and pairs that would run against a belt are dropped.
func Transport(source, target entity.Waypoint) []Candidate {
	srcs := beltSources(source)
	tgts := beltTargets(target)
	var out []Candidate
	for _, s := range srcs {
		for _, t := range tgts {
			if reverses(s, t.pos, 1) || reverses(t, s.pos, -1) {
				continue
			}
			out = append(out, Candidate{Source: s.pos, Target: t.pos})
		}
	}
	normalize(out)
	return out
}

func beltSources(w entity.Waypoint) []endpoint {
	switch v := w.(type) {
	case *entity.ConveyorRun:
		ends := v.Outputs
		if len(ends) == 0 {
			ends = v.Belts
		}
		out := make([]endpoint, 0, len(ends))
		for _, e := range ends {
			out = append(out, beltEnd(e, e.OutputPosition))
		}
		return out
	case entity.Entity:
		if v.OutputPosition != nil {
			return []endpoint{beltEnd(v, v.OutputPosition)}
		}
		return []endpoint{{pos: v.Position}}
	case entity.Group:
		return groupEndpoints(v, v.Anchor())
	default:
		return []endpoint{{pos: w.Anchor()}}
	}
}

func beltTargets(w entity.Waypoint) []endpoint {
	switch v := w.(type) {
	case *entity.ConveyorRun:
		ends := v.Inputs
		if len(ends) == 0 {
			ends = v.Belts
		}
		out := make([]endpoint, 0, len(ends))
		for _, e := range ends {
			out = append(out, beltEnd(e, e.InputPosition))
		}
		return out
	case entity.Entity:
		if v.IsSource && v.InputPosition != nil {
			return []endpoint{beltEnd(v, v.InputPosition)}
		}
		return []endpoint{{pos: v.Position}}
	case entity.Group:
		return groupEndpoints(v, v.Anchor())
	default:
		return []endpoint{{pos: w.Anchor()}}
	}
}

func beltEnd(e entity.Entity, p *geom.Point) endpoint {
	d := e.Direction
	ep := endpoint{pos: e.Position, dir: &d, own: e.Position}
	if p != nil {
		ep.pos = *p
	}
	return ep
}

// reverses reports whether other lies on the endpoint's belt axis on the
// wrong side. sign is 1 for run outputs (other must not be behind) and -1
// for run inputs (other must not be ahead).
func reverses(e endpoint, other geom.Point, sign float64) bool {
	if e.dir == nil {
		return false
	}
	v := other.Sub(e.own)
	d := e.dir.Vector()
	along := (v.X*d.X + v.Y*d.Y) * sign
	perp := math.Abs(v.X*d.Y - v.Y*d.X)
	return along < 0 && perp < 0.5
}

func groupEndpoints(g entity.Group, toward geom.Point) []endpoint {
	if len(g.Members()) == 0 {
		return []endpoint{{pos: g.Anchor()}}
	}
	return memberEndpoints(g.Members(), toward)
}

func memberEndpoints(ms []entity.Entity, toward geom.Point) []endpoint {
	out := make([]endpoint, 0, len(ms))
	for _, m := range ms {
		out = append(out, endpoint{pos: m.Position})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].pos.Distance(toward) < out[j].pos.Distance(toward)
	})
	return out
}

func closest(es []endpoint, p geom.Point) endpoint {
	best := es[0]
	for _, e := range es[1:] {
		if e.pos.Distance(p) < best.pos.Distance(p) {
			best = e
		}
	}
	return best
}

// nearestAnchor is the member of a group closest to p, or the waypoint's anchor.
func nearestAnchor(w entity.Waypoint, p geom.Point) geom.Point {
	g, ok := w.(entity.Group)
	if !ok || len(g.Members()) == 0 {
		return w.Anchor()
	}
	return memberEndpoints(g.Members(), p)[0].pos
}

func isGroup(w entity.Waypoint) bool {
	g, ok := w.(entity.Group)
	return ok && len(g.Members()) > 0
}

// normalize snaps every candidate and orders them shortest first.
func normalize(cs []Candidate) {
	for i := range cs {
		cs[i].Source = cs[i].Source.Snap()
		cs[i].Target = cs[i].Target.Snap()
	}
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Length() < cs[j].Length() })
}
