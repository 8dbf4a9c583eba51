package groups

import (
	"math"
	"sort"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/geom"
)

// belts is the arena a conveyor reconstruction works over. Entities are
// addressed by index; succ and preds are the flow edges between them.
type belts struct {
	es    []entity.Entity
	at    map[geom.Key]int
	pair  map[int]int // entrance -> exit
	succ  []int
	preds [][]int
}

func (g *Engine) conveyorRuns(raw []entity.Entity) []*entity.ConveyorRun {
	b := g.index(raw)
	if len(b.es) == 0 {
		return nil
	}
	chains := b.walk()
	var out []*entity.ConveyorRun
	for _, comp := range b.merge(chains) {
		out = append(out, b.consolidate(comp))
	}
	return out
}

func (g *Engine) index(raw []entity.Entity) *belts {
	es := entity.Dedupe(raw)
	b := &belts{
		es:    es,
		at:    make(map[geom.Key]int, len(es)),
		succ:  make([]int, len(es)),
		preds: make([][]int, len(es)),
	}
	for i, e := range es {
		b.at[e.Position.Key()] = i
	}
	b.pair = g.pairUnderground(es)
	for i, e := range es {
		b.succ[i] = -1
		if x, ok := b.pair[i]; ok {
			b.succ[i] = x
		} else if e.OutputPosition != nil && !e.IsUndergroundEntrance() {
			if j, ok := b.at[e.OutputPosition.Key()]; ok && j != i {
				b.succ[i] = j
			}
		}
		if b.succ[i] >= 0 {
			b.preds[b.succ[i]] = append(b.preds[b.succ[i]], i)
		}
	}
	return b
}

type pairing struct {
	entrance, exit int
	dist           float64
}

// pairUnderground matches entrances to exits one to one, nearest pairs
// first. An exit must face the same way, lie ahead of the entrance on its
// axis and be within the connector's span. Equal distances go to the lowest
// entrance position, then the lowest exit position.
func (g *Engine) pairUnderground(es []entity.Entity) map[int]int {
	var entrances, exits []int
	for i, e := range es {
		switch {
		case e.IsUndergroundEntrance():
			entrances = append(entrances, i)
		case e.IsUndergroundExit():
			exits = append(exits, i)
		}
	}
	var cands []pairing
	for _, in := range entrances {
		span := float64(g.span(es[in]))
		for _, out := range exits {
			if es[in].Direction != es[out].Direction {
				continue
			}
			v := es[out].Position.Sub(es[in].Position)
			d := es[in].Direction.Vector()
			along := v.X*d.X + v.Y*d.Y
			perp := math.Abs(v.X*d.Y - v.Y*d.X)
			if along <= 0 || perp > 1e-6 || along > span+1e-6 {
				continue
			}
			cands = append(cands, pairing{entrance: in, exit: out, dist: along})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		if pa, pb := es[a.entrance].Position, es[b.entrance].Position; !pa.Equal(pb) {
			return geom.Less(pa, pb)
		}
		return geom.Less(es[a.exit].Position, es[b.exit].Position)
	})
	pairs := map[int]int{}
	taken := map[int]bool{}
	for _, c := range cands {
		if _, ok := pairs[c.entrance]; ok || taken[c.exit] {
			continue
		}
		pairs[c.entrance] = c.exit
		taken[c.exit] = true
	}
	return pairs
}

func (g *Engine) span(e entity.Entity) int {
	if d, ok := g.catalog.Lookup(e.Name); ok && d.MaxSpan > 0 {
		return d.MaxSpan
	}
	return g.catalog.MaxSpan(entity.KindTransport)
}

// walk builds chains forward from sources and backward from termini. A
// position is walked at most once. Without any flags it starts from
// underground entrances, then from any belt left over.
func (b *belts) walk() [][]int {
	visited := make([]bool, len(b.es))
	var chains [][]int

	forward := func(start int) {
		var chain []int
		cur := start
		for cur >= 0 && !visited[cur] {
			visited[cur] = true
			chain = append(chain, cur)
			if b.succ[cur] < 0 {
				b.es[cur].IsTerminus = true
			}
			cur = b.succ[cur]
		}
		if len(chain) > 0 {
			chains = append(chains, chain)
		}
	}
	backward := func(start int) {
		var chain []int
		cur := start
		for cur >= 0 && !visited[cur] {
			visited[cur] = true
			chain = append(chain, cur)
			next := -1
			for _, p := range b.preds[cur] {
				if !visited[p] {
					next = p
					break
				}
			}
			if len(b.preds[cur]) == 0 {
				b.es[cur].IsSource = true
			}
			cur = next
		}
		if len(chain) > 0 {
			for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
				chain[i], chain[j] = chain[j], chain[i]
			}
			chains = append(chains, chain)
		}
	}

	flagged := false
	for i, e := range b.es {
		if e.IsSource {
			flagged = true
			forward(i)
		}
	}
	for i, e := range b.es {
		if e.IsTerminus {
			flagged = true
			backward(i)
		}
	}
	if !flagged {
		for i, e := range b.es {
			if e.IsUndergroundEntrance() {
				forward(i)
			}
		}
	}
	for i := range b.es {
		forward(i)
	}
	return chains
}

// merge joins chains linked by a flow edge into connected components.
func (b *belts) merge(chains [][]int) [][]int {
	owner := make([]int, len(b.es))
	for c, chain := range chains {
		for _, i := range chain {
			owner[i] = c
		}
	}
	parent := make([]int, len(chains))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i, s := range b.succ {
		if s < 0 {
			continue
		}
		ra, rb := find(owner[i]), find(owner[s])
		if ra == rb {
			continue
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}
	var comps [][]int
	slot := map[int]int{}
	for c, chain := range chains {
		r := find(c)
		k, ok := slot[r]
		if !ok {
			k = len(comps)
			slot[r] = k
			comps = append(comps, nil)
		}
		comps[k] = append(comps[k], chain...)
	}
	return comps
}

// consolidate folds each matched underground pair of a component into one
// segment entity and derives the run's ends from what remains.
func (b *belts) consolidate(comp []int) *entity.ConveyorRun {
	exitOf := map[int]bool{}
	for _, i := range comp {
		if x, ok := b.pair[i]; ok {
			exitOf[x] = true
		}
	}
	var members []entity.Entity
	for _, i := range comp {
		if exitOf[i] {
			continue
		}
		e := b.es[i].Clone()
		if x, ok := b.pair[i]; ok {
			exit := b.es[x]
			e.Segment = &entity.UndergroundSegment{Entry: e.Position, Exit: exit.Position}
			e.OutputPosition = nil
			if exit.OutputPosition != nil {
				p := *exit.OutputPosition
				e.OutputPosition = &p
			}
			e.IsTerminus = exit.IsTerminus
		}
		members = append(members, e)
	}
	members = entity.Dedupe(members)

	covered := map[geom.Key]bool{}
	for _, m := range members {
		covered[m.Position.Key()] = true
		if m.Segment != nil {
			covered[m.Segment.Exit.Key()] = true
		}
	}
	fed := map[geom.Key]bool{}
	for _, m := range members {
		if m.OutputPosition != nil && covered[m.OutputPosition.Key()] {
			fed[m.OutputPosition.Key()] = true
		}
	}
	var inputs, outputs []entity.Entity
	for i := range members {
		m := &members[i]
		m.IsSource = !fed[m.Position.Key()]
		m.IsTerminus = m.OutputPosition == nil || !covered[m.OutputPosition.Key()]
		if m.IsSource {
			inputs = append(inputs, *m)
		}
		if m.IsTerminus {
			outputs = append(outputs, *m)
		}
	}
	return entity.NewConveyorRun(members, inputs, outputs)
}
