// Package remotetest provides an in-memory authority on a unit tile grid.
// It places connectors along shortest grid paths and reports network ids,
// belt ends and underground pairs the way a real authority would.
package remotetest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/geom"
	"linkplan.ai/internal/protocol"
	"linkplan.ai/internal/remote"
)

type placed struct {
	serial int
	e      entity.Entity
}

// World is a deterministic stand-in for the remote authority.
type World struct {
	mu sync.Mutex

	catalog   *entity.Catalog
	ents      []*placed
	obstacles map[geom.Key]bool
	inventory map[string]int
	handles   map[remote.Handle]remote.PathRequest

	nextHandle remote.Handle
	serial     int

	// PoleSpacing is the tile distance between relays placed along a path.
	PoleSpacing int
	// Reject, when set, fails a fetch with the returned text if it is non-empty.
	Reject func(sub remote.PathRequest, f remote.FetchRequest) string

	calls         map[string]int
	activeBuffers int
	maxBuffers    int
}

func NewWorld() *World {
	return &World{
		catalog:     entity.MustDefaultCatalog(),
		obstacles:   map[geom.Key]bool{},
		inventory:   map[string]int{},
		handles:     map[remote.Handle]remote.PathRequest{},
		PoleSpacing: 5,
		calls:       map[string]int{},
	}
}

// Tile returns the center of the tile holding p.
func Tile(p geom.Point) geom.Point {
	return geom.Pt(math.Floor(p.X)+0.5, math.Floor(p.Y)+0.5)
}

func (w *World) SetInventory(name string, n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inventory[name] = n
}

func (w *World) Inventory(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inventory[name]
}

// Block marks the tile at p as impassable.
func (w *World) Block(p geom.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.obstacles[Tile(p).Key()] = true
}

// Place adds a pre-existing entity without consuming inventory.
func (w *World) Place(e entity.Entity) entity.Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.add(e)
	w.refresh()
	return p.e.Clone()
}

// Entities returns every entity named name, or all entities when name is empty.
func (w *World) Entities(name string) []entity.Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []entity.Entity
	for _, p := range w.ents {
		if name == "" || p.e.Name == name {
			out = append(out, p.e.Clone())
		}
	}
	return out
}

// Calls reports how many times op was invoked.
func (w *World) Calls(op string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[op]
}

func (w *World) TotalCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, c := range w.calls {
		n += c
	}
	return n
}

// ActiveBuffers is the number of collision buffers currently installed.
func (w *World) ActiveBuffers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeBuffers
}

// MaxConcurrentBuffers is the highest ActiveBuffers ever observed.
func (w *World) MaxConcurrentBuffers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxBuffers
}

func (w *World) add(e entity.Entity) *placed {
	w.serial++
	e = e.Clone()
	if e.Name != "" && !e.Position.IsSnapped() {
		e.Position = e.Position.Snap()
	}
	p := &placed{serial: w.serial, e: e}
	w.ents = append(w.ents, p)
	return p
}

func (w *World) at(tile geom.Point) *placed {
	for _, p := range w.ents {
		if p.e.Contains(tile) {
			return p
		}
	}
	return nil
}

func (w *World) kindOf(p *placed) (entity.ConnectionKind, bool) {
	if p == nil {
		return 0, false
	}
	return w.catalog.KindOfEntity(p.e)
}

func (w *World) SubmitPathRequest(ctx context.Context, req remote.PathRequest) (remote.Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[protocol.OpSubmitPath]++
	w.nextHandle++
	w.handles[w.nextHandle] = req
	return w.nextHandle, nil
}

func (w *World) FetchPathOutcome(ctx context.Context, h remote.Handle, f remote.FetchRequest) (remote.RawPathOutcome, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[protocol.OpFetchPath]++
	sub, ok := w.handles[h]
	if !ok {
		return remote.RawPathOutcome{}, &remote.RemoteError{Op: protocol.OpFetchPath, Code: protocol.ErrStale, Message: fmt.Sprintf("unknown handle %d", h)}
	}
	delete(w.handles, h)

	fail := func(msg string, required int) remote.RawPathOutcome {
		return remote.RawPathOutcome{Success: false, Error: msg, Required: required, Available: f.Available}
	}
	if w.Reject != nil {
		if msg := w.Reject(sub, f); msg != "" {
			return fail(msg, 0), nil
		}
	}
	kind, err := w.catalog.KindOf(f.Connectors)
	if err != nil {
		return fail(err.Error(), 0), nil
	}

	start, finish := Tile(f.Start), Tile(f.Finish)
	if allUnderground(w.catalog, f.Connectors) {
		return w.placeUnderground(kind, f, start, finish), nil
	}

	path, ok := w.findPath(kind, start, finish)
	if !ok {
		return fail(fmt.Sprintf("no path between %s and %s", start, finish), 0), nil
	}
	slots := w.slots(kind, path)
	name := w.pickConnector(f.Connectors, len(slots))
	if f.DryRun {
		return remote.RawPathOutcome{Success: true, Required: len(slots), Available: f.Available}, nil
	}
	if w.inventory[name] < len(slots) {
		return fail(fmt.Sprintf("not enough %s: need %d have %d", name, len(slots), w.inventory[name]), len(slots)), nil
	}

	var created []*placed
	for _, s := range slots {
		e := entity.Entity{Name: name, Position: path[s], Direction: pathDirection(path, s)}
		if kind == entity.KindTransport {
			in := e.Direction.Step(e.Position, -1)
			out := e.Direction.Step(e.Position, 1)
			e.InputPosition, e.OutputPosition = &in, &out
		}
		created = append(created, w.add(e))
		w.inventory[name]--
	}
	w.refresh()
	return w.outcome(created, f), nil
}

func (w *World) placeUnderground(kind entity.ConnectionKind, f remote.FetchRequest, start, finish geom.Point) remote.RawPathOutcome {
	name := f.Connectors[0]
	def, _ := w.catalog.Lookup(name)
	fail := func(msg string) remote.RawPathOutcome {
		return remote.RawPathOutcome{Error: msg, Required: 2, Available: f.Available}
	}
	if start.X != finish.X && start.Y != finish.Y {
		return fail("underground run must be straight")
	}
	if start.Manhattan(finish) > float64(def.MaxSpan) || start.Equal(finish) {
		return fail(fmt.Sprintf("underground span %g out of range", start.Manhattan(finish)))
	}
	for _, t := range []geom.Point{start, finish} {
		if w.obstacles[t.Key()] || w.at(t) != nil {
			return fail(fmt.Sprintf("tile %s is occupied", t))
		}
	}
	if f.DryRun {
		return remote.RawPathOutcome{Success: true, Required: 2, Available: f.Available}
	}
	if w.inventory[name] < 2 {
		return fail(fmt.Sprintf("not enough %s: need 2 have %d", name, w.inventory[name]))
	}
	dir := geom.DirectionTo(start, finish)
	entry := entity.Entity{Name: name, Position: start, Direction: dir, UndergroundType: entity.UndergroundInput, ConnectedTo: entity.PointPtr(finish)}
	exit := entity.Entity{Name: name, Position: finish, Direction: dir, UndergroundType: entity.UndergroundOutput, ConnectedTo: entity.PointPtr(start)}
	if kind == entity.KindTransport {
		entry.InputPosition = entity.PointPtr(dir.Step(start, -1))
		entry.OutputPosition = entity.PointPtr(dir.Step(start, 1))
		exit.InputPosition = entity.PointPtr(dir.Step(finish, -1))
		exit.OutputPosition = entity.PointPtr(dir.Step(finish, 1))
	}
	created := []*placed{w.add(entry), w.add(exit)}
	w.inventory[name] -= 2
	w.refresh()
	return w.outcome(created, f)
}

func (w *World) outcome(created []*placed, f remote.FetchRequest) remote.RawPathOutcome {
	out := remote.RawPathOutcome{
		Success:   true,
		Entities:  make(map[int]json.RawMessage, len(created)),
		Required:  len(created),
		Available: f.Available,
	}
	for i, p := range created {
		out.Entities[i] = remote.EncodeEntity(p.e)
	}
	return out
}

// slots returns the indexes of path tiles that need a new connector.
func (w *World) slots(kind entity.ConnectionKind, path []geom.Point) []int {
	var out []int
	last := len(path) - 1
	for i, t := range path {
		if k, ok := w.kindOf(w.at(t)); ok && k == kind {
			continue
		}
		if kind == entity.KindPower {
			spacing := w.PoleSpacing
			if spacing <= 0 {
				spacing = 1
			}
			if i%spacing != 0 && i != last {
				continue
			}
		}
		out = append(out, i)
	}
	return out
}

func (w *World) pickConnector(names []string, need int) string {
	var first string
	for _, n := range names {
		def, ok := w.catalog.Lookup(n)
		if !ok || def.Underground {
			continue
		}
		if first == "" {
			first = n
		}
		if w.inventory[n] >= need {
			return n
		}
	}
	if first == "" && len(names) > 0 {
		return names[0]
	}
	return first
}

func (w *World) passable(kind entity.ConnectionKind, t geom.Point) bool {
	if w.obstacles[t.Key()] {
		return false
	}
	p := w.at(t)
	if p == nil {
		return true
	}
	k, ok := w.kindOf(p)
	return ok && k == kind
}

var stepOrder = []geom.Direction{geom.East, geom.South, geom.West, geom.North}

func (w *World) findPath(kind entity.ConnectionKind, start, finish geom.Point) ([]geom.Point, bool) {
	if !w.passable(kind, start) || !w.passable(kind, finish) {
		return nil, false
	}
	bounds := geom.Bounds(8, start, finish)
	prev := map[geom.Key]geom.Point{}
	seen := map[geom.Key]bool{start.Key(): true}
	q := []geom.Point{start}
	for len(q) > 0 {
		cur := q[0]
		q = q[1:]
		if cur.Equal(finish) {
			path := []geom.Point{cur}
			for !cur.Equal(start) {
				cur = prev[cur.Key()]
				path = append(path, cur)
			}
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path, true
		}
		for _, d := range stepOrder {
			n := d.Step(cur, 1)
			if seen[n.Key()] || !bounds.Contains(n) || !w.passable(kind, n) {
				continue
			}
			seen[n.Key()] = true
			prev[n.Key()] = cur
			q = append(q, n)
		}
	}
	return nil, false
}

func pathDirection(path []geom.Point, i int) geom.Direction {
	switch {
	case len(path) < 2:
		return geom.North
	case i+1 < len(path):
		return geom.DirectionTo(path[i], path[i+1])
	default:
		return geom.DirectionTo(path[i-1], path[i])
	}
}

func allUnderground(c *entity.Catalog, names []string) bool {
	if len(names) == 0 {
		return false
	}
	for _, n := range names {
		d, ok := c.Lookup(n)
		if !ok || !d.Underground {
			return false
		}
	}
	return true
}

// refresh recomputes authority-derived fields: network ids and belt ends.
func (w *World) refresh() {
	var fluid, power, belts []*placed
	for _, p := range w.ents {
		switch k, _ := w.kindOf(p); k {
		case entity.KindFluid:
			fluid = append(fluid, p)
		case entity.KindPower:
			power = append(power, p)
		case entity.KindTransport:
			belts = append(belts, p)
		}
	}
	w.assignNetworks(fluid, func(a, b *placed) bool {
		if a.e.ConnectedTo != nil && a.e.ConnectedTo.Equal(b.e.Position) {
			return true
		}
		return a.e.Position.Manhattan(b.e.Position) == 1
	})
	w.assignNetworks(power, func(a, b *placed) bool {
		reach := math.Min(w.reach(a), w.reach(b))
		return a.e.Position.Distance(b.e.Position) <= reach
	})

	outputs := map[geom.Key]bool{}
	at := map[geom.Key]bool{}
	next := func(b *placed) *geom.Point {
		if b.e.IsUndergroundEntrance() && b.e.ConnectedTo != nil {
			return b.e.ConnectedTo
		}
		return b.e.OutputPosition
	}
	for _, b := range belts {
		at[b.e.Position.Key()] = true
		if n := next(b); n != nil {
			outputs[n.Key()] = true
		}
	}
	for _, b := range belts {
		n := next(b)
		b.e.IsSource = !outputs[b.e.Position.Key()]
		b.e.IsTerminus = n == nil || !at[n.Key()]
	}
}

func (w *World) reach(p *placed) float64 {
	if d, ok := w.catalog.Lookup(p.e.Name); ok && d.Reach > 0 {
		return d.Reach
	}
	return 1
}

func (w *World) assignNetworks(ps []*placed, linked func(a, b *placed) bool) {
	parent := make([]int, len(ps))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := range ps {
		for j := i + 1; j < len(ps); j++ {
			if linked(ps[i], ps[j]) || linked(ps[j], ps[i]) {
				parent[find(i)] = find(j)
			}
		}
	}
	minSerial := map[int]int{}
	for i, p := range ps {
		r := find(i)
		if s, ok := minSerial[r]; !ok || p.serial < s {
			minSerial[r] = p.serial
		}
	}
	for i, p := range ps {
		p.e.NetworkID = minSerial[find(i)]
	}
}

func (w *World) QueryEntities(ctx context.Context, p geom.Point, radius float64) ([]json.RawMessage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[protocol.OpQueryEntities]++
	var out []json.RawMessage
	for _, e := range w.sorted() {
		hit := e.Contains(p)
		if radius > 0 {
			hit = e.Position.Distance(p) <= radius+1e-9
		}
		if hit {
			out = append(out, remote.EncodeEntity(e))
		}
	}
	return out, nil
}

func (w *World) QueryEntitiesByKind(ctx context.Context, names []string, anchor geom.Point, radius float64) ([]json.RawMessage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[protocol.OpQueryByKind]++
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	var out []json.RawMessage
	for _, e := range w.sorted() {
		if want[e.Name] && e.Position.Distance(anchor) <= radius+1e-9 {
			out = append(out, remote.EncodeEntity(e))
		}
	}
	return out, nil
}

// sorted returns entity snapshots in placement order.
func (w *World) sorted() []entity.Entity {
	ps := append([]*placed(nil), w.ents...)
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].serial < ps[j].serial })
	out := make([]entity.Entity, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.e.Clone())
	}
	return out
}

func (w *World) InstallCollisionBuffer(ctx context.Context, start, end geom.Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[protocol.OpInstallBuffer]++
	w.activeBuffers++
	if w.activeBuffers > w.maxBuffers {
		w.maxBuffers = w.activeBuffers
	}
	return nil
}

func (w *World) ClearCollisionBuffer(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[protocol.OpClearBuffer]++
	if w.activeBuffers > 0 {
		w.activeBuffers--
	}
	return nil
}

func (w *World) InventoryCount(ctx context.Context, name string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[protocol.OpInventoryCount]++
	return w.inventory[name], nil
}

func (w *World) Pickup(ctx context.Context, e entity.Entity) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[protocol.OpPickup]++
	for i, p := range w.ents {
		if p.e.Name == e.Name && p.e.Position.Equal(e.Position) {
			w.ents = append(w.ents[:i], w.ents[i+1:]...)
			w.inventory[e.Name]++
			w.refresh()
			return nil
		}
	}
	return &remote.RemoteError{Op: protocol.OpPickup, Code: protocol.ErrInvalidTarget, Message: fmt.Sprintf("no %s at %s", e.Name, e.Position)}
}

var _ remote.Authority = (*World)(nil)
