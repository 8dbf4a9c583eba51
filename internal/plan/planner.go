// Package plan connects waypoints with connector chains and reports the
// network the chain became.
package plan

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/geom"
	"linkplan.ai/internal/observability"
	"linkplan.ai/internal/plan/construct"
	"linkplan.ai/internal/plan/groups"
	"linkplan.ai/internal/plan/resolve"
	"linkplan.ai/internal/protocol"
	"linkplan.ai/internal/remote"
)

type Config struct {
	Construct construct.Config `yaml:"construct"`
	// PointTolerance is the radius of the second endpoint lookup.
	PointTolerance float64 `yaml:"point_tolerance"`
	// RegroupPad grows the area re-queried after placement.
	RegroupPad float64 `yaml:"regroup_pad"`
}

func DefaultConfig() Config {
	return Config{
		Construct:      construct.DefaultConfig(),
		PointTolerance: 0.5,
		RegroupPad:     2,
	}
}

// Request connects consecutive waypoints. Connectors may be empty, in which
// case the kind is inferred from the first two waypoints.
type Request struct {
	Waypoints  []entity.Waypoint
	Connectors []string
	DryRun     bool
}

type Result struct {
	// Group is the network holding the start of the chain, nil on dry runs
	// or when no rebuilt group contains it.
	Group    entity.Group
	Groups   []entity.Group
	Placed   []entity.Entity
	Estimate *construct.CostEstimate
	TxID     string
}

type Option func(*Planner)

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Planner) { p.metrics = m }
}

// WithRecorders receives every committed transaction.
func WithRecorders(rs ...remote.Recorder) Option {
	return func(p *Planner) { p.recorders = append(p.recorders, rs...) }
}

func WithEngineOptions(opts ...construct.Option) Option {
	return func(p *Planner) { p.engineOpts = append(p.engineOpts, opts...) }
}

type Planner struct {
	authority remote.Authority
	catalog   *entity.Catalog
	cfg       Config
	log       *zap.Logger
	metrics   *observability.Metrics
	recorders []remote.Recorder

	engineOpts []construct.Option
	engine     *construct.Engine
	groups     *groups.Engine
}

func New(a remote.Authority, cat *entity.Catalog, cfg Config, logger *zap.Logger, opts ...Option) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Planner{authority: a, catalog: cat, cfg: cfg, log: logger}
	for _, o := range opts {
		o(p)
	}
	engineOpts := append([]construct.Option{construct.WithMetrics(p.metrics)}, p.engineOpts...)
	p.engine = construct.New(cfg.Construct, cat, logger.Named("construct"), engineOpts...)
	p.groups = groups.New(cat)
	return p
}

// segment states, logged as the planner moves through them
const (
	stateResolving = "resolving_endpoints"
	stateTrying    = "trying_candidate"
	stateBridging  = "fallback_bridging"
	stateSuccess   = "success"
	stateFailure   = "failure"
)

// stock is read once per Connect and spent locally as connectors are placed.
type stock struct {
	surface     []string
	available   int
	underground entity.Connector
	ugCount     int
}

// Connect joins every consecutive pair of waypoints. Configuration errors
// are returned before the authority is contacted; an *ExhaustedError means
// some segment could not be placed.
func (p *Planner) Connect(ctx context.Context, req Request) (res Result, err error) {
	if len(req.Waypoints) < 2 {
		p.metrics.Connection("none", "rejected")
		return Result{}, fmt.Errorf("%w: got %d", ErrTooFewWaypoints, len(req.Waypoints))
	}
	for i, w := range req.Waypoints {
		if w == nil {
			p.metrics.Connection("none", "rejected")
			return Result{}, fmt.Errorf("waypoint %d is nil", i)
		}
	}
	kind, names, err := p.connectionKind(req)
	if err != nil {
		p.metrics.Connection("none", "rejected")
		return Result{}, err
	}

	tx := remote.Begin(p.authority, p.label(kind, req), p.log, p.recorders...)
	res.TxID = tx.ID()
	log := tx.Logger().With(zap.String("kind", kind.String()))
	defer func() {
		outcome := remote.OutcomeSuccess
		switch {
		case err != nil:
			outcome = remote.OutcomeFailure
		case req.DryRun:
			outcome = remote.OutcomeDryRun
		}
		_ = tx.Commit(outcome, err)
		p.metrics.Connection(kind.String(), outcome)
		for _, c := range tx.Calls() {
			p.metrics.RemoteCall(c.Op, c.Error == "")
		}
	}()

	st, err := p.readStock(ctx, tx, kind, names)
	if err != nil {
		return res, err
	}

	points := make([]entity.Waypoint, len(req.Waypoints))
	for i, w := range req.Waypoints {
		if points[i], err = p.resolveWaypoint(ctx, tx, w); err != nil {
			return res, err
		}
	}

	var required int
	var chainStart *geom.Point
	for i := 0; i+1 < len(points); i++ {
		seg, start, err := p.connectSegment(ctx, tx, log.With(zap.Int("segment", i)), kind, points[i], points[i+1], st, req.DryRun)
		if err != nil {
			return res, err
		}
		if chainStart == nil {
			chainStart = &start
		}
		required += seg.Required
		res.Placed = append(res.Placed, seg.Entities...)
	}

	if req.DryRun {
		res.Estimate = &construct.CostEstimate{Required: required, Available: st.available}
		return res, nil
	}

	anchor := *chainStart
	area := p.regroupArea(points, res.Placed)
	res.Group, res.Groups, err = p.groups.Regroup(ctx, tx, kind, area, anchor, points[0], points[len(points)-1])
	if err != nil {
		return res, err
	}
	if res.Group == nil && len(res.Placed) > 0 {
		for _, g := range res.Groups {
			if g.Contains(res.Placed[0].Position) {
				res.Group = g
				break
			}
		}
	}
	if res.Group != nil {
		log.Info("connected", zap.String("group", res.Group.Describe()), zap.Int("placed", len(res.Placed)))
	}
	return res, nil
}

// connectionKind validates the connector names without touching the authority.
func (p *Planner) connectionKind(req Request) (entity.ConnectionKind, []string, error) {
	if len(req.Connectors) > 0 {
		kind, err := p.catalog.KindOf(req.Connectors)
		if err != nil {
			return 0, nil, err
		}
		return kind, req.Connectors, nil
	}
	kind, err := resolve.InferKind(p.catalog, req.Waypoints[0], req.Waypoints[1])
	if err != nil {
		return 0, nil, err
	}
	return kind, p.catalog.Names(kind), nil
}

func (p *Planner) readStock(ctx context.Context, tx *remote.Tx, kind entity.ConnectionKind, names []string) (*stock, error) {
	st := &stock{}
	for _, n := range names {
		def, _ := p.catalog.Lookup(n)
		if def.Underground {
			continue
		}
		c, err := tx.InventoryCount(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("inventory %s: %w", n, err)
		}
		st.surface = append(st.surface, n)
		st.available += c
	}
	if len(st.surface) == 0 {
		st.surface = names
	}
	if kind == entity.KindFluid {
		if ug, ok := p.catalog.Underground(kind); ok {
			c, err := tx.InventoryCount(ctx, ug.Name)
			if err != nil {
				return nil, fmt.Errorf("inventory %s: %w", ug.Name, err)
			}
			st.underground, st.ugCount = ug, c
		}
	}
	return st, nil
}

// connectSegment runs one waypoint pair through its candidates and, for
// fluids, the underground bridge. It also returns where the chain starts.
func (p *Planner) connectSegment(ctx context.Context, tx *remote.Tx, log *zap.Logger, kind entity.ConnectionKind, src, dst entity.Waypoint, st *stock, dryRun bool) (construct.PathResult, geom.Point, error) {
	log = log.With(zap.String("source", src.Describe()), zap.String("target", dst.Describe()))
	log.Debug("segment", zap.String("state", stateResolving))

	cands, err := resolve.Resolve(kind, src, dst)
	if err != nil {
		return construct.PathResult{}, geom.Point{}, err
	}
	if len(cands) == 0 {
		log.Debug("segment", zap.String("state", stateFailure))
		return construct.PathResult{}, geom.Point{}, &ExhaustedError{Source: src.Describe(), Target: dst.Describe(), Cause: "no usable endpoint pair"}
	}

	var last construct.PathResult
	for i, c := range cands {
		if err := ctx.Err(); err != nil {
			return last, c.Source, err
		}
		log.Debug("segment", zap.String("state", stateTrying), zap.Int("candidate", i), zap.Stringer("from", c.Source), zap.Stringer("to", c.Target))
		res, err := p.engine.Build(ctx, tx, construct.Request{
			Candidate:  c,
			Kind:       kind,
			Connectors: st.surface,
			Available:  st.available,
			DryRun:     dryRun,
		})
		if err != nil {
			return res, c.Source, err
		}
		if res.Success {
			st.spend(res.Entities)
			log.Debug("segment", zap.String("state", stateSuccess), zap.Int("placed", len(res.Entities)))
			return res, c.Source, nil
		}
		last = res
	}

	if kind == entity.KindFluid && !dryRun {
		br := construct.BridgeRequest{
			Source:           cands[0].Source,
			Target:           cands[0].Target,
			SourcePort:       blockedPort(src, cands[0].SourcePort),
			TargetPort:       blockedPort(dst, cands[0].TargetPort),
			Connectors:       st.surface,
			SurfaceAvailable: st.available,
			Stock:            st.ugCount,
		}
		if p.engine.CanBridge(br) {
			log.Debug("segment", zap.String("state", stateBridging))
			res, err := p.engine.Bridge(ctx, tx, br)
			if err != nil {
				return res, br.Source, err
			}
			if res.Success {
				st.spend(res.Entities)
				log.Debug("segment", zap.String("state", stateSuccess), zap.Int("placed", len(res.Entities)))
				return res, br.Source, nil
			}
			last = res
		}
	}

	log.Debug("segment", zap.String("state", stateFailure), zap.String("error", last.Error))
	return last, cands[0].Source, &ExhaustedError{
		Source: src.Describe(),
		Target: dst.Describe(),
		Cause:  protocol.TranslateRemoteError(last.Error),
	}
}

// blockedPort is the candidate's port when the endpoint is a multi-port device.
func blockedPort(w entity.Waypoint, port *entity.Port) *entity.Port {
	e, ok := w.(entity.Entity)
	if !ok || !e.IsMultiPort() || port == nil {
		return nil
	}
	return port
}

func (s *stock) spend(es []entity.Entity) {
	for _, e := range es {
		if e.Name == s.underground.Name && s.underground.Name != "" {
			s.ugCount--
			continue
		}
		s.available--
	}
}

func (p *Planner) regroupArea(points []entity.Waypoint, placed []entity.Entity) geom.Area {
	ps := make([]geom.Point, 0, len(points)+len(placed))
	for _, w := range points {
		ps = append(ps, w.Anchor())
	}
	for _, e := range placed {
		ps = append(ps, e.Position)
	}
	return geom.Bounds(p.cfg.RegroupPad, ps...)
}

func (p *Planner) label(kind entity.ConnectionKind, req Request) string {
	parts := make([]string, 0, len(req.Waypoints))
	for _, w := range req.Waypoints {
		parts = append(parts, w.Anchor().String())
	}
	mode := "connect"
	if req.DryRun {
		mode = "estimate"
	}
	return fmt.Sprintf("%s %s %s", mode, kind, strings.Join(parts, " -> "))
}
