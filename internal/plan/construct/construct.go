// Package construct places connector chains through the authority's
// asynchronous path finder.
package construct

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/geom"
	"linkplan.ai/internal/observability"
	"linkplan.ai/internal/plan/resolve"
	"linkplan.ai/internal/remote"
)

// ErrUndecodablePlacement means the authority placed a path but its entity
// records failed validation. The placement is not retried with another size.
var ErrUndecodablePlacement = errors.New("construct: placed entities could not be decoded")

type Config struct {
	// Sizes are the connector hitbox sizes tried in order.
	Sizes []float64 `yaml:"sizes"`
	// Wait is the pause between submitting a path request and fetching it.
	Wait time.Duration `yaml:"wait"`

	FluidRadius          float64 `yaml:"fluid_radius"`
	TransportRadius      float64 `yaml:"transport_radius"`
	TransportRetryRadius float64 `yaml:"transport_retry_radius"`
	PowerRadius          float64 `yaml:"power_radius"`

	// BufferPad grows the collision buffer around the endpoints.
	BufferPad float64 `yaml:"buffer_pad"`
	// BridgeMargin is the shortest underground extension and the distance
	// kept from the connector's maximum span.
	BridgeMargin int `yaml:"bridge_margin"`
}

func DefaultConfig() Config {
	return Config{
		Sizes:                []float64{1.5, 1.0, 0.5, 0.25},
		Wait:                 20 * time.Millisecond,
		FluidRadius:          0.5,
		TransportRadius:      0.5,
		TransportRetryRadius: 2.0,
		PowerRadius:          4.0,
		BufferPad:            1,
		BridgeMargin:         3,
	}
}

func (c Config) Validate() error {
	if len(c.Sizes) == 0 {
		return errors.New("construct: at least one connector size is required")
	}
	for _, s := range c.Sizes {
		if s <= 0 {
			return fmt.Errorf("construct: connector size %g must be positive", s)
		}
	}
	if c.Wait < 0 {
		return errors.New("construct: wait must not be negative")
	}
	if c.BridgeMargin < 1 {
		return errors.New("construct: bridge margin must be at least 1")
	}
	return nil
}

// PathResult is the parsed outcome of one or more attempts.
type PathResult struct {
	Success   bool
	Entities  []entity.Entity
	Required  int
	Available int
	Error     string
}

// CostEstimate is what a dry run reports instead of entities.
type CostEstimate struct {
	Required  int `json:"required"`
	Available int `json:"available"`
}

func (r PathResult) Estimate() CostEstimate {
	return CostEstimate{Required: r.Required, Available: r.Available}
}

// Request asks for one candidate pair to be connected.
type Request struct {
	Candidate  resolve.Candidate
	Kind       entity.ConnectionKind
	Connectors []string
	Available  int
	DryRun     bool
}

type Option func(*Engine)

// WithSleeper replaces time.Sleep between submit and fetch.
func WithSleeper(fn func(time.Duration)) Option {
	return func(e *Engine) { e.sleep = fn }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

type Engine struct {
	cfg     Config
	catalog *entity.Catalog
	log     *zap.Logger
	metrics *observability.Metrics
	sleep   func(time.Duration)

	// bufMu is held for as long as a collision buffer is installed.
	bufMu sync.Mutex
}

func New(cfg Config, cat *entity.Catalog, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{cfg: cfg, catalog: cat, log: logger, sleep: time.Sleep}
	for _, o := range opts {
		o(e)
	}
	return e
}

type builder func(e *Engine, ctx context.Context, tx *remote.Tx, req Request) (PathResult, error)

var builders = map[entity.ConnectionKind]builder{
	entity.KindFluid:     (*Engine).buildBuffered,
	entity.KindPower:     (*Engine).buildBuffered,
	entity.KindTransport: (*Engine).buildTransport,
	entity.KindWall:      (*Engine).buildPlain,
}

// Build connects one candidate. A returned error means the context ended;
// every other problem is an unsuccessful PathResult.
func (e *Engine) Build(ctx context.Context, tx *remote.Tx, req Request) (PathResult, error) {
	b, ok := builders[req.Kind]
	if !ok {
		return PathResult{}, fmt.Errorf("construct: no policy for connection kind %s", req.Kind)
	}
	return b(e, ctx, tx, req)
}

func (e *Engine) radius(kind entity.ConnectionKind) float64 {
	switch kind {
	case entity.KindFluid:
		return e.cfg.FluidRadius
	case entity.KindTransport:
		return e.cfg.TransportRadius
	default:
		return e.cfg.PowerRadius
	}
}

func (e *Engine) buildPlain(ctx context.Context, tx *remote.Tx, req Request) (PathResult, error) {
	return e.attemptPathFinding(ctx, tx, attempt{
		req: req, start: req.Candidate.Source, finish: req.Candidate.Target,
		radius: e.radius(req.Kind), throughOwn: true, strategy: "direct",
	})
}

func (e *Engine) buildBuffered(ctx context.Context, tx *remote.Tx, req Request) (PathResult, error) {
	return e.withBuffer(ctx, tx, req.Candidate.Source, req.Candidate.Target, func() (PathResult, error) {
		return e.buildPlain(ctx, tx, req)
	})
}

func (e *Engine) buildTransport(ctx context.Context, tx *remote.Tx, req Request) (PathResult, error) {
	first, err := e.buildPlain(ctx, tx, req)
	if err != nil || first.Success {
		return first, err
	}
	start, finish := e.adjustBeltEnds(ctx, tx, req.Candidate.Source, req.Candidate.Target)
	retry, err := e.attemptPathFinding(ctx, tx, attempt{
		req: req, start: start, finish: finish,
		radius: e.cfg.TransportRetryRadius, throughOwn: false, strategy: "retry",
	})
	if err != nil {
		return first, err
	}
	if retry.Success {
		return retry, nil
	}
	return first, nil
}

// adjustBeltEnds moves the start onto the free output of a belt ending next
// to it and the finish onto the free input of a belt starting next to it.
func (e *Engine) adjustBeltEnds(ctx context.Context, tx *remote.Tx, start, finish geom.Point) (geom.Point, geom.Point) {
	near := func(p geom.Point) []entity.Entity {
		raws, err := tx.QueryEntities(ctx, p, 1)
		if err != nil {
			return nil
		}
		es, err := remote.DecodeEntities(raws)
		if err != nil {
			return nil
		}
		return es
	}
	for _, b := range near(start) {
		if k, ok := e.catalog.KindOfEntity(b); ok && k == entity.KindTransport && b.IsTerminus && b.OutputPosition != nil {
			start = b.OutputPosition.Snap()
			break
		}
	}
	for _, b := range near(finish) {
		if k, ok := e.catalog.KindOfEntity(b); ok && k == entity.KindTransport && b.IsSource && b.InputPosition != nil {
			finish = b.InputPosition.Snap()
			break
		}
	}
	return start, finish
}

// withBuffer holds a collision buffer around a and b while fn runs. The
// buffer is cleared on every exit, panics included.
func (e *Engine) withBuffer(ctx context.Context, tx *remote.Tx, a, b geom.Point, fn func() (PathResult, error)) (PathResult, error) {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()

	area := geom.Bounds(e.cfg.BufferPad, a, b)
	ierr := tx.InstallCollisionBuffer(ctx, area.Min, area.Max)
	defer func() {
		if err := tx.ClearCollisionBuffer(context.WithoutCancel(ctx)); err != nil {
			e.log.Warn("clear collision buffer", zap.Error(err))
		}
		if ierr == nil {
			e.metrics.BufferHeld(-1)
		}
	}()
	if ierr != nil {
		if err := ctx.Err(); err != nil {
			return PathResult{}, err
		}
		return PathResult{Error: ierr.Error()}, nil
	}
	e.metrics.BufferHeld(1)
	return fn()
}

type attempt struct {
	req        Request
	start      geom.Point
	finish     geom.Point
	radius     float64
	throughOwn bool
	strategy   string
	connectors []string
}

// attemptPathFinding walks the connector sizes and returns on the first
// success, or with the last failure once every size was tried.
func (e *Engine) attemptPathFinding(ctx context.Context, tx *remote.Tx, a attempt) (PathResult, error) {
	names := a.connectors
	if names == nil {
		names = a.req.Connectors
	}
	var last PathResult
	for _, size := range e.cfg.Sizes {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		began := time.Now()
		res, err := e.tryOnce(ctx, tx, a, names, size)
		if err != nil {
			return last, err
		}
		e.metrics.Attempt(a.req.Kind.String(), a.strategy, res.Success, time.Since(began))
		tx.RecordAttempt(remote.AttemptRecord{
			Kind: a.req.Kind.String(), Strategy: a.strategy,
			Start: a.start, Finish: a.finish,
			ConnectorSize: size, Radius: a.radius,
			Success: res.Success, Placed: len(res.Entities), Required: res.Required,
			Error: res.Error,
		})
		e.log.Debug("path attempt",
			zap.String("kind", a.req.Kind.String()),
			zap.String("strategy", a.strategy),
			zap.Stringer("start", a.start),
			zap.Stringer("finish", a.finish),
			zap.Float64("size", size),
			zap.Bool("success", res.Success),
			zap.String("error", res.Error),
		)
		if res.Success {
			return res, nil
		}
		last = res
	}
	return last, nil
}

func (e *Engine) tryOnce(ctx context.Context, tx *remote.Tx, a attempt, names []string, size float64) (PathResult, error) {
	h, err := tx.SubmitPathRequest(ctx, remote.PathRequest{
		Start: a.start, Finish: a.finish, Radius: a.radius,
		AllowThroughOwn: a.throughOwn, ConnectorSize: size,
	})
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return PathResult{}, cerr
		}
		return PathResult{Error: err.Error()}, nil
	}
	e.sleep(e.cfg.Wait)
	// A submitted request is always fetched, even when the caller gave up.
	out, err := tx.FetchPathOutcome(context.WithoutCancel(ctx), h, remote.FetchRequest{
		Start: a.start, Finish: a.finish, Connectors: names,
		DryRun: a.req.DryRun, Available: a.req.Available,
	})
	if err != nil {
		return PathResult{Error: err.Error()}, nil
	}
	res := PathResult{
		Success:   out.Success,
		Required:  out.Required,
		Available: out.Available,
		Error:     out.Error,
	}
	if out.Success && !a.req.DryRun {
		es, err := remote.DecodeIndexed(out.Entities)
		if err != nil {
			e.log.Error("placed path has invalid records", zap.Stringer("start", a.start), zap.Stringer("finish", a.finish), zap.Int("records", len(out.Entities)), zap.Error(err))
			return PathResult{Error: err.Error(), Required: out.Required, Available: out.Available}, fmt.Errorf("%w: %v", ErrUndecodablePlacement, err)
		}
		res.Entities = es
	}
	return res, nil
}
