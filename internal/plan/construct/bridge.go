package construct

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/geom"
	"linkplan.ai/internal/plan/resolve"
	"linkplan.ai/internal/remote"
)

// BridgeRequest describes a fluid connection whose endpoints may be blocked
// multi-port devices. A nil port marks an endpoint that is not blocked.
type BridgeRequest struct {
	Source     geom.Point
	Target     geom.Point
	SourcePort *entity.Port
	TargetPort *entity.Port
	Connectors []string
	// SurfaceAvailable is the stock of Connectors, sent with the middle path.
	SurfaceAvailable int
	// Stock is the underground connector count on hand, spent only by the
	// extensions.
	Stock  int
	DryRun bool
}

// Blocked is the number of endpoints the bridge would extend.
func (r BridgeRequest) Blocked() int {
	n := 0
	if r.SourcePort != nil {
		n++
	}
	if r.TargetPort != nil {
		n++
	}
	return n
}

// BridgeLimits returns the shortest and longest extension for connector c.
func (e *Engine) BridgeLimits(c entity.Connector) (int, int) {
	return e.cfg.BridgeMargin, c.MaxSpan - e.cfg.BridgeMargin
}

// CanBridge reports whether Bridge would run at all.
func (e *Engine) CanBridge(req BridgeRequest) bool {
	ug, ok := e.catalog.Underground(entity.KindFluid)
	if !ok || req.DryRun || req.Blocked() == 0 {
		return false
	}
	lo, hi := e.BridgeLimits(ug)
	return lo <= hi && req.Stock >= 2*req.Blocked()
}

// Bridge extends each blocked endpoint outward with a straight underground
// pair and joins the new anchors with a normal path. Each side sweeps its
// own lengths, shortest first: a placed source extension is kept while the
// target side tries every length, and anything placed for a failing
// combination is picked up before the next one.
func (e *Engine) Bridge(ctx context.Context, tx *remote.Tx, req BridgeRequest) (PathResult, error) {
	if !e.CanBridge(req) {
		return PathResult{Error: fmt.Sprintf("bridge unavailable: %d blocked endpoints, %d underground connectors", req.Blocked(), req.Stock)}, nil
	}
	ug, _ := e.catalog.Underground(entity.KindFluid)
	lo, hi := e.BridgeLimits(ug)
	log := e.log.With(zap.Stringer("source", req.Source), zap.Stringer("target", req.Target))

	var last PathResult
	for _, ns := range sideLengths(req.SourcePort, lo, hi) {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		src, start, err := e.side(ctx, tx, req, ug, req.SourcePort, req.Source, ns, true)
		if err != nil {
			return src, err
		}
		if !src.Success {
			log.Debug("source extension failed", zap.Int("length", ns), zap.String("error", src.Error))
			last = src
			continue
		}
		res, err := e.bridgeTarget(ctx, tx, req, ug, src, start, lo, hi)
		if err != nil {
			e.pickup(ctx, tx, src.Entities)
			return res, err
		}
		if res.Success {
			log.Info("bridge placed", zap.Int("source_length", ns), zap.Int("entities", len(res.Entities)))
			e.metrics.Bridge(true)
			return res, nil
		}
		e.pickup(ctx, tx, src.Entities)
		last = res
	}
	e.metrics.Bridge(false)
	return last, nil
}

// bridgeTarget sweeps the target side with the source extension src in place.
func (e *Engine) bridgeTarget(ctx context.Context, tx *remote.Tx, req BridgeRequest, ug entity.Connector, src PathResult, start geom.Point, lo, hi int) (PathResult, error) {
	var last PathResult
	for _, nt := range sideLengths(req.TargetPort, lo, hi) {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		dst, finish, err := e.side(ctx, tx, req, ug, req.TargetPort, req.Target, nt, false)
		if err != nil {
			return dst, err
		}
		if !dst.Success {
			e.log.Debug("target extension failed", zap.Int("length", nt), zap.String("error", dst.Error))
			last = dst
			continue
		}
		mid, err := e.buildBuffered(ctx, tx, Request{
			Candidate:  resolve.Candidate{Source: start, Target: finish},
			Kind:       entity.KindFluid,
			Connectors: req.Connectors,
			Available:  req.SurfaceAvailable,
		})
		if err != nil || !mid.Success {
			e.pickup(ctx, tx, dst.Entities)
			if err != nil {
				return mid, err
			}
			e.log.Debug("bridge middle failed", zap.Int("target_length", nt), zap.String("error", mid.Error))
			last = mid
			continue
		}
		out := PathResult{Success: true, Available: req.SurfaceAvailable}
		for _, r := range []PathResult{src, mid, dst} {
			out.Entities = append(out.Entities, r.Entities...)
			out.Required += r.Required
		}
		return out, nil
	}
	return last, nil
}

// sideLengths is the extension lengths to try on one side. An unblocked
// side gets a single zero length, meaning no extension.
func sideLengths(port *entity.Port, lo, hi int) []int {
	if port == nil {
		return []int{0}
	}
	out := make([]int, 0, hi-lo+1)
	for n := lo; n <= hi; n++ {
		out = append(out, n)
	}
	return out
}

// side places the extension of one endpoint n tiles out and returns where
// the middle path must attach. The source side runs from the port outward,
// the target side from the anchor in.
func (e *Engine) side(ctx context.Context, tx *remote.Tx, req BridgeRequest, ug entity.Connector, port *entity.Port, endpoint geom.Point, n int, source bool) (PathResult, geom.Point, error) {
	if port == nil {
		return PathResult{Success: true}, endpoint, nil
	}
	anchor := port.Direction.Step(port.Position, float64(n)).Snap()
	a, b := anchor, port.Position
	if source {
		a, b = port.Position, anchor
	}
	res, err := e.extend(ctx, tx, req, ug, a, b, anchor)
	if err != nil || !res.Success {
		e.pickup(ctx, tx, res.Entities)
		return res, anchor, err
	}
	return res, anchor, nil
}

// extend places one straight underground pair from a to b after checking
// that the outer anchor is free.
func (e *Engine) extend(ctx context.Context, tx *remote.Tx, req BridgeRequest, ug entity.Connector, a, b, outer geom.Point) (PathResult, error) {
	raws, err := tx.QueryEntities(ctx, outer, 0)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return PathResult{}, cerr
		}
		return PathResult{Error: err.Error()}, nil
	}
	if len(raws) > 0 {
		return PathResult{Error: fmt.Sprintf("anchor %s is obstructed", outer)}, nil
	}
	return e.attemptPathFinding(ctx, tx, attempt{
		req:        Request{Kind: entity.KindFluid, Available: req.Stock},
		start:      a,
		finish:     b,
		radius:     e.cfg.FluidRadius,
		throughOwn: true,
		strategy:   "extension",
		connectors: []string{ug.Name},
	})
}

// pickup removes entities placed by a failed bridge. It runs even when the
// caller's context is done.
func (e *Engine) pickup(ctx context.Context, tx *remote.Tx, es []entity.Entity) {
	ctx = context.WithoutCancel(ctx)
	for _, ent := range es {
		if err := tx.Pickup(ctx, ent); err != nil {
			e.log.Warn("pickup bridge segment", zap.String("entity", ent.Describe()), zap.Error(err))
		}
	}
}
