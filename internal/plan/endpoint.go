package plan

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/geom"
	"linkplan.ai/internal/remote"
)

// ResolveEndpoint turns a bare point into the entity standing on it. An
// exact hit wins; otherwise a hit within the tolerance is accepted only
// when it is the only one. Anything else leaves the point unchanged.
func (p *Planner) ResolveEndpoint(ctx context.Context, tx *remote.Tx, pt geom.Point) (entity.Waypoint, error) {
	es, err := p.query(ctx, tx, pt, 0)
	if err != nil {
		return nil, err
	}
	if len(es) == 0 {
		es, err = p.query(ctx, tx, pt, p.cfg.PointTolerance)
		if err != nil {
			return nil, err
		}
		if len(es) != 1 {
			return pt, nil
		}
	}
	if hit, ok := entity.NearestWithin(es, pt, p.cfg.PointTolerance); ok {
		return hit, nil
	}
	return es[0], nil
}

func (p *Planner) query(ctx context.Context, tx *remote.Tx, pt geom.Point, radius float64) ([]entity.Entity, error) {
	raws, err := tx.QueryEntities(ctx, pt, radius)
	if err != nil {
		return nil, fmt.Errorf("query entities at %s: %w", pt, err)
	}
	return remote.DecodeEntities(raws)
}

// refresh replaces an entity snapshot with the authority's current one.
func (p *Planner) refresh(ctx context.Context, tx *remote.Tx, e entity.Entity) (entity.Entity, error) {
	es, err := p.query(ctx, tx, e.Position, 0)
	if err != nil {
		return e, err
	}
	for _, cur := range es {
		if cur.Name == e.Name && cur.Position.Equal(e.Position) {
			return cur, nil
		}
	}
	p.log.Warn("entity no longer present, using caller snapshot", zap.String("entity", e.Describe()))
	return e, nil
}

func (p *Planner) resolveWaypoint(ctx context.Context, tx *remote.Tx, w entity.Waypoint) (entity.Waypoint, error) {
	switch v := w.(type) {
	case geom.Point:
		return p.ResolveEndpoint(ctx, tx, v)
	case entity.Entity:
		return p.refresh(ctx, tx, v)
	}
	return w, nil
}
