package resolve

import (
	"fmt"

	"linkplan.ai/internal/entity"
)

type capability uint8

const (
	capFluid capability = 1 << iota
	capBelt
	capAdjacent
	capPower
	capWall
)

// InferKind picks the connection kind two endpoints imply. Fluid wins over
// belts, belts and belt-adjacent machines over power, power over walls. A
// pair that implies nothing is an error rather than a default.
func InferKind(cat *entity.Catalog, source, target entity.Waypoint) (entity.ConnectionKind, error) {
	caps := capabilities(cat, source) | capabilities(cat, target)
	switch {
	case caps&capFluid != 0:
		return entity.KindFluid, nil
	case caps&(capBelt|capAdjacent) != 0:
		return entity.KindTransport, nil
	case caps&capPower != 0:
		return entity.KindPower, nil
	case caps&capWall != 0:
		return entity.KindWall, nil
	}
	return 0, fmt.Errorf("%w: %s -> %s", ErrAmbiguousKind, source.Describe(), target.Describe())
}

func capabilities(cat *entity.Catalog, w entity.Waypoint) capability {
	switch v := w.(type) {
	case entity.Group:
		return kindCap(v.Kind())
	case entity.Entity:
		if len(v.Ports) > 0 {
			return capFluid
		}
		if k, ok := cat.KindOfEntity(v); ok {
			return kindCap(k)
		}
		if v.OutputPosition != nil {
			return capAdjacent
		}
	}
	return 0
}

func kindCap(k entity.ConnectionKind) capability {
	switch k {
	case entity.KindFluid:
		return capFluid
	case entity.KindTransport:
		return capBelt
	case entity.KindPower:
		return capPower
	case entity.KindWall:
		return capWall
	}
	return 0
}
