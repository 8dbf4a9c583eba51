// Package remote talks to the authority that owns the simulated world.
package remote

import (
	"context"
	"encoding/json"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/geom"
)

// Handle identifies an in-flight path computation on the authority.
type Handle int64

type PathRequest struct {
	Start           geom.Point
	Finish          geom.Point
	Radius          float64
	AllowThroughOwn bool
	ConnectorSize   float64
}

type FetchRequest struct {
	Start      geom.Point
	Finish     geom.Point
	Connectors []string
	DryRun     bool
	Available  int
}

// RawPathOutcome is the authority's answer to a fetch, with entity records
// still in wire form.
type RawPathOutcome struct {
	Success   bool
	Entities  map[int]json.RawMessage
	Required  int
	Available int
	Error     string
}

// Authority is the contract the planner needs from the world.
type Authority interface {
	SubmitPathRequest(ctx context.Context, req PathRequest) (Handle, error)
	FetchPathOutcome(ctx context.Context, h Handle, req FetchRequest) (RawPathOutcome, error)
	QueryEntities(ctx context.Context, p geom.Point, radius float64) ([]json.RawMessage, error)
	QueryEntitiesByKind(ctx context.Context, names []string, anchor geom.Point, radius float64) ([]json.RawMessage, error)
	InstallCollisionBuffer(ctx context.Context, start, end geom.Point) error
	ClearCollisionBuffer(ctx context.Context) error
	InventoryCount(ctx context.Context, name string) (int, error)
	Pickup(ctx context.Context, e entity.Entity) error
}
