package protocol

import (
	"encoding/json"

	"linkplan.ai/internal/geom"
)

// REQ (planner -> authority)
type Request struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ID              string          `json:"id"`
	Op              string          `json:"op"`
	Args            json.RawMessage `json:"args,omitempty"`
}

// RESP (authority -> planner)
type Response struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ID              string          `json:"id"`
	OK              bool            `json:"ok"`
	Code            string          `json:"code,omitempty"`
	Message         string          `json:"message,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
}

type SubmitPathArgs struct {
	Start           geom.Point `json:"start"`
	Finish          geom.Point `json:"finish"`
	Radius          float64    `json:"radius"`
	AllowThroughOwn bool       `json:"allow_through_own"`
	ConnectorSize   float64    `json:"connector_size"`
}

type SubmitPathResult struct {
	Handle int64 `json:"handle"`
}

type FetchPathArgs struct {
	Handle     int64      `json:"handle"`
	Start      geom.Point `json:"start"`
	Finish     geom.Point `json:"finish"`
	Connectors []string   `json:"connectors"`
	DryRun     bool       `json:"dry_run"`
	Available  int        `json:"available"`
}

// FetchPathResult carries raw entity records keyed by placement index.
type FetchPathResult struct {
	Success   bool                       `json:"success"`
	Entities  map[string]json.RawMessage `json:"entities,omitempty"`
	Required  int                        `json:"required"`
	Available int                        `json:"available"`
	Error     string                     `json:"error,omitempty"`
}

type QueryEntitiesArgs struct {
	Point  geom.Point `json:"point"`
	Radius float64    `json:"radius"`
}

type QueryByKindArgs struct {
	Names  []string   `json:"names"`
	Anchor geom.Point `json:"anchor"`
	Radius float64    `json:"radius"`
}

type EntitiesResult struct {
	Entities []json.RawMessage `json:"entities"`
}

type BufferArgs struct {
	Start geom.Point `json:"start"`
	End   geom.Point `json:"end"`
}

type InventoryArgs struct {
	Name string `json:"name"`
}

type InventoryResult struct {
	Count int `json:"count"`
}

type PickupArgs struct {
	Name     string     `json:"name"`
	Position geom.Point `json:"position"`
}
