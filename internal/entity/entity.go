package entity

import (
	"fmt"

	"linkplan.ai/internal/geom"
)

const (
	UndergroundInput  = "input"
	UndergroundOutput = "output"
)

// Port is one independent fluid connection of a multi-port device. Position
// is the tile a connector must occupy to attach; Direction faces away from
// the device.
type Port struct {
	Position  geom.Point     `json:"position"`
	Direction geom.Direction `json:"direction"`
}

// UndergroundSegment is set on entities produced by consolidating a matched
// underground entrance/exit pair.
type UndergroundSegment struct {
	Entry geom.Point `json:"entry"`
	Exit  geom.Point `json:"exit"`
}

// Entity is a snapshot of a placed object as reported by the remote authority.
type Entity struct {
	Name       string         `json:"name"`
	Position   geom.Point     `json:"position"`
	Direction  geom.Direction `json:"direction"`
	TileWidth  float64        `json:"tile_width,omitempty"`
	TileHeight float64        `json:"tile_height,omitempty"`

	InputPosition  *geom.Point `json:"input_position,omitempty"`
	OutputPosition *geom.Point `json:"output_position,omitempty"`
	IsSource       bool        `json:"is_source,omitempty"`
	IsTerminus     bool        `json:"is_terminus,omitempty"`

	NetworkID       int         `json:"network_id,omitempty"`
	UndergroundType string      `json:"underground_type,omitempty"`
	ConnectedTo     *geom.Point `json:"connected_to,omitempty"`
	Ports           []Port      `json:"ports,omitempty"`

	Status    string         `json:"status,omitempty"`
	Inventory map[string]int `json:"inventory,omitempty"`
	Contents  float64        `json:"contents,omitempty"`
	Flow      float64        `json:"flow,omitempty"`

	Segment *UndergroundSegment `json:"segment,omitempty"`
}

func (e Entity) Anchor() geom.Point { return e.Position }

func (e Entity) Describe() string {
	return fmt.Sprintf("%s at %s", e.Name, e.Position)
}

func (e Entity) IsUndergroundEntrance() bool {
	return e.UndergroundType == UndergroundInput && e.Segment == nil
}

func (e Entity) IsUndergroundExit() bool {
	return e.UndergroundType == UndergroundOutput && e.Segment == nil
}

func (e Entity) IsMultiPort() bool { return len(e.Ports) > 1 }

// Contains reports whether p falls inside the entity's footprint.
func (e Entity) Contains(p geom.Point) bool {
	w, h := e.TileWidth, e.TileHeight
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	if e.Position.Equal(p) {
		return true
	}
	return absf(p.X-e.Position.X) < w/2 && absf(p.Y-e.Position.Y) < h/2
}

// NearestPort returns the port whose connection position is closest to p.
func (e Entity) NearestPort(p geom.Point) (Port, bool) {
	if len(e.Ports) == 0 {
		return Port{}, false
	}
	best := e.Ports[0]
	bestD := best.Position.Distance(p)
	for _, port := range e.Ports[1:] {
		if d := port.Position.Distance(p); d < bestD {
			best, bestD = port, d
		}
	}
	return best, true
}

// Clone returns a deep copy; entities are value snapshots.
func (e Entity) Clone() Entity {
	out := e
	if e.InputPosition != nil {
		p := *e.InputPosition
		out.InputPosition = &p
	}
	if e.OutputPosition != nil {
		p := *e.OutputPosition
		out.OutputPosition = &p
	}
	if e.ConnectedTo != nil {
		p := *e.ConnectedTo
		out.ConnectedTo = &p
	}
	if e.Segment != nil {
		s := *e.Segment
		out.Segment = &s
	}
	if e.Ports != nil {
		out.Ports = append([]Port(nil), e.Ports...)
	}
	if e.Inventory != nil {
		out.Inventory = make(map[string]int, len(e.Inventory))
		for k, v := range e.Inventory {
			out.Inventory[k] = v
		}
	}
	return out
}

func PointPtr(p geom.Point) *geom.Point { return &p }

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
