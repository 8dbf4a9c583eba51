package entity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownConnector = errors.New("unknown connector")
	ErrMixedKinds       = errors.New("connectors span more than one connection kind")
)

// Connector describes one placeable connector type.
type Connector struct {
	Name        string         `yaml:"name" json:"name"`
	Kind        ConnectionKind `yaml:"kind" json:"kind"`
	Tier        int            `yaml:"tier" json:"tier"`
	Underground bool           `yaml:"underground,omitempty" json:"underground,omitempty"`
	// MaxSpan is the longest distance between an underground entrance and exit.
	MaxSpan int `yaml:"max_span,omitempty" json:"max_span,omitempty"`
	// Reach is the wire reach of a relay.
	Reach float64 `yaml:"reach,omitempty" json:"reach,omitempty"`
}

func DefaultConnectors() []Connector {
	return []Connector{
		{Name: "transport-belt", Kind: KindTransport, Tier: 1},
		{Name: "fast-transport-belt", Kind: KindTransport, Tier: 2},
		{Name: "express-transport-belt", Kind: KindTransport, Tier: 3},
		{Name: "underground-belt", Kind: KindTransport, Tier: 1, Underground: true, MaxSpan: 5},
		{Name: "fast-underground-belt", Kind: KindTransport, Tier: 2, Underground: true, MaxSpan: 7},
		{Name: "express-underground-belt", Kind: KindTransport, Tier: 3, Underground: true, MaxSpan: 9},
		{Name: "pipe", Kind: KindFluid, Tier: 1},
		{Name: "pipe-to-ground", Kind: KindFluid, Tier: 2, Underground: true, MaxSpan: 10},
		{Name: "small-electric-pole", Kind: KindPower, Tier: 1, Reach: 7.5},
		{Name: "medium-electric-pole", Kind: KindPower, Tier: 2, Reach: 9},
		{Name: "big-electric-pole", Kind: KindPower, Tier: 3, Reach: 30},
		{Name: "stone-wall", Kind: KindWall, Tier: 1},
	}
}

// Catalog maps connector names to their definitions.
type Catalog struct {
	byName map[string]Connector
	order  []Connector
}

func NewCatalog(defs []Connector) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]Connector, len(defs))}
	for _, d := range defs {
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			return nil, fmt.Errorf("connector with empty name")
		}
		if !d.Kind.Valid() {
			return nil, fmt.Errorf("connector %s: invalid kind", d.Name)
		}
		if d.Underground && d.MaxSpan <= 0 {
			return nil, fmt.Errorf("connector %s: underground connector needs max_span", d.Name)
		}
		if _, dup := c.byName[d.Name]; dup {
			return nil, fmt.Errorf("connector %s: duplicate", d.Name)
		}
		c.byName[d.Name] = d
		c.order = append(c.order, d)
	}
	sort.SliceStable(c.order, func(i, j int) bool {
		a, b := c.order[i], c.order[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Underground != b.Underground {
			return !a.Underground
		}
		return a.Tier < b.Tier
	})
	return c, nil
}

func MustDefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultConnectors())
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Lookup(name string) (Connector, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// All returns every connector ordered by kind, surface before underground, then tier.
func (c *Catalog) All() []Connector {
	return append([]Connector(nil), c.order...)
}

// KindOf returns the single kind shared by names.
func (c *Catalog) KindOf(names []string) (ConnectionKind, error) {
	var kind ConnectionKind
	for _, n := range names {
		d, ok := c.byName[n]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownConnector, n)
		}
		if kind != 0 && d.Kind != kind {
			return 0, fmt.Errorf("%w: %s is %s, expected %s", ErrMixedKinds, n, d.Kind, kind)
		}
		kind = d.Kind
	}
	if kind == 0 {
		return 0, fmt.Errorf("%w: no connectors given", ErrUnknownConnector)
	}
	return kind, nil
}

// Names returns the connectors of kind, surface connectors first.
func (c *Catalog) Names(kind ConnectionKind) []string {
	var out []string
	for _, d := range c.order {
		if d.Kind == kind {
			out = append(out, d.Name)
		}
	}
	return out
}

// Underground returns the lowest tier underground connector of kind.
func (c *Catalog) Underground(kind ConnectionKind) (Connector, bool) {
	for _, d := range c.order {
		if d.Kind == kind && d.Underground {
			return d, true
		}
	}
	return Connector{}, false
}

// MaxSpan is the longest underground span among connectors of kind.
func (c *Catalog) MaxSpan(kind ConnectionKind) int {
	span := 0
	for _, d := range c.order {
		if d.Kind == kind && d.MaxSpan > span {
			span = d.MaxSpan
		}
	}
	return span
}

// KindOfEntity reports the kind of a placed connector entity, if it is one.
func (c *Catalog) KindOfEntity(e Entity) (ConnectionKind, bool) {
	d, ok := c.byName[e.Name]
	if !ok {
		return 0, false
	}
	return d.Kind, true
}
