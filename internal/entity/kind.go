package entity

import (
	"fmt"
	"strings"
)

// ConnectionKind is the category a connector belongs to.
type ConnectionKind int

const (
	KindFluid ConnectionKind = iota + 1
	KindTransport
	KindPower
	KindWall
)

// Kinds lists every kind in dispatch order.
var Kinds = []ConnectionKind{KindFluid, KindTransport, KindPower, KindWall}

func (k ConnectionKind) Valid() bool { return k >= KindFluid && k <= KindWall }

func (k ConnectionKind) String() string {
	switch k {
	case KindFluid:
		return "fluid"
	case KindTransport:
		return "transport"
	case KindPower:
		return "power"
	case KindWall:
		return "wall"
	default:
		return "unknown"
	}
}

func ParseKind(s string) (ConnectionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fluid", "pipe":
		return KindFluid, nil
	case "transport", "belt":
		return KindTransport, nil
	case "power", "pole":
		return KindPower, nil
	case "wall":
		return KindWall, nil
	}
	return 0, fmt.Errorf("unknown connection kind %q", s)
}

func (k ConnectionKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid connection kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *ConnectionKind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
