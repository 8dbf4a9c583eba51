package main

import (
	"fmt"
	"strconv"
	"strings"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/geom"
)

// parsePoint reads "x,y".
func parsePoint(s string) (geom.Point, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return geom.Point{}, fmt.Errorf("point %q: want x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geom.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geom.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	return geom.Pt(x, y), nil
}

// waypoints orders from, every via, then to.
func waypoints(from string, via []string, to string) ([]entity.Waypoint, error) {
	raw := append(append([]string{from}, via...), to)
	out := make([]entity.Waypoint, 0, len(raw))
	for _, s := range raw {
		p, err := parsePoint(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
