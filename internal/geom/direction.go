package geom

import "fmt"

type Direction int

const (
	North Direction = iota
	East
	South
	West
)

var unitVectors = [4]Point{
	North: {X: 0, Y: -1},
	East:  {X: 1, Y: 0},
	South: {X: 0, Y: 1},
	West:  {X: -1, Y: 0},
}

func (d Direction) Valid() bool { return d >= North && d <= West }

// Vector is the unit step of d.
func (d Direction) Vector() Point {
	if !d.Valid() {
		return Point{}
	}
	return unitVectors[d]
}

func (d Direction) Opposite() Direction {
	return (d + 2) % 4
}

// Step moves p n units along d.
func (d Direction) Step(p Point, n float64) Point {
	return p.Add(d.Vector().Scale(n))
}

func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case East:
		return "east"
	case South:
		return "south"
	case West:
		return "west"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// DirectionTo returns the cardinal direction of the dominant axis from a to b.
func DirectionTo(a, b Point) Direction {
	d := b.Sub(a)
	if abs(d.X) >= abs(d.Y) {
		if d.X >= 0 {
			return East
		}
		return West
	}
	if d.Y >= 0 {
		return South
	}
	return North
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
