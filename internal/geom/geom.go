package geom

import (
	"fmt"
	"math"
	"sort"
)

// Grid is the placement grid step of the world. Remote placement rejects
// positions that are not multiples of it.
const Grid = 0.5

const eps = 1e-6

// Point is a world position. y grows southward.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func Pt(x, y float64) Point { return Point{X: x, Y: y} }

func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }
func (p Point) Scale(f float64) Point {
	return Point{X: p.X * f, Y: p.Y * f}
}

// Snap rounds both axes to the nearest multiple of Grid.
func (p Point) Snap() Point {
	return Point{X: snap(p.X), Y: snap(p.Y)}
}

func snap(v float64) float64 {
	s := math.Round(v/Grid) * Grid
	if s == 0 {
		// normalise -0
		return 0
	}
	return s
}

// IsSnapped reports whether p already lies on the half grid.
func (p Point) IsSnapped() bool {
	return math.Abs(p.X-snap(p.X)) < eps && math.Abs(p.Y-snap(p.Y)) < eps
}

func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Manhattan is the grid walking distance between p and q.
func (p Point) Manhattan(q Point) float64 {
	return math.Abs(p.X-q.X) + math.Abs(p.Y-q.Y)
}

// Near reports whether p and q are within tol of each other on both axes.
func (p Point) Near(q Point, tol float64) bool {
	return math.Abs(p.X-q.X) <= tol+eps && math.Abs(p.Y-q.Y) <= tol+eps
}

func (p Point) Equal(q Point) bool { return p.Near(q, 0) }

// Key is a comparable form of p quantised to the half grid, suitable for maps.
func (p Point) Key() Key {
	return Key{X: int64(math.Round(p.X / Grid)), Y: int64(math.Round(p.Y / Grid))}
}

func (p Point) Anchor() Point    { return p }
func (p Point) Describe() string { return p.String() }

func (p Point) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}

// Key indexes positions by half-grid cell.
type Key struct {
	X int64
	Y int64
}

func (k Key) Point() Point { return Point{X: float64(k.X) * Grid, Y: float64(k.Y) * Grid} }

// Less orders points by x, then y.
func Less(a, b Point) bool {
	if math.Abs(a.X-b.X) > eps {
		return a.X < b.X
	}
	return a.Y < b.Y-eps
}

func SortPoints(ps []Point) {
	sort.SliceStable(ps, func(i, j int) bool { return Less(ps[i], ps[j]) })
}

// Area is an axis aligned rectangle.
type Area struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// Bounds returns the smallest area holding every point, grown by pad on each side.
func Bounds(pad float64, ps ...Point) Area {
	if len(ps) == 0 {
		return Area{}
	}
	a := Area{Min: ps[0], Max: ps[0]}
	for _, p := range ps[1:] {
		a.Min.X = math.Min(a.Min.X, p.X)
		a.Min.Y = math.Min(a.Min.Y, p.Y)
		a.Max.X = math.Max(a.Max.X, p.X)
		a.Max.Y = math.Max(a.Max.Y, p.Y)
	}
	a.Min = a.Min.Sub(Point{X: pad, Y: pad})
	a.Max = a.Max.Add(Point{X: pad, Y: pad})
	return a
}

func (a Area) Center() Point {
	return Point{X: (a.Min.X + a.Max.X) / 2, Y: (a.Min.Y + a.Max.Y) / 2}
}

// Radius is the distance from the center to a corner.
func (a Area) Radius() float64 {
	return a.Center().Distance(a.Max)
}

func (a Area) Contains(p Point) bool {
	return p.X >= a.Min.X-eps && p.X <= a.Max.X+eps && p.Y >= a.Min.Y-eps && p.Y <= a.Max.Y+eps
}
