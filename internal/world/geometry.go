package world

import "fmt"

// Position is a point in the simulated environment.
type Position struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	Z int `json:"z" yaml:"z"`
}

// Add returns p offset by q.
func (p Position) Add(q Position) Position {
	return Position{X: p.X + q.X, Y: p.Y + q.Y, Z: p.Z + q.Z}
}

func (p Position) String() string {
	return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z)
}

// Size is the extent of a fixture along each axis.
type Size struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	Z int `json:"z" yaml:"z"`
}

// Valid reports whether every axis is positive.
func (s Size) Valid() bool {
	return s.X > 0 && s.Y > 0 && s.Z > 0
}

// Region is an axis-aligned box: Min inclusive, Max exclusive.
type Region struct {
	Min Position `json:"min"`
	Max Position `json:"max"`
}

// RegionAt returns the region of the given size anchored at origin.
func RegionAt(origin Position, size Size) Region {
	return Region{
		Min: origin,
		Max: origin.Add(Position{X: size.X, Y: size.Y, Z: size.Z}),
	}
}

// Overlaps reports whether r and o share any cell.
func (r Region) Overlaps(o Region) bool {
	return r.Min.X < o.Max.X && o.Min.X < r.Max.X &&
		r.Min.Y < o.Max.Y && o.Min.Y < r.Max.Y &&
		r.Min.Z < o.Max.Z && o.Min.Z < r.Max.Z
}

func (r Region) String() string {
	return fmt.Sprintf("[%s..%s)", r.Min, r.Max)
}
