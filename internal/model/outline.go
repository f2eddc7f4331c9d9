package model

import "math"

// Point2D represents a 2D coordinate in mm. Y increases upward.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Outline represents a closed polygon as a sequence of 2D points.
// The outline is implicitly closed: the last point connects back to the first.
type Outline []Point2D

// BoundingBox returns the min and max corners of the outline.
func (o Outline) BoundingBox() (min, max Point2D) {
	if len(o) == 0 {
		return Point2D{}, Point2D{}
	}
	min = Point2D{X: o[0].X, Y: o[0].Y}
	max = Point2D{X: o[0].X, Y: o[0].Y}
	for _, p := range o[1:] {
		if p.X < min.X {
			min.X = p.X
		}
		if p.Y < min.Y {
			min.Y = p.Y
		}
		if p.X > max.X {
			max.X = p.X
		}
		if p.Y > max.Y {
			max.Y = p.Y
		}
	}
	return min, max
}

// Size returns the width and height of the bounding box.
func (o Outline) Size() (w, h float64) {
	min, max := o.BoundingBox()
	return max.X - min.X, max.Y - min.Y
}

// Translate shifts all points by dx, dy.
func (o Outline) Translate(dx, dy float64) Outline {
	result := make(Outline, len(o))
	for i, p := range o {
		result[i] = Point2D{X: p.X + dx, Y: p.Y + dy}
	}
	return result
}

// SignedArea returns the shoelace area: positive for counter-clockwise
// outlines, negative for clockwise ones.
func (o Outline) SignedArea() float64 {
	n := len(o)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += o[i].X*o[j].Y - o[j].X*o[i].Y
	}
	return sum / 2
}

// Area returns the absolute area of the outline.
func (o Outline) Area() float64 {
	return math.Abs(o.SignedArea())
}

// Centroid returns the area-weighted centroid of a simple polygon. For a
// degenerate outline with zero area it falls back to the vertex average.
func (o Outline) Centroid() Point2D {
	n := len(o)
	if n == 0 {
		return Point2D{}
	}
	a := o.SignedArea()
	if math.Abs(a) < 1e-12 {
		var c Point2D
		for _, p := range o {
			c.X += p.X
			c.Y += p.Y
		}
		return Point2D{X: c.X / float64(n), Y: c.Y / float64(n)}
	}
	var cx, cy float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		cross := o[i].X*o[j].Y - o[j].X*o[i].Y
		cx += (o[i].X + o[j].X) * cross
		cy += (o[i].Y + o[j].Y) * cross
	}
	return Point2D{X: cx / (6 * a), Y: cy / (6 * a)}
}

// RotateAbout rotates the outline counter-clockwise by deg degrees around
// the given origin.
func (o Outline) RotateAbout(origin Point2D, deg float64) Outline {
	sin, cos := sinCosDeg(deg)
	result := make(Outline, len(o))
	for i, p := range o {
		dx := p.X - origin.X
		dy := p.Y - origin.Y
		result[i] = Point2D{
			X: origin.X + dx*cos - dy*sin,
			Y: origin.Y + dx*sin + dy*cos,
		}
	}
	return result
}

// RotateAboutCentroid rotates the outline by deg degrees around its own
// area-weighted centroid, so the bounding box stays centred on that point.
func (o Outline) RotateAboutCentroid(deg float64) Outline {
	return o.RotateAbout(o.Centroid(), deg)
}

// sinCosDeg returns exact values for multiples of 90 degrees so that
// quarter turns do not pick up rounding noise.
func sinCosDeg(deg float64) (sin, cos float64) {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	switch d {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}
	return math.Sincos(d * math.Pi / 180)
}

// Rect is an axis-aligned rectangle with its origin at the lower-left corner.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ContainsOutline reports whether every vertex of o lies inside or on the
// boundary of r. A rectangle is convex, so this also covers every edge.
func (r Rect) ContainsOutline(o Outline) bool {
	if len(o) == 0 {
		return false
	}
	for _, p := range o {
		if p.X < r.X || p.X > r.X+r.Width || p.Y < r.Y || p.Y > r.Y+r.Height {
			return false
		}
	}
	return true
}

// Distinct returns a copy of the outline with consecutive duplicate points
// and a repeated closing point removed.
func (o Outline) Distinct(tolerance float64) Outline {
	var result Outline
	for _, p := range o {
		if len(result) > 0 && pointsClose(result[len(result)-1], p, tolerance) {
			continue
		}
		result = append(result, p)
	}
	for len(result) > 1 && pointsClose(result[0], result[len(result)-1], tolerance) {
		result = result[:len(result)-1]
	}
	return result
}

// Clockwise reports whether the outline winds clockwise.
func (o Outline) Clockwise() bool {
	return o.SignedArea() < 0
}

// Reversed returns the outline with its winding reversed.
func (o Outline) Reversed() Outline {
	result := make(Outline, len(o))
	for i, p := range o {
		result[len(o)-1-i] = p
	}
	return result
}

func pointsClose(a, b Point2D, tolerance float64) bool {
	return math.Hypot(a.X-b.X, a.Y-b.Y) <= tolerance
}
