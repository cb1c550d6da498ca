package spatial

import "math"

// Rect is an axis-aligned rectangle in stage coordinates. The origin is the
// bottom-left corner of the stage and y grows upward.
type Rect struct {
	Left, Bottom  float64
	Width, Height float64
}

// Right returns the x coordinate of the right edge.
func (r Rect) Right() float64 { return r.Left + r.Width }

// Top returns the y coordinate of the top edge.
func (r Rect) Top() float64 { return r.Bottom + r.Height }

// Contains reports whether (x, y) lies inside r, edges included.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.Left && x <= r.Right() && y >= r.Bottom && y <= r.Top()
}

// OverlapsCircle reports whether a circle of the given radius centered on
// (cx, cy) intersects r.
func (r Rect) OverlapsCircle(cx, cy, radius float64) bool {
	nx := clamp(cx, r.Left, r.Right())
	ny := clamp(cy, r.Bottom, r.Top())
	dx, dy := cx-nx, cy-ny
	return dx*dx+dy*dy < radius*radius
}

// SegmentEntry returns the parametric position t in [0, 1] at which the
// segment (x1, y1)→(x2, y2) first touches r. A segment starting inside r
// enters at t = 0.
func (r Rect) SegmentEntry(x1, y1, x2, y2 float64) (float64, bool) {
	dx, dy := x2-x1, y2-y1
	p := [4]float64{-dx, dx, -dy, dy}
	q := [4]float64{x1 - r.Left, r.Right() - x1, y1 - r.Bottom, r.Top() - y1}

	t0, t1 := 0.0, 1.0
	for i := 0; i < 4; i++ {
		if p[i] == 0 {
			if q[i] < 0 {
				return 0, false
			}
			continue
		}
		t := q[i] / p[i]
		if p[i] < 0 {
			if t > t1 {
				return 0, false
			}
			if t > t0 {
				t0 = t
			}
		} else {
			if t < t0 {
				return 0, false
			}
			if t < t1 {
				t1 = t
			}
		}
	}
	return t0, true
}

// Penetration returns the displacement that pushes a circle out of r along
// the axis of least overlap, using the circle's bounding square. ok is false
// when the circle does not touch r.
func (r Rect) Penetration(cx, cy, radius float64) (dx, dy float64, ok bool) {
	if !r.OverlapsCircle(cx, cy, radius) {
		return 0, 0, false
	}

	pushLeft := (cx + radius) - r.Left
	pushRight := r.Right() - (cx - radius)
	pushDown := (cy + radius) - r.Bottom
	pushUp := r.Top() - (cy - radius)

	best := pushLeft
	dx, dy = -pushLeft, 0
	if pushRight < best {
		best = pushRight
		dx, dy = pushRight, 0
	}
	if pushDown < best {
		best = pushDown
		dx, dy = 0, -pushDown
	}
	if pushUp < best {
		dx, dy = 0, pushUp
	}
	return dx, dy, true
}

// CircleEntry returns the smallest t in [0, 1] at which the segment
// (x1, y1)→(x2, y2) comes within radius of (cx, cy).
func CircleEntry(x1, y1, x2, y2, cx, cy, radius float64) (float64, bool) {
	dx, dy := x2-x1, y2-y1
	fx, fy := x1-cx, y1-cy

	c := fx*fx + fy*fy - radius*radius
	if c <= 0 {
		return 0, true
	}
	a := dx*dx + dy*dy
	if a == 0 {
		return 0, false
	}
	b := 2 * (fx*dx + fy*dy)
	disc := b*b - 4*a*c
	if disc < 0 {
		return 0, false
	}
	t := (-b - math.Sqrt(disc)) / (2 * a)
	if t < 0 || t > 1 {
		return 0, false
	}
	return t, true
}

// Distance returns the euclidean distance between two points.
func Distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

// NormalAbsoluteAngle maps an angle in radians into [0, 2π).
func NormalAbsoluteAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

// NormalRelativeAngle maps an angle in radians into [-π, π).
func NormalRelativeAngle(a float64) float64 {
	a = NormalAbsoluteAngle(a)
	if a >= math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 { return clamp(v, lo, hi) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
