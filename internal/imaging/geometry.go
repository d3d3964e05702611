package imaging

// Box is an axis-aligned region in page coordinates, x2/y2 exclusive.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns the horizontal extent of the box.
func (b Box) Width() int { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b Box) Height() int { return b.Y2 - b.Y1 }

// Empty reports whether the box encloses no pixels.
func (b Box) Empty() bool { return b.X2 <= b.X1 || b.Y2 <= b.Y1 }

// Polygon is a flat list of alternating x,y coordinates.
type Polygon []int

// Bounds returns the bounding box of the polygon points.
func (p Polygon) Bounds() Box {
	if len(p) < 2 {
		return Box{}
	}
	b := Box{X1: p[0], Y1: p[1], X2: p[0], Y2: p[1]}
	for i := 0; i+1 < len(p); i += 2 {
		x, y := p[i], p[i+1]
		if x < b.X1 {
			b.X1 = x
		}
		if y < b.Y1 {
			b.Y1 = y
		}
		if x > b.X2 {
			b.X2 = x
		}
		if y > b.Y2 {
			b.Y2 = y
		}
	}
	return b
}

// PolygonFromBox returns the four-corner polygon of a box.
func PolygonFromBox(b Box) Polygon {
	return Polygon{b.X1, b.Y1, b.X2, b.Y1, b.X2, b.Y2, b.X1, b.Y2}
}

// Translate shifts every polygon point by (dx, dy), rebasing it into a
// different coordinate system.
func (p Polygon) Translate(dx, dy int) Polygon {
	out := make(Polygon, len(p))
	for i := 0; i+1 < len(p); i += 2 {
		out[i] = p[i] + dx
		out[i+1] = p[i+1] + dy
	}
	return out
}
