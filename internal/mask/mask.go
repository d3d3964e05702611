/**
 * Mask Merge Engine
 *
 * Consolidates overlapping binary detection masks into a reduced set of
 * regions. Pairs whose Dice similarity exceeds the threshold are joined in
 * a disjoint-set structure, so the final groups are the connected
 * components of the similarity relation: if A overlaps B and B overlaps C,
 * all three merge even when A and C do not directly exceed the threshold.
 * That transitive behavior is the contract, not an approximation.
 */

package mask

import "fmt"

// Mask is a 2D binary region tied to one detection.
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

// New creates an empty mask of the given dimensions.
func New(width, height int) Mask {
	return Mask{Width: width, Height: height, Bits: make([]bool, width*height)}
}

// Set marks the pixel at (x, y).
func (m Mask) Set(x, y int) {
	m.Bits[y*m.Width+x] = true
}

// At reports whether the pixel at (x, y) is set.
func (m Mask) At(x, y int) bool {
	return m.Bits[y*m.Width+x]
}

// Area returns the number of set pixels.
func (m Mask) Area() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Bounds returns the bounding box (x1, y1, x2, y2) of the set pixels,
// with x2/y2 exclusive. ok is false for an empty mask.
func (m Mask) Bounds() (x1, y1, x2, y2 int, ok bool) {
	x1, y1 = m.Width, m.Height
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if !m.Bits[y*m.Width+x] {
				continue
			}
			ok = true
			if x < x1 {
				x1 = x
			}
			if y < y1 {
				y1 = y
			}
			if x >= x2 {
				x2 = x + 1
			}
			if y >= y2 {
				y2 = y + 1
			}
		}
	}
	if !ok {
		return 0, 0, 0, 0, false
	}
	return x1, y1, x2, y2, true
}

// Dice computes the Dice similarity coefficient between two masks:
// 2*|A∩B| / (|A|+|B|). Two empty masks are defined as identical (1.0).
func Dice(a, b Mask) float64 {
	intersection, total := 0, 0
	for i, bit := range a.Bits {
		if bit {
			total++
			if b.Bits[i] {
				intersection++
			}
		}
	}
	for _, bit := range b.Bits {
		if bit {
			total++
		}
	}
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(intersection) / float64(total)
}

// Merge consolidates masks whose pairwise Dice score exceeds threshold.
// All masks must share the same dimensions. The output masks are the
// pixelwise OR of each connected group; output order is not guaranteed to
// match input order. Cost is O(n²) comparisons, acceptable because n is a
// per-line word count in practice.
func Merge(masks []Mask, threshold float64) ([]Mask, error) {
	n := len(masks)
	if n < 2 {
		return masks, nil
	}
	for i := 1; i < n; i++ {
		if masks[i].Width != masks[0].Width || masks[i].Height != masks[0].Height {
			return nil, fmt.Errorf("mask: dimension mismatch at index %d: %dx%d vs %dx%d",
				i, masks[i].Width, masks[i].Height, masks[0].Width, masks[0].Height)
		}
	}

	ds := newDisjointSet(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if Dice(masks[i], masks[j]) > threshold {
				ds.union(i, j)
			}
		}
	}

	// Collect group members keyed by root, preserving first-seen order of
	// roots for determinism.
	groupOrder := make([]int, 0, n)
	groups := make(map[int][]int, n)
	for i := 0; i < n; i++ {
		root := ds.find(i)
		if _, seen := groups[root]; !seen {
			groupOrder = append(groupOrder, root)
		}
		groups[root] = append(groups[root], i)
	}

	merged := make([]Mask, 0, len(groups))
	for _, root := range groupOrder {
		out := New(masks[0].Width, masks[0].Height)
		for _, idx := range groups[root] {
			for i, bit := range masks[idx].Bits {
				if bit {
					out.Bits[i] = true
				}
			}
		}
		merged = append(merged, out)
	}
	return merged, nil
}

// disjointSet is a union-find structure with path compression.
type disjointSet struct {
	parent []int
}

func newDisjointSet(n int) *disjointSet {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &disjointSet{parent: parent}
}

func (d *disjointSet) find(i int) int {
	if d.parent[i] != i {
		d.parent[i] = d.find(d.parent[i])
	}
	return d.parent[i]
}

func (d *disjointSet) union(i, j int) {
	rootI, rootJ := d.find(i), d.find(j)
	if rootI != rootJ {
		d.parent[rootJ] = rootI
	}
}
