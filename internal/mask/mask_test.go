/**
 * Mask Merging Tests
 *
 * Validates the Dice coefficient and the transitive-closure merge over
 * fabricated binary masks with known overlaps.
 */

package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rectMask builds a mask with a filled rectangle [x1,x2) x [y1,y2).
func rectMask(w, h, x1, y1, x2, y2 int) Mask {
	m := New(w, h)
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			m.Set(x, y)
		}
	}
	return m
}

func TestDice(t *testing.T) {
	testCases := []struct {
		name     string
		a, b     Mask
		expected float64
	}{
		{
			name:     "identical masks",
			a:        rectMask(10, 10, 0, 0, 4, 4),
			b:        rectMask(10, 10, 0, 0, 4, 4),
			expected: 1.0,
		},
		{
			name:     "disjoint masks",
			a:        rectMask(10, 10, 0, 0, 3, 3),
			b:        rectMask(10, 10, 5, 5, 8, 8),
			expected: 0.0,
		},
		{
			name:     "both empty",
			a:        New(10, 10),
			b:        New(10, 10),
			expected: 1.0,
		},
		{
			name:     "one empty",
			a:        rectMask(10, 10, 0, 0, 3, 3),
			b:        New(10, 10),
			expected: 0.0,
		},
		{
			// A = [0,4)x[0,2) (8 px), B = [2,6)x[0,2) (8 px), overlap 4 px.
			// Dice = 2*4 / (8+8) = 0.5.
			name:     "half overlap",
			a:        rectMask(10, 10, 0, 0, 4, 2),
			b:        rectMask(10, 10, 2, 0, 6, 2),
			expected: 0.5,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, Dice(tc.a, tc.b), 1e-9)
			assert.InDelta(t, tc.expected, Dice(tc.b, tc.a), 1e-9, "dice must be symmetric")
		})
	}
}

func TestMergeKeepsDisjointMasks(t *testing.T) {
	masks := []Mask{
		rectMask(20, 10, 0, 0, 4, 4),
		rectMask(20, 10, 10, 0, 14, 4),
	}

	merged, err := Merge(masks, 0.5)
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, 16, merged[0].Area())
	assert.Equal(t, 16, merged[1].Area())
}

func TestMergeCombinesOverlappingMasks(t *testing.T) {
	masks := []Mask{
		rectMask(20, 10, 0, 0, 6, 4),
		rectMask(20, 10, 2, 0, 8, 4),
	}

	merged, err := Merge(masks, 0.5)
	require.NoError(t, err)
	require.Len(t, merged, 1)

	// Union covers [0,8) x [0,4).
	assert.Equal(t, 32, merged[0].Area())
	x1, y1, x2, y2, ok := merged[0].Bounds()
	require.True(t, ok)
	assert.Equal(t, [4]int{0, 0, 8, 4}, [4]int{x1, y1, x2, y2})
}

func TestMergeIsTransitive(t *testing.T) {
	// A overlaps B, B overlaps C, but A and C are disjoint. All three must
	// land in one group through the chain.
	masks := []Mask{
		rectMask(30, 10, 0, 0, 8, 4),
		rectMask(30, 10, 5, 0, 13, 4),
		rectMask(30, 10, 10, 0, 18, 4),
	}
	require.Equal(t, 0.0, Dice(masks[0], masks[2]), "precondition: A and C disjoint")

	merged, err := Merge(masks, 0.3)
	require.NoError(t, err)
	require.Len(t, merged, 1)

	x1, _, x2, _, ok := merged[0].Bounds()
	require.True(t, ok)
	assert.Equal(t, 0, x1)
	assert.Equal(t, 18, x2)
}

func TestMergeIsIdempotent(t *testing.T) {
	masks := []Mask{
		rectMask(20, 10, 0, 0, 6, 4),
		rectMask(20, 10, 2, 0, 8, 4),
		rectMask(20, 10, 12, 0, 16, 4),
	}

	once, err := Merge(masks, 0.5)
	require.NoError(t, err)
	twice, err := Merge(once, 0.5)
	require.NoError(t, err)

	require.Len(t, twice, len(once))
	for i := range once {
		assert.Equal(t, once[i].Bits, twice[i].Bits)
	}
}

func TestMergeBelowThresholdStaysSeparate(t *testing.T) {
	// Overlap Dice is 0.5; a higher threshold must keep the masks apart.
	masks := []Mask{
		rectMask(20, 10, 0, 0, 4, 2),
		rectMask(20, 10, 2, 0, 6, 2),
	}

	merged, err := Merge(masks, 0.75)
	require.NoError(t, err)
	assert.Len(t, merged, 2)
}

func TestMergeRejectsMismatchedDimensions(t *testing.T) {
	masks := []Mask{
		rectMask(10, 10, 0, 0, 2, 2),
		rectMask(12, 10, 0, 0, 2, 2),
	}

	_, err := Merge(masks, 0.5)
	assert.Error(t, err)
}

func TestMergeEmptyInput(t *testing.T) {
	merged, err := Merge(nil, 0.5)
	require.NoError(t, err)
	assert.Empty(t, merged)
}
