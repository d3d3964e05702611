package detect

import (
	"context"
	"image"

	"github.com/adverant/nexus/ocr-worker/internal/imaging"
	"github.com/adverant/nexus/ocr-worker/internal/mask"
)

// ProjectionDetector is the default line/word detector. It binarizes the
// image against its mean luminance and segments ink runs on the
// horizontal (lines) or vertical (words) projection profile.
type ProjectionDetector struct {
	// MinInkRatio is the fraction of a row/column that must carry ink for
	// it to count as part of a text run.
	MinInkRatio float64
	// WordGap is the number of consecutive blank columns that separates
	// two words inside a line.
	WordGap int
}

// NewProjectionDetector returns a detector with defaults tuned for
// 300dpi document scans.
func NewProjectionDetector() *ProjectionDetector {
	return &ProjectionDetector{MinInkRatio: 0.01, WordGap: 6}
}

// DetectLines segments the page into horizontal text lines.
func (d *ProjectionDetector) DetectLines(ctx context.Context, img image.Image) ([]imaging.Box, error) {
	gray := imaging.ToGray(img)
	ink := binarize(gray)
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()

	minInk := int(d.MinInkRatio * float64(w))
	if minInk < 1 {
		minInk = 1
	}

	rowInk := make([]int, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ink[y*w+x] {
				rowInk[y]++
			}
		}
	}

	var boxes []imaging.Box
	runStart := -1
	for y := 0; y <= h; y++ {
		inRun := y < h && rowInk[y] >= minInk
		if inRun && runStart < 0 {
			runStart = y
		}
		if !inRun && runStart >= 0 {
			boxes = append(boxes, lineExtent(ink, w, runStart, y))
			runStart = -1
		}
	}
	return boxes, nil
}

// DetectWordMasks segments a line crop into word masks on the vertical
// projection profile. Adjacent glyph groups closer than WordGap columns
// share a mask.
func (d *ProjectionDetector) DetectWordMasks(ctx context.Context, lineCrop image.Image) ([]mask.Mask, error) {
	gray := imaging.ToGray(lineCrop)
	ink := binarize(gray)
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()

	colInk := make([]int, w)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			if ink[y*w+x] {
				colInk[x]++
			}
		}
	}

	var masks []mask.Mask
	runStart, blanks := -1, 0
	flush := func(end int) {
		if runStart < 0 {
			return
		}
		m := mask.New(w, h)
		for x := runStart; x < end; x++ {
			for y := 0; y < h; y++ {
				if ink[y*w+x] {
					m.Set(x, y)
				}
			}
		}
		if m.Area() > 0 {
			masks = append(masks, m)
		}
		runStart = -1
	}

	for x := 0; x <= w; x++ {
		hasInk := x < w && colInk[x] > 0
		switch {
		case hasInk:
			if runStart < 0 {
				runStart = x
			}
			blanks = 0
		case runStart >= 0:
			blanks++
			if blanks >= d.WordGap || x == w {
				flush(x - blanks + 1)
				blanks = 0
			}
		}
	}
	flush(w)
	return masks, nil
}

// lineExtent computes the horizontal span of ink inside the row range
// [y1, y2), yielding the final line box.
func lineExtent(ink []bool, w, y1, y2 int) imaging.Box {
	x1, x2 := w, 0
	for y := y1; y < y2; y++ {
		for x := 0; x < w; x++ {
			if !ink[y*w+x] {
				continue
			}
			if x < x1 {
				x1 = x
			}
			if x >= x2 {
				x2 = x + 1
			}
		}
	}
	if x1 >= x2 {
		x1, x2 = 0, w
	}
	return imaging.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// binarize thresholds a grayscale image against its mean luminance; true
// marks ink (darker than the mean).
func binarize(gray *image.Gray) []bool {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	var sum uint64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum += uint64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
		}
	}
	threshold := uint8(sum / uint64(w*h))
	if threshold > 250 {
		threshold = 250
	}

	ink := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ink[y*w+x] = gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y < threshold
		}
	}
	return ink
}
