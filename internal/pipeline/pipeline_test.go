/**
 * Pipeline Toolbox Tests
 *
 * Exercises the per-page stages with scripted detector and recognizer
 * fakes, validating reading order, right-to-left assembly, and the
 * recognition switch.
 */

package pipeline

import (
	"context"
	"fmt"
	"image"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/batch"
	"github.com/adverant/nexus/ocr-worker/internal/detect"
	"github.com/adverant/nexus/ocr-worker/internal/imaging"
	"github.com/adverant/nexus/ocr-worker/internal/mask"
)

type fakeLineDetector struct {
	boxes []imaging.Box
	err   error
}

func (f *fakeLineDetector) DetectLines(ctx context.Context, img image.Image) ([]imaging.Box, error) {
	return f.boxes, f.err
}

type fakeWordDetector struct {
	masks map[int][]mask.Mask // keyed by call number
	calls int
	err   error
}

func (f *fakeWordDetector) DetectWordMasks(ctx context.Context, lineCrop image.Image) ([]mask.Mask, error) {
	if f.err != nil {
		return nil, f.err
	}
	masks := f.masks[f.calls]
	f.calls++
	return masks, nil
}

// positionRecognizer returns text derived from each crop's width so
// tests can tell which word produced which prediction.
type positionRecognizer struct {
	byWidth map[int]string
}

func (f *positionRecognizer) Recognize(ctx context.Context, crops []image.Image) ([]detect.Prediction, error) {
	predictions := make([]detect.Prediction, len(crops))
	for i, crop := range crops {
		text := f.byWidth[crop.Bounds().Dx()]
		if text == "" {
			text = fmt.Sprintf("w%d", crop.Bounds().Dx())
		}
		predictions[i] = detect.Prediction{Text: text, Confidence: 0.8}
	}
	return predictions, nil
}

func newTestPipeline(lines detect.LineDetector, words detect.WordDetector, rec detect.Recognizer, enableRecognition bool) *Pipeline {
	scheduler := batch.NewWithSampler(batch.Config{
		ParallelEnabled: false,
		MaxWorkers:      1,
		MaxBatchSize:    1,
	}, func() float64 { return 0 }, zerolog.Nop())
	return New(lines, words, rec, scheduler, Config{
		EnableRecognition:  enableRecognition,
		MergeDiceThreshold: 0.5,
	}, zerolog.Nop())
}

func blankPage(w, h int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func rectMask(w, h, x1, y1, x2, y2 int) mask.Mask {
	m := mask.New(w, h)
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			m.Set(x, y)
		}
	}
	return m
}

func TestDetectLinesSortsTopToBottom(t *testing.T) {
	lines := &fakeLineDetector{boxes: []imaging.Box{
		{X1: 0, Y1: 40, X2: 100, Y2: 50},
		{X1: 0, Y1: 10, X2: 100, Y2: 20},
		{X1: 0, Y1: 25, X2: 100, Y2: 35},
	}}
	p := newTestPipeline(lines, &fakeWordDetector{}, &positionRecognizer{}, true)

	boxes, err := p.DetectLines(context.Background(), blankPage(100, 60))
	require.NoError(t, err)
	require.Len(t, boxes, 3)
	assert.Equal(t, 10, boxes[0].Y1)
	assert.Equal(t, 25, boxes[1].Y1)
	assert.Equal(t, 40, boxes[2].Y1)
}

func TestDetectWordsMergesOverlappingMasks(t *testing.T) {
	lineBox := imaging.Box{X1: 0, Y1: 0, X2: 60, Y2: 12}
	words := &fakeWordDetector{masks: map[int][]mask.Mask{
		0: {
			// Heavy overlap, must merge into one region.
			rectMask(60, 12, 2, 2, 20, 10),
			rectMask(60, 12, 4, 2, 22, 10),
			// Disjoint second word.
			rectMask(60, 12, 40, 2, 55, 10),
		},
	}}
	p := newTestPipeline(&fakeLineDetector{}, words, &positionRecognizer{}, true)

	polygons, err := p.DetectWords(context.Background(), blankPage(60, 12), []imaging.Box{lineBox})
	require.NoError(t, err)
	require.Len(t, polygons, 1)
	require.Len(t, polygons[0], 2)

	assert.Equal(t, imaging.Box{X1: 2, Y1: 2, X2: 22, Y2: 10}, polygons[0][0].Bounds())
	assert.Equal(t, imaging.Box{X1: 40, Y1: 2, X2: 55, Y2: 10}, polygons[0][1].Bounds())
}

func TestDetectWordsNoLines(t *testing.T) {
	p := newTestPipeline(&fakeLineDetector{}, &fakeWordDetector{}, &positionRecognizer{}, true)
	polygons, err := p.DetectWords(context.Background(), blankPage(60, 12), nil)
	require.NoError(t, err)
	assert.Empty(t, polygons)
}

func TestRecognizePageAssemblesRightToLeft(t *testing.T) {
	// One line with two words: left word 10 wide, right word 20 wide. The
	// right word must come first in the assembled line.
	lineBox := imaging.Box{X1: 0, Y1: 0, X2: 100, Y2: 12}
	polygons := [][]imaging.Polygon{{
		imaging.PolygonFromBox(imaging.Box{X1: 5, Y1: 2, X2: 15, Y2: 10}),
		imaging.PolygonFromBox(imaging.Box{X1: 60, Y1: 2, X2: 80, Y2: 10}),
	}}
	rec := &positionRecognizer{byWidth: map[int]string{
		10: "چپ",
		20: "راست",
	}}
	p := newTestPipeline(&fakeLineDetector{}, &fakeWordDetector{}, rec, true)

	text, confidence, err := p.RecognizePage(context.Background(), blankPage(100, 12), []imaging.Box{lineBox}, polygons)
	require.NoError(t, err)
	assert.Equal(t, "راست چپ", text)
	assert.InDelta(t, 0.8, confidence, 1e-9)
}

func TestRecognizePageJoinsLinesWithNewline(t *testing.T) {
	lineBoxes := []imaging.Box{
		{X1: 0, Y1: 0, X2: 100, Y2: 12},
		{X1: 0, Y1: 20, X2: 100, Y2: 32},
	}
	polygons := [][]imaging.Polygon{
		{imaging.PolygonFromBox(imaging.Box{X1: 5, Y1: 2, X2: 15, Y2: 10})},
		{imaging.PolygonFromBox(imaging.Box{X1: 5, Y1: 2, X2: 25, Y2: 10})},
	}
	rec := &positionRecognizer{byWidth: map[int]string{
		10: "بالا",
		20: "پایین",
	}}
	p := newTestPipeline(&fakeLineDetector{}, &fakeWordDetector{}, rec, true)

	text, _, err := p.RecognizePage(context.Background(), blankPage(100, 40), lineBoxes, polygons)
	require.NoError(t, err)
	assert.Equal(t, "بالا\nپایین", text)
}

func TestRecognizePageSkipsEmptyLines(t *testing.T) {
	lineBoxes := []imaging.Box{
		{X1: 0, Y1: 0, X2: 100, Y2: 12},
		{X1: 0, Y1: 20, X2: 100, Y2: 32},
	}
	polygons := [][]imaging.Polygon{
		{}, // word detection found nothing on line 0
		{imaging.PolygonFromBox(imaging.Box{X1: 5, Y1: 2, X2: 15, Y2: 10})},
	}
	rec := &positionRecognizer{byWidth: map[int]string{10: "تنها"}}
	p := newTestPipeline(&fakeLineDetector{}, &fakeWordDetector{}, rec, true)

	text, _, err := p.RecognizePage(context.Background(), blankPage(100, 40), lineBoxes, polygons)
	require.NoError(t, err)
	assert.Equal(t, "تنها", text)
}

func TestRecognizePageDisabled(t *testing.T) {
	p := newTestPipeline(&fakeLineDetector{}, &fakeWordDetector{}, &positionRecognizer{}, false)

	text, confidence, err := p.RecognizePage(context.Background(), blankPage(100, 12), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DisabledRecognitionText, text)
	assert.Equal(t, 0.0, confidence)
}

func TestRecognizePageNoWordsAnywhere(t *testing.T) {
	p := newTestPipeline(&fakeLineDetector{}, &fakeWordDetector{}, &positionRecognizer{}, true)

	text, confidence, err := p.RecognizePage(context.Background(), blankPage(100, 12),
		[]imaging.Box{{X1: 0, Y1: 0, X2: 100, Y2: 12}}, [][]imaging.Polygon{{}})
	require.NoError(t, err)
	assert.Equal(t, "", text)
	assert.Equal(t, 0.0, confidence)
}
