/**
 * Per-Page OCR Toolbox
 *
 * Implementation logic behind the three pipeline stages. The queue
 * handlers control the flow; this package only knows how to turn one page
 * image into line boxes, word polygons, and recognized text. Model
 * handles are injected once per worker process and are read-only
 * afterward.
 */

package pipeline

import (
	"context"
	"image"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/adverant/nexus/ocr-worker/internal/batch"
	"github.com/adverant/nexus/ocr-worker/internal/detect"
	"github.com/adverant/nexus/ocr-worker/internal/imaging"
	"github.com/adverant/nexus/ocr-worker/internal/mask"
	"github.com/adverant/nexus/ocr-worker/internal/textutil"
)

// DisabledRecognitionText is emitted when recognition is switched off.
const DisabledRecognitionText = "[RECOGNITION DISABLED]"

// Config holds pipeline behavior switches.
type Config struct {
	EnableRecognition  bool
	MergeDiceThreshold float64
}

// Pipeline bundles the model capability handles with the batch scheduler.
type Pipeline struct {
	lines      detect.LineDetector
	words      detect.WordDetector
	recognizer detect.Recognizer
	scheduler  *batch.Scheduler
	cfg        Config
	logger     zerolog.Logger
}

// New assembles a pipeline from injected capability handles.
func New(lines detect.LineDetector, words detect.WordDetector, recognizer detect.Recognizer, scheduler *batch.Scheduler, cfg Config, logger zerolog.Logger) *Pipeline {
	if cfg.MergeDiceThreshold <= 0 || cfg.MergeDiceThreshold > 1 {
		cfg.MergeDiceThreshold = 0.5
	}
	return &Pipeline{
		lines:      lines,
		words:      words,
		recognizer: recognizer,
		scheduler:  scheduler,
		cfg:        cfg,
		logger:     logger,
	}
}

// DetectLines finds all line boxes on a page, sorted top-to-bottom for
// correct reading order.
func (p *Pipeline) DetectLines(ctx context.Context, img image.Image) ([]imaging.Box, error) {
	boxes, err := p.lines.DetectLines(ctx, img)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].Y1 < boxes[j].Y1 })
	return boxes, nil
}

// DetectWords finds word polygons for every line, in line-crop
// coordinates. Line crops are processed through the adaptive batch
// scheduler; a failing line yields an empty polygon list for that line
// only.
func (p *Pipeline) DetectWords(ctx context.Context, img image.Image, lineBoxes []imaging.Box) ([][]imaging.Polygon, error) {
	if len(lineBoxes) == 0 {
		return [][]imaging.Polygon{}, nil
	}

	crops := make([]image.Image, len(lineBoxes))
	for i, box := range lineBoxes {
		crops[i] = imaging.Crop(img, box)
	}

	perLine := batch.Process(ctx, p.scheduler, len(crops), func(ctx context.Context, i int) ([]imaging.Polygon, error) {
		return p.detectLineWords(ctx, crops[i])
	})
	return perLine, nil
}

// detectLineWords runs word detection on one line crop, consolidates
// overlapping masks, and derives one polygon per merged region.
func (p *Pipeline) detectLineWords(ctx context.Context, lineCrop image.Image) ([]imaging.Polygon, error) {
	masks, err := p.words.DetectWordMasks(ctx, lineCrop)
	if err != nil {
		return nil, err
	}
	merged, err := mask.Merge(masks, p.cfg.MergeDiceThreshold)
	if err != nil {
		return nil, err
	}

	polygons := make([]imaging.Polygon, 0, len(merged))
	for _, m := range merged {
		x1, y1, x2, y2, ok := m.Bounds()
		if !ok {
			continue
		}
		polygons = append(polygons, imaging.PolygonFromBox(imaging.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}))
	}
	return polygons, nil
}

// RecognizePage recognizes text for an entire page, returning the full
// text and the mean line confidence.
func (p *Pipeline) RecognizePage(ctx context.Context, img image.Image, lineBoxes []imaging.Box, wordPolygons [][]imaging.Polygon) (string, float64, error) {
	if !p.cfg.EnableRecognition {
		return DisabledRecognitionText, 0.0, nil
	}

	lineTexts := make([]string, 0, len(lineBoxes))
	lineConfs := make([]float64, 0, len(lineBoxes))
	for lineIdx, polygons := range wordPolygons {
		if lineIdx >= len(lineBoxes) || len(polygons) == 0 {
			continue
		}
		lineCrop := imaging.Crop(img, lineBoxes[lineIdx])
		text, conf, err := p.recognizeLine(ctx, lineCrop, polygons)
		if err != nil {
			return "", 0, err
		}
		lineTexts = append(lineTexts, text)
		lineConfs = append(lineConfs, conf)
	}

	if len(lineTexts) == 0 {
		return "", 0.0, nil
	}
	return strings.Join(lineTexts, "\n"), mean(lineConfs), nil
}

// recognizeLine recognizes all word crops of one line and assembles them
// right-to-left: words sorted by horizontal origin descending, then the
// mixed-script run fix restores any embedded left-to-right fragments.
func (p *Pipeline) recognizeLine(ctx context.Context, lineCrop image.Image, polygons []imaging.Polygon) (string, float64, error) {
	type word struct {
		box  imaging.Box
		text string
		conf float64
	}

	words := make([]word, len(polygons))
	crops := make([]image.Image, len(polygons))
	for i, polygon := range polygons {
		words[i].box = polygon.Bounds()
		crops[i] = imaging.Crop(lineCrop, words[i].box)
	}

	predictions, err := p.recognizer.Recognize(ctx, crops)
	if err != nil {
		return "", 0, err
	}
	for i := range words {
		if i < len(predictions) {
			words[i].text = predictions[i].Text
			words[i].conf = predictions[i].Confidence
		}
	}

	sort.SliceStable(words, func(i, j int) bool { return words[i].box.X1 > words[j].box.X1 })

	texts := make([]string, len(words))
	confs := make([]float64, len(words))
	for i, w := range words {
		texts[i] = w.text
		confs[i] = w.conf
	}

	line := textutil.FixMixedTextOrder(strings.Join(texts, " "))
	return line, mean(confs), nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
