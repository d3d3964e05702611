/**
 * Detection Capability Handles
 *
 * The line/word detection models are opaque collaborators to the
 * orchestration layer: handlers receive these interfaces as injected
 * dependencies created once per worker process. The bundled default is a
 * projection-profile detector adequate for clean scans; deployments with
 * trained segmentation models implement the same interfaces.
 */

package detect

import (
	"context"
	"image"

	"github.com/adverant/nexus/ocr-worker/internal/imaging"
	"github.com/adverant/nexus/ocr-worker/internal/mask"
)

// Prediction is one recognized text fragment with its confidence (0..1).
type Prediction struct {
	Text       string
	Confidence float64
}

// LineDetector finds text-line bounding boxes on a page image.
type LineDetector interface {
	DetectLines(ctx context.Context, img image.Image) ([]imaging.Box, error)
}

// WordDetector finds word regions within a single line crop, as binary
// masks in the crop's coordinate system. Overlapping masks are expected;
// the pipeline consolidates them before deriving polygons.
type WordDetector interface {
	DetectWordMasks(ctx context.Context, lineCrop image.Image) ([]mask.Mask, error)
}

// Recognizer converts cropped word images into text predictions, one per
// crop, in input order.
type Recognizer interface {
	Recognize(ctx context.Context, crops []image.Image) ([]Prediction, error)
}
