/**
 * Tesseract Recognizer
 *
 * Default Recognizer capability handle backed by gosseract. One Tesseract
 * client is created per Recognize call because the underlying API is not
 * safe for concurrent use; the handle itself is safe to share across
 * worker goroutines.
 */

package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/ocr-worker/internal/detect"
	"github.com/adverant/nexus/ocr-worker/internal/imaging"
)

// TesseractRecognizer recognizes word crops with a local Tesseract
// installation.
type TesseractRecognizer struct {
	languages []string
}

// NewTesseractRecognizer creates a recognizer for the given language
// spec, e.g. "fas+eng".
func NewTesseractRecognizer(languages string) *TesseractRecognizer {
	langs := strings.Split(languages, "+")
	if len(langs) == 0 || (len(langs) == 1 && langs[0] == "") {
		langs = []string{"eng"}
	}
	return &TesseractRecognizer{languages: langs}
}

// Recognize runs OCR over each word crop, returning one prediction per
// crop in input order.
func (r *TesseractRecognizer) Recognize(ctx context.Context, crops []image.Image) ([]detect.Prediction, error) {
	if len(crops) == 0 {
		return []detect.Prediction{}, nil
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(r.languages...); err != nil {
		return nil, fmt.Errorf("ocr: set languages %v: %w", r.languages, err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_WORD); err != nil {
		return nil, fmt.Errorf("ocr: set page segmentation mode: %w", err)
	}

	predictions := make([]detect.Prediction, len(crops))
	for i, crop := range crops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		encoded, err := imaging.EncodePNG(crop)
		if err != nil {
			return nil, fmt.Errorf("ocr: encode crop %d: %w", i, err)
		}
		if err := client.SetImageFromBytes(encoded); err != nil {
			return nil, fmt.Errorf("ocr: set image for crop %d: %w", i, err)
		}

		text, err := client.Text()
		if err != nil {
			return nil, fmt.Errorf("ocr: recognize crop %d: %w", i, err)
		}

		text = strings.TrimSpace(text)
		predictions[i] = detect.Prediction{
			Text:       text,
			Confidence: estimateConfidence(text),
		}
	}
	return predictions, nil
}

// estimateConfidence scores a recognized word from text quality
// indicators. Tesseract's per-word confidences are unreliable for
// Arabic-script models, so a bounded heuristic is used instead.
func estimateConfidence(text string) float64 {
	if text == "" {
		return 0.0
	}

	confidence := 0.5

	runes := []rune(text)
	if len(runes) >= 2 {
		confidence += 0.1
	}

	letters := 0
	for _, r := range runes {
		if isLetter(r) {
			letters++
		}
	}
	ratio := float64(letters) / float64(len(runes))
	if ratio > 0.5 {
		confidence += 0.15
	}
	if ratio > 0.9 {
		confidence += 0.1
	}

	if confidence > 0.85 {
		confidence = 0.85
	}
	return confidence
}

func isLetter(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return true
	case r >= 0x0600 && r <= 0x06FF: // Arabic script block
		return true
	default:
		return false
	}
}
