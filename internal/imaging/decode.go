/**
 * Document Decoding
 *
 * Splits an uploaded document into per-page images. PDFs are handled by
 * extracting each page's embedded raster image (the scanned-document case
 * this service processes); plain raster uploads decode to a single page.
 * File type is decided from magic bytes, never from the client-supplied
 * MIME type, which is frequently wrong for drive exports.
 */

package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// IsPDF reports whether the data carries the PDF magic prefix.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF"))
}

// DetectMimeType sniffs well-known document formats from magic bytes.
// Returns "" when the format is not recognized.
func DetectMimeType(data []byte) string {
	switch {
	case IsPDF(data):
		return "application/pdf"
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case bytes.HasPrefix(data, []byte("II*\x00")) || bytes.HasPrefix(data, []byte("MM\x00*")):
		return "image/tiff"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp"
	default:
		return ""
	}
}

// DecodeDocument splits a document into page images. A PDF yields one
// image per page; any other input must decode as a single raster image.
func DecodeDocument(data []byte) ([]image.Image, error) {
	if IsPDF(data) {
		return decodePDFPages(data)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imaging: decode image: %w", err)
	}
	return []image.Image{img}, nil
}

// decodePDFPages extracts the embedded page scans from a PDF. Each page
// must carry at least one raster image; the largest one on the page is
// taken as the scan.
func decodePDFPages(data []byte) ([]image.Image, error) {
	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("imaging: read pdf: %w", err)
	}

	pages := make([]image.Image, 0, pdfCtx.PageCount)
	for pageNr := 1; pageNr <= pdfCtx.PageCount; pageNr++ {
		pageImages, err := pdfcpu.ExtractPageImages(pdfCtx, pageNr, false)
		if err != nil {
			return nil, fmt.Errorf("imaging: extract images from pdf page %d: %w", pageNr, err)
		}

		var raw []byte
		for _, pageImage := range pageImages {
			imgData, err := io.ReadAll(pageImage)
			if err != nil {
				continue
			}
			if len(imgData) > len(raw) {
				raw = imgData
			}
		}
		if len(raw) == 0 {
			return nil, fmt.Errorf("imaging: pdf page %d carries no raster image", pageNr)
		}

		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("imaging: decode pdf page %d image: %w", pageNr, err)
		}
		pages = append(pages, img)
	}
	return pages, nil
}

// EncodePNG serializes an image for the state store.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imaging: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeImage decodes a stored page image.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imaging: decode stored image: %w", err)
	}
	return img, nil
}

// Crop returns a copy of the region of img described by box, clamped to
// the image bounds. An empty intersection yields a 1x1 blank image so
// downstream stages always receive a drawable crop.
func Crop(img image.Image, box Box) image.Image {
	bounds := img.Bounds()
	rect := image.Rect(
		bounds.Min.X+box.X1,
		bounds.Min.Y+box.Y1,
		bounds.Min.X+box.X2,
		bounds.Min.Y+box.Y2,
	).Intersect(bounds)
	if rect.Empty() {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out
}

// ToGray converts an image to 8-bit grayscale.
func ToGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok {
		return gray
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	return gray
}
