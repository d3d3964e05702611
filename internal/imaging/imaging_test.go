package imaging

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMimeType(t *testing.T) {
	testCases := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"pdf", []byte("%PDF-1.7 rest"), "application/pdf"},
		{"png", []byte("\x89PNG\r\n\x1a\nrest"), "image/png"},
		{"jpeg", []byte("\xff\xd8\xff\xe0rest"), "image/jpeg"},
		{"gif87", []byte("GIF87arest"), "image/gif"},
		{"gif89", []byte("GIF89arest"), "image/gif"},
		{"tiff little endian", []byte("II*\x00rest"), "image/tiff"},
		{"tiff big endian", []byte("MM\x00*rest"), "image/tiff"},
		{"bmp", []byte("BMrest"), "image/bmp"},
		{"unknown", []byte("plain text"), ""},
		{"empty", nil, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, DetectMimeType(tc.data))
		})
	}
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF([]byte("%PDF-1.4")))
	assert.False(t, IsPDF([]byte("PDF-1.4")))
	assert.False(t, IsPDF(nil))
}

func TestDecodeDocumentSingleImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 12, 8))
	encoded, err := EncodePNG(img)
	require.NoError(t, err)

	pages, err := DecodeDocument(encoded)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 12, pages[0].Bounds().Dx())
	assert.Equal(t, 8, pages[0].Bounds().Dy())
}

func TestDecodeDocumentGarbageFails(t *testing.T) {
	_, err := DecodeDocument([]byte("not an image at all"))
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 2, color.RGBA{R: 200, G: 10, B: 30, A: 255})

	encoded, err := EncodePNG(img)
	require.NoError(t, err)

	decoded, err := DecodeImage(encoded)
	require.NoError(t, err)
	r, g, b, _ := decoded.At(1, 2).RGBA()
	assert.Equal(t, uint32(200), r>>8)
	assert.Equal(t, uint32(10), g>>8)
	assert.Equal(t, uint32(30), b>>8)
}

func TestCrop(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	img.Set(5, 5, color.RGBA{R: 255, A: 255})

	crop := Crop(img, Box{X1: 4, Y1: 4, X2: 8, Y2: 8})
	assert.Equal(t, 4, crop.Bounds().Dx())
	assert.Equal(t, 4, crop.Bounds().Dy())

	r, _, _, _ := crop.At(1, 1).RGBA()
	assert.Equal(t, uint32(255), r>>8, "pixel (5,5) maps to crop (1,1)")
}

func TestCropClampsToImageBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	crop := Crop(img, Box{X1: 6, Y1: 6, X2: 20, Y2: 20})
	assert.Equal(t, 4, crop.Bounds().Dx())
	assert.Equal(t, 4, crop.Bounds().Dy())
}

func TestCropEmptyIntersectionYieldsPlaceholder(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	crop := Crop(img, Box{X1: 50, Y1: 50, X2: 60, Y2: 60})
	assert.Equal(t, 1, crop.Bounds().Dx())
	assert.Equal(t, 1, crop.Bounds().Dy())
}

func TestBoxGeometry(t *testing.T) {
	b := Box{X1: 2, Y1: 3, X2: 10, Y2: 7}
	assert.Equal(t, 8, b.Width())
	assert.Equal(t, 4, b.Height())
	assert.False(t, b.Empty())
	assert.True(t, Box{X1: 5, Y1: 5, X2: 5, Y2: 9}.Empty())
}

func TestPolygonBoundsAndTranslate(t *testing.T) {
	p := PolygonFromBox(Box{X1: 1, Y1: 2, X2: 5, Y2: 6})
	assert.Equal(t, Box{X1: 1, Y1: 2, X2: 5, Y2: 6}, p.Bounds())

	shifted := p.Translate(10, 20)
	assert.Equal(t, Box{X1: 11, Y1: 22, X2: 15, Y2: 26}, shifted.Bounds())
	// Original unchanged.
	assert.Equal(t, Box{X1: 1, Y1: 2, X2: 5, Y2: 6}, p.Bounds())
}
