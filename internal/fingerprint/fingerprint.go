// Package fingerprint computes geometry tolerant perceptual hashes (dHash)
// and exact content hashes for uploaded images.
package fingerprint

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/kozaktomas/asset-guard/internal/constants"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrDecode is returned when image bytes cannot be decoded.
var ErrDecode = errors.New("failed to decode image")

// Crop ratio bounds. Single hashes accept (MinCropRatio, 1]; variant sets
// clamp to [MinVariantCropRatio, MaxVariantCropRatio].
const (
	MinCropRatio        = 0.1
	MinVariantCropRatio = 0.4
	MaxVariantCropRatio = 0.95
)

// Decode decodes JPEG, PNG, GIF, BMP or WebP bytes.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, nil
}

// ComputeHash computes a dHash of img with hashSize² bits. The image is
// optionally center-cropped to cropRatio of its width and height, then
// optionally mirrored, before hashing.
func ComputeHash(img image.Image, hashSize int, flipHorizontal bool, cropRatio float64) Hash {
	if hashSize <= 0 {
		hashSize = constants.DefaultHashSize
	}
	cropRatio = min(max(cropRatio, MinCropRatio), 1)

	src := prepare(img, flipHorizontal, cropRatio)
	bits := computeDHash(src, hashSize)

	return Hash{
		Hex:     packHex(bits),
		Variant: variantFor(flipHorizontal, cropRatio < 1),
	}
}

// ComputeVariants computes the Base, FlippedHorizontal, CenterCropped and
// CenterCroppedFlipped hashes of img.
func ComputeVariants(img image.Image, hashSize int, cropRatio float64) VariantSet {
	if hashSize <= 0 {
		hashSize = constants.DefaultHashSize
	}
	cropRatio = ClampVariantCropRatio(cropRatio)

	return VariantSet{
		Size:      hashSize,
		CropRatio: cropRatio,
		Hashes: []Hash{
			ComputeHash(img, hashSize, false, 1),
			ComputeHash(img, hashSize, true, 1),
			ComputeHash(img, hashSize, false, cropRatio),
			ComputeHash(img, hashSize, true, cropRatio),
		},
	}
}

// ComputeVariantsFromBytes decodes data and computes its variant set.
func ComputeVariantsFromBytes(data []byte, hashSize int, cropRatio float64) (VariantSet, error) {
	img, err := Decode(data)
	if err != nil {
		return VariantSet{}, err
	}
	return ComputeVariants(img, hashSize, cropRatio), nil
}

// ClampVariantCropRatio keeps r inside [MinVariantCropRatio, MaxVariantCropRatio].
func ClampVariantCropRatio(r float64) float64 {
	return min(max(r, MinVariantCropRatio), MaxVariantCropRatio)
}

func variantFor(flipped, cropped bool) Variant {
	switch {
	case cropped && flipped:
		return VariantCenterCroppedFlipped
	case cropped:
		return VariantCenterCropped
	case flipped:
		return VariantFlippedHorizontal
	default:
		return VariantBase
	}
}

// prepare copies the centered crop of img into a new RGBA, mirroring it if asked.
func prepare(img image.Image, flip bool, cropRatio float64) *image.RGBA {
	b := img.Bounds()
	w := max(1, int(float64(b.Dx())*cropRatio+0.5))
	h := max(1, int(float64(b.Dy())*cropRatio+0.5))
	x0 := b.Min.X + (b.Dx()-w)/2
	y0 := b.Min.Y + (b.Dy()-h)/2

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			sx := x
			if flip {
				sx = w - 1 - x
			}
			dst.Set(x, y, img.At(x0+sx, y0+y))
		}
	}
	return dst
}

// computeDHash compares horizontally adjacent pixels of a (size+1)×size
// grayscale thumbnail. Bit i is 1 when the left pixel is brighter.
func computeDHash(img *image.RGBA, size int) []bool {
	resized := resizeImage(img, size+1, size)
	gray := toGrayscale(resized)

	bits := make([]bool, 0, size*size)
	for y := range size {
		for x := range size {
			bits = append(bits, gray[x][y] > gray[x+1][y])
		}
	}
	return bits
}

// packHex packs bits MSB first into hex, 4 bits per character. A trailing
// partial nibble is padded with zero bits.
func packHex(bits []bool) string {
	const digits = "0123456789abcdef"
	var sb strings.Builder
	sb.Grow((len(bits) + 3) / 4)
	for i := 0; i < len(bits); i += 4 {
		var nibble byte
		for j := range 4 {
			nibble <<= 1
			if i+j < len(bits) && bits[i+j] {
				nibble |= 1
			}
		}
		sb.WriteByte(digits[nibble])
	}
	return sb.String()
}

// resizeImage scales an image to the specified dimensions.
func resizeImage(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// toGrayscale converts an image to a 2D array of luminance values (0-255), indexed [x][y].
func toGrayscale(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, width)
	for x := range width {
		gray[x] = make([]float64, height)
		for y := range height {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma formula.
			gray[x][y] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}

	return gray
}
