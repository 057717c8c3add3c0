// Package rasterio owns turning a file on disk into the interleaved-RGB
// raster.Buffer the rest of the pipeline measures.
package rasterio

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/rawblock/probefind/internal/augment"
	"github.com/rawblock/probefind/internal/raster"
)

// Config controls how the loader decodes and caps incoming corpus images.
type Config struct {
	MaxDimension int // images wider/taller than this are rejected, 0 = no cap
}

// Loader decodes image files into raster buffers and applies augmentations.
type Loader struct {
	cfg Config
}

func NewLoader(cfg Config) *Loader {
	return &Loader{cfg: cfg}
}

// Decode reads and decodes an image file into a raster.Buffer.
func (l *Loader) Decode(path string) (raster.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return raster.Buffer{}, fmt.Errorf("rasterio: open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return raster.Buffer{}, fmt.Errorf("rasterio: decode %s: %w", path, err)
	}

	b := img.Bounds()
	if l.cfg.MaxDimension > 0 && (b.Dx() > l.cfg.MaxDimension || b.Dy() > l.cfg.MaxDimension) {
		return raster.Buffer{}, fmt.Errorf("rasterio: %s exceeds max dimension %d", path, l.cfg.MaxDimension)
	}

	return ToBuffer(img), nil
}

// ToBuffer copies an image.Image into a packed interleaved-RGB raster.Buffer.
func ToBuffer(img image.Image) raster.Buffer {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]uint8, w*h*3)
	for y := 0; y < h; y++ {
		rowOff := y * w * 3
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			off := rowOff + 3*x
			pix[off] = uint8(r >> 8)
			pix[off+1] = uint8(g >> 8)
			pix[off+2] = uint8(bl >> 8)
		}
	}
	return raster.Buffer{Pix: pix, Stride: w * 3, Bounds: raster.Rect{X0: 0, Y0: 0, X1: w, Y1: h}}
}

// DecodeAugmented decodes path and applies the named augmentation,
// returning the resulting raster.Buffer at the original dimensions. For
// "random_combo_k" names the caller supplies the seeded params it derived
// via augment.DeriveParams so the result is reproducible.
func (l *Loader) DecodeAugmented(path string, augmentationName string, params augment.Params) (raster.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return raster.Buffer{}, fmt.Errorf("rasterio: open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return raster.Buffer{}, fmt.Errorf("rasterio: decode %s: %w", path, err)
	}

	transformed, err := augment.Apply(img, augmentationName, params)
	if err != nil {
		return raster.Buffer{}, fmt.Errorf("rasterio: augment %s (%s): %w", path, augmentationName, err)
	}
	return ToBuffer(transformed), nil
}
