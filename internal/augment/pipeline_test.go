package augment

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func checkerboard(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{0, 0, 0, 255})
			}
		}
	}
	return img
}

func TestDeriveParams_DeterministicAndBounded(t *testing.T) {
	a := DeriveParams("img.jpg", "random_combo_0", 200, 150)
	b := DeriveParams("img.jpg", "random_combo_0", 200, 150)
	require.Equal(t, a, b)

	require.GreaterOrEqual(t, a.CropRatio, 0.82)
	require.LessOrEqual(t, a.CropRatio, 0.97)
	require.GreaterOrEqual(t, a.RotationDeg, -6.0)
	require.LessOrEqual(t, a.RotationDeg, 6.0)
	require.GreaterOrEqual(t, a.SaturationMul, 0.85)
	require.LessOrEqual(t, a.SaturationMul, 1.15)
	require.GreaterOrEqual(t, a.BrightnessMul, 0.9)
	require.LessOrEqual(t, a.BrightnessMul, 1.1)
}

func TestDeriveParams_DifferentAugmentationNameDiffers(t *testing.T) {
	a := DeriveParams("img.jpg", "random_combo_0", 200, 150)
	b := DeriveParams("img.jpg", "random_combo_1", 200, 150)
	require.NotEqual(t, a, b)
}

func TestApply_AlwaysReturnsOriginalDimensions(t *testing.T) {
	src := checkerboard(64, 48)
	for _, name := range append([]string{}, FixedNames...) {
		out, err := Apply(src, name, Params{})
		require.NoError(t, err)
		require.Equal(t, 64, out.Bounds().Dx())
		require.Equal(t, 48, out.Bounds().Dy())
	}

	p := DeriveParams("img.jpg", "random_combo_0", 64, 48)
	out, err := Apply(src, "random_combo_0", p)
	require.NoError(t, err)
	require.Equal(t, 64, out.Bounds().Dx())
	require.Equal(t, 48, out.Bounds().Dy())
}

func TestApply_MirrorHorizontalFlipsPixels(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.RGBA{255, 0, 0, 255})
	src.Set(1, 0, color.RGBA{0, 255, 0, 255})

	out, err := Apply(src, "mirror_horizontal", Params{})
	require.NoError(t, err)
	r, g, _, _ := out.At(0, 0).RGBA()
	require.Equal(t, uint32(0), r)
	require.Greater(t, g, uint32(0))
}
