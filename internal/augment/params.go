// Package augment implements a deterministic augmentation pipeline. The
// fixed augmentation set (original, mirror_horizontal, mirror_vertical,
// gaussian_blur) is parameter-free; random_combo_k augmentations derive
// their knobs from a seeded stream keyed on (imagePath, augmentationName,
// width, height) so the same input always produces the same parameters,
// even across processes.
package augment

import (
	"hash/fnv"
	"math"
	"math/rand"
)

// Params is the full knob set a random_combo_k augmentation can apply.
type Params struct {
	CropRatio      float64 // [0.82, 0.97]
	RotationDeg    float64 // [-6, 6]
	SaturationMul  float64 // [0.85, 1.15]
	BrightnessMul  float64 // [0.9, 1.1]
	HueShiftDeg    int     // integer degrees
	ExtraBlurSigma float64 // 0 means no extra blur; else [0.4, 1.0]
	HasExtraBlur   bool
}

// seed derives a stable 64-bit seed from the image path, augmentation
// name, and pixel dimensions.
func seed(imagePath, augmentationName string, width, height int) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(imagePath))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(augmentationName))
	_, _ = h.Write([]byte{0})
	var buf [8]byte
	putInt(buf[:4], width)
	putInt(buf[4:], height)
	_, _ = h.Write(buf[:])
	return int64(h.Sum64())
}

func putInt(b []byte, v int) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// DeriveParams produces the pseudorandom knob set for a random_combo_k
// augmentation on a specific image. Pure function of its inputs.
func DeriveParams(imagePath, augmentationName string, width, height int) Params {
	rng := rand.New(rand.NewSource(seed(imagePath, augmentationName, width, height)))

	p := Params{
		CropRatio:     0.82 + rng.Float64()*(0.97-0.82),
		RotationDeg:   -6 + rng.Float64()*12,
		SaturationMul: 0.85 + rng.Float64()*(1.15-0.85),
		BrightnessMul: 0.9 + rng.Float64()*(1.1-0.9),
		HueShiftDeg:   int(math.Round(rng.Float64()*360 - 180)),
	}
	if rng.Float64() < 0.5 {
		p.HasExtraBlur = true
		p.ExtraBlurSigma = 0.4 + rng.Float64()*(1.0-0.4)
	}
	return p
}
