// Package sampling is a pure, total mapping from a sampleId to
// reproducible geometric descriptor parameters.
package sampling

import (
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/rawblock/probefind/internal/config"
	"github.com/rawblock/probefind/pkg/models"
)

// Params is the sampleId-derived geometry, before it has been realized
// against a specific image's dimensions (see internal/vector for that
// clamping step).
type Params struct {
	Span    float64
	AnchorU float64
	AnchorV float64
	OffsetX float64
	OffsetY float64
	Channel string
}

// DecodeSampleID splits a sampleId into (augmentationIndex, ordinal):
// sampleId = augmentationIndex*SamplesPerAugmentation + ordinal.
func DecodeSampleID(sampleID int64) (augmentationIndex int, ordinal int64) {
	augmentationIndex = int(sampleID / config.SamplesPerAugmentation)
	ordinal = sampleID % config.SamplesPerAugmentation
	return
}

// EncodeSampleID is the inverse of DecodeSampleID.
func EncodeSampleID(augmentationIndex int, ordinal int64) int64 {
	return int64(augmentationIndex)*config.SamplesPerAugmentation + ordinal
}

// seedFor derives a process/run-independent PRNG seed from the sampleId
// alone, so Generate is a pure function of its input.
func seedFor(sampleID int64) int64 {
	h := fnv.New64a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(sampleID >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return int64(h.Sum64())
}

// Generate deterministically derives the geometric parameters for a
// sampleId. Calling it twice with the same sampleId yields bit-identical
// output.
func Generate(sampleID int64) Params {
	rng := rand.New(rand.NewSource(seedFor(sampleID)))

	span := config.MinSpan + rng.Float64()*(config.MaxSpan-config.MinSpan)
	anchorU := rng.Float64()
	anchorV := rng.Float64()

	angle := rng.Float64() * 2 * math.Pi
	magnitude := rng.Float64() * config.MaxOffset
	offsetX := magnitude * math.Cos(angle)
	offsetY := magnitude * math.Sin(angle)

	channel := config.ChannelDimensions[rng.Intn(len(config.ChannelDimensions))]

	return Params{
		Span:    span,
		AnchorU: anchorU,
		AnchorV: anchorV,
		OffsetX: offsetX,
		OffsetY: offsetY,
		Channel: channel,
	}
}

// AugmentationName resolves an augmentation index to its name, given the
// number of random_combo_k augmentations configured for this corpus.
func AugmentationName(index int, randomComboCount int) string {
	if index < len(config.FixedAugmentations) {
		return config.FixedAugmentations[index]
	}
	k := index - len(config.FixedAugmentations)
	if k >= randomComboCount {
		k = randomComboCount - 1
		if k < 0 {
			k = 0
		}
	}
	return randomComboName(k)
}

func randomComboName(k int) string {
	const prefix = "random_combo_"
	digits := [...]string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
	if k < 10 {
		return prefix + digits[k]
	}
	// Fall back to a generic integer format for k>=10 without pulling in
	// strconv at the package boundary used by the hot sampling path.
	return prefix + itoa(k)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// DescriptorFor realizes a full, un-clamped Descriptor for a given sampleId
// and augmentation naming scheme; anchor/offset clamping against a real
// image happens in internal/vector.
func DescriptorFor(sampleID int64, randomComboCount int) models.Descriptor {
	idx, _ := DecodeSampleID(sampleID)
	p := Generate(sampleID)
	return models.Descriptor{
		Family:       "delta",
		Channel:      p.Channel,
		Augmentation: AugmentationName(idx, randomComboCount),
		SampleID:     sampleID,
		AnchorU:      p.AnchorU,
		AnchorV:      p.AnchorV,
		Span:         p.Span,
		OffsetX:      p.OffsetX,
		OffsetY:      p.OffsetY,
	}
}
