package models

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Descriptor is the immutable geometric measurement recipe: where to
// measure, what channel, and under which augmentation. family is
// currently always "delta"; the struct carries a fixed field set so
// canonicalize/hash/parse have a stable shape to work against instead of
// a free-form map.
type Descriptor struct {
	Family      string  `json:"family"`
	Channel     string  `json:"channel"`
	Augmentation string `json:"augmentation"`
	SampleID    int64   `json:"sampleId"`
	AnchorU     float64 `json:"anchorU"`
	AnchorV     float64 `json:"anchorV"`
	Span        float64 `json:"span"`
	OffsetX     float64 `json:"offsetX"`
	OffsetY     float64 `json:"offsetY"`
}

func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}

// Canonicalize returns a copy of d with every numeric field rounded to 6
// decimal places. It is idempotent: Canonicalize(Canonicalize(d)) == Canonicalize(d).
func (d Descriptor) Canonicalize() Descriptor {
	return Descriptor{
		Family:       d.Family,
		Channel:      d.Channel,
		Augmentation: d.Augmentation,
		SampleID:     d.SampleID,
		AnchorU:      round6(d.AnchorU),
		AnchorV:      round6(d.AnchorV),
		Span:         round6(d.Span),
		OffsetX:      round6(d.OffsetX),
		OffsetY:      round6(d.OffsetY),
	}
}

// canonicalSerialization produces the field-sorted, stable text encoding
// that both Hash and Parse operate on. Field order is fixed by name, not
// by struct declaration order, so the encoding is independent of any
// future struct reshuffling.
func (d Descriptor) canonicalSerialization() string {
	c := d.Canonicalize()
	fields := []string{
		"anchorU=" + strconv.FormatFloat(c.AnchorU, 'f', 6, 64),
		"anchorV=" + strconv.FormatFloat(c.AnchorV, 'f', 6, 64),
		"augmentation=" + c.Augmentation,
		"channel=" + c.Channel,
		"family=" + c.Family,
		"offsetX=" + strconv.FormatFloat(c.OffsetX, 'f', 6, 64),
		"offsetY=" + strconv.FormatFloat(c.OffsetY, 'f', 6, 64),
		"sampleId=" + strconv.FormatInt(c.SampleID, 10),
		"span=" + strconv.FormatFloat(c.Span, 'f', 6, 64),
	}
	return strings.Join(fields, "&")
}

// Hash returns the 40-hex-char SHA-1 digest of the canonical serialization.
// Stable across processes and runs given identical field values.
func (d Descriptor) Hash() string {
	sum := sha1.Sum([]byte(d.canonicalSerialization()))
	return hex.EncodeToString(sum[:])
}

// ParseDescriptor reverses the canonical serialization produced by
// canonicalSerialization. It returns an error (not a panic) on malformed
// input so batch ingestion can skip a bad record rather than fail the job.
func ParseDescriptor(blob string) (Descriptor, error) {
	var d Descriptor
	parts := strings.Split(blob, "&")
	vals := make(map[string]string, len(parts))
	for _, p := range parts {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return Descriptor{}, fmt.Errorf("descriptor: malformed field %q", p)
		}
		vals[kv[0]] = kv[1]
	}
	required := []string{"anchorU", "anchorV", "augmentation", "channel", "family", "offsetX", "offsetY", "sampleId", "span"}
	for _, r := range required {
		if _, ok := vals[r]; !ok {
			return Descriptor{}, fmt.Errorf("descriptor: missing field %q", r)
		}
	}
	var err error
	if d.AnchorU, err = strconv.ParseFloat(vals["anchorU"], 64); err != nil {
		return Descriptor{}, fmt.Errorf("descriptor: bad anchorU: %w", err)
	}
	if d.AnchorV, err = strconv.ParseFloat(vals["anchorV"], 64); err != nil {
		return Descriptor{}, fmt.Errorf("descriptor: bad anchorV: %w", err)
	}
	if d.OffsetX, err = strconv.ParseFloat(vals["offsetX"], 64); err != nil {
		return Descriptor{}, fmt.Errorf("descriptor: bad offsetX: %w", err)
	}
	if d.OffsetY, err = strconv.ParseFloat(vals["offsetY"], 64); err != nil {
		return Descriptor{}, fmt.Errorf("descriptor: bad offsetY: %w", err)
	}
	if d.Span, err = strconv.ParseFloat(vals["span"], 64); err != nil {
		return Descriptor{}, fmt.Errorf("descriptor: bad span: %w", err)
	}
	if d.SampleID, err = strconv.ParseInt(vals["sampleId"], 10, 64); err != nil {
		return Descriptor{}, fmt.Errorf("descriptor: bad sampleId: %w", err)
	}
	d.Augmentation = vals["augmentation"]
	d.Channel = vals["channel"]
	d.Family = vals["family"]
	return d.Canonicalize(), nil
}

// ResolutionLevel quantizes span into the stored integer column, clipped
// to [0,255].
func (d Descriptor) ResolutionLevel(spanScale float64) int {
	lvl := int(math.Round(d.Span * spanScale))
	if lvl < 0 {
		return 0
	}
	if lvl > 255 {
		return 255
	}
	return lvl
}

// PosX/PosY quantize the anchor into the stored integer columns.
func (d Descriptor) PosX(anchorScale float64) int { return int(math.Round(d.AnchorU * anchorScale)) }
func (d Descriptor) PosY(anchorScale float64) int { return int(math.Round(d.AnchorV * anchorScale)) }

// ValueType is the persisted identity of a descriptor hash. Immutable
// once created; referenced by features and stats by integer id.
type ValueType struct {
	ValueTypeID    int64
	DescriptorHash string
	DescriptorJSON string
}
