// Package vector takes a decoded (possibly augmented) image buffer and a
// descriptor, realizes the anchor/neighbor rectangles on that specific
// image, and measures the signed channel difference between them.
package vector

import (
	"fmt"
	"math"

	"github.com/rawblock/probefind/internal/raster"
	"github.com/rawblock/probefind/pkg/models"
)

// Result is the extractor's output for a realizable descriptor.
type Result struct {
	Value          float64
	Size           float64
	RelX           float64
	RelY           float64
	Descriptor     models.Descriptor
	DescriptorKey  string
	AnchorRect     raster.Rect
	NeighborRect   raster.Rect
}

// ErrSpanTooLarge is returned when a descriptor's span cannot be realized
// as a square rectangle fully inside the image.
var ErrSpanTooLarge = fmt.Errorf("vector: span exceeds image bounds")

// Realize computes the anchor and neighbor rectangles for a descriptor on
// an image of the given pixel dimensions, clamping the neighbor center
// inside bounds and back-computing the adjusted offset. Both returned
// rectangles are guaranteed to lie fully inside [0,width)×[0,height) when
// err is nil.
func Realize(d models.Descriptor, width, height int) (anchor, neighbor raster.Rect, adjOffsetX, adjOffsetY float64, err error) {
	shorter := width
	if height < shorter {
		shorter = height
	}
	spanPx := d.Span * float64(shorter)
	if spanPx < 1 || spanPx > float64(shorter) {
		return raster.Rect{}, raster.Rect{}, 0, 0, ErrSpanTooLarge
	}
	half := spanPx / 2

	// Map anchor to image coordinates, then clamp the center so the
	// anchor rectangle (size spanPx) stays fully inside bounds. The margin
	// is proportional to span, so larger rectangles clamp sooner.
	anchorCx := clamp(d.AnchorU*float64(width), half, float64(width)-half)
	anchorCy := clamp(d.AnchorV*float64(height), half, float64(height)-half)

	neighborCxRaw := anchorCx + d.OffsetX*spanPx
	neighborCyRaw := anchorCy + d.OffsetY*spanPx
	neighborCx := clamp(neighborCxRaw, half, float64(width)-half)
	neighborCy := clamp(neighborCyRaw, half, float64(height)-half)

	// Back-compute the offset actually realized, in span units, after clamping.
	adjOffsetX = (neighborCx - anchorCx) / spanPx
	adjOffsetY = (neighborCy - anchorCy) / spanPx

	anchor = squareRect(anchorCx, anchorCy, half)
	neighbor = squareRect(neighborCx, neighborCy, half)
	return anchor, neighbor, adjOffsetX, adjOffsetY, nil
}

func squareRect(cx, cy, half float64) raster.Rect {
	return raster.Rect{
		X0: int(math.Round(cx - half)),
		Y0: int(math.Round(cy - half)),
		X1: int(math.Round(cx + half)),
		Y1: int(math.Round(cy + half)),
	}
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		// Span occupies the whole dimension; pin to the midpoint.
		return (lo + hi) / 2
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Extract decodes the chosen channel statistic over the anchor and
// neighbor rectangles and returns their normalized signed difference.
// Returns ErrSpanTooLarge (not an error for other reasons) when the
// descriptor cannot be realized on this image.
func Extract(buf raster.Buffer, d models.Descriptor) (Result, error) {
	anchor, neighbor, adjX, adjY, err := Realize(d, buf.Bounds.Width(), buf.Bounds.Height())
	if err != nil {
		return Result{}, err
	}

	anchorStats := raster.Compute(buf, anchor)
	neighborStats := raster.Compute(buf, neighbor)

	rng := raster.ChannelRange(d.Channel)
	diff := (anchorStats.ChannelValue(d.Channel) - neighborStats.ChannelValue(d.Channel)) / rng

	realized := d
	realized.OffsetX = adjX
	realized.OffsetY = adjY

	return Result{
		Value:         diff,
		Size:          d.Span,
		RelX:          adjX,
		RelY:          adjY,
		Descriptor:    realized,
		DescriptorKey: realized.Hash(),
		AnchorRect:    anchor,
		NeighborRect:  neighbor,
	}, nil
}
