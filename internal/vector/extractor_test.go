package vector

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawblock/probefind/internal/raster"
	"github.com/rawblock/probefind/pkg/models"
)

func randomBuffer(w, h int, seed int64) raster.Buffer {
	r := rand.New(rand.NewSource(seed))
	pix := make([]uint8, w*h*3)
	r.Read(pix)
	return raster.Buffer{Pix: pix, Stride: w * 3, Bounds: raster.Rect{0, 0, w, h}}
}

func TestRealize_RectanglesAlwaysInsideBounds(t *testing.T) {
	dims := [][2]int{{100, 100}, {64, 200}, {300, 80}}
	for _, dim := range dims {
		w, h := dim[0], dim[1]
		for i := 0; i < 200; i++ {
			d := models.Descriptor{
				Family: "delta", Channel: "v", Augmentation: "original",
				SampleID: int64(i),
				AnchorU:  rand.Float64(), AnchorV: rand.Float64(),
				Span:    0.05 + rand.Float64()*0.2,
				OffsetX: rand.Float64()*0.8 - 0.4,
				OffsetY: rand.Float64()*0.8 - 0.4,
			}
			anchor, neighbor, _, _, err := Realize(d, w, h)
			if err != nil {
				continue
			}
			require.GreaterOrEqual(t, anchor.X0, 0)
			require.GreaterOrEqual(t, anchor.Y0, 0)
			require.LessOrEqual(t, anchor.X1, w)
			require.LessOrEqual(t, anchor.Y1, h)
			require.GreaterOrEqual(t, neighbor.X0, 0)
			require.GreaterOrEqual(t, neighbor.Y0, 0)
			require.LessOrEqual(t, neighbor.X1, w)
			require.LessOrEqual(t, neighbor.Y1, h)
		}
	}
}

func TestRealize_SpanLargerThanImageFails(t *testing.T) {
	d := models.Descriptor{Span: 10, AnchorU: 0.5, AnchorV: 0.5}
	_, _, _, _, err := Realize(d, 50, 50)
	require.ErrorIs(t, err, ErrSpanTooLarge)
}

func TestExtract_DeterministicOnIdenticalInput(t *testing.T) {
	buf := randomBuffer(80, 80, 7)
	d := models.Descriptor{Family: "delta", Channel: "luminance", Augmentation: "original", SampleID: 42, AnchorU: 0.5, AnchorV: 0.5, Span: 0.1, OffsetX: 0.2, OffsetY: -0.1}
	r1, err1 := Extract(buf, d)
	r2, err2 := Extract(buf, d)
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.Equal(t, r1, r2)
}
