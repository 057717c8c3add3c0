package raster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func solid(w, h int, r, g, b uint8) Buffer {
	pix := make([]uint8, w*h*3)
	for i := 0; i < w*h; i++ {
		pix[i*3] = r
		pix[i*3+1] = g
		pix[i*3+2] = b
	}
	return Buffer{Pix: pix, Stride: w * 3, Bounds: Rect{0, 0, w, h}}
}

func TestCompute_EmptyRectIsZeroed(t *testing.T) {
	b := solid(4, 4, 100, 100, 100)
	st := Compute(b, Rect{1, 1, 1, 1})
	require.Equal(t, Stats{}, st)
}

func TestCompute_SolidRedHasExpectedStats(t *testing.T) {
	b := solid(4, 4, 255, 0, 0)
	st := Compute(b, Rect{0, 0, 4, 4})
	require.InDelta(t, 255.0, st.R, 1e-9)
	require.InDelta(t, 0.0, st.G, 1e-9)
	require.InDelta(t, 0.0, st.B, 1e-9)
	require.InDelta(t, 0.0, st.H, 1e-9)
	require.InDelta(t, 100.0, st.S, 1e-9)
	require.InDelta(t, 100.0, st.V, 1e-9)
	require.InDelta(t, 0.0, st.StdDev, 1e-9)
	expectedLum := 0.2126 * 255
	require.InDelta(t, expectedLum, st.Luminance, 1e-6)
}

func TestCompute_VarianceNeverNegative(t *testing.T) {
	b := solid(2, 2, 10, 10, 10)
	st := Compute(b, Rect{0, 0, 2, 2})
	require.False(t, math.Signbit(st.StdDev))
}

func TestChannelValue_RoundTripsAllDimensions(t *testing.T) {
	st := Stats{H: 1, S: 2, V: 3, Luminance: 4, StdDev: 5}
	require.Equal(t, 1.0, st.ChannelValue("h"))
	require.Equal(t, 2.0, st.ChannelValue("s"))
	require.Equal(t, 3.0, st.ChannelValue("v"))
	require.Equal(t, 4.0, st.ChannelValue("luminance"))
	require.Equal(t, 5.0, st.ChannelValue("stddev"))
}
