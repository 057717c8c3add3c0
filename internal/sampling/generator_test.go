package sampling

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawblock/probefind/internal/config"
)

func TestGenerate_IsPureAndDeterministic(t *testing.T) {
	a := Generate(42)
	b := Generate(42)
	require.Equal(t, a, b)
}

func TestGenerate_DifferentSampleIDsDiffer(t *testing.T) {
	a := Generate(1)
	b := Generate(2)
	require.NotEqual(t, a, b)
}

func TestGenerate_BoundsRespected(t *testing.T) {
	for _, id := range []int64{0, 1, 42, 999999, 5_000_001} {
		p := Generate(id)
		require.GreaterOrEqual(t, p.Span, config.MinSpan)
		require.LessOrEqual(t, p.Span, config.MaxSpan)
		require.GreaterOrEqual(t, p.AnchorU, 0.0)
		require.LessOrEqual(t, p.AnchorU, 1.0)
		require.GreaterOrEqual(t, p.AnchorV, 0.0)
		require.LessOrEqual(t, p.AnchorV, 1.0)
		mag := p.OffsetX*p.OffsetX + p.OffsetY*p.OffsetY
		require.LessOrEqual(t, mag, config.MaxOffset*config.MaxOffset+1e-9)
		require.Contains(t, config.ChannelDimensions, p.Channel)
	}
}

func TestSampleIDEncodeDecodeRoundTrip(t *testing.T) {
	id := EncodeSampleID(3, 12345)
	idx, ord := DecodeSampleID(id)
	require.Equal(t, 3, idx)
	require.Equal(t, int64(12345), ord)
}

func TestDescriptorFor_SampleIDRoundTrip(t *testing.T) {
	d := DescriptorFor(777, 4)
	require.Equal(t, int64(777), d.SampleID)
}
