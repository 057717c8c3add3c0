package corrmetrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEuclideanDistance_InfWhenTypesDontMatch(t *testing.T) {
	d := EuclideanDistance(Vec4{1, 2, 3, 4}, Vec4{1, 2, 3, 4}, false)
	require.True(t, math.IsInf(d, 1))
}

func TestEuclideanDistance_ZeroForIdenticalVectors(t *testing.T) {
	d := EuclideanDistance(Vec4{1, 2, 3, 4}, Vec4{1, 2, 3, 4}, true)
	require.Equal(t, 0.0, d)
}

func TestCosineSimilarity_OneForIdenticalDirection(t *testing.T) {
	require.InDelta(t, 1.0, CosineSimilarity(Vec4{1, 1, 1, 1}, Vec4{2, 2, 2, 2}), 1e-9)
}

func TestScore_EmptySampleListRejects(t *testing.T) {
	a := Score(Vec4{0, 0, 0, 0}, nil, 0.3, 0.3)
	require.True(t, a.Rejected)
}

func TestScore_TightClusterIsAccepted(t *testing.T) {
	target := Vec4{0.5, 0.1, 0.1, 0.1}
	samples := []Vec4{
		{0.51, 0.1, 0.1, 0.1},
		{0.49, 0.11, 0.09, 0.1},
		{0.50, 0.09, 0.1, 0.11},
	}
	a := Score(target, samples, 0.3, 0.3)
	require.False(t, a.Rejected)
	require.Greater(t, a.Score, 0.0)
}

func TestScore_ClampedToUnitRange(t *testing.T) {
	a := Score(Vec4{1, 1, 1, 1}, []Vec4{{1, 1, 1, 1}}, 0, 0)
	require.LessOrEqual(t, a.Affinity, 1.0)
	require.LessOrEqual(t, a.Cohesion, 1.0)
	require.GreaterOrEqual(t, a.Affinity, 0.0)
	require.GreaterOrEqual(t, a.Cohesion, 0.0)
}
