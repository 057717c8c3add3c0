package match

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawblock/probefind/pkg/models"
)

type fakeLookup struct {
	rows []models.FeatureVector
}

func (f fakeLookup) FeaturesByKey(ctx context.Context, key models.LookupKey) ([]models.FeatureVector, error) {
	return f.rows, nil
}

func probeAt(value, relX, relY, size float64) models.Probe {
	return models.Probe{Value: value, RelX: relX, RelY: relY, Size: size}
}

func TestFindCandidates_FiltersByOffsetAndDistance(t *testing.T) {
	rows := []models.FeatureVector{
		{ImageID: 1, Value: 0.5, RelX: 0.1, RelY: 0.1, Size: 0.1},
		{ImageID: 2, Value: 0.9, RelX: 0.1, RelY: 0.1, Size: 0.1}, // too far in value
		{ImageID: 3, Value: 0.5, RelX: 0.5, RelY: 0.1, Size: 0.1}, // offset too far
	}
	lookup := fakeLookup{rows: rows}
	probe := probeAt(0.51, 0.1, 0.1, 0.1)
	cands, err := FindCandidates(context.Background(), lookup, probe, models.LookupKey{}, 0.1)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Equal(t, int64(1), cands[0].ImageID)
}

func TestFindCandidates_OneCandidatePerImage(t *testing.T) {
	rows := []models.FeatureVector{
		{ImageID: 1, Value: 0.50, RelX: 0, RelY: 0, Size: 0},
		{ImageID: 1, Value: 0.501, RelX: 0, RelY: 0, Size: 0},
	}
	lookup := fakeLookup{rows: rows}
	probe := probeAt(0.5, 0, 0, 0)
	cands, err := FindCandidates(context.Background(), lookup, probe, models.LookupKey{}, 0.1)
	require.NoError(t, err)
	require.Len(t, cands, 1)
}

func TestFindCandidatesElastic_EmptyRowsNeverLoops(t *testing.T) {
	lookup := fakeLookup{rows: nil}
	probe := probeAt(0.5, 0, 0, 0)
	cands, err := FindCandidatesElastic(context.Background(), lookup, probe, models.LookupKey{}, 0.05, 2)
	require.NoError(t, err)
	require.Empty(t, cands)
}

func TestFindCandidatesElastic_RelaxesUntilMinUnique(t *testing.T) {
	rows := []models.FeatureVector{
		{ImageID: 1, Value: 0.50, RelX: 0, RelY: 0, Size: 0},
		{ImageID: 2, Value: 0.54, RelX: 0, RelY: 0, Size: 0},
	}
	lookup := fakeLookup{rows: rows}
	probe := probeAt(0.5, 0, 0, 0)
	cands, err := FindCandidatesElastic(context.Background(), lookup, probe, models.LookupKey{}, 0.01, 2)
	require.NoError(t, err)
	require.Len(t, cands, 2)
}
