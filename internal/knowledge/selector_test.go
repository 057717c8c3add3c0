package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawblock/probefind/pkg/models"
)

type fakeStore struct {
	stats       []models.FeatureGroupStat
	descriptors map[int64]models.Descriptor
	groupNodes  map[int64][]models.KnowledgeNode
	vectors     map[int64]models.FeatureVector
}

func (f *fakeStore) TopFeatureGroupStats(ctx context.Context, limit int, minSampleSize int64) ([]models.FeatureGroupStat, error) {
	var out []models.FeatureGroupStat
	for _, s := range f.stats {
		if s.SampleSize >= minSampleSize {
			out = append(out, s)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GroupNodesByParentValueType(ctx context.Context, valueTypeID int64) ([]models.KnowledgeNode, error) {
	return f.groupNodes[valueTypeID], nil
}

func (f *fakeStore) DescriptorForValueType(ctx context.Context, valueTypeID int64) (models.Descriptor, bool, error) {
	d, ok := f.descriptors[valueTypeID]
	return d, ok, nil
}

func (f *fakeStore) FeatureVectorByID(ctx context.Context, vectorID int64) (models.FeatureVector, bool, error) {
	v, ok := f.vectors[vectorID]
	return v, ok, nil
}

func TestSelectTopDescriptors_FiltersByMinSampleSizeAndHydrates(t *testing.T) {
	fs := &fakeStore{
		stats: []models.FeatureGroupStat{
			{ValueTypeID: 1, SampleSize: 50},
			{ValueTypeID: 2, SampleSize: 3},
		},
		descriptors: map[int64]models.Descriptor{
			1: {Family: "delta", SampleID: 1},
		},
	}
	sel := New(fs, 4)
	specs, err := sel.SelectTopDescriptors(context.Background(), 10, 10)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, int64(50), specs[0].SampleSize)
}

func TestFetchRelatedConstellations_SortsByHitRateWithDataFirst(t *testing.T) {
	disc1 := models.FeatureVector{VectorID: 100, ValueTypeID: 10}
	disc2 := models.FeatureVector{VectorID: 101, ValueTypeID: 11}
	id100, id101 := int64(100), int64(101)
	fs := &fakeStore{
		groupNodes: map[int64][]models.KnowledgeNode{
			1: {
				{Vector2ID: &id100, HitCount: 1, MissCount: 9},   // 10%
				{Vector2ID: &id101, HitCount: 9, MissCount: 1},   // 90%
			},
		},
		vectors: map[int64]models.FeatureVector{100: disc1, 101: disc2},
		descriptors: map[int64]models.Descriptor{
			10: {Family: "delta", SampleID: 10},
			11: {Family: "delta", SampleID: 11},
		},
	}
	sel := New(fs, 4)
	related, err := sel.FetchRelatedConstellations(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, related, 2)
	require.InDelta(t, 0.9, related[0].HitRate, 1e-9)
	require.InDelta(t, 0.1, related[1].HitRate, 1e-9)
}

func TestFetchRelatedConstellations_ZeroObservationsSortsLast(t *testing.T) {
	id100, id101 := int64(100), int64(101)
	fs := &fakeStore{
		groupNodes: map[int64][]models.KnowledgeNode{
			1: {
				{Vector2ID: &id100, HitCount: 0, MissCount: 0},
				{Vector2ID: &id101, HitCount: 1, MissCount: 1},
			},
		},
		vectors: map[int64]models.FeatureVector{
			100: {VectorID: 100, ValueTypeID: 10},
			101: {VectorID: 101, ValueTypeID: 11},
		},
		descriptors: map[int64]models.Descriptor{
			10: {Family: "delta", SampleID: 10},
			11: {Family: "delta", SampleID: 11},
		},
	}
	sel := New(fs, 4)
	related, err := sel.FetchRelatedConstellations(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, related, 2)
	require.Equal(t, int64(11), related[0].Descriptor.SampleID)
}
