package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rawblock/probefind/pkg/models"
)

type fakeStore struct {
	completeCount   int
	target          int64
	targetOK        bool
	anchor          models.FeatureVector
	anchorOK        bool
	othersByImage   map[int64][]models.FeatureVector
	ambiguous       []models.FeatureVector
	byKeyInImages   map[string][]models.FeatureVector
	nodes           []models.KnowledgeNode
	stats           map[string]models.FeatureGroupStat
	usageCalls      int
}

func (f *fakeStore) CompleteImageCount(ctx context.Context) (int, error) { return f.completeCount, nil }

func (f *fakeStore) RandomCompleteImage(ctx context.Context, olderThan time.Time) (int64, bool, error) {
	return f.target, f.targetOK, nil
}

func (f *fakeStore) RandomFeature(ctx context.Context, imageID int64) (models.FeatureVector, bool, error) {
	return f.anchor, f.anchorOK, nil
}

func (f *fakeStore) FeaturesForImage(ctx context.Context, imageID int64) ([]models.FeatureVector, error) {
	return f.othersByImage[imageID], nil
}

func (f *fakeStore) CompleteFeaturesByKey(ctx context.Context, key models.LookupKey, excludeImageID int64) ([]models.FeatureVector, error) {
	return f.ambiguous, nil
}

func (f *fakeStore) FeaturesByKeyInImages(ctx context.Context, key models.LookupKey, imageIDs []int64) ([]models.FeatureVector, error) {
	return f.byKeyInImages[keyID(key)], nil
}

func keyID(k models.LookupKey) string {
	return string(rune(k.ValueTypeID)) + string(rune(k.ResolutionLevel)) + string(rune(k.PosX)) + string(rune(k.PosY))
}

func (f *fakeStore) UpsertKnowledgeNode(ctx context.Context, n models.KnowledgeNode) (int64, error) {
	f.nodes = append(f.nodes, n)
	return int64(len(f.nodes)), nil
}

func (f *fakeStore) UpsertFeatureGroupStat(ctx context.Context, stat models.FeatureGroupStat) error {
	if f.stats == nil {
		f.stats = make(map[string]models.FeatureGroupStat)
	}
	f.stats[statKey(stat.ValueTypeID, stat.ResolutionLevel)] = stat
	return nil
}

func (f *fakeStore) FeatureGroupStat(ctx context.Context, valueTypeID int64, resolutionLevel int) (models.FeatureGroupStat, bool, error) {
	s, ok := f.stats[statKey(valueTypeID, resolutionLevel)]
	return s, ok, nil
}

func statKey(valueTypeID int64, level int) string {
	return string(rune(valueTypeID)) + "|" + string(rune(level))
}

func (f *fakeStore) RecordUsage(ctx context.Context, vectorID int64, score float64) error {
	f.usageCalls++
	return nil
}

func TestRunIteration_InsufficientImagesEarlyExits(t *testing.T) {
	fs := &fakeStore{completeCount: 1}
	d := New(fs)
	_, err := d.RunIteration(context.Background())
	require.ErrorIs(t, err, ErrInsufficientImages)
}

func TestRunIteration_NoAmbiguitySetFindsNothing(t *testing.T) {
	fs := &fakeStore{
		completeCount: 5,
		target:        1, targetOK: true,
		anchor:   models.FeatureVector{VectorID: 10, ImageID: 1, ValueTypeID: 1, RelX: 0.1, RelY: 0.1, Value: 0.5, Size: 0.1},
		anchorOK: true,
		ambiguous: nil,
	}
	d := New(fs)
	res, err := d.RunIteration(context.Background())
	require.NoError(t, err)
	require.False(t, res.Discovered)
}

func TestRunIteration_DiscoversAndRecordsWhenDiscriminatorFound(t *testing.T) {
	anchor := models.FeatureVector{VectorID: 10, ImageID: 1, ValueTypeID: 1, ResolutionLevel: 2, RelX: 0.1, RelY: 0.1, Value: 0.5, Size: 0.1}
	discCandidate := models.FeatureVector{VectorID: 11, ImageID: 1, ValueTypeID: 2, RelX: 0.3, RelY: 0.3, Value: 0.9, Size: 0.2}
	sibling := models.FeatureVector{VectorID: 20, ImageID: 2, ValueTypeID: 2, RelX: 0.3, RelY: 0.3, Value: 0.91, Size: 0.2}

	fs := &fakeStore{
		completeCount: 5,
		target:        1, targetOK: true,
		anchor:   anchor,
		anchorOK: true,
		ambiguous: []models.FeatureVector{
			{VectorID: 12, ImageID: 2, ValueTypeID: 1, RelX: 0.1, RelY: 0.1, Value: 0.5, Size: 0.1},
		},
		othersByImage: map[int64][]models.FeatureVector{
			1: {anchor, discCandidate},
		},
		byKeyInImages: map[string][]models.FeatureVector{
			keyID(discCandidate.Key()): {sibling},
		},
	}
	d := New(fs)
	res, err := d.RunIteration(context.Background())
	require.NoError(t, err)
	require.True(t, res.Discovered)
	require.Equal(t, discCandidate.VectorID, res.DiscriminatorVectorID)
	require.Len(t, fs.nodes, 3) // anchor FEATURE, disc FEATURE, GROUP
	require.Equal(t, 1, fs.usageCalls)
}
