// Package knowledge reads the correlation graph C9 writes and turns it
// into guidance: which descriptors are most informative corpus-wide, and
// which companion descriptors tend to resolve ambiguity for a given
// anchor.
package knowledge

import (
	"context"
	"fmt"
	"sort"

	"github.com/rawblock/probefind/pkg/models"
)

// Store is the subset of the feature store this package needs.
type Store interface {
	TopFeatureGroupStats(ctx context.Context, limit int, minSampleSize int64) ([]models.FeatureGroupStat, error)
	GroupNodesByParentValueType(ctx context.Context, valueTypeID int64) ([]models.KnowledgeNode, error)
	DescriptorForValueType(ctx context.Context, valueTypeID int64) (models.Descriptor, bool, error)
	FeatureVectorByID(ctx context.Context, vectorID int64) (models.FeatureVector, bool, error)
}

type Selector struct {
	store            Store
	randomComboCount int
}

func New(store Store, randomComboCount int) *Selector {
	return &Selector{store: store, randomComboCount: randomComboCount}
}

// ProbeSpec is a descriptor ready to be realized against a real image, the
// shape C4's DescriptorFor produces and C5 consumes.
type ProbeSpec struct {
	Descriptor models.Descriptor
	SampleSize int64
}

// SelectTopDescriptors returns up to limit descriptors from the
// FeatureGroupStat rows with the most accumulated sample_size —
// corpus-wide, which measurement positions have turned out most
// informative.
func (s *Selector) SelectTopDescriptors(ctx context.Context, limit int, minSampleSize int64) ([]ProbeSpec, error) {
	stats, err := s.store.TopFeatureGroupStats(ctx, limit, minSampleSize)
	if err != nil {
		return nil, fmt.Errorf("knowledge: top feature group stats: %w", err)
	}
	out := make([]ProbeSpec, 0, len(stats))
	for _, st := range stats {
		d, ok, err := s.store.DescriptorForValueType(ctx, st.ValueTypeID)
		if err != nil {
			return nil, fmt.Errorf("knowledge: descriptor for value type %d: %w", st.ValueTypeID, err)
		}
		if !ok {
			continue
		}
		out = append(out, ProbeSpec{Descriptor: d, SampleSize: st.SampleSize})
	}
	return out, nil
}

// RelatedConstellation is a companion descriptor ranked by how often it
// has resolved ambiguity for the given anchor value_type.
type RelatedConstellation struct {
	Descriptor models.Descriptor
	HitRate    float64
	HitCount   int64
	MissCount  int64
}

// FetchRelatedConstellations returns GROUP-node companions of
// anchorValueTypeID, best-first by hits/(hits+misses). Nodes with zero
// total observations sort last rather than dividing by zero.
func (s *Selector) FetchRelatedConstellations(ctx context.Context, anchorValueTypeID int64) ([]RelatedConstellation, error) {
	nodes, err := s.store.GroupNodesByParentValueType(ctx, anchorValueTypeID)
	if err != nil {
		return nil, fmt.Errorf("knowledge: group nodes: %w", err)
	}

	out := make([]RelatedConstellation, 0, len(nodes))
	for _, n := range nodes {
		if n.Vector2ID == nil {
			continue
		}
		disc, ok, err := s.store.FeatureVectorByID(ctx, *n.Vector2ID)
		if err != nil {
			return nil, fmt.Errorf("knowledge: discriminator vector %d: %w", *n.Vector2ID, err)
		}
		if !ok {
			continue
		}
		d, ok, err := s.store.DescriptorForValueType(ctx, disc.ValueTypeID)
		if err != nil {
			return nil, fmt.Errorf("knowledge: descriptor for value type %d: %w", disc.ValueTypeID, err)
		}
		if !ok {
			continue
		}
		total := n.HitCount + n.MissCount
		rate := 0.0
		if total > 0 {
			rate = float64(n.HitCount) / float64(total)
		}
		out = append(out, RelatedConstellation{Descriptor: d, HitRate: rate, HitCount: n.HitCount, MissCount: n.MissCount})
	}

	sort.Slice(out, func(i, j int) bool {
		iHasData := out[i].HitCount+out[i].MissCount > 0
		jHasData := out[j].HitCount+out[j].MissCount > 0
		if iHasData != jHasData {
			return iHasData
		}
		return out[i].HitRate > out[j].HitRate
	})
	return out, nil
}
