package api

import (
	"context"

	"github.com/rawblock/probefind/internal/config"
	"github.com/rawblock/probefind/internal/match"
	"github.com/rawblock/probefind/pkg/models"
)

// FeatureStore is the subset of the feature store the HTTP-facing
// candidate finder needs: resolving a probe's descriptor hash to its
// value_type, then reading the matching feature rows.
type FeatureStore interface {
	ValueTypeByHash(ctx context.Context, hash string) (int64, bool, error)
	match.FeatureLookup
}

// Finder implements session.CandidateFinder over the feature store. Live
// probing uses the plain fixed-threshold lookup; elastic relaxation is
// reserved for discovery and self-evaluation, which widen the threshold
// themselves via internal/match.FindCandidatesElastic.
type Finder struct {
	Store FeatureStore
}

func (f *Finder) FindCandidates(ctx context.Context, probe models.Probe) ([]int64, error) {
	vt, ok, err := f.Store.ValueTypeByHash(ctx, probe.Descriptor.Hash())
	if err != nil {
		return nil, err
	}
	if !ok {
		// A descriptor never seen at ingest time matches nothing; this is
		// a normal NO_MATCH outcome, not an error.
		return nil, nil
	}

	key := models.LookupKey{
		ValueTypeID:     vt,
		ResolutionLevel: probe.Descriptor.ResolutionLevel(config.SpanScale),
		PosX:            probe.Descriptor.PosX(config.AnchorScale),
		PosY:            probe.Descriptor.PosY(config.AnchorScale),
	}

	candidates, err := match.FindCandidates(ctx, f.Store, probe, key, config.ValueThreshold)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ImageID)
	}
	return ids, nil
}
