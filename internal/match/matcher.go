// Package match implements the keyed candidate lookup, offset tolerance,
// and elastic threshold relaxation that turn one probe into a set of
// matching image ids.
package match

import (
	"context"
	"sort"

	"github.com/rawblock/probefind/internal/config"
	"github.com/rawblock/probefind/internal/corrmetrics"
	"github.com/rawblock/probefind/pkg/models"
)

// FeatureLookup abstracts the feature store's keyed read path so this
// package has no direct database dependency and stays pure of IO concerns
// beyond the single call.
type FeatureLookup interface {
	FeaturesByKey(ctx context.Context, key models.LookupKey) ([]models.FeatureVector, error)
}

// Candidate is one matched image with the feature that matched it.
type Candidate struct {
	ImageID int64
	Feature models.FeatureVector
	Score   float64
}

// FindCandidates returns every feature matching probe's lookup key within
// config.OffsetTolerance on rel_x/rel_y and within threshold on the 4-D
// distance, one per distinct image_id (best-scoring if more than one
// feature on an image matches).
func FindCandidates(ctx context.Context, lookup FeatureLookup, probe models.Probe, key models.LookupKey, threshold float64) ([]Candidate, error) {
	rows, err := lookup.FeaturesByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	probeVec := corrmetrics.Vec4{probe.Value, probe.RelX, probe.RelY, probe.Size}

	best := make(map[int64]Candidate)
	for _, f := range rows {
		if absf(f.RelX-probe.RelX) > config.OffsetTolerance {
			continue
		}
		if absf(f.RelY-probe.RelY) > config.OffsetTolerance {
			continue
		}
		dist := corrmetrics.EuclideanDistance(probeVec, f.MatchVector(), true)
		if dist > threshold {
			continue
		}
		score := 1 / (1 + dist)
		if existing, ok := best[f.ImageID]; !ok || score > existing.Score {
			best[f.ImageID] = Candidate{ImageID: f.ImageID, Feature: f, Score: score}
		}
	}

	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// FindCandidatesElastic retries FindCandidates with a growing threshold
// until at least minUnique distinct images are found or
// config.MaxRelaxSteps is exhausted. An empty `rows` result from the
// lookup produces an empty result immediately and never loops.
func FindCandidatesElastic(ctx context.Context, lookup FeatureLookup, probe models.Probe, key models.LookupKey, baseThreshold float64, minUnique int) ([]Candidate, error) {
	threshold := baseThreshold
	var last []Candidate
	for step := 0; step <= config.MaxRelaxSteps; step++ {
		cands, err := FindCandidates(ctx, lookup, probe, key, threshold)
		if err != nil {
			return nil, err
		}
		last = cands
		if len(cands) >= minUnique {
			return cands, nil
		}
		threshold *= config.RelaxFactor
	}
	return last, nil
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
