// Package discovery implements offline correlation discovery: sampling
// pairs of features on already-ingested images to find discriminators
// that reliably separate images an anchor feature alone cannot, and
// recording them in the knowledge graph for C8 and C12 to consume later.
package discovery

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rawblock/probefind/internal/config"
	"github.com/rawblock/probefind/internal/corrmetrics"
	"github.com/rawblock/probefind/internal/match"
	"github.com/rawblock/probefind/pkg/models"
)

// Store is the subset of the feature store this package needs, narrow
// enough to fake in tests without a live database.
type Store interface {
	CompleteImageCount(ctx context.Context) (int, error)
	RandomCompleteImage(ctx context.Context, olderThan time.Time) (imageID int64, ok bool, err error)
	RandomFeature(ctx context.Context, imageID int64) (models.FeatureVector, bool, error)
	FeaturesForImage(ctx context.Context, imageID int64) ([]models.FeatureVector, error)
	CompleteFeaturesByKey(ctx context.Context, key models.LookupKey, excludeImageID int64) ([]models.FeatureVector, error)
	FeaturesByKeyInImages(ctx context.Context, key models.LookupKey, imageIDs []int64) ([]models.FeatureVector, error)
	UpsertKnowledgeNode(ctx context.Context, n models.KnowledgeNode) (int64, error)
	UpsertFeatureGroupStat(ctx context.Context, stat models.FeatureGroupStat) error
	FeatureGroupStat(ctx context.Context, valueTypeID int64, resolutionLevel int) (models.FeatureGroupStat, bool, error)
	RecordUsage(ctx context.Context, vectorID int64, score float64) error
}

// ambiguityLookup adapts a Store's keyed read to internal/match's
// FeatureLookup so the ambiguity-set computation shares the same
// elastic-relaxation matcher used for self-evaluation, rather than a
// bespoke single-shot query.
type ambiguityLookup struct {
	store          Store
	excludeImageID int64
}

func (l ambiguityLookup) FeaturesByKey(ctx context.Context, key models.LookupKey) ([]models.FeatureVector, error) {
	return l.store.CompleteFeaturesByKey(ctx, key, l.excludeImageID)
}

// ErrInsufficientImages is the early-exit condition when fewer than 2
// ingestion-complete images exist.
var ErrInsufficientImages = fmt.Errorf("discovery: insufficient ingested images")

type Discoverer struct {
	store Store
}

func New(store Store) *Discoverer {
	return &Discoverer{store: store}
}

// Result summarizes one iteration for logging/telemetry.
type Result struct {
	Discovered bool
	TargetImage int64
	AnchorVectorID int64
	DiscriminatorVectorID int64
	Assessment corrmetrics.Assessment
}

// RunIteration executes one discovery cycle (spec's five numbered steps
// folded into Go). Returns Result{Discovered:false} with a nil error
// when no discriminator clears the affinity/cohesion gates — that is a
// normal outcome, not a failure.
func (d *Discoverer) RunIteration(ctx context.Context) (Result, error) {
	n, err := d.store.CompleteImageCount(ctx)
	if err != nil {
		return Result{}, err
	}
	if n < 2 {
		return Result{}, ErrInsufficientImages
	}

	cutoff := time.Now().Add(-time.Duration(config.MinAgeMinutes) * time.Minute)
	targetImage, ok, err := d.store.RandomCompleteImage(ctx, cutoff)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrInsufficientImages
	}

	anchor, ok, err := d.store.RandomFeature(ctx, targetImage)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, nil
	}
	_ = d.store.RecordUsage(ctx, anchor.VectorID, 0)

	anchorProbe := models.Probe{Value: anchor.Value, RelX: anchor.RelX, RelY: anchor.RelY, Size: anchor.Size}
	lookup := ambiguityLookup{store: d.store, excludeImageID: targetImage}
	ambiguous, err := match.FindCandidatesElastic(ctx, lookup, anchorProbe, anchor.Key(), config.CorrelationSimilarityThreshold, 1)
	if err != nil {
		return Result{}, err
	}
	if len(ambiguous) == 0 {
		return Result{}, nil
	}
	ambiguousImages := make([]int64, 0, len(ambiguous))
	for _, c := range ambiguous {
		ambiguousImages = append(ambiguousImages, c.ImageID)
	}
	sort.Slice(ambiguousImages, func(i, j int) bool { return ambiguousImages[i] < ambiguousImages[j] })

	others, err := d.store.FeaturesForImage(ctx, targetImage)
	if err != nil {
		return Result{}, err
	}

	var best *models.FeatureVector
	var bestAssessment corrmetrics.Assessment
	var bestSampleSize int

	for i := range others {
		cand := others[i]
		if cand.VectorID == anchor.VectorID {
			continue
		}
		sibling, err := d.store.FeaturesByKeyInImages(ctx, cand.Key(), ambiguousImages)
		if err != nil {
			return Result{}, err
		}
		if len(sibling) == 0 {
			continue
		}
		if len(sibling) > config.MaxCandidateSample {
			sibling = sibling[:config.MaxCandidateSample]
		}

		samples := make([]corrmetrics.Vec4, len(sibling))
		for j, s := range sibling {
			samples[j] = s.MatchVector()
		}
		assessment := corrmetrics.Score(cand.MatchVector(), samples, config.MinAffinity, config.MinCohesion)
		if assessment.Rejected {
			continue
		}
		if best == nil || betterDiscriminator(assessment, bestAssessment, cand.VectorID, best.VectorID) {
			c := cand
			best = &c
			bestAssessment = assessment
			bestSampleSize = len(sibling)
		}
	}

	if best == nil {
		return Result{Discovered: false, TargetImage: targetImage, AnchorVectorID: anchor.VectorID}, nil
	}

	if err := d.record(ctx, anchor, *best, bestAssessment, bestSampleSize, len(ambiguousImages)); err != nil {
		return Result{}, err
	}

	return Result{
		Discovered:             true,
		TargetImage:            targetImage,
		AnchorVectorID:         anchor.VectorID,
		DiscriminatorVectorID:  best.VectorID,
		Assessment:             bestAssessment,
	}, nil
}

// betterDiscriminator breaks ties by higher score, then earlier vector_id.
func betterDiscriminator(a, b corrmetrics.Assessment, aID, bID int64) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return aID < bID
}

func (d *Discoverer) record(ctx context.Context, anchor, discriminator models.FeatureVector, assessment corrmetrics.Assessment, sampleSize, originalCandidates int) error {
	anchorNodeID, err := d.store.UpsertKnowledgeNode(ctx, models.KnowledgeNode{
		NodeType:  models.NodeTypeFeature,
		Vector1ID: anchor.VectorID,
	})
	if err != nil {
		return fmt.Errorf("discovery: write anchor node: %w", err)
	}

	discVectorID := discriminator.VectorID
	if _, err := d.store.UpsertKnowledgeNode(ctx, models.KnowledgeNode{
		NodeType:  models.NodeTypeFeature,
		Vector1ID: discVectorID,
	}); err != nil {
		return fmt.Errorf("discovery: write discriminator node: %w", err)
	}

	length, angle := geometry(anchor, discriminator)
	affinityFactor := clampF(assessment.Affinity, 0.5, 2)
	hitCount := int64(math.Max(1, math.Round(float64(sampleSize)*affinityFactor/math.Log1p(float64(originalCandidates)))))

	parent := anchorNodeID
	if _, err := d.store.UpsertKnowledgeNode(ctx, models.KnowledgeNode{
		ParentNodeID: &parent,
		NodeType:     models.NodeTypeGroup,
		Vector1ID:    anchor.VectorID,
		Vector2ID:    &discVectorID,
		VectorLength: length,
		VectorAngle:  angle,
		VectorValue:  discriminator.Value - anchor.Value,
		HitCount:     hitCount,
	}); err != nil {
		return fmt.Errorf("discovery: write group node: %w", err)
	}

	stat, found, err := d.store.FeatureGroupStat(ctx, anchor.ValueTypeID, anchor.ResolutionLevel)
	if err != nil {
		return fmt.Errorf("discovery: read feature group stat: %w", err)
	}
	if !found {
		stat = models.FeatureGroupStat{ValueTypeID: anchor.ValueTypeID, ResolutionLevel: anchor.ResolutionLevel}
	}
	stat.SampleSize++
	stat.MeanLength = models.UpdateMean(stat.MeanLength, stat.SampleSize, length)
	stat.MeanAngle = models.UpdateMean(stat.MeanAngle, stat.SampleSize, angle)
	stat.MeanDistance = models.UpdateMean(stat.MeanDistance, stat.SampleSize, assessment.MeanDistance)
	stat.MeanCosine = models.UpdateMean(stat.MeanCosine, stat.SampleSize, assessment.MeanCosine)
	stat.MeanPearson = models.UpdateMean(stat.MeanPearson, stat.SampleSize, assessment.MeanPearson)
	if err := d.store.UpsertFeatureGroupStat(ctx, stat); err != nil {
		return fmt.Errorf("discovery: write feature group stat: %w", err)
	}
	return nil
}

// geometry derives a (length, angle) pair from two anchor coordinates,
// describing where the discriminator sits relative to the anchor.
func geometry(anchor, discriminator models.FeatureVector) (length, angle float64) {
	dx := float64(discriminator.PosX - anchor.PosX)
	dy := float64(discriminator.PosY - anchor.PosY)
	length = math.Hypot(dx, dy)
	angle = math.Atan2(dy, dx)
	return
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Run executes up to iterations discovery cycles, checking cancel between
// each one rather than relying on a context timeout, so a caller can flip
// an atomic bool or close a channel to stop a long batch early.
func (d *Discoverer) Run(ctx context.Context, iterations int, cancel func() bool) (ran int, discovered int, err error) {
	for i := 0; i < iterations; i++ {
		if cancel != nil && cancel() {
			return ran, discovered, nil
		}
		res, err := d.RunIteration(ctx)
		if err == ErrInsufficientImages {
			return ran, discovered, nil
		}
		if err != nil {
			return ran, discovered, err
		}
		ran++
		if res.Discovered {
			discovered++
		}
	}
	return ran, discovered, nil
}
