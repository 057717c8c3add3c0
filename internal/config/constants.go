// Package config holds the quantization constants and tunable knobs that
// are part of the wire contract between ingestion and probing. Both sides
// must agree on these values or lookup keys silently diverge.
package config

const (
	// AnchorScale maps a normalized anchor coordinate in [0,1] to the
	// integer pos_x/pos_y stored on a feature vector.
	AnchorScale = 4096.0

	// SpanScale maps a fractional span to the integer resolution_level,
	// clipped to [0,255].
	SpanScale = 255.0

	// OffsetTolerance bounds how far a stored rel_x/rel_y may drift from a
	// probe's rel_x/rel_y and still be considered the same lookup key.
	OffsetTolerance = 0.01

	// SamplesPerAugmentation is the stride used to encode sampleId as
	// augmentation_index*SamplesPerAugmentation + ordinal.
	SamplesPerAugmentation = 1_000_000

	// MinSpan and MaxSpan bound the fractional size of a descriptor's
	// anchor/neighbor rectangles, relative to the shorter image dimension.
	MinSpan = 0.04
	MaxSpan = 0.35

	// MaxOffset bounds the polar displacement magnitude (in span units)
	// between anchor and neighbor.
	MaxOffset = 0.6

	// ValueThreshold is the default 4-D Euclidean distance cutoff for the
	// candidate matcher (value, rel_x, rel_y, size).
	ValueThreshold = 0.06

	// RelaxFactor and MaxRelaxSteps bound elastic threshold relaxation.
	RelaxFactor   = 1.5
	MaxRelaxSteps = 4

	// MaxCandidateSample bounds how many sibling features are pulled into
	// a correlation score computation.
	MaxCandidateSample = 64

	// MinAffinity and MinCohesion gate a discriminator as "good enough"
	// to record in the knowledge graph.
	MinAffinity = 0.35
	MinCohesion = 0.30

	// CorrelationSimilarityThreshold is the starting 4-D distance cutoff
	// for an "ambiguity set" during correlation discovery; internal/match's
	// elastic relaxation widens it when too few images match.
	CorrelationSimilarityThreshold = 0.2

	// MinAgeMinutes is the minimum age, in minutes, before a fully-ingested image
	// is eligible for correlation discovery sampling.
	MinAgeMinutes = 5

	// ChannelDimensions is the fixed ordering used by the session engine
	// when varying the channel of the last-asked descriptor. Declared here
	// as a var since Go has no const []string.
)

// ChannelDimensions is the fixed, ordered channel set sampled by C4 and
// cycled through by the session engine's next-question fallback.
var ChannelDimensions = []string{"h", "s", "v", "luminance", "stddev"}

// FixedAugmentations is the ordered set of non-random augmentations;
// random_combo_k augmentations are appended after these, numbered from 0.
var FixedAugmentations = []string{"original", "mirror_horizontal", "mirror_vertical", "gaussian_blur"}
