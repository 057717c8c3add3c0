package models

import "time"

// FeatureVector is one measured scalar for one image under one value_type
// at one quantized position. Never mutated after creation.
type FeatureVector struct {
	VectorID        int64
	ImageID         int64
	ValueTypeID     int64
	ResolutionLevel int
	PosX            int
	PosY            int
	RelX            float64
	RelY            float64
	Value           float64
	Size            float64
	CreatedAt       time.Time
}

// LookupKey is the integer triple that a candidate lookup is keyed on.
type LookupKey struct {
	ValueTypeID     int64
	ResolutionLevel int
	PosX            int
	PosY            int
}

func (f FeatureVector) Key() LookupKey {
	return LookupKey{ValueTypeID: f.ValueTypeID, ResolutionLevel: f.ResolutionLevel, PosX: f.PosX, PosY: f.PosY}
}

// MatchVector is the 4-D payload used for distance/affinity scoring:
// (value, rel_x, rel_y, size).
func (f FeatureVector) MatchVector() [4]float64 {
	return [4]float64{f.Value, f.RelX, f.RelY, f.Size}
}

// FeatureUsage tracks how often a vector has been consulted by probing or
// discovery. Monotonically updated; lost updates under concurrency are
// acceptable — this is at-least-once accounting, not a ledger.
type FeatureUsage struct {
	VectorID   int64
	UsageCount int64
	LastUsed   time.Time
	LastScore  float64
}

// SkipPattern tracks how often a descriptor hash was rejected as unhelpful
// during a session; a pruning hint for its entire value_type.
type SkipPattern struct {
	DescriptorHash string
	SkipCount      int64
	LastUsed       time.Time
}
