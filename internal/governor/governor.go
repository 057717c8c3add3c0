// Package governor keeps the feature store bounded: capacity-based
// pruning when the schema grows past its configured cap, and cheaper
// real-time pruning of vectors and knowledge nodes that have proven
// unhelpful during probing.
package governor

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Store is the subset of the feature store this package needs.
type Store interface {
	SchemaSizeBytes(ctx context.Context) (int64, error)
	SettingOrDefault(ctx context.Context, key, fallback string) string
	DeleteLowUsageFeatureVectors(ctx context.Context, batchLimit int) (deleted int, err error)
	SkipPatternsAboveThreshold(ctx context.Context, minSkipCount int64) ([]string, error)
	DeleteFeatureVectorsForDescriptorHash(ctx context.Context, descriptorHash string, batchLimit int) (deleted int, err error)
	DeleteOrphanedValueTypesAndSkipPatterns(ctx context.Context) (deleted int, err error)
	DeleteStaleGroupNodes(ctx context.Context, minAge time.Duration, maxHitCount int64) (deleted int, err error)
}

type Config struct {
	DefaultMaxDBSizeGB float64
	MinSkipCount       int64
	MinGroupAgeMinutes int
	MaxGroupHitCount   int64
	PerHashBatchLimit  int
}

type Governor struct {
	store  Store
	cfg    Config
	ingestsSinceRealtimePrune int
	lastRealtimePrune        time.Time
}

func New(store Store, cfg Config) *Governor {
	if cfg.PerHashBatchLimit <= 0 {
		cfg.PerHashBatchLimit = 500
	}
	return &Governor{store: store, cfg: cfg}
}

// EnsureStorageCapacity deletes up to batchLimit low-usage, old
// feature_vectors when the schema exceeds max_db_size_gb. batchLimit
// scales with how far over capacity the schema is, clamped to
// [500, 5000].
func (g *Governor) EnsureStorageCapacity(ctx context.Context) (deleted int, err error) {
	sizeBytes, err := g.store.SchemaSizeBytes(ctx)
	if err != nil {
		return 0, fmt.Errorf("governor: schema size: %w", err)
	}
	maxGB := g.cfg.DefaultMaxDBSizeGB
	if raw := g.store.SettingOrDefault(ctx, "max_db_size_gb", ""); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			maxGB = parsed
		}
	}
	maxBytes := maxGB * (1 << 30)
	if maxBytes <= 0 || float64(sizeBytes) <= maxBytes {
		return 0, nil
	}
	overshoot := float64(sizeBytes)/maxBytes - 1
	batchLimit := int(math.Ceil(overshoot * 5000))
	if batchLimit < 500 {
		batchLimit = 500
	}
	if batchLimit > 5000 {
		batchLimit = 5000
	}
	return g.store.DeleteLowUsageFeatureVectors(ctx, batchLimit)
}

// RealtimePrune runs its phases once every ingestEveryN calls, and no
// sooner than minInterval after the previous run. The call counter and
// last-run time are held in the Governor, in memory, so they start over
// on a process restart; ingestEveryN <= 1 with minInterval 0 runs on
// every call.
func (g *Governor) RealtimePrune(ctx context.Context, ingestEveryN int, minInterval time.Duration) (skipRelated int, staleGroups int, err error) {
	g.ingestsSinceRealtimePrune++
	if ingestEveryN > 0 && g.ingestsSinceRealtimePrune < ingestEveryN {
		return 0, 0, nil
	}
	if !g.lastRealtimePrune.IsZero() && time.Since(g.lastRealtimePrune) < minInterval {
		return 0, 0, nil
	}
	g.ingestsSinceRealtimePrune = 0
	g.lastRealtimePrune = time.Now()

	skipRelated, err = g.pruneSkippedPatterns(ctx)
	if err != nil {
		return 0, 0, err
	}
	staleGroups, err = g.store.DeleteStaleGroupNodes(ctx, time.Duration(g.cfg.MinGroupAgeMinutes)*time.Minute, g.cfg.MaxGroupHitCount)
	if err != nil {
		return skipRelated, 0, fmt.Errorf("governor: stale group nodes: %w", err)
	}
	return skipRelated, staleGroups, nil
}

func (g *Governor) pruneSkippedPatterns(ctx context.Context) (int, error) {
	hashes, err := g.store.SkipPatternsAboveThreshold(ctx, g.cfg.MinSkipCount)
	if err != nil {
		return 0, fmt.Errorf("governor: skip patterns: %w", err)
	}
	total := 0
	for _, hash := range hashes {
		n, err := g.store.DeleteFeatureVectorsForDescriptorHash(ctx, hash, g.cfg.PerHashBatchLimit)
		if err != nil {
			return total, fmt.Errorf("governor: delete feature vectors for %s: %w", hash, err)
		}
		total += n
	}
	if len(hashes) > 0 {
		if _, err := g.store.DeleteOrphanedValueTypesAndSkipPatterns(ctx); err != nil {
			return total, fmt.Errorf("governor: orphan cleanup: %w", err)
		}
	}
	return total, nil
}
