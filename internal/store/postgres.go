// Package store is the Postgres-backed feature store: images,
// value_types, feature_vectors, and the bookkeeping tables the session
// engine, discoverer, knowledge selector, and governor all read and
// write through it.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/probefind/pkg/models"
)

type Store struct {
	pool *pgxpool.Pool

	cacheMu sync.RWMutex
	cache   map[string]int64 // descriptor_hash -> value_type_id
}

// Connect opens the pool and verifies connectivity.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	log.Println("store: connected to postgres")
	return &Store{pool: pool, cache: make(map[string]int64)}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes schema.sql, relative to the process's
// working directory.
func (s *Store) InitSchema(ctx context.Context) error {
	schemaBytes, err := os.ReadFile("internal/store/schema.sql")
	if err != nil {
		return fmt.Errorf("store: read schema: %w", err)
	}
	if _, err := s.pool.Exec(ctx, string(schemaBytes)); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	log.Println("store: schema initialized")
	return nil
}

// InsertImage creates an image row with ingestion_complete=false.
func (s *Store) InsertImage(ctx context.Context, filename string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO images (filename) VALUES ($1) RETURNING image_id`, filename,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert image: %w", err)
	}
	return id, nil
}

// MarkIngestionComplete flips an image's ingestion_complete flag once
// every feature batch derived from it has been persisted.
func (s *Store) MarkIngestionComplete(ctx context.Context, imageID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE images SET ingestion_complete = TRUE WHERE image_id = $1`, imageID)
	return err
}

// DeleteImage removes an image and, via ON DELETE CASCADE, its
// feature_vectors and feature_usage rows.
func (s *Store) DeleteImage(ctx context.Context, imageID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM images WHERE image_id = $1`, imageID)
	if err != nil {
		return fmt.Errorf("store: delete image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ErrNotFound maps to a 404 at the API boundary.
var ErrNotFound = fmt.Errorf("store: not found")

// ImageIDByFilename resolves the CLI/API "id or filename" identifier form
// to an image id.
func (s *Store) ImageIDByFilename(ctx context.Context, filename string) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT image_id FROM images WHERE filename = $1`, filename).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: image by filename: %w", err)
	}
	return id, true, nil
}

// ResolveValueType returns the value_type_id for a descriptor hash,
// inserting a new row if this hash has never been seen. The in-process
// cache is checked first; a cache miss falls through to an idempotent
// INSERT ... ON CONFLICT so two ingestion workers racing on the same new
// hash both converge on one row. A handful of jittered retries absorb
// the rare case where the ON CONFLICT DO NOTHING branch and the
// follow-up SELECT interleave with a concurrent writer's transaction.
func (s *Store) ResolveValueType(ctx context.Context, d models.Descriptor) (int64, error) {
	hash := d.Hash()

	s.cacheMu.RLock()
	if id, ok := s.cache[hash]; ok {
		s.cacheMu.RUnlock()
		return id, nil
	}
	s.cacheMu.RUnlock()

	blob, err := canonicalJSON(d)
	if err != nil {
		return 0, err
	}

	var id int64
	for attempt := 0; attempt < 5; attempt++ {
		err = s.pool.QueryRow(ctx, `
			INSERT INTO value_types (descriptor_hash, descriptor_json)
			VALUES ($1, $2)
			ON CONFLICT (descriptor_hash) DO NOTHING
			RETURNING value_type_id
		`, hash, blob).Scan(&id)
		if err == nil {
			break
		}
		if err == pgx.ErrNoRows {
			err = s.pool.QueryRow(ctx,
				`SELECT value_type_id FROM value_types WHERE descriptor_hash = $1`, hash,
			).Scan(&id)
			if err == nil {
				break
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(40)) * time.Millisecond)
	}
	if err != nil {
		return 0, fmt.Errorf("store: resolve value type: %w", err)
	}

	s.cacheMu.Lock()
	s.cache[hash] = id
	s.cacheMu.Unlock()
	return id, nil
}

func canonicalJSON(d models.Descriptor) (string, error) {
	blob, err := json.Marshal(d.Canonicalize())
	if err != nil {
		return "", fmt.Errorf("store: marshal descriptor: %w", err)
	}
	return string(blob), nil
}

func decodeDescriptorJSON(blob string) (models.Descriptor, error) {
	var d models.Descriptor
	if err := json.Unmarshal([]byte(blob), &d); err != nil {
		return models.Descriptor{}, fmt.Errorf("store: unmarshal descriptor: %w", err)
	}
	return d, nil
}

// InsertFeatureVectors bulk-inserts a batch of measured vectors for one
// image using a pipelined pgx.Batch, rather than one round trip per row.
func (s *Store) InsertFeatureVectors(ctx context.Context, vectors []models.FeatureVector) error {
	if len(vectors) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, v := range vectors {
		batch.Queue(`
			INSERT INTO feature_vectors
				(image_id, value_type_id, resolution_level, pos_x, pos_y, rel_x, rel_y, value, size)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, v.ImageID, v.ValueTypeID, v.ResolutionLevel, v.PosX, v.PosY, v.RelX, v.RelY, v.Value, v.Size)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range vectors {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: insert feature vectors: %w", err)
		}
	}
	return nil
}

// FeaturesByKey implements internal/match.FeatureLookup.
func (s *Store) FeaturesByKey(ctx context.Context, key models.LookupKey) ([]models.FeatureVector, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT vector_id, image_id, value_type_id, resolution_level, pos_x, pos_y, rel_x, rel_y, value, size, created_at
		FROM feature_vectors
		WHERE value_type_id = $1 AND resolution_level = $2 AND pos_x = $3 AND pos_y = $4
	`, key.ValueTypeID, key.ResolutionLevel, key.PosX, key.PosY)
	if err != nil {
		return nil, fmt.Errorf("store: features by key: %w", err)
	}
	defer rows.Close()

	var out []models.FeatureVector
	for rows.Next() {
		var f models.FeatureVector
		if err := rows.Scan(&f.VectorID, &f.ImageID, &f.ValueTypeID, &f.ResolutionLevel, &f.PosX, &f.PosY, &f.RelX, &f.RelY, &f.Value, &f.Size, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan feature vector: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RecordUsage bumps a vector's usage counter and last-seen score. Lost
// updates under concurrent calls for the same vector are acceptable.
func (s *Store) RecordUsage(ctx context.Context, vectorID int64, score float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feature_usage (vector_id, usage_count, last_used, last_score)
		VALUES ($1, 1, NOW(), $2)
		ON CONFLICT (vector_id) DO UPDATE
		SET usage_count = feature_usage.usage_count + 1, last_used = NOW(), last_score = $2
	`, vectorID, score)
	return err
}

// RecordSkip bumps a descriptor hash's skip counter, a pruning hint for
// its whole value_type.
func (s *Store) RecordSkip(ctx context.Context, descriptorHash string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO skip_patterns (descriptor_hash, skip_count, last_used)
		VALUES ($1, 1, NOW())
		ON CONFLICT (descriptor_hash) DO UPDATE
		SET skip_count = skip_patterns.skip_count + 1, last_used = NOW()
	`, descriptorHash)
	return err
}

// ImageCount reports the number of image rows, complete or not, for the
// health endpoint.
func (s *Store) ImageCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM images`).Scan(&n)
	return n, err
}

// OldestImages returns up to limit image ids ordered oldest first.
func (s *Store) OldestImages(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT image_id FROM images ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// IngestedBefore returns complete image ids older than cutoff.
func (s *Store) IngestedBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT image_id FROM images WHERE ingestion_complete = TRUE AND created_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SettingOrDefault reads a key from system_settings, or fallback if unset
// or on error. It queries the table on every call; nothing is cached.
func (s *Store) SettingOrDefault(ctx context.Context, key, fallback string) string {
	var val string
	err := s.pool.QueryRow(ctx, `SELECT value FROM system_settings WHERE key = $1`, key).Scan(&val)
	if err != nil {
		return fallback
	}
	return val
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	return err
}

// UpsertKnowledgeNode inserts a new node and returns its id.
func (s *Store) UpsertKnowledgeNode(ctx context.Context, n models.KnowledgeNode) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO knowledge_nodes
			(parent_node_id, node_type, vector1_id, vector2_id, vector_length, vector_angle, vector_value, hit_count, miss_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING node_id
	`, n.ParentNodeID, n.NodeType, n.Vector1ID, n.Vector2ID, n.VectorLength, n.VectorAngle, n.VectorValue, n.HitCount, n.MissCount).Scan(&id)
	return id, err
}

// UpsertFeatureGroupStat writes the given running moments for
// (valueTypeID, resolutionLevel), replacing any existing row; the caller
// folds the new observation in first (see internal/discovery).
func (s *Store) UpsertFeatureGroupStat(ctx context.Context, stat models.FeatureGroupStat) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feature_group_stats
			(value_type_id, resolution_level, sample_size, mean_length, mean_angle, mean_distance, mean_cosine, mean_pearson)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (value_type_id, resolution_level) DO UPDATE SET
			sample_size = EXCLUDED.sample_size,
			mean_length = EXCLUDED.mean_length,
			mean_angle = EXCLUDED.mean_angle,
			mean_distance = EXCLUDED.mean_distance,
			mean_cosine = EXCLUDED.mean_cosine,
			mean_pearson = EXCLUDED.mean_pearson
	`, stat.ValueTypeID, stat.ResolutionLevel, stat.SampleSize, stat.MeanLength, stat.MeanAngle, stat.MeanDistance, stat.MeanCosine, stat.MeanPearson)
	return err
}

func (s *Store) FeatureGroupStat(ctx context.Context, valueTypeID int64, resolutionLevel int) (models.FeatureGroupStat, bool, error) {
	var stat models.FeatureGroupStat
	err := s.pool.QueryRow(ctx, `
		SELECT value_type_id, resolution_level, sample_size, mean_length, mean_angle, mean_distance, mean_cosine, mean_pearson
		FROM feature_group_stats WHERE value_type_id = $1 AND resolution_level = $2
	`, valueTypeID, resolutionLevel).Scan(
		&stat.ValueTypeID, &stat.ResolutionLevel, &stat.SampleSize,
		&stat.MeanLength, &stat.MeanAngle, &stat.MeanDistance, &stat.MeanCosine, &stat.MeanPearson,
	)
	if err == pgx.ErrNoRows {
		return models.FeatureGroupStat{}, false, nil
	}
	if err != nil {
		return models.FeatureGroupStat{}, false, err
	}
	return stat, true, nil
}

// FeaturesByImage returns every stored vector for one image, ordered by
// descending usage count.
func (s *Store) FeaturesByImage(ctx context.Context, imageID int64) ([]models.FeatureVector, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT fv.vector_id, fv.image_id, fv.value_type_id, fv.resolution_level, fv.pos_x, fv.pos_y,
		       fv.rel_x, fv.rel_y, fv.value, fv.size, fv.created_at
		FROM feature_vectors fv
		LEFT JOIN feature_usage fu ON fu.vector_id = fv.vector_id
		WHERE fv.image_id = $1
		ORDER BY COALESCE(fu.usage_count, 0) DESC
	`, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.FeatureVector
	for rows.Next() {
		var f models.FeatureVector
		if err := rows.Scan(&f.VectorID, &f.ImageID, &f.ValueTypeID, &f.ResolutionLevel, &f.PosX, &f.PosY, &f.RelX, &f.RelY, &f.Value, &f.Size, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CompleteImageCount reports how many images have finished ingestion,
// the discoverer's early-exit check.
func (s *Store) CompleteImageCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM images WHERE ingestion_complete = TRUE`).Scan(&n)
	return n, err
}

// RandomCompleteImage picks one ingestion-complete image older than
// olderThan, uniformly at random via Postgres's TABLESAMPLE-free
// ORDER BY random() — acceptable at corpus sizes this system targets.
func (s *Store) RandomCompleteImage(ctx context.Context, olderThan time.Time) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		SELECT image_id FROM images
		WHERE ingestion_complete = TRUE AND created_at < $1
		ORDER BY random() LIMIT 1
	`, olderThan).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// RandomFeature picks one feature vector belonging to imageID at random.
func (s *Store) RandomFeature(ctx context.Context, imageID int64) (models.FeatureVector, bool, error) {
	var f models.FeatureVector
	err := s.pool.QueryRow(ctx, `
		SELECT vector_id, image_id, value_type_id, resolution_level, pos_x, pos_y, rel_x, rel_y, value, size, created_at
		FROM feature_vectors WHERE image_id = $1 ORDER BY random() LIMIT 1
	`, imageID).Scan(&f.VectorID, &f.ImageID, &f.ValueTypeID, &f.ResolutionLevel, &f.PosX, &f.PosY, &f.RelX, &f.RelY, &f.Value, &f.Size, &f.CreatedAt)
	if err == pgx.ErrNoRows {
		return models.FeatureVector{}, false, nil
	}
	if err != nil {
		return models.FeatureVector{}, false, err
	}
	return f, true, nil
}

// FeaturesForImage returns every stored vector for one image in
// insertion order, unlike FeaturesByImage which favors usage.
func (s *Store) FeaturesForImage(ctx context.Context, imageID int64) ([]models.FeatureVector, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT vector_id, image_id, value_type_id, resolution_level, pos_x, pos_y, rel_x, rel_y, value, size, created_at
		FROM feature_vectors WHERE image_id = $1 ORDER BY vector_id
	`, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.FeatureVector
	for rows.Next() {
		var f models.FeatureVector
		if err := rows.Scan(&f.VectorID, &f.ImageID, &f.ValueTypeID, &f.ResolutionLevel, &f.PosX, &f.PosY, &f.RelX, &f.RelY, &f.Value, &f.Size, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CompleteFeaturesByKey returns features on other ingestion-complete
// images sharing key — the raw candidate pool the ambiguity-set computation
// narrows with internal/match's own offset-tolerance and distance rules,
// the same way a live probe's FeaturesByKey result is narrowed.
func (s *Store) CompleteFeaturesByKey(ctx context.Context, key models.LookupKey, excludeImageID int64) ([]models.FeatureVector, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT fv.vector_id, fv.image_id, fv.value_type_id, fv.resolution_level, fv.pos_x, fv.pos_y,
		       fv.rel_x, fv.rel_y, fv.value, fv.size, fv.created_at
		FROM feature_vectors fv
		JOIN images img ON img.image_id = fv.image_id
		WHERE fv.value_type_id = $1 AND fv.resolution_level = $2 AND fv.pos_x = $3 AND fv.pos_y = $4
		  AND fv.image_id != $5
		  AND img.ingestion_complete = TRUE
	`, key.ValueTypeID, key.ResolutionLevel, key.PosX, key.PosY, excludeImageID)
	if err != nil {
		return nil, fmt.Errorf("store: complete features by key: %w", err)
	}
	defer rows.Close()
	var out []models.FeatureVector
	for rows.Next() {
		var row models.FeatureVector
		if err := rows.Scan(&row.VectorID, &row.ImageID, &row.ValueTypeID, &row.ResolutionLevel, &row.PosX, &row.PosY, &row.RelX, &row.RelY, &row.Value, &row.Size, &row.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// FeaturesByKeyInImages returns, for a lookup key, at most one feature
// per image among imageIDs — the per-image correspondents of a
// candidate discriminator inside an ambiguity set.
func (s *Store) FeaturesByKeyInImages(ctx context.Context, key models.LookupKey, imageIDs []int64) ([]models.FeatureVector, error) {
	if len(imageIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT vector_id, image_id, value_type_id, resolution_level, pos_x, pos_y, rel_x, rel_y, value, size, created_at
		FROM feature_vectors
		WHERE value_type_id = $1 AND resolution_level = $2 AND pos_x = $3 AND pos_y = $4
		  AND image_id = ANY($5)
	`, key.ValueTypeID, key.ResolutionLevel, key.PosX, key.PosY, imageIDs)
	if err != nil {
		return nil, fmt.Errorf("store: features by key in images: %w", err)
	}
	defer rows.Close()
	var out []models.FeatureVector
	for rows.Next() {
		var f models.FeatureVector
		if err := rows.Scan(&f.VectorID, &f.ImageID, &f.ValueTypeID, &f.ResolutionLevel, &f.PosX, &f.PosY, &f.RelX, &f.RelY, &f.Value, &f.Size, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SchemaSizeBytes reports the on-disk size of the current schema's
// tables, the governor's capacity trigger.
func (s *Store) SchemaSizeBytes(ctx context.Context) (int64, error) {
	var size int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(pg_total_relation_size(quote_ident(table_name))), 0)
		FROM information_schema.tables
		WHERE table_schema = 'public'
	`).Scan(&size)
	return size, err
}

// DeleteLowUsageFeatureVectors deletes up to batchLimit feature_vectors
// ordered by (usage_count ASC, created_at ASC), excluding any vector
// referenced by a knowledge_node.
func (s *Store) DeleteLowUsageFeatureVectors(ctx context.Context, batchLimit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM feature_vectors
		WHERE vector_id IN (
			SELECT fv.vector_id
			FROM feature_vectors fv
			LEFT JOIN feature_usage fu ON fu.vector_id = fv.vector_id
			WHERE NOT EXISTS (
				SELECT 1 FROM knowledge_nodes kn
				WHERE kn.vector1_id = fv.vector_id OR kn.vector2_id = fv.vector_id
			)
			ORDER BY COALESCE(fu.usage_count, 0) ASC, fv.created_at ASC
			LIMIT $1
		)
	`, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("store: delete low usage feature vectors: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// SkipPatternsAboveThreshold returns descriptor hashes whose skip_count
// has crossed minSkipCount.
func (s *Store) SkipPatternsAboveThreshold(ctx context.Context, minSkipCount int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT descriptor_hash FROM skip_patterns WHERE skip_count >= $1`, minSkipCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DeleteFeatureVectorsForDescriptorHash deletes up to batchLimit
// feature_vectors belonging to the value_type identified by
// descriptorHash.
func (s *Store) DeleteFeatureVectorsForDescriptorHash(ctx context.Context, descriptorHash string, batchLimit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM feature_vectors
		WHERE vector_id IN (
			SELECT fv.vector_id FROM feature_vectors fv
			JOIN value_types vt ON vt.value_type_id = fv.value_type_id
			WHERE vt.descriptor_hash = $1
			LIMIT $2
		)
	`, descriptorHash, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("store: delete feature vectors for hash: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteOrphanedValueTypesAndSkipPatterns removes value_types with no
// remaining feature_vectors and their matching skip_patterns rows.
func (s *Store) DeleteOrphanedValueTypesAndSkipPatterns(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM skip_patterns sp
		WHERE NOT EXISTS (
			SELECT 1 FROM value_types vt
			JOIN feature_vectors fv ON fv.value_type_id = vt.value_type_id
			WHERE vt.descriptor_hash = sp.descriptor_hash
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("store: delete orphaned skip patterns: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
		DELETE FROM value_types vt
		WHERE NOT EXISTS (SELECT 1 FROM feature_vectors fv WHERE fv.value_type_id = vt.value_type_id)
	`); err != nil {
		return int(tag.RowsAffected()), fmt.Errorf("store: delete orphaned value types: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteStaleGroupNodes removes GROUP knowledge_nodes older than minAge
// with hit_count at or below maxHitCount.
func (s *Store) DeleteStaleGroupNodes(ctx context.Context, minAge time.Duration, maxHitCount int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM knowledge_nodes
		WHERE node_type = 'GROUP'
		  AND hit_count <= $1
		  AND created_at < NOW() - $2::interval
	`, maxHitCount, fmt.Sprintf("%d seconds", int64(minAge.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("store: delete stale group nodes: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// TopFeatureGroupStats returns the feature_group_stats rows with the
// highest sample_size, for knowledge.Selector.SelectTopDescriptors.
func (s *Store) TopFeatureGroupStats(ctx context.Context, limit int, minSampleSize int64) ([]models.FeatureGroupStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT value_type_id, resolution_level, sample_size, mean_length, mean_angle, mean_distance, mean_cosine, mean_pearson
		FROM feature_group_stats
		WHERE sample_size >= $1
		ORDER BY sample_size DESC
		LIMIT $2
	`, minSampleSize, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.FeatureGroupStat
	for rows.Next() {
		var st models.FeatureGroupStat
		if err := rows.Scan(&st.ValueTypeID, &st.ResolutionLevel, &st.SampleSize, &st.MeanLength, &st.MeanAngle, &st.MeanDistance, &st.MeanCosine, &st.MeanPearson); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// GroupNodesByParentValueType finds GROUP knowledge_nodes whose anchor
// (vector1) belongs to valueTypeID.
func (s *Store) GroupNodesByParentValueType(ctx context.Context, valueTypeID int64) ([]models.KnowledgeNode, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kn.node_id, kn.parent_node_id, kn.node_type, kn.vector1_id, kn.vector2_id,
		       kn.vector_length, kn.vector_angle, kn.vector_value, kn.hit_count, kn.miss_count, kn.created_at
		FROM knowledge_nodes kn
		JOIN feature_vectors fv ON fv.vector_id = kn.vector1_id
		WHERE kn.node_type = 'GROUP' AND fv.value_type_id = $1
		ORDER BY kn.hit_count DESC
	`, valueTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.KnowledgeNode
	for rows.Next() {
		var n models.KnowledgeNode
		if err := rows.Scan(&n.NodeID, &n.ParentNodeID, &n.NodeType, &n.Vector1ID, &n.Vector2ID, &n.VectorLength, &n.VectorAngle, &n.VectorValue, &n.HitCount, &n.MissCount, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// DescriptorForValueType reconstructs a descriptor from its stored
// descriptor_json.
func (s *Store) DescriptorForValueType(ctx context.Context, valueTypeID int64) (models.Descriptor, bool, error) {
	var blob string
	err := s.pool.QueryRow(ctx, `SELECT descriptor_json FROM value_types WHERE value_type_id = $1`, valueTypeID).Scan(&blob)
	if err == pgx.ErrNoRows {
		return models.Descriptor{}, false, nil
	}
	if err != nil {
		return models.Descriptor{}, false, err
	}
	d, err := decodeDescriptorJSON(blob)
	if err != nil {
		return models.Descriptor{}, false, err
	}
	return d, true, nil
}

// FeatureVectorByID loads a single feature vector by id.
func (s *Store) FeatureVectorByID(ctx context.Context, vectorID int64) (models.FeatureVector, bool, error) {
	var f models.FeatureVector
	err := s.pool.QueryRow(ctx, `
		SELECT vector_id, image_id, value_type_id, resolution_level, pos_x, pos_y, rel_x, rel_y, value, size, created_at
		FROM feature_vectors WHERE vector_id = $1
	`, vectorID).Scan(&f.VectorID, &f.ImageID, &f.ValueTypeID, &f.ResolutionLevel, &f.PosX, &f.PosY, &f.RelX, &f.RelY, &f.Value, &f.Size, &f.CreatedAt)
	if err == pgx.ErrNoRows {
		return models.FeatureVector{}, false, nil
	}
	if err != nil {
		return models.FeatureVector{}, false, err
	}
	return f, true, nil
}

// ValueTypeByHash resolves a previously-seen descriptor hash without
// inserting a new one, used when a probe must refer to an existing type.
func (s *Store) ValueTypeByHash(ctx context.Context, hash string) (int64, bool, error) {
	s.cacheMu.RLock()
	if id, ok := s.cache[hash]; ok {
		s.cacheMu.RUnlock()
		return id, true, nil
	}
	s.cacheMu.RUnlock()

	var id int64
	err := s.pool.QueryRow(ctx, `SELECT value_type_id FROM value_types WHERE descriptor_hash = $1`, hash).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	s.cacheMu.Lock()
	s.cache[hash] = id
	s.cacheMu.Unlock()
	return id, true, nil
}
