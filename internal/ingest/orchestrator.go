// Package ingest walks a corpus directory and turns each image into
// persisted feature vectors, running progressively more knowledge-guided
// cycles per image and keeping the worker pool sized to what the host can
// currently sustain.
package ingest

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sync/semaphore"

	"github.com/rawblock/probefind/internal/augment"
	"github.com/rawblock/probefind/internal/config"
	"github.com/rawblock/probefind/internal/knowledge"
	"github.com/rawblock/probefind/internal/raster"
	"github.com/rawblock/probefind/internal/rasterio"
	"github.com/rawblock/probefind/internal/sampling"
	"github.com/rawblock/probefind/internal/vector"
	"github.com/rawblock/probefind/pkg/models"
)

// Store is the subset of the feature store the orchestrator needs.
type Store interface {
	InsertImage(ctx context.Context, filename string) (int64, error)
	MarkIngestionComplete(ctx context.Context, imageID int64) error
	ResolveValueType(ctx context.Context, d models.Descriptor) (int64, error)
	InsertFeatureVectors(ctx context.Context, vectors []models.FeatureVector) error
}

// Selector proposes knowledge-guided descriptors for later ingestion cycles.
type Selector interface {
	SelectTopDescriptors(ctx context.Context, limit int, minSampleSize int64) ([]knowledge.ProbeSpec, error)
}

// Discoverer runs correlation-discovery iterations after an ingest completes.
type Discoverer interface {
	Run(ctx context.Context, iterations int, cancel func() bool) (ran, discovered int, err error)
}

// Governor performs real-time pruning after an ingest completes; when it
// also has EnsureStorageCapacity (as *governor.Governor does), afterIngest
// runs the capacity check too.
type Governor interface {
	RealtimePrune(ctx context.Context, ingestEveryN int, minInterval time.Duration) (skipRelated, staleGroups int, err error)
}

// ProgressEvent is emitted on Config.OnProgress for telemetry consumers.
type ProgressEvent struct {
	Path         string
	ImageID      int64
	FeatureCount int
	Err          error
	Workers      int
}

// Config tunes the orchestrator's progressive ingestion and worker pool.
type Config struct {
	RandomComboCount   int
	RandomPerAug       int           // ordinals sampled per augmentation on cycle 1
	Cycles             int           // total ingestion cycles per image
	GuidedPerCycle     int           // descriptors pulled from C10 per cycle after the first
	MinGuidedSampleSize int64
	MaxWorkers         int           // 0 = min(cpuCount, 8)
	DiscoverEveryNIngests int        // run discovery every N completed ingests; 0 disables
	DiscoverIterations int
	RealtimePruneEveryNIngests int
	RealtimePruneMinInterval   time.Duration
	OnProgress         func(ProgressEvent)
}

func (c Config) maxWorkers() int {
	if c.MaxWorkers > 0 {
		return c.MaxWorkers
	}
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Orchestrator owns the worker pool and drives C2->C5->C3->C6 per image.
type Orchestrator struct {
	loader     *rasterio.Loader
	store      Store
	selector   Selector
	discoverer Discoverer
	governor   Governor
	cfg        Config

	ingestedSinceDiscover atomic.Int64
	totalIngested         atomic.Int64
	totalFailed           atomic.Int64
}

func New(loader *rasterio.Loader, store Store, selector Selector, discoverer Discoverer, governor Governor, cfg Config) *Orchestrator {
	if cfg.Cycles <= 0 {
		cfg.Cycles = 1
	}
	if cfg.RandomPerAug <= 0 {
		cfg.RandomPerAug = 8
	}
	return &Orchestrator{loader: loader, store: store, selector: selector, discoverer: discoverer, governor: governor, cfg: cfg}
}

// Progress reports cumulative counters, for the train command's summary.
func (o *Orchestrator) Progress() (ingested, failed int64) {
	return o.totalIngested.Load(), o.totalFailed.Load()
}

// WalkDirectory lists every file under dir whose extension is in
// extensions (case-insensitive, leading dot required, e.g. ".jpg"),
// optionally shuffled with the given rng.
func WalkDirectory(dir string, extensions []string, shuffle bool, rng *rand.Rand) ([]string, error) {
	allowed := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		allowed[strings.ToLower(e)] = true
	}
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if allowed[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: walk %s: %w", dir, err)
	}
	if shuffle {
		if rng == nil {
			rng = rand.New(rand.NewSource(1))
		}
		rng.Shuffle(len(paths), func(i, j int) { paths[i], paths[j] = paths[j], paths[i] })
	}
	return paths, nil
}

// IngestDirectory walks dir and ingests every matching file through an
// adaptively-sized worker pool. A worker is added when the host looks
// healthy and removed when it doesn't, sampled every 5 seconds.
func (o *Orchestrator) IngestDirectory(ctx context.Context, dir string, extensions []string, shuffle bool) error {
	paths, err := WalkDirectory(dir, extensions, shuffle, nil)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		log.Printf("[Ingest] no matching files under %s", dir)
		return nil
	}

	pool := newAdaptivePool(o.cfg.maxWorkers())
	defer pool.stop()

	var wg sync.WaitGroup
	for _, p := range paths {
		path := p
		if err := pool.acquire(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer pool.release()
			imageID, featureCount, ierr := o.IngestOne(ctx, path)
			if ierr != nil {
				o.totalFailed.Add(1)
				log.Printf("[Ingest] failed %s: %v", path, ierr)
			} else {
				o.totalIngested.Add(1)
			}
			if o.cfg.OnProgress != nil {
				o.cfg.OnProgress(ProgressEvent{Path: path, ImageID: imageID, FeatureCount: featureCount, Err: ierr, Workers: pool.current()})
			}
		}()
	}
	wg.Wait()
	return nil
}

// IngestOne decodes path, extracts features through progressive cycles,
// persists them, marks the image complete, and triggers bounded
// post-ingest discovery/pruning. A missing file is rejected without
// affecting the rest of the pool.
func (o *Orchestrator) IngestOne(ctx context.Context, path string) (imageID int64, featureCount int, err error) {
	if _, statErr := os.Stat(path); statErr != nil {
		return 0, 0, fmt.Errorf("ingest: missing image file %s: %w", path, statErr)
	}

	imageID, err = o.store.InsertImage(ctx, path)
	if err != nil {
		return 0, 0, fmt.Errorf("ingest: insert image: %w", err)
	}

	buffers := map[string]raster.Buffer{}
	origBuf, err := o.loader.Decode(path)
	if err != nil {
		return imageID, 0, fmt.Errorf("ingest: decode %s: %w", path, err)
	}
	buffers["original"] = origBuf
	width, height := origBuf.Bounds.Width(), origBuf.Bounds.Height()

	bufferFor := func(augName string) (raster.Buffer, error) {
		if buf, ok := buffers[augName]; ok {
			return buf, nil
		}
		params := augment.Params{}
		if strings.HasPrefix(augName, "random_combo_") {
			params = augment.DeriveParams(path, augName, width, height)
		}
		buf, derr := o.loader.DecodeAugmented(path, augName, params)
		if derr != nil {
			return raster.Buffer{}, derr
		}
		buffers[augName] = buf
		return buf, nil
	}

	var all []models.FeatureVector
	seen := map[int64]bool{}

	addDescriptor := func(d models.Descriptor) error {
		buf, berr := bufferFor(d.Augmentation)
		if berr != nil {
			return berr
		}
		res, verr := vector.Extract(buf, d)
		if verr != nil {
			if verr == vector.ErrSpanTooLarge {
				return nil
			}
			return verr
		}
		vt, verr := o.store.ResolveValueType(ctx, res.Descriptor)
		if verr != nil {
			return verr
		}
		all = append(all, models.FeatureVector{
			ImageID:         imageID,
			ValueTypeID:     vt,
			ResolutionLevel: res.Descriptor.ResolutionLevel(config.SpanScale),
			PosX:            res.Descriptor.PosX(config.AnchorScale),
			PosY:            res.Descriptor.PosY(config.AnchorScale),
			RelX:            res.RelX,
			RelY:            res.RelY,
			Value:           res.Value,
			Size:            res.Size,
		})
		return nil
	}

	for cycle := 0; cycle < o.cfg.Cycles; cycle++ {
		if cycle == 0 {
			names := append(append([]string{}, config.FixedAugmentations...), randomComboNames(o.cfg.RandomComboCount)...)
			rng := rand.New(rand.NewSource(seedForPath(path)))
			for augIdx, name := range names {
				for i := 0; i < o.cfg.RandomPerAug; i++ {
					ordinal := rng.Int63n(config.SamplesPerAugmentation)
					sampleID := sampling.EncodeSampleID(augIdx, ordinal)
					if seen[sampleID] {
						continue
					}
					seen[sampleID] = true
					d := sampling.DescriptorFor(sampleID, o.cfg.RandomComboCount)
					if d.Augmentation != name {
						continue
					}
					if err := addDescriptor(d); err != nil {
						return imageID, len(all), fmt.Errorf("ingest: extract %s: %w", path, err)
					}
				}
			}
			continue
		}

		if o.selector == nil || o.cfg.GuidedPerCycle <= 0 {
			continue
		}
		specs, serr := o.selector.SelectTopDescriptors(ctx, o.cfg.GuidedPerCycle, o.cfg.MinGuidedSampleSize)
		if serr != nil {
			log.Printf("[Ingest] guided cycle %d for %s: %v", cycle, path, serr)
			continue
		}
		for _, spec := range specs {
			if seen[spec.Descriptor.SampleID] {
				continue
			}
			seen[spec.Descriptor.SampleID] = true
			if err := addDescriptor(spec.Descriptor); err != nil {
				return imageID, len(all), fmt.Errorf("ingest: guided extract %s: %w", path, err)
			}
		}
	}

	if len(all) > 0 {
		if err := o.store.InsertFeatureVectors(ctx, all); err != nil {
			return imageID, len(all), fmt.Errorf("ingest: persist features: %w", err)
		}
	}
	if err := o.store.MarkIngestionComplete(ctx, imageID); err != nil {
		return imageID, len(all), fmt.Errorf("ingest: mark complete: %w", err)
	}

	o.afterIngest(ctx, path)
	return imageID, len(all), nil
}

// afterIngest schedules bounded, best-effort discovery and pruning. Its
// failures never fail the ingest job.
func (o *Orchestrator) afterIngest(ctx context.Context, path string) {
	if o.governor != nil {
		if _, _, err := o.governor.RealtimePrune(ctx, o.cfg.RealtimePruneEveryNIngests, o.cfg.RealtimePruneMinInterval); err != nil {
			log.Printf("[Ingest] prune after %s: %v", path, err)
		}
		if cp, ok := o.governor.(interface {
			EnsureStorageCapacity(ctx context.Context) (int, error)
		}); ok {
			if deleted, err := cp.EnsureStorageCapacity(ctx); err != nil {
				log.Printf("[Ingest] capacity check after %s: %v", path, err)
			} else if deleted > 0 {
				log.Printf("[Ingest] storage over capacity: pruned %d feature vectors", deleted)
			}
		}
	}
	if o.discoverer == nil || o.cfg.DiscoverEveryNIngests <= 0 {
		return
	}
	n := o.ingestedSinceDiscover.Add(1)
	if n < int64(o.cfg.DiscoverEveryNIngests) {
		return
	}
	o.ingestedSinceDiscover.Store(0)
	ran, discovered, err := o.discoverer.Run(ctx, o.cfg.DiscoverIterations, func() bool { return false })
	if err != nil {
		log.Printf("[Ingest] discovery batch after %s: %v", path, err)
		return
	}
	log.Printf("[Ingest] discovery batch: ran=%d discovered=%d", ran, discovered)
}

func seedForPath(path string) int64 {
	var h int64 = 1469598103934665603
	for _, b := range []byte(path) {
		h ^= int64(b)
		h *= 1099511628211
	}
	return h
}

func randomComboNames(k int) []string {
	out := make([]string, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, "random_combo_"+strconv.Itoa(i))
	}
	return out
}

// adaptivePool is a semaphore-backed worker pool whose weight is resampled
// periodically against host load/memory, growing when the host looks
// healthy and shrinking (by declining to hand out new permits) otherwise.
type adaptivePool struct {
	sem      *semaphore.Weighted
	maxCap   int64
	curCap   atomic.Int64
	stopCh   chan struct{}
}

func newAdaptivePool(maxWorkers int) *adaptivePool {
	p := &adaptivePool{
		sem:    semaphore.NewWeighted(int64(maxWorkers)),
		maxCap: int64(maxWorkers),
		stopCh: make(chan struct{}),
	}
	p.curCap.Store(int64(maxWorkers))
	go p.sampleLoop()
	return p
}

func (p *adaptivePool) acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

func (p *adaptivePool) release() {
	p.sem.Release(1)
}

func (p *adaptivePool) current() int {
	return int(p.curCap.Load())
}

func (p *adaptivePool) stop() {
	close(p.stopCh)
}

// sampleHostHealthy reports whether the host has headroom for another
// ingest worker: 1-minute load average below one per CPU, and at least a
// fifth of physical memory free. Either reading failing counts as healthy,
// since a sandboxed or restricted host may not expose them.
func sampleHostHealthy() bool {
	healthy := true
	if avg, err := load.Avg(); err == nil {
		if avg.Load1 > float64(runtime.NumCPU()) {
			healthy = false
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		if vm.UsedPercent > 80 {
			healthy = false
		}
	}
	return healthy
}

func (p *adaptivePool) sampleLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			healthy := sampleHostHealthy()
			cur := p.curCap.Load()
			switch {
			case healthy && cur < p.maxCap:
				p.curCap.Add(1)
				p.sem.Release(1)
			case !healthy && cur > 1:
				// Shrink by acquiring and holding one permit so fewer
				// workers can run concurrently; released again once the
				// sample recovers in a later tick.
				if p.sem.TryAcquire(1) {
					p.curCap.Add(-1)
				}
			}
		}
	}
}
