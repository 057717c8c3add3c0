package ingest

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawblock/probefind/internal/rasterio"
	"github.com/rawblock/probefind/pkg/models"
)

type fakeStore struct {
	nextImageID    int64
	nextValueType  int64
	valueTypesByHash map[string]int64
	completed      map[int64]bool
	vectors        []models.FeatureVector
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextImageID:      1,
		nextValueType:    1,
		valueTypesByHash: map[string]int64{},
		completed:        map[int64]bool{},
	}
}

func (f *fakeStore) InsertImage(ctx context.Context, filename string) (int64, error) {
	id := f.nextImageID
	f.nextImageID++
	return id, nil
}

func (f *fakeStore) MarkIngestionComplete(ctx context.Context, imageID int64) error {
	f.completed[imageID] = true
	return nil
}

func (f *fakeStore) ResolveValueType(ctx context.Context, d models.Descriptor) (int64, error) {
	hash := d.Hash()
	if id, ok := f.valueTypesByHash[hash]; ok {
		return id, nil
	}
	id := f.nextValueType
	f.nextValueType++
	f.valueTypesByHash[hash] = id
	return id, nil
}

func (f *fakeStore) InsertFeatureVectors(ctx context.Context, vectors []models.FeatureVector) error {
	f.vectors = append(f.vectors, vectors...)
	return nil
}

func writeTestPNG(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	path := filepath.Join(dir, "probe.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestIngestOne_ExtractsAndPersistsFeatures(t *testing.T) {
	dir := t.TempDir()
	path := writeTestPNG(t, dir)

	store := newFakeStore()
	loader := rasterio.NewLoader(rasterio.Config{})
	orch := New(loader, store, nil, nil, nil, Config{RandomComboCount: 0, RandomPerAug: 3, Cycles: 1})

	imageID, count, err := orch.IngestOne(context.Background(), path)
	require.NoError(t, err)
	require.Greater(t, count, 0)
	require.True(t, store.completed[imageID])
	require.Len(t, store.vectors, count)
}

func TestIngestOne_MissingFileIsRejectedWithoutTouchingStore(t *testing.T) {
	store := newFakeStore()
	loader := rasterio.NewLoader(rasterio.Config{})
	orch := New(loader, store, nil, nil, nil, Config{RandomPerAug: 2, Cycles: 1})

	_, _, err := orch.IngestOne(context.Background(), "/nonexistent/path/to/image.png")
	require.Error(t, err)
	require.Empty(t, store.vectors)
}

func TestWalkDirectory_FiltersByExtension(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o644))

	paths, err := WalkDirectory(dir, []string{".png"}, false, nil)
	require.NoError(t, err)
	require.Len(t, paths, 1)
}
