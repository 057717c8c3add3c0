package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/probefind/internal/session"
	"github.com/rawblock/probefind/internal/store"
	"github.com/rawblock/probefind/internal/telemetry"
	"github.com/rawblock/probefind/pkg/models"
)

type fakeFinder struct {
	byHash map[string][]int64
}

func (f *fakeFinder) FindCandidates(ctx context.Context, probe models.Probe) ([]int64, error) {
	return f.byHash[probe.Descriptor.Hash()], nil
}

type fakeAdvisor struct{ next *models.Descriptor }

func (f *fakeAdvisor) NextQuestion(ctx context.Context, sess *models.Session) (*models.Descriptor, error) {
	return f.next, nil
}

type fakeImageStore struct {
	deleted  []int64
	byName   map[string]int64
	failGet  bool
}

func (f *fakeImageStore) ImageCount(ctx context.Context) (int, error) {
	if f.failGet {
		return 0, errors.New("store unavailable")
	}
	return len(f.byName), nil
}

func (f *fakeImageStore) ImageIDByFilename(ctx context.Context, filename string) (int64, bool, error) {
	id, ok := f.byName[filename]
	return id, ok, nil
}

func (f *fakeImageStore) DeleteImage(ctx context.Context, imageID int64) error {
	for _, n := range f.deleted {
		if n == imageID {
			return store.ErrNotFound
		}
	}
	f.deleted = append(f.deleted, imageID)
	return nil
}

type fakeIngestor struct {
	imageID      int64
	featureCount int
}

func (f *fakeIngestor) IngestOne(ctx context.Context, path string) (int64, int, error) {
	return f.imageID, f.featureCount, nil
}

type fakeDiscoverer struct{ ran, discovered int }

func (f *fakeDiscoverer) Run(ctx context.Context, iterations int, cancel func() bool) (int, int, error) {
	return f.ran, f.discovered, nil
}

func newTestHandler(t *testing.T) (*Handler, string) {
	t.Helper()
	d := models.Descriptor{Family: "delta", Channel: "h", Augmentation: "original", SampleID: 1, AnchorU: 0.5, AnchorV: 0.5, Span: 0.1}
	probe := models.Probe{Descriptor: d, Value: 0.2, RelX: 0, RelY: 0, Size: 0.1}
	hash := probe.Descriptor.Hash()

	finder := &fakeFinder{byHash: map[string][]int64{hash: {10, 20}}}
	engine := session.NewEngine(finder, &fakeAdvisor{}, time.Minute)

	h := &Handler{
		Engine:       engine,
		Store:        &fakeImageStore{byName: map[string]int64{"cat.png": 7}},
		Orchestrator: &fakeIngestor{imageID: 42, featureCount: 13},
		Discoverer:   &fakeDiscoverer{ran: 5, discovered: 2},
		Hub:          telemetry.NewHub(),
	}
	return h, hash
}

func doRequest(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleSearchStart_MultipleCandidatesOpensSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, hash := newTestHandler(t)
	r := SetupRouter(h)

	body := map[string]any{"probe": map[string]any{
		"descriptor": map[string]any{"family": "delta", "channel": "h", "augmentation": "original", "sampleId": 1, "anchorU": 0.5, "anchorV": 0.5, "span": 0.1},
		"value":      0.2, "relX": 0, "relY": 0, "size": 0.1,
	}}
	w := doRequest(r, http.MethodPost, "/api/v1/search/start", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, string(models.StatusCandidatesFound), resp["status"])
	require.NotEmpty(t, resp["sessionId"])
	_ = hash
}

func TestHandleSearchStart_RequestProbeReturnsFreshDescriptor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandler(t)
	r := SetupRouter(h)

	w := doRequest(r, http.MethodPost, "/api/v1/search/start", map[string]any{"requestProbe": true})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, string(models.StatusRequestProbe), resp["status"])
	require.NotNil(t, resp["probeSpec"])
}

func TestHandleSearchRefine_UnknownSessionReturns404(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandler(t)
	r := SetupRouter(h)

	body := map[string]any{"sessionId": "does-not-exist", "probe": map[string]any{
		"descriptor": map[string]any{"family": "delta", "channel": "h", "augmentation": "original", "sampleId": 1},
	}}
	w := doRequest(r, http.MethodPost, "/api/v1/search/refine", body)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleAddImage_ReturnsImageIDAndFeatureCount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandler(t)
	r := SetupRouter(h)

	w := doRequest(r, http.MethodPost, "/api/v1/images", map[string]any{"path": "/corpus/cat.png"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, float64(42), resp["imageId"])
	require.Equal(t, float64(13), resp["featureCount"])
}

func TestHandleDeleteImage_ResolvesByFilename(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandler(t)
	r := SetupRouter(h)

	w := doRequest(r, http.MethodDelete, "/api/v1/images/cat.png", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleDeleteImage_UnknownIdentifierReturns404(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandler(t)
	r := SetupRouter(h)

	w := doRequest(r, http.MethodDelete, "/api/v1/images/does-not-exist.png", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleDiscover_RunsBoundedIterations(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandler(t)
	r := SetupRouter(h)

	w := doRequest(r, http.MethodPost, "/api/v1/discover", map[string]any{"iterations": 5})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, float64(5), resp["iterations"])
}

func TestHandleHealth_ReportsCapabilities(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHandler(t)
	r := SetupRouter(h)

	w := doRequest(r, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
}
