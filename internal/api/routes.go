package api

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/probefind/internal/discovery"
	"github.com/rawblock/probefind/internal/knowledge"
	"github.com/rawblock/probefind/internal/sampling"
	"github.com/rawblock/probefind/internal/session"
	"github.com/rawblock/probefind/internal/store"
	"github.com/rawblock/probefind/internal/telemetry"
	"github.com/rawblock/probefind/pkg/models"
)

// ImageStore is the subset of the feature store the image endpoints need.
type ImageStore interface {
	ImageCount(ctx context.Context) (int, error)
	ImageIDByFilename(ctx context.Context, filename string) (int64, bool, error)
	DeleteImage(ctx context.Context, imageID int64) error
}

// Ingestor runs one image through the ingest pipeline end to end.
type Ingestor interface {
	IngestOne(ctx context.Context, path string) (imageID int64, featureCount int, err error)
}

// DiscoveryRunner runs a bounded batch of correlation-discovery iterations.
type DiscoveryRunner interface {
	Run(ctx context.Context, iterations int, cancel func() bool) (ran, discovered int, err error)
}

// TopDescriptorSelector proposes a knowledge-biased probe for a fresh session.
type TopDescriptorSelector interface {
	SelectTopDescriptors(ctx context.Context, limit int, minSampleSize int64) ([]knowledge.ProbeSpec, error)
}

// Handler wires the session engine, feature store, ingest orchestrator,
// discoverer, and telemetry hub into the HTTP surface.
type Handler struct {
	Engine           *session.Engine
	Store            ImageStore
	Orchestrator     Ingestor
	Discoverer       DiscoveryRunner
	Selector         TopDescriptorSelector
	Hub              *telemetry.Hub
	RandomComboCount int
	MinGuidedSample  int64
	RateLimitPerMin  int
	RateLimitBurst   int
}

// SetupRouter builds the Gin engine: public health/stream endpoints, and
// bearer-token + rate-limited probing/ingestion/discovery endpoints.
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", h.handleHealth)
		pub.GET("/stream", h.Hub.Subscribe)
	}

	ratePerMin, burst := h.RateLimitPerMin, h.RateLimitBurst
	if ratePerMin <= 0 {
		ratePerMin = 60
	}
	if burst <= 0 {
		burst = 10
	}

	protected := r.Group("/api/v1")
	protected.Use(AuthMiddleware())
	protected.Use(NewRateLimiter(ratePerMin, burst).Middleware())
	{
		protected.POST("/search/start", h.handleSearchStart)
		protected.POST("/search/refine", h.handleSearchRefine)
		protected.POST("/images", h.handleAddImage)
		protected.DELETE("/images/:identifier", h.handleDeleteImage)
		protected.POST("/discover", h.handleDiscover)
	}

	return r
}

type probeRequest struct {
	RequestProbe bool          `json:"requestProbe"`
	SessionID    string        `json:"sessionId"`
	Probe        *models.Probe `json:"probe"`
}

func (h *Handler) handleSearchStart(c *gin.Context) {
	var req probeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	if req.RequestProbe {
		spec, err := h.nextProbeSpec(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": models.StatusRequestProbe, "probeSpec": spec})
		return
	}

	if req.Probe == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "probe is required unless requestProbe is set"})
		return
	}

	outcome, err := h.Engine.Start(c.Request.Context(), *req.Probe)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, outcomeResponse(outcome))
}

type refineRequest struct {
	SessionID string       `json:"sessionId"`
	Probe     models.Probe `json:"probe"`
}

func (h *Handler) handleSearchRefine(c *gin.Context) {
	var req refineRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	outcome, err := h.Engine.Refine(c.Request.Context(), req.SessionID, req.Probe)
	if errors.Is(err, session.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := outcomeResponse(outcome)
	if outcome.Status == models.StatusCandidatesFound {
		if q, qerr := h.Engine.NextQuestion(c.Request.Context(), outcome.SessionID); qerr == nil && q != nil {
			resp["nextQuestion"] = q
		}
	}
	c.JSON(http.StatusOK, resp)
}

func outcomeResponse(o session.Outcome) gin.H {
	resp := gin.H{"status": o.Status, "constellationPath": o.Constellation}
	if o.SessionID != "" {
		resp["sessionId"] = o.SessionID
	}
	if o.Status == models.StatusMatchFound {
		resp["imageId"] = o.ImageID
	}
	if len(o.Candidates) > 0 {
		resp["candidates"] = o.Candidates
	}
	return resp
}

func (h *Handler) nextProbeSpec(ctx context.Context) (models.Descriptor, error) {
	if h.Selector != nil {
		specs, err := h.Selector.SelectTopDescriptors(ctx, 1, h.MinGuidedSample)
		if err != nil {
			return models.Descriptor{}, err
		}
		if len(specs) > 0 {
			return specs[0].Descriptor, nil
		}
	}
	return sampling.DescriptorFor(rand.Int63(), h.RandomComboCount), nil
}

type addImageRequest struct {
	Path     string `json:"path"`
	Discover int    `json:"discover"`
}

func (h *Handler) handleAddImage(c *gin.Context) {
	var req addImageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	imageID, featureCount, err := h.Orchestrator.IngestOne(c.Request.Context(), req.Path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.Hub.Emit(telemetry.Event{Type: telemetry.EventIngestProgress, Payload: gin.H{"imageId": imageID, "featureCount": featureCount, "path": req.Path}})

	if req.Discover > 0 && h.Discoverer != nil {
		ran, discovered, derr := h.Discoverer.Run(c.Request.Context(), req.Discover, func() bool { return false })
		if derr != nil {
			log.Printf("[API] post-ingest discovery for %s: %v", req.Path, derr)
		} else {
			h.Hub.Emit(telemetry.Event{Type: telemetry.EventDiscoveryIteration, Payload: gin.H{"ran": ran, "discovered": discovered}})
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "OK", "imageId": imageID, "featureCount": featureCount})
}

func (h *Handler) handleDeleteImage(c *gin.Context) {
	identifier := c.Param("identifier")

	imageID, err := h.resolveImageIdentifier(c.Request.Context(), identifier)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}

	if err := h.Store.DeleteImage(c.Request.Context(), imageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "OK", "imageId": imageID})
}

func (h *Handler) resolveImageIdentifier(ctx context.Context, identifier string) (int64, error) {
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		return id, nil
	}
	id, ok, err := h.Store.ImageIDByFilename(ctx, identifier)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, store.ErrNotFound
	}
	return id, nil
}

type discoverRequest struct {
	Iterations int `json:"iterations"`
}

func (h *Handler) handleDiscover(c *gin.Context) {
	var req discoverRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Iterations <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "iterations must be a positive integer"})
		return
	}

	ran, discovered, err := h.Discoverer.Run(c.Request.Context(), req.Iterations, func() bool { return false })
	if err != nil && !errors.Is(err, discovery.ErrInsufficientImages) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.Hub.Emit(telemetry.Event{Type: telemetry.EventDiscoveryIteration, Payload: gin.H{"ran": ran, "discovered": discovered}})
	c.JSON(http.StatusOK, gin.H{"status": "OK", "iterations": ran})
}

func (h *Handler) handleHealth(c *gin.Context) {
	dbOK := true
	if _, err := h.Store.ImageCount(c.Request.Context()); err != nil {
		dbOK = false
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "operational",
		"dbConnected": dbOK,
		"sessions":    h.Engine.Count(),
		"capabilities": gin.H{
			"discovery": h.Discoverer != nil,
			"knowledge": h.Selector != nil,
		},
		"timestamp": time.Now().UTC(),
	})
}
