package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"go.ngs.io/nexgddp-api/internal/adapter/geometry"
	"go.ngs.io/nexgddp-api/internal/dataset"
	"go.ngs.io/nexgddp-api/internal/domain"
	"go.ngs.io/nexgddp-api/internal/observability"
	"go.ngs.io/nexgddp-api/internal/usecase"
)

// DatasetService resolves and assembles NEX-GDDP-CMIP6 datasets.
type DatasetService interface {
	Groups(variables, scenarios []string) ([]string, error)
	GetDataset(ctx context.Context, variables, scenarios []string) (*dataset.Dataset, error)
}

// Options tunes a Handler.
type Options struct {
	StoreRoot      string
	MaxReadCells   int
	RequestTimeout time.Duration
	Clock          clockwork.Clock
}

// Handler handles HTTP requests for climate datasets.
type Handler struct {
	service DatasetService
	metrics *observability.Metrics
	logger  *slog.Logger
	opts    Options
}

// NewHandler creates a new HTTP handler.
func NewHandler(service DatasetService, metrics *observability.Metrics, logger *slog.Logger, opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Handler{
		service: service,
		metrics: metrics,
		logger:  logger,
		opts:    opts,
	}
}

// CatalogResponse lists what the archive serves.
type CatalogResponse struct {
	Variables              []string       `json:"variables"`
	Scenarios              []string       `json:"scenarios"`
	TimeOptimizedScenarios []string       `json:"time_optimized_scenarios"`
	ChunkLayout            map[string]int `json:"chunk_layout"`
	StoreRoot              string         `json:"store_root"`
}

// ClipRequest is the body of POST /v1/datasets/clip.
type ClipRequest struct {
	Variables []string        `json:"variables"`
	Scenarios []string        `json:"scenarios"`
	Region    json.RawMessage `json:"region"`
	CRS       string          `json:"crs,omitempty"` // Overrides the GeoJSON crs member.
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   h.opts.Clock.Now().UTC().Format(time.RFC3339),
	})
}

// GetCatalog handles GET /v1/catalog.
func (h *Handler) GetCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, CatalogResponse{
		Variables:              domain.Variables(),
		Scenarios:              domain.Scenarios(),
		TimeOptimizedScenarios: domain.TimeOptimizedScenarios(),
		ChunkLayout:            domain.ChunkLayout(),
		StoreRoot:              h.opts.StoreRoot,
	})
}

// GetGroups handles GET /v1/groups.
func (h *Handler) GetGroups(c *gin.Context) {
	groups, err := h.service.Groups(queryList(c, "variables"), queryList(c, "scenarios"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"groups": groups,
		"count":  len(groups),
	})
}

// GetDataset handles GET /v1/datasets.
func (h *Handler) GetDataset(c *gin.Context) {
	variables, scenarios := queryList(c, "variables"), queryList(c, "scenarios")

	ctx, cancel := h.requestContext(c)
	defer cancel()

	ds, groups, err := h.assemble(ctx, variables, scenarios)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, usecase.Describe(ds, groups))
}

// ClipDataset handles POST /v1/datasets/clip.
func (h *Handler) ClipDataset(c *gin.Context) {
	var req ClipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if len(req.Region) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "region is required"})
		return
	}
	region, err := geometry.FromGeoJSON(req.Region)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if req.CRS != "" {
		region.CRS = geometry.NormalizeCRS(req.CRS)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	ds, groups, err := h.assemble(ctx, req.Variables, req.Scenarios)
	if err != nil {
		h.writeError(c, err)
		return
	}

	start := time.Now()
	clipped, err := usecase.SelectRegion(ds, region)
	h.metrics.ClipDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, usecase.Describe(clipped, groups))
}

// GetTimeSeries handles GET /v1/timeseries.
func (h *Handler) GetTimeSeries(c *gin.Context) {
	req := usecase.SeriesRequest{
		Variable: c.Query("variable"),
		Scenario: c.Query("scenario"),
		Model:    c.Query("model"),
		Method:   c.Query("method"),
		MaxCells: h.opts.MaxReadCells,
	}

	var err error
	if req.Lat, err = queryFloat(c, "lat"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Lon, err = queryFloat(c, "lon"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Start, err = usecase.ParseTimeBound(c.Query("start")); err != nil {
		h.writeError(c, err)
		return
	}
	if req.End, err = usecase.ParseTimeBound(c.Query("end")); err != nil {
		h.writeError(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(c, err)
		return
	}
	group, ok := domain.StoreGroup(req.Scenario)
	if !ok {
		h.writeError(c, &domain.UnknownScenarioError{Names: []string{req.Scenario}})
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	ds, _, err := h.assemble(ctx, []string{req.Variable}, []string{group})
	if err != nil {
		h.writeError(c, err)
		return
	}
	resp, err := usecase.ExtractSeries(ctx, ds, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) assemble(ctx context.Context, variables, scenarios []string) (*dataset.Dataset, []string, error) {
	groups, err := h.service.Groups(variables, scenarios)
	if err != nil {
		return nil, nil, err
	}
	ds, err := h.service.GetDataset(ctx, variables, scenarios)
	if err != nil {
		return nil, nil, err
	}
	return ds, groups, nil
}

func (h *Handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.opts.RequestTimeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.opts.RequestTimeout)
}

// queryList collects a comma separated and/or repeated query parameter.
func queryList(c *gin.Context, key string) []string {
	var out []string
	for _, v := range c.QueryArray(key) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func queryFloat(c *gin.Context, key string) (float64, error) {
	s := c.Query(key)
	if s == "" {
		return 0, fmt.Errorf("%s parameter is required", key)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	return v, nil
}
