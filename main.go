package main

import (
	"net/http"
	"strconv"

	"github.com/444lessio/snapindex/config"
	"github.com/444lessio/snapindex/geometry"
	"github.com/444lessio/snapindex/resolver"
	"github.com/444lessio/snapindex/snaperrors"
	"github.com/444lessio/snapindex/snapmodel"
	"github.com/444lessio/snapindex/spatial"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/444lessio/snapindex/metrics"
)

var (
	log  = logrus.New()
	core *resolver.Resolver
)

// logSink adapts the resolver's error sink into structured logrus
// records, the same role a *CoreError handler plays in the teacher's
// driver simulation log lines.
type logSink struct{ log *logrus.Logger }

func (s logSink) HandleError(err *snaperrors.CoreError) {
	entry := s.log.WithFields(logrus.Fields{
		"category":  err.Category.String(),
		"severity":  err.Severity.String(),
		"component": err.Component,
		"operation": err.Operation,
	})
	switch err.Severity {
	case snaperrors.Critical, snaperrors.High:
		entry.Error(err.Message)
	case snaperrors.Medium:
		entry.Warn(err.Message)
	default:
		entry.Debug(err.Message)
	}
}

func kindFromString(s string) (snapmodel.SnapKind, bool) {
	switch s {
	case "endpoint":
		return snapmodel.Endpoint, true
	case "centerline":
		return snapmodel.Centerline, true
	case "midpoint":
		return snapmodel.Midpoint, true
	case "intersection":
		return snapmodel.Intersection, true
	default:
		return 0, false
	}
}

type ownerPayload struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type addPointRequest struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind" binding:"required"`
	X         float64       `json:"x"`
	Y         float64       `json:"y"`
	Priority  int           `json:"priority"`
	Owner     *ownerPayload `json:"owner"`
	IsStart   *bool         `json:"isStart"`
	IsEnd     *bool         `json:"isEnd"`
	SampleIdx *int          `json:"sampleIndex"`
}

func handleAddPoint(c *gin.Context) {
	var req addPointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind, ok := kindFromString(req.Kind)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown kind " + req.Kind})
		return
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	p := snapmodel.SnapPoint{
		ID:       id,
		Kind:     kind,
		Position: geometry.Point{X: req.X, Y: req.Y},
		Priority: req.Priority,
	}
	if req.Owner != nil {
		p.Owner = snapmodel.OwnerRef{Kind: req.Owner.Kind, ID: req.Owner.ID}
	}
	if kind == snapmodel.Endpoint && (req.IsStart != nil || req.IsEnd != nil) {
		p.Endpoint = &snapmodel.EndpointData{}
		if req.IsStart != nil {
			p.Endpoint.IsStart = *req.IsStart
		}
		if req.IsEnd != nil {
			p.Endpoint.IsEnd = *req.IsEnd
		}
	}
	if kind == snapmodel.Centerline && req.SampleIdx != nil {
		p.Centerline = &snapmodel.CenterlineData{SampleIndex: *req.SampleIdx}
	}

	accepted := core.AddSnapPoint(p)
	c.JSON(http.StatusOK, gin.H{"id": id, "accepted": accepted})
}

func handleRemovePoint(c *gin.Context) {
	id := c.Param("id")
	removed := core.RemoveSnapPoint(id)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

type queryRequest struct {
	X            float64  `json:"x"`
	Y            float64  `json:"y"`
	ExcludeKinds []string `json:"excludeKinds"`
}

func feedbackJSON(f snapmodel.Feedback) gin.H {
	return gin.H{"show": f.Show, "kind": f.Kind.String(), "opacity": f.Opacity, "size": f.Size}
}

func pointJSON(p *snapmodel.SnapPoint) gin.H {
	if p == nil {
		return nil
	}
	return gin.H{
		"id":       p.ID,
		"kind":     p.Kind.String(),
		"x":        p.Position.X,
		"y":        p.Position.Y,
		"priority": p.Priority,
	}
}

func handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var exclude []snapmodel.SnapKind
	for _, s := range req.ExcludeKinds {
		if k, ok := kindFromString(s); ok {
			exclude = append(exclude, k)
		}
	}

	result := core.FindClosest(geometry.Point{X: req.X, Y: req.Y}, exclude)
	c.JSON(http.StatusOK, gin.H{
		"hit":      pointJSON(result.Hit),
		"distance": result.Distance,
		"snapped":  result.Snapped,
		"feedback": feedbackJSON(result.Feedback),
	})
}

func handleViewport(c *gin.Context) {
	x, _ := strconv.ParseFloat(c.Query("x"), 64)
	y, _ := strconv.ParseFloat(c.Query("y"), 64)
	width, _ := strconv.ParseFloat(c.DefaultQuery("width", "100"), 64)
	height, _ := strconv.ParseFloat(c.DefaultQuery("height", "100"), 64)

	aabb := geometry.AABB{X: x, Y: y, Width: width, Height: height}
	points := core.QueryViewport(aabb, spatial.Filters{})

	out := make([]gin.H, 0, len(points))
	for _, p := range points {
		out = append(out, pointJSON(p))
	}
	c.JSON(http.StatusOK, out)
}

func handleStats(c *gin.Context) {
	stats := core.Statistics()
	c.JSON(http.StatusOK, gin.H{
		"spatialPointCount": stats.SpatialPointCount,
		"historyLength":     stats.HistoryLength,
		"cache": gin.H{
			"totalRequests": stats.Cache.TotalRequests,
			"hits":          stats.Cache.Hits,
			"misses":        stats.Cache.Misses,
			"hitRate":       stats.Cache.HitRate(),
			"evictionCount": stats.Cache.EvictionCount,
			"memoryBytes":   stats.Cache.MemoryUsageBytes,
		},
	})
}

type configPatchRequest struct {
	Enabled           *bool    `json:"enabled"`
	SnapThreshold     *float64 `json:"snapThreshold"`
	MagneticThreshold *float64 `json:"magneticThreshold"`
	ShowFeedback      *bool    `json:"showFeedback"`
	PriorityOverride  *string  `json:"priorityOverride"`
	Ctrl              *bool    `json:"ctrl"`
	Alt               *bool    `json:"alt"`
	Shift             *bool    `json:"shift"`
}

func handleConfigPatch(c *gin.Context) {
	var req configPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	partial := config.Partial{
		Enabled:           req.Enabled,
		SnapThreshold:     req.SnapThreshold,
		MagneticThreshold: req.MagneticThreshold,
		ShowFeedback:      req.ShowFeedback,
	}
	if req.PriorityOverride != nil {
		if *req.PriorityOverride == "" {
			override := config.None
			partial.PriorityOverride = &override
		} else if k, ok := kindFromString(*req.PriorityOverride); ok {
			override := config.Override(k)
			partial.PriorityOverride = &override
		}
	}
	core.SetConfig(partial)
	core.UpdateModifierKeys(req.Ctrl, req.Alt, req.Shift)

	c.JSON(http.StatusOK, gin.H{"config": core.GetConfig()})
}

func main() {
	log.SetFormatter(&logrus.JSONFormatter{})

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	core = resolver.New(config.Default(), logSink{log: log}, log, collector)

	r := gin.Default()
	r.Use(cors.Default())

	r.POST("/snap/points", handleAddPoint)
	r.DELETE("/snap/points/:id", handleRemovePoint)
	r.POST("/snap/query", handleQuery)
	r.GET("/snap/viewport", handleViewport)
	r.GET("/snap/stats", handleStats)
	r.PATCH("/snap/config", handleConfigPatch)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	log.Info("snap index API listening on http://localhost:8080")
	r.Run(":8080")
}
