package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OldStager01/egress-gateway/internal/metrics"
	"github.com/OldStager01/egress-gateway/pkg/database/queries"
	"github.com/OldStager01/egress-gateway/pkg/validation"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// MetricsHandler serves the Prometheus exposition and, when persistence is
// on, the recorded lifecycle history.
type MetricsHandler struct {
	metrics         *metrics.Metrics
	eventsRepo      *queries.ScalingEventRepository
	transitionsRepo *queries.TransitionRepository
	samplesRepo     *queries.PoolSampleRepository
}

// NewMetricsHandler builds the handler. The repositories may be nil, in
// which case the history endpoints answer 404.
func NewMetricsHandler(m *metrics.Metrics, eventsRepo *queries.ScalingEventRepository, transitionsRepo *queries.TransitionRepository, samplesRepo *queries.PoolSampleRepository) *MetricsHandler {
	return &MetricsHandler{
		metrics:         m,
		eventsRepo:      eventsRepo,
		transitionsRepo: transitionsRepo,
		samplesRepo:     samplesRepo,
	}
}

func (h *MetricsHandler) Prometheus(c *gin.Context) {
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

func (h *MetricsHandler) historyEnabled(c *gin.Context) bool {
	if h.eventsRepo == nil || h.transitionsRepo == nil || h.samplesRepo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event persistence is disabled"})
		return false
	}
	return true
}

func (h *MetricsHandler) GetScalingEvents(c *gin.Context) {
	if !h.historyEnabled(c) {
		return
	}

	limit := h.parseLimit(c, defaultLimit)
	events, err := h.eventsRepo.GetRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch scaling events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  events,
		"count": len(events),
	})
}

func (h *MetricsHandler) GetScalingStats(c *gin.Context) {
	if !h.historyEnabled(c) {
		return
	}

	from, to := h.parseTimeRange(c)
	stats, err := h.eventsRepo.GetStats(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch scaling stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *MetricsHandler) GetMemberTransitions(c *gin.Context) {
	if !h.historyEnabled(c) {
		return
	}

	memberID := c.Param("id")
	if err := validation.ValidateMemberID(memberID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := h.parseLimit(c, defaultLimit)
	transitions, err := h.transitionsRepo.GetByMember(c.Request.Context(), memberID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch member transitions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"member_id": memberID,
		"data":      transitions,
		"count":     len(transitions),
	})
}

// GetPoolHistory returns raw samples, or bucketed ones when ?bucket=<minutes>
// is given.
func (h *MetricsHandler) GetPoolHistory(c *gin.Context) {
	if !h.historyEnabled(c) {
		return
	}

	from, to := h.parseTimeRange(c)

	if bucketStr := c.Query("bucket"); bucketStr != "" {
		bucket, err := strconv.Atoi(bucketStr)
		if err != nil || bucket <= 0 || bucket > 1440 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bucket must be between 1 and 1440 minutes"})
			return
		}
		buckets, err := h.samplesRepo.GetAggregated(c.Request.Context(), from, to, bucket)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch pool history"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"from":           from,
			"to":             to,
			"bucket_minutes": bucket,
			"data":           buckets,
			"count":          len(buckets),
		})
		return
	}

	limit := h.parseLimit(c, defaultLimit)
	samples, err := h.samplesRepo.GetRaw(c.Request.Context(), from, to, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch pool history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"from":  from,
		"to":    to,
		"data":  samples,
		"count": len(samples),
	})
}

func (h *MetricsHandler) parseTimeRange(c *gin.Context) (time.Time, time.Time) {
	to := time.Now()
	from := to.Add(-1 * time.Hour) // Default: last hour

	if fromStr := c.Query("from"); fromStr != "" {
		if parsed, err := time.Parse(time.RFC3339, fromStr); err == nil {
			from = parsed
		}
	}

	if toStr := c.Query("to"); toStr != "" {
		if parsed, err := time.Parse(time.RFC3339, toStr); err == nil {
			to = parsed
		}
	}

	// Handle relative time (e.g., "1h", "24h", "7d")
	if rangeStr := c.Query("range"); rangeStr != "" {
		from = to.Add(-parseDuration(rangeStr))
	}

	return from, to
}

func (h *MetricsHandler) parseLimit(c *gin.Context, fallback int) int {
	limit := fallback
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = min(parsed, maxLimit)
		}
	}
	return limit
}

func parseDuration(s string) time.Duration {
	if len(s) < 2 {
		return time.Hour
	}

	value, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || value <= 0 {
		return time.Hour
	}

	switch s[len(s)-1] {
	case 'm':
		return time.Duration(value) * time.Minute
	case 'h':
		return time.Duration(value) * time.Hour
	case 'd':
		return time.Duration(value) * 24 * time.Hour
	default:
		return time.Hour
	}
}
