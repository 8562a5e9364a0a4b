package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OldStager01/egress-gateway/api/middleware"
	"github.com/OldStager01/egress-gateway/internal/extractor"
	"github.com/OldStager01/egress-gateway/internal/gateway"
)

// VideoHandler serves extraction requests. It runs behind the Admission
// middleware, which supplies the member.
type VideoHandler struct {
	extractor extractor.Extractor
}

func NewVideoHandler(ext extractor.Extractor) *VideoHandler {
	return &VideoHandler{extractor: ext}
}

func (h *VideoHandler) Get(c *gin.Context) {
	member, ok := middleware.MemberFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no pool member bound to request"})
		return
	}

	videoID := c.Param("id")
	body, err := h.extractor.Extract(c.Request.Context(), member, videoID)
	switch {
	case err == nil:
		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
	case errors.Is(err, extractor.ErrVideoNotFound):
		_ = c.Error(gateway.Neutral(err))
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found", "video_id": videoID})
	case errors.Is(err, extractor.ErrTimeout):
		_ = c.Error(err)
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
