package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OldStager01/egress-gateway/pkg/models"
	"github.com/OldStager01/egress-gateway/pkg/validation"
)

// StatusSource is the read side of the gateway plus the forced reconcile.
type StatusSource interface {
	Snapshot(includeMembers bool) models.PoolSnapshot
	Members() []models.MemberSnapshot
	Reconcile() *models.ScalingDecision
}

type StatusHandler struct {
	gateway StatusSource
}

func NewStatusHandler(gw StatusSource) *StatusHandler {
	return &StatusHandler{gateway: gw}
}

func (h *StatusHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.gateway.Snapshot(c.Query("members") == "true"))
}

type memberView struct {
	models.MemberSnapshot
	SuccessRate float64 `json:"success_rate"`
}

func (h *StatusHandler) Members(c *gin.Context) {
	state, err := validation.ParseHealthState(c.Query("state"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	members := h.gateway.Members()
	out := make([]memberView, 0, len(members))
	for _, m := range members {
		if state != "" && m.State != state {
			continue
		}
		out = append(out, memberView{MemberSnapshot: m, SuccessRate: m.SuccessRate()})
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  out,
		"count": len(out),
	})
}

func (h *StatusHandler) Reconcile(c *gin.Context) {
	decision := h.gateway.Reconcile()
	c.JSON(http.StatusOK, decision)
}
