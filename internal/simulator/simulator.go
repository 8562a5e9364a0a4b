// Package simulator is a local stand-in for the device registration service.
// It registers devices, answers validity probes and lets an operator revoke
// devices or inject failures.
package simulator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/OldStager01/egress-gateway/internal/logger"
)

type Config struct {
	Port int
	// RateLimit caps registrations per second; zero disables the limit.
	RateLimit float64
	Burst     int
	Latency   time.Duration
}

type Simulator struct {
	config     Config
	registry   *Registry
	limiter    *rate.Limiter
	faults     *Faults
	router     *gin.Engine
	httpServer *http.Server
}

func New(cfg Config) *Simulator {
	if cfg.Port == 0 {
		cfg.Port = 9000
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	s := &Simulator{
		config:   cfg,
		registry: NewRegistry(),
		faults:   NewFaults(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	s.router = s.routes()
	return s
}

func (s *Simulator) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.healthHandler)

	r.POST("/:version/reg", s.registerHandler)
	r.GET("/:version/reg/:id", s.probeHandler)

	control := r.Group("/control")
	{
		control.GET("/devices", s.listDevicesHandler)
		control.POST("/devices/:id/revoke", s.revokeHandler)
		control.POST("/devices/:id/restore", s.restoreHandler)
		control.POST("/faults", s.faultsHandler)
	}
	return r
}

// Handler exposes the router for in-process use.
func (s *Simulator) Handler() http.Handler {
	return s.router
}

func (s *Simulator) Registry() *Registry {
	return s.registry
}

func (s *Simulator) Faults() *Faults {
	return s.faults
}

func (s *Simulator) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Infof("Issuance simulator listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Simulator server error: %v", err)
		}
	}()

	return nil
}

func (s *Simulator) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Simulator) delay(c *gin.Context) bool {
	d := s.config.Latency + s.faults.ExtraLatency()
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-c.Request.Context().Done():
		return false
	}
}

func (s *Simulator) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "issuance-simulator",
		"devices": s.registry.Count(),
	})
}

type registerRequest struct {
	Key          string `json:"key" binding:"required"`
	InstallID    string `json:"install_id"`
	Type         string `json:"type"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
}

func (s *Simulator) registerHandler(c *gin.Context) {
	if !s.delay(c) {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many registrations"})
		return
	}
	if s.faults.FailMint(time.Now()) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "injected registration failure"})
		return
	}

	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if key, err := base64.StdEncoding.DecodeString(req.Key); err != nil || len(key) != 32 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key must be a base64 encoded 32 byte public key"})
		return
	}

	d := s.registry.Register(req.Key, time.Now())
	logger.WithField("device_id", d.ID).Debug("Registered simulated device")

	c.JSON(http.StatusOK, registrationResponse(d))
}

func registrationResponse(d Device) gin.H {
	return gin.H{
		"id":      d.ID,
		"token":   d.Token,
		"created": d.CreatedAt.Format(time.RFC3339),
		"config": gin.H{
			"client_id": d.ClientID,
			"interface": gin.H{
				"addresses": gin.H{"v4": d.AddressV4, "v6": d.AddressV6},
			},
			"peers": []gin.H{{
				"public_key": peerPublicKey,
				"endpoint":   gin.H{"host": peerEndpoint},
			}},
		},
	}
}

func (s *Simulator) probeHandler(c *gin.Context) {
	if !s.delay(c) {
		return
	}
	if s.faults.FailProbe(time.Now()) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "injected probe failure"})
		return
	}

	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	d, err := s.registry.Check(c.Param("id"), token)
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrRevoked):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"id": d.ID, "enabled": true})
	}
}

func (s *Simulator) listDevicesHandler(c *gin.Context) {
	devices := s.registry.List()
	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

func (s *Simulator) revokeHandler(c *gin.Context) {
	if err := s.registry.SetRevoked(c.Param("id"), true); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	logger.WithField("device_id", c.Param("id")).Info("Revoked simulated device")
	c.JSON(http.StatusOK, gin.H{"message": "device revoked"})
}

func (s *Simulator) restoreHandler(c *gin.Context) {
	if err := s.registry.SetRevoked(c.Param("id"), false); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "device restored"})
}

type FaultsRequest struct {
	// Pattern is one of none, random, outage.
	Pattern          string  `json:"pattern"`
	MintFailureRate  float64 `json:"mint_failure_rate"`
	ProbeFailureRate float64 `json:"probe_failure_rate"`
	OutageEvery      string  `json:"outage_every"`
	OutageFor        string  `json:"outage_for"`
	ExtraLatency     string  `json:"extra_latency"`
}

func (s *Simulator) faultsHandler(c *gin.Context) {
	var req FaultsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	pattern, err := ParsePattern(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	latency, _ := time.ParseDuration(req.ExtraLatency)
	s.faults.Set(pattern, latency)

	logger.Infof("Set fault pattern %s", pattern.Name())
	c.JSON(http.StatusOK, gin.H{
		"message": "faults set",
		"pattern": pattern.Name(),
	})
}
