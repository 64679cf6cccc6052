// Package api exposes the Greenlight REST and WebSocket surface.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/verdantqa/greenlight/internal/cihook"
	"github.com/verdantqa/greenlight/internal/cycle"
	"github.com/verdantqa/greenlight/internal/hub"
	"github.com/verdantqa/greenlight/internal/metrics"
	"github.com/verdantqa/greenlight/internal/store"
	"gorm.io/gorm"
)

// Server holds the handler dependencies.
type Server struct {
	db       *gorm.DB
	store    *store.Store
	bridge   *cycle.Bridge
	hub      *hub.Hub
	hook     *cihook.Hook // nil when the GitHub integration is not configured
	secret   string
	tokenTTL time.Duration
}

// Opts configures the API server.
type Opts struct {
	DB       *gorm.DB
	Store    *store.Store
	Bridge   *cycle.Bridge
	Hub      *hub.Hub
	Hook     *cihook.Hook
	Secret   string
	TokenTTL time.Duration
	Port     int
	Out      io.Writer
}

// New builds a Server and its router.
func New(opts Opts) (*Server, *gin.Engine, error) {
	if opts.DB == nil {
		return nil, nil, fmt.Errorf("api: db is required")
	}
	if opts.Store == nil || opts.Bridge == nil || opts.Hub == nil {
		return nil, nil, fmt.Errorf("api: store, bridge and hub are required")
	}
	if opts.Secret == "" {
		return nil, nil, fmt.Errorf("api: auth secret is required")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}

	s := &Server{
		db:       opts.DB,
		store:    opts.Store,
		bridge:   opts.Bridge,
		hub:      opts.Hub,
		hook:     opts.Hook,
		secret:   opts.Secret,
		tokenTTL: opts.TokenTTL,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), observeRequests())
	s.registerRoutes(router)
	return s, router, nil
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	_, router, err := New(opts)
	if err != nil {
		return err
	}

	if opts.Port <= 0 {
		opts.Port = 8080
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Greenlight API listening on :%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// registerRoutes sets up all routes on the Gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	// Invitation acceptance is the one surface reachable without a token:
	// the invitee doesn't have one yet.
	v1.POST("/invitations/accept", s.handleAcceptInvitation)

	authd := v1.Group("", s.requireAuth())
	{
		authd.GET("/ws", s.handleWS)

		authd.GET("/cases", s.handleListCases)
		authd.POST("/cases", s.handleCreateCase)
		authd.GET("/cases/:id", s.handleGetCase)
		authd.PUT("/cases/:id", s.handleUpdateCase)
		authd.DELETE("/cases/:id", s.handleDeleteCase)

		authd.GET("/cycles", s.handleListCycles)
		authd.POST("/cycles", s.handleCreateCycle)
		authd.GET("/cycles/:id", s.handleGetCycle)
		authd.PATCH("/cycles/:id", s.handleRenameCycle)
		authd.DELETE("/cycles/:id", s.handleDeleteCycle)
		authd.GET("/cycles/:id/items/:itemID/steps", s.handleItemSteps)
		authd.POST("/cycles/:id/items/:itemID/manual-run", s.handleManualRun)

		authd.POST("/hooks/executions", s.handleExecutionReport)

		authd.GET("/org", s.handleGetOrg)
		authd.PATCH("/org", s.handleUpdateOrg)
		authd.GET("/org/members", s.handleListMembers)
		authd.POST("/org/invitations", s.handleCreateInvitation)
		authd.GET("/org/invitations", s.handleListInvitations)
		authd.DELETE("/org/invitations/:id", s.handleRevokeInvitation)

		authd.GET("/integrations", s.handleListIntegrations)
		authd.PUT("/integrations/:kind", s.handleUpsertIntegration)
		authd.DELETE("/integrations/:kind", s.handleDeleteIntegration)

		authd.GET("/usage", s.handleUsage)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if sqlDB, err := s.db.DB(); err != nil || sqlDB.Ping() != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// observeRequests records per-route latency histograms.
func observeRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveRequest(route, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
