// Package api serves the optional HTTP dashboard: health, backend catalog,
// guard stats, and Prometheus metrics. The stdio tool surface is the primary
// interface; this server is observability only and is off by default.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Platano78/smart-ai-bridge/pkg/guard"
	"github.com/Platano78/smart-ai-bridge/pkg/roles"
	"github.com/Platano78/smart-ai-bridge/pkg/router"
	"github.com/Platano78/smart-ai-bridge/pkg/version"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
)

// Server is the dashboard HTTP server.
type Server struct {
	router  *router.Router
	limiter *guard.RateLimiter
	roles   *roles.Registry

	httpSrv *http.Server
}

// NewServer wires the dashboard.
func NewServer(rt *router.Router, limiter *guard.RateLimiter, roleReg *roles.Registry, port string) *Server {
	s := &Server{router: rt, limiter: limiter, roles: roleReg}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.healthHandler)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api/v1")
	v1.GET("/backends", s.backendsHandler)
	v1.GET("/pool", s.poolHandler)
	v1.GET("/ratelimit", s.rateLimitHandler)
	v1.GET("/roles", s.rolesHandler)
	v1.POST("/backends/:name/enable", s.enableHandler(true))
	v1.POST("/backends/:name/disable", s.enableHandler(false))

	s.httpSrv = &http.Server{
		Addr:              ":" + port,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the listener fails. Blocks; run in a goroutine.
func (s *Server) Start() error {
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// healthHandler reports overall gateway health. Degraded means at least one
// enabled backend is unavailable; with zero available backends the endpoint
// still returns 200, because the gateway process itself is fine.
func (s *Server) healthHandler(c *gin.Context) {
	reg := s.router.Registry()
	health := reg.AllHealth()

	status := healthStatusHealthy
	for _, h := range health {
		if h != nil && !h.Healthy {
			status = healthStatusDegraded
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"version":  version.GitCommit,
		"backends": health,
		"chain":    reg.Chain(),
	})
}

func (s *Server) backendsHandler(c *gin.Context) {
	reg := s.router.Registry()
	out := make(map[string]any)
	for _, name := range reg.Names() {
		desc, ok := reg.Descriptor(name)
		if !ok {
			continue
		}
		entry := gin.H{
			"type":     desc.Type,
			"enabled":  desc.Enabled,
			"priority": desc.Priority,
			"model":    desc.Model,
		}
		if adapter, ok := reg.Lookup(name); ok {
			entry["breaker"] = adapter.Breaker().State()
			entry["stats"] = adapter.Stats()
		}
		out[name] = entry
	}
	c.JSON(http.StatusOK, gin.H{"backends": out, "chain": reg.Chain()})
}

func (s *Server) poolHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.router.Pool().Stats())
}

func (s *Server) rateLimitHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.limiter.Snapshot())
}

func (s *Server) rolesHandler(c *gin.Context) {
	if category := c.Query("category"); category != "" {
		c.JSON(http.StatusOK, gin.H{"roles": s.roles.ListByCategory(category)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": s.roles.List()})
}

func (s *Server) enableHandler(enable bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if err := s.router.Registry().SetEnabled(name, enable); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"backend": name, "enabled": enable})
	}
}
