package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/dronenet/internal/auth"
	"github.com/danmuck/dronenet/internal/drone"
	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/observability"
	"github.com/danmuck/dronenet/internal/topology"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownGrace = 5 * time.Second

type edgeRequest struct {
	A int `json:"a" binding:"min=0,max=255"`
	B int `json:"b" binding:"min=0,max=255"`
}

type dropRateRequest struct {
	PDR *float64 `json:"pdr" binding:"required"`
}

// AdminRouter exposes health, metrics, the topology view, recent events and
// the topology mutations over HTTP.
func (c *Controller) AdminRouter() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(c.log))
	r.Use(observability.RequestMetrics("controller"))
	if len(c.opts.AdminOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  c.opts.AdminOrigins,
			AllowMethods:  []string{"GET", "POST", "PUT", "DELETE"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", observability.RequestIDHeader},
			ExposeHeaders: []string{observability.RequestIDHeader},
			MaxAge:        12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(ctx *gin.Context) {
		state, _ := c.State()
		ctx.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"running": c.running.Load(),
			"uptime":  c.Uptime().String(),
			"state":   state.String(),
			"nodes":   len(c.types),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/topology", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, c.View())
	})
	r.GET("/events", func(ctx *gin.Context) {
		limit := 100
		if raw := ctx.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		ctx.JSON(http.StatusOK, gin.H{"events": c.Events(limit)})
	})

	mut := r.Group("/")
	if c.opts.AdminToken != "" {
		mut.Use(auth.RequireBearer(auth.StaticToken{Token: c.opts.AdminToken}))
	}
	mut.POST("/edges", func(ctx *gin.Context) {
		var req edgeRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.respond(ctx, c.AddEdge(ctx.Request.Context(), network.NodeID(req.A), network.NodeID(req.B)))
	})
	mut.DELETE("/edges/:a/:b", func(ctx *gin.Context) {
		a, errA := parseNodeID(ctx.Param("a"))
		b, errB := parseNodeID(ctx.Param("b"))
		if err := errors.Join(errA, errB); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.respond(ctx, c.RemoveEdge(ctx.Request.Context(), a, b))
	})
	mut.POST("/drones/:id/crash", func(ctx *gin.Context) {
		id, err := parseNodeID(ctx.Param("id"))
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.respond(ctx, c.CrashDrone(ctx.Request.Context(), id))
	})
	mut.PUT("/drones/:id/pdr", func(ctx *gin.Context) {
		id, err := parseNodeID(ctx.Param("id"))
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var req dropRateRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.respond(ctx, c.SetDropRate(ctx.Request.Context(), id, *req.PDR))
	})
	return r
}

func (c *Controller) respond(ctx *gin.Context, err error) {
	if err == nil {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "topology": c.View()})
		return
	}
	ctx.JSON(mutationStatus(err), gin.H{"error": err.Error()})
}

func mutationStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnknownNode), errors.Is(err, topology.ErrUnknownNode):
		return http.StatusNotFound
	case errors.Is(err, ErrNotDrone), errors.Is(err, drone.ErrInvalidDropRate), errors.Is(err, topology.ErrSelfLoop):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusConflict
	}
}

func parseNodeID(raw string) (network.NodeID, error) {
	n, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, errors.New("node id must be an integer in 0..255")
	}
	return network.NodeID(n), nil
}

// ServeAdmin serves AdminRouter on addr until ctx ends.
func (c *Controller) ServeAdmin(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           c.AdminRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.log.Warn().Err(err).Msg("controller.Controller.ServeAdmin shutdown")
		}
	}()
	c.log.Info().Str("addr", addr).Msg("controller.Controller.ServeAdmin listening")
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return nil
	}
	return err
}
