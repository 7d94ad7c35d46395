// Package httpapi serves the hearthd operations HTTP API: health, metrics,
// cache statistics and invalidation, and the dispatch queue.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Keksclan/hearth/admin"
	"github.com/Keksclan/hearth/auth"
	"github.com/Keksclan/hearth/dispatch"
	"github.com/gin-gonic/gin"
)

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

// Queue is the part of a dispatch.Queue the API needs.
type Queue interface {
	admin.Queue
	Enqueue(ctx context.Context, job dispatch.Job) (dispatch.Job, error)
}

// Dependencies wires the router to the running components. Cache, Queue and
// Metrics may be nil; their routes then answer 404 or 503.
type Dependencies struct {
	Logger  *slog.Logger
	Cache   admin.Cache
	Queue   Queue
	Metrics http.Handler
	// Auth guards the /v1 routes. Nil leaves them open.
	Auth auth.AuthFunc
	// Checks are run by /healthz, keyed by dependency name.
	Checks       map[string]Checker
	CheckTimeout time.Duration
}

// NewRouter builds the gin engine.
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.CheckTimeout <= 0 {
		deps.CheckTimeout = 2 * time.Second
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(loggerMiddleware(deps.Logger))

	h := &handler{deps: deps}
	r.GET("/healthz", h.health)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	v1 := r.Group("/v1")
	if deps.Auth != nil {
		v1.Use(authMiddleware(deps.Auth))
	}
	{
		c := v1.Group("/cache")
		c.GET("/stats", h.cacheStats)
		c.POST("/invalidate", h.invalidateTag)
	}
	{
		d := v1.Group("/dispatch")
		d.POST("/process", h.processBatch)
	}
	{
		jobs := v1.Group("/jobs")
		jobs.POST("", h.enqueueJob)
		jobs.GET("/:id", h.getJob)
	}
	return r
}
