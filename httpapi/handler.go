package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Keksclan/hearth/dispatch"
	"github.com/gin-gonic/gin"
)

type handler struct {
	deps Dependencies
}

// health runs every check concurrently and answers 503 if any fails.
func (h *handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.deps.CheckTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(h.deps.Checks))
		healthy = true
	)
	for name, check := range h.deps.Checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := check(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				healthy = false
				results[name] = err.Error()
				return
			}
			results[name] = "ok"
		}()
	}
	wg.Wait()

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "checks": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": results})
}

func (h *handler) cacheStats(c *gin.Context) {
	if h.deps.Cache == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "cache not configured"})
		return
	}
	c.JSON(http.StatusOK, h.deps.Cache.Stats(c.Request.Context()))
}

type invalidateRequest struct {
	Tag     string `json:"tag" binding:"required"`
	Durable bool   `json:"durable"`
}

func (h *handler) invalidateTag(c *gin.Context) {
	if h.deps.Cache == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "cache not configured"})
		return
	}
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tag is required"})
		return
	}
	resp := gin.H{"primary": h.deps.Cache.InvalidateByTag(req.Tag)}
	if req.Durable {
		resp["durable"] = h.deps.Cache.InvalidateByTagDurable(c.Request.Context(), req.Tag)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) processBatch(c *gin.Context) {
	if h.deps.Queue == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "dispatch queue not configured"})
		return
	}
	sum, err := h.deps.Queue.ProcessBatch(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "process batch failed", "summary": sum})
		return
	}
	c.JSON(http.StatusOK, sum)
}

type enqueueRequest struct {
	UserID        string         `json:"user_id" binding:"required"`
	TemplateKey   string         `json:"template_key" binding:"required"`
	TemplateData  map[string]any `json:"template_data"`
	Priority      int            `json:"priority"`
	SendAt        *time.Time     `json:"send_at"`
	MaxRetryCount int            `json:"max_retry_count"`
}

func (h *handler) enqueueJob(c *gin.Context) {
	if h.deps.Queue == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "dispatch queue not configured"})
		return
	}
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and template_key are required"})
		return
	}

	opts := []dispatch.JobOption{dispatch.WithPriority(req.Priority), dispatch.WithMaxRetries(req.MaxRetryCount)}
	if req.SendAt != nil {
		opts = append(opts, dispatch.WithSendAt(*req.SendAt))
	}
	job, err := h.deps.Queue.Enqueue(c.Request.Context(), dispatch.NewJob(req.UserID, req.TemplateKey, req.TemplateData, opts...))
	if errors.Is(err, dispatch.ErrDuplicateJob) {
		c.JSON(http.StatusConflict, gin.H{"error": "job already exists"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}
	h.deps.Logger.InfoContext(c.Request.Context(), "job enqueued",
		slog.String("job_id", job.ID),
		slog.String("template_key", job.TemplateKey),
	)
	c.JSON(http.StatusCreated, job)
}

func (h *handler) getJob(c *gin.Context) {
	if h.deps.Queue == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "dispatch queue not configured"})
		return
	}
	job, err := h.deps.Queue.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, dispatch.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}
	c.JSON(http.StatusOK, job)
}
