package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Keksclan/hearth/auth"
	"github.com/Keksclan/hearth/contextx"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"
)

const requestIDHeader = "X-Request-ID"

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(contextx.WithRequestID(c.Request.Context(), id))
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func loggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ctx := c.Request.Context()
		attrs := append(contextx.LogAttrs(ctx),
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("ip", c.ClientIP()),
			slog.Duration("latency", time.Since(start)),
		)
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.LogAttrs(ctx, level, "http request", attrs...)

		for _, e := range c.Errors {
			logger.LogAttrs(ctx, slog.LevelError, "request error", slog.String("error", e.Error()))
		}
	}
}

// authMiddleware runs the same AuthFunc as the gRPC admin service against
// the Authorization header.
func authMiddleware(fn auth.AuthFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		md := metadata.MD{}
		if v := c.GetHeader("Authorization"); v != "" {
			md.Set("authorization", v)
		}
		ctx, err := fn(c.Request.Context(), c.FullPath(), md)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
