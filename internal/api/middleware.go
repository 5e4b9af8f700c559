package api

import (
	"bytes"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/vault/internal/auth"
	"github.com/vadiminshakov/vault/internal/domain"
	"github.com/vadiminshakov/vault/internal/metrics"
	"go.uber.org/zap"
)

const (
	callerKey    = "vault.caller"
	maxBodyBytes = 1 << 20
)

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			logger.Error("http request failed", append(fields, zap.String("error", c.Errors.String()))...)
			return
		}
		logger.Debug("http request", fields...)
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTP(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// authMiddleware verifies the request signature and stores the caller identity.
// The body is read once and restored for the handler.
func authMiddleware(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			writeError(c, errors.Wrap(err, "read body"))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		caller, err := verifier.Verify(
			auth.Request{Method: c.Request.Method, RequestURI: c.Request.URL.RequestURI(), Body: body},
			auth.Credentials{
				Address:   c.GetHeader(auth.HeaderAddress),
				Timestamp: c.GetHeader(auth.HeaderTimestamp),
				Signature: c.GetHeader(auth.HeaderSignature),
			},
		)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerOf(c *gin.Context) domain.Identity {
	if v, ok := c.Get(callerKey); ok {
		if id, ok := v.(domain.Identity); ok {
			return id
		}
	}
	return ""
}
