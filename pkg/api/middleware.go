package api

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/baylabs/bay/pkg/bayerr"
	"github.com/baylabs/bay/pkg/config"
	"github.com/baylabs/bay/pkg/log"
	"github.com/baylabs/bay/pkg/metrics"
)

const (
	ctxOwner     = "owner"
	ctxRequestID = "request_id"

	headerRequestID   = "X-Request-ID"
	headerOwner       = "X-Bay-Owner"
	headerIdempotency = "Idempotency-Key"
)

// renderError writes a public error envelope. Internal causes are logged,
// never serialized.
func renderError(c *gin.Context, err error) {
	e := bayerr.AsError(err)
	if e.Code == bayerr.CodeInternal {
		logger := log.WithComponent("api")
		logger.Error().Err(err).
			Str("path", c.FullPath()).Msg("Request failed")
	}
	if e.RetryAfterMS > 0 {
		seconds := (e.RetryAfterMS + 999) / 1000
		c.Header("Retry-After", strconv.Itoa(seconds))
	}
	c.AbortWithStatusJSON(e.HTTPStatus(), errorResponse{Error: errorBody{
		Code:         string(e.Code),
		Message:      e.Message,
		Details:      e.Details,
		RetryAfterMS: e.RetryAfterMS,
	}})
}

// requestIDMiddleware assigns each request an id, echoed in the response
// and attached to the request logger.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// authMiddleware resolves the owner identity. Bearer tokens map to owners
// from config; in anonymous mode the X-Bay-Owner header is accepted for
// development setups.
func authMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header != "" {
			token := strings.TrimPrefix(header, "Bearer ")
			if token == header {
				renderError(c, bayerr.New(bayerr.CodeUnauthorized, "authorization header must be a bearer token"))
				return
			}
			owner, ok := cfg.Tokens[token]
			if !ok {
				renderError(c, bayerr.New(bayerr.CodeUnauthorized, "invalid token"))
				return
			}
			c.Set(ctxOwner, owner)
			c.Next()
			return
		}

		if cfg.AllowAnonymous {
			owner := c.GetHeader(headerOwner)
			if owner == "" {
				owner = "anonymous"
			}
			c.Set(ctxOwner, owner)
			c.Next()
			return
		}

		renderError(c, bayerr.New(bayerr.CodeUnauthorized, "missing credentials"))
	}
}

func ownerOf(c *gin.Context) string {
	return c.GetString(ctxOwner)
}

// metricsMiddleware records request counts and latency.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer(metrics.APIRequestDuration.WithLabelValues(c.Request.Method))
		c.Next()
		timer.Stop()
		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method,
			fmt.Sprintf("%d", c.Writer.Status())).Inc()
	}
}

// ownerLimiter hands out one token bucket per owner.
type ownerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newOwnerLimiter(rps float64, burst int) *ownerLimiter {
	return &ownerLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *ownerLimiter) get(owner string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[owner]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[owner] = limiter
	}
	return limiter
}

// rateLimitMiddleware rejects owners exceeding their request budget.
func rateLimitMiddleware(cfg config.RateLimitConfig) gin.HandlerFunc {
	limiters := newOwnerLimiter(cfg.RPS, cfg.Burst)
	return func(c *gin.Context) {
		if !limiters.get(ownerOf(c)).Allow() {
			renderError(c, bayerr.New(bayerr.CodeQuotaExceeded, "request rate limit exceeded").
				WithRetryAfter(int(time.Second.Milliseconds())))
			return
		}
		c.Next()
	}
}
