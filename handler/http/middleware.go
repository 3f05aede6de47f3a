package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"nutriplan/src/infrastructure/log"
	"nutriplan/src/storage/postgres/ratelimitctrl"
)

const requestIDHeader = "X-Request-ID"

// RequestID attaches a request id to every request, honoring one supplied
// by the caller so ids survive proxy hops.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// RequestLogger logs one line per request with latency and status.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("http.request",
			"requestID", c.GetString("requestID"),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latencyMs", time.Since(start).Milliseconds(),
		)
	}
}

// userID resolves the calling user. Authentication proper sits in front of
// this service; the gateway forwards the identity in a header.
func userID(c *gin.Context) (string, bool) {
	id := c.GetHeader("X-User-ID")
	if id == "" {
		sendError(c, http.StatusUnauthorized, "UNAUTHENTICATED", fmt.Errorf("missing X-User-ID header"))
		return "", false
	}
	return id, true
}

// rateLimit enforces a fixed-window per-user limit on the wrapped route.
// A rate-limit store error fails open: limiting is protection, not a
// correctness requirement.
func (h *Handler) rateLimit(route string, limit, windowSeconds int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.rateLimits == nil {
			c.Next()
			return
		}

		result, err := h.rateLimits.Check(c.Request.Context(), ratelimitctrl.Options{
			Route:         route,
			UserID:        c.GetHeader("X-User-ID"),
			Limit:         limit,
			WindowSeconds: windowSeconds,
		})
		if err != nil {
			log.Error(err, "rate limit check failed", "route", route)
			c.Next()
			return
		}

		if !result.Allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(time.Until(result.ResetAt).Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "RATE_LIMITED",
				"message": "too many requests",
				"resetAt": result.ResetAt,
			})
			return
		}

		c.Next()
	}
}

// requireJobSecret guards the internal runner endpoint. The secret may
// arrive as a bearer token or a dedicated header.
func (h *Handler) requireJobSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.internalJobSecret == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND"})
			return
		}

		provided := c.GetHeader("X-Internal-Job-Secret")
		if provided == "" {
			auth := c.GetHeader("Authorization")
			const prefix = "Bearer "
			if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
				provided = auth[len(prefix):]
			}
		}

		if provided != h.internalJobSecret {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHENTICATED"})
			return
		}

		c.Next()
	}
}
