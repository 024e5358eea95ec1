package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/arhunt/internal/logging"
)

const sessionIDHeader = "X-Session-ID"

// HTTPMetrics records per-route request outcomes.
type HTTPMetrics interface {
	ObserveHTTP(method, route string, code int, d time.Duration)
}

// RouterOption customises the router.
type RouterOption func(*gin.Engine)

// WithMetricsEndpoint serves h at GET /metrics.
func WithMetricsEndpoint(h http.Handler) RouterOption {
	return func(r *gin.Engine) {
		r.GET("/metrics", gin.WrapH(h))
	}
}

// NewRouter builds the gin engine for h. metrics may be nil.
func NewRouter(h *Handler, metrics HTTPMetrics, opts ...RouterOption) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.log))
	if metrics != nil {
		r.Use(observe(metrics))
	}

	r.GET("/healthz", h.Health)
	r.GET("/frame", h.Frame)
	r.POST("/pose", h.Pose)
	r.POST("/tap", h.Tap)

	objects := r.Group("/objects")
	{
		objects.GET("", h.Objects)
		objects.POST("/:id/discover", h.Discover)
	}
	candidates := r.Group("/candidates")
	{
		candidates.POST("/:id/collected", h.CollectedElsewhere)
		candidates.POST("/:id/uncollected", h.Uncollected)
	}

	for _, opt := range opts {
		opt(r)
	}
	return r
}

func observe(m HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// requestLogger attaches a per-request logger carrying the client's session
// ID, generating one when the header is absent.
func requestLogger(base logging.Logger) gin.HandlerFunc {
	base = logging.OrNoop(base)
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if incoming := c.GetHeader(sessionIDHeader); incoming != "" {
			ctx = logging.ContextWithSessionID(ctx, incoming)
		}
		ctx, reqLog := logging.WithSessionLogger(ctx, base.With(logging.String("method", c.Request.Method)))
		ctx = logging.ContextWithLogger(ctx, reqLog)
		c.Request = c.Request.WithContext(ctx)
		c.Header(sessionIDHeader, logging.SessionIDFromContext(ctx))
		c.Next()
	}
}
