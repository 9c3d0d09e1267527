package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/septivank/meter-reading-service/internal/metrics"
)

// RouterConfig holds router settings
type RouterConfig struct {
	// MaxBodyBytes caps every request body; zero disables the cap
	MaxBodyBytes int64
	// Metrics exposes GET /metrics when non-nil
	Metrics *metrics.Metrics
}

// NewRouter builds the gin engine with every route and middleware
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true

	router.Use(
		requestContext(logger),
		accessLog(logger, cfg.Metrics),
		recovery(logger),
	)
	if cfg.MaxBodyBytes > 0 {
		router.Use(limitBody(cfg.MaxBodyBytes))
	}

	router.GET("/health", h.Health)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	router.POST("/upload", h.Upload)
	router.PATCH("/confirm", h.Confirm)
	router.GET("/customers/:customer_code/measures", h.List)

	return router
}

func limitBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
