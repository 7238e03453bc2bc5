package router

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mohans/snaptutor/internal/config"
	"github.com/mohans/snaptutor/internal/handler"
	"github.com/mohans/snaptutor/internal/metrics"
)

// formOverhead is the room left for multipart boundaries and text fields on
// top of the image itself.
const formOverhead = 1 << 20

type Options struct {
	StaticDir string
	Upload    handler.Limit
	Status    handler.Limit
	History   handler.Limit
	FollowUp  handler.Limit
	Logger    *logrus.Logger
}

func Setup(h *handler.Handler, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := gin.New()
	r.Use(
		gin.CustomRecovery(func(c *gin.Context, recovered any) {
			logger.WithField("panic", recovered).Error("handler panicked")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "a server error occurred; please try again later"})
		}),
		handler.RequestLogger(logger),
		metrics.GinMiddleware(),
		cors.Default(),
	)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	r.POST("/upload",
		handler.BodyLimit(config.MaxUploadBytes+formOverhead),
		handler.RateLimit(opts.Upload, logger),
		h.Upload,
	)
	r.GET("/task/:task_id", handler.RateLimit(opts.Status, logger), h.TaskStatus)
	r.GET("/history", handler.RateLimit(opts.History, logger), h.History)
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/re-question", handler.RateLimit(opts.FollowUp, logger), h.ReQuestion)
	}

	mountStatic(r, opts.StaticDir)
	return r
}

// mountStatic serves the web client when its directory exists.
func mountStatic(r *gin.Engine, dir string) {
	if dir == "" {
		return
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return
	}
	r.Static("/static", dir)
	if _, err := os.Stat(filepath.Join(dir, "index.html")); err == nil {
		r.StaticFile("/", filepath.Join(dir, "index.html"))
	}
	r.GET("/sw.js", func(c *gin.Context) {
		c.Header("Content-Type", "application/javascript")
		c.File(filepath.Join(dir, "sw.js"))
	})
	r.GET("/manifest.json", func(c *gin.Context) {
		c.Header("Content-Type", "application/manifest+json")
		c.File(filepath.Join(dir, "manifest.json"))
	})
}
