package handlers

import (
	"os"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	CORS bool
	// StaticDir, when set and present, is served at "/".
	StaticDir string
}

// NewRouter wires the API routes and middleware.
//
// Endpoints:
//   - GET  /health        - Health check
//   - GET  /api/model     - Loaded model description
//   - POST /api/analyze   - Classify an uploaded X-ray
//   - POST /predict/image - Same as /api/analyze
func NewRouter(h *Handler, cfg RouterConfig, log logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestIDMiddleware(), Logger(log))
	if cfg.CORS {
		r.Use(CORS())
	}

	r.GET("/health", h.Health)
	r.GET("/api/model", h.ModelInfo)
	r.POST("/api/analyze", h.Analyze)
	r.POST("/predict/image", h.Analyze)

	if cfg.StaticDir != "" {
		if fi, err := os.Stat(cfg.StaticDir); err == nil && fi.IsDir() {
			r.Use(static.Serve("/", static.LocalFile(cfg.StaticDir, false)))
		} else {
			log.WithField("dir", cfg.StaticDir).Warn("static directory not found, front end disabled")
		}
	}
	return r
}
