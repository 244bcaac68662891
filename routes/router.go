package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cppla/pagestats/config"
	"github.com/cppla/pagestats/controllers"
	"github.com/cppla/pagestats/metrics"
	"github.com/cppla/pagestats/middleware"
	"github.com/cppla/pagestats/store"
	"github.com/cppla/pagestats/utils"
)

// Deps are the long-lived clients the HTTP layer reads from.
type Deps struct {
	Store    store.Reader
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg config.AppConfig, deps Deps) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	// Request log goes to its own rolling file; fall back to the app logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err != nil {
		gl = logger
	}
	r.Use(utils.Ginzap(gl, time.RFC3339, true))
	r.Use(utils.RecoveryWithZap(gl, false))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.GinMiddleware())
	}

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", utils.RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", utils.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
		corsCfg.AllowCredentials = true
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, "ok", []gin.H{{"status": "ok"}})
	})
	if deps.Registry != nil {
		r.GET("/metrics", metrics.Handler(deps.Registry))
	}

	statsController := controllers.NewStatsController(deps.Store, logger)

	pages := r.Group("/pages/statistics")
	pages.Use(middleware.RateLimitMiddleware(cfg.RateLimitPerMinute), middleware.AuthRequired(cfg.JWTSecret))
	pages.GET("/", statsController.ListPages)
	pages.GET("/:page_id/", statsController.GetPage)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, "route not found")
	})

	return r
}
