package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type RouterConfig struct {
	Handler        *HTTPHandler
	Metrics        http.Handler
	AllowedOrigins []string
	ServiceName    string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	router.Use(cors.New(corsCfg))

	h := cfg.Handler
	router.GET("/health", h.HealthCheck)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	api := router.Group("/api/v1")
	{
		api.POST("/custody/apply", h.Apply)

		holdings := api.Group("/holdings/:subjectId/:category")
		holdings.GET("", h.GetHolding)
		holdings.GET("/events", h.ListEvents)
		holdings.GET("/audit", h.Audit)
		holdings.POST("/reconcile", h.Reconcile)

		api.POST("/reconcile/:category", h.ReconcileCategory)
		api.GET("/stock/:category", h.AggregateByGroup)

		api.POST("/serial-units", h.RegisterUnit)
		api.GET("/serial-units", h.ListUnits)
		api.GET("/serial-units/:serial", h.GetUnit)
		api.DELETE("/serial-units/:id", h.DeleteUnit)
	}

	return router
}
