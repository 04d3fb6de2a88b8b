package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/videoqueue-backend/internal/http/handlers"
	httpMW "github.com/yungbote/videoqueue-backend/internal/http/middleware"
	"github.com/yungbote/videoqueue-backend/internal/observability"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

// eventsRoute is the SSE stream; its lifetime is not request latency.
const eventsRoute = "/api/events"

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	CORSOrigins    []string
	CallbackSecret string

	AuthMiddleware *httpMW.AuthMiddleware

	VideoJobHandler *httpH.VideoJobHandler
	TokenHandler    *httpH.TokenHandler
	CallbackHandler *httpH.CallbackHandler
	RealtimeHandler *httpH.RealtimeHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(log))
	r.Use(httpMW.Metrics(observability.Current(), eventsRoute))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}

	// Executor webhooks
	if cfg.CallbackHandler != nil {
		internal := r.Group("/internal/executor")
		internal.Use(httpMW.RequireCallbackSignature(log, cfg.CallbackSecret))
		internal.POST("/callbacks/clip", cfg.CallbackHandler.Clip)
		internal.POST("/callbacks/final", cfg.CallbackHandler.Final)
	}

	protected := r.Group("/api")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Video jobs
		if cfg.VideoJobHandler != nil {
			protected.POST("/projects/:id/video-jobs", cfg.VideoJobHandler.Submit)
			protected.GET("/projects/:id/video-job", cfg.VideoJobHandler.LatestForProject)
			protected.GET("/video-jobs/:id", cfg.VideoJobHandler.GetJob)
			protected.POST("/video-jobs/:id/cancel", cfg.VideoJobHandler.CancelJob)
		}

		// Tokens
		if cfg.TokenHandler != nil {
			protected.GET("/tokens/balance", cfg.TokenHandler.Balance)
			protected.GET("/tokens/history", cfg.TokenHandler.History)
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			protected.GET("/events", cfg.RealtimeHandler.Stream)
		}
	}

	return r
}
