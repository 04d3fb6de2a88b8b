package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/videoqueue-backend/internal/http"
	httpH "github.com/yungbote/videoqueue-backend/internal/http/handlers"
	httpMW "github.com/yungbote/videoqueue-backend/internal/http/middleware"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
	"github.com/yungbote/videoqueue-backend/internal/realtime"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	VideoJob *httpH.VideoJobHandler
	Token    *httpH.TokenHandler
	Callback *httpH.CallbackHandler
	Realtime *httpH.RealtimeHandler
}

func wireHandlers(db *gorm.DB, log *logger.Logger, svc Services, hub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(db),
		VideoJob: httpH.NewVideoJobHandler(log, svc.Admission, svc.Reconciler, svc.Cancellation),
		Token:    httpH.NewTokenHandler(svc.Ledger),
		Callback: httpH.NewCallbackHandler(log, svc.Reconciler),
		Realtime: httpH.NewRealtimeHandler(log, hub),
	}
}

func wireServer(log *logger.Logger, cfg Config, svc Services, h Handlers) *http.Server {
	return http.NewServer(http.RouterConfig{
		Log:             log,
		ServiceName:     serviceName,
		CORSOrigins:     cfg.CORSOrigins,
		CallbackSecret:  cfg.CallbackSecret,
		AuthMiddleware:  httpMW.NewAuthMiddleware(log, svc.Auth),
		VideoJobHandler: h.VideoJob,
		TokenHandler:    h.Token,
		CallbackHandler: h.Callback,
		RealtimeHandler: h.Realtime,
		HealthHandler:   h.Health,
	})
}
