package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
	"github.com/yungbote/videoqueue-backend/internal/services"
)

type Services struct {
	Auth         services.AuthService
	Notifier     services.VideoJobNotifier
	Admission    services.AdmissionService
	Reconciler   services.Reconciler
	Cancellation services.CancellationService
	Ledger       services.LedgerService
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r Repos, aggs Aggregates, clients Clients) Services {
	log.Info("Wiring services...")
	notify := services.NewVideoJobNotifier(log, clients.Bus)
	limiter := services.NewUserRateLimiter(cfg.SubmitRatePerMin, cfg.SubmitBurst)
	return Services{
		Auth:     services.NewAuthService(log, cfg.JWTSecretKey, cfg.AccessTokenTTL),
		Notifier: notify,
		Admission: services.NewAdmissionService(
			db, log, r.VideoProject, r.VideoJob, r.VideoJobClip, aggs.VideoQueue, notify, limiter,
		),
		Reconciler: services.NewReconciler(
			db, log, r.VideoJob, r.VideoJobClip, aggs.VideoQueue, clients.Executor, notify,
		),
		Cancellation: services.NewCancellationService(db, log, r.VideoJob, aggs.VideoQueue, notify),
		Ledger:       services.NewLedgerService(db, log, r.TokenLedgerEntry, aggs.TokenLedger, notify),
	}
}
