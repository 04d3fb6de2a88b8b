package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/videoqueue-backend/internal/data/aggregates"
	"github.com/yungbote/videoqueue-backend/internal/data/repos"
	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
	"github.com/yungbote/videoqueue-backend/internal/observability"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

type Repos struct {
	VideoJob         repos.VideoJobRepo
	VideoJobClip     repos.VideoJobClipRepo
	VideoProject     repos.VideoProjectRepo
	TokenReservation repos.TokenReservationRepo
	TokenLedgerEntry repos.TokenLedgerEntryRepo
	TokenBalance     repos.TokenBalanceRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		VideoJob:         repos.NewVideoJobRepo(db, log),
		VideoJobClip:     repos.NewVideoJobClipRepo(db, log),
		VideoProject:     repos.NewVideoProjectRepo(db, log),
		TokenReservation: repos.NewTokenReservationRepo(db, log),
		TokenLedgerEntry: repos.NewTokenLedgerEntryRepo(db, log),
		TokenBalance:     repos.NewTokenBalanceRepo(db, log),
	}
}

type Aggregates struct {
	VideoQueue  domainagg.VideoQueueAggregate
	TokenLedger domainagg.TokenLedgerAggregate
}

func wireAggregates(db *gorm.DB, log *logger.Logger, r Repos) Aggregates {
	log.Info("Wiring aggregates...")
	base := aggregates.BaseDeps{
		DB:       db,
		Log:      log,
		Hooks:    aggregates.NewObservabilityHooks(observability.Current()),
		CASGuard: aggregates.NewCASGuard(db),
	}
	return Aggregates{
		VideoQueue: aggregates.NewVideoQueueAggregate(aggregates.VideoQueueAggregateDeps{
			Base:         base,
			Jobs:         r.VideoJob,
			Clips:        r.VideoJobClip,
			Reservations: r.TokenReservation,
			Entries:      r.TokenLedgerEntry,
			Balances:     r.TokenBalance,
		}),
		TokenLedger: aggregates.NewTokenLedgerAggregate(aggregates.TokenLedgerAggregateDeps{
			Base:         base,
			Reservations: r.TokenReservation,
			Entries:      r.TokenLedgerEntry,
			Balances:     r.TokenBalance,
		}),
	}
}
