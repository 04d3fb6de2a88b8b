package repos

import (
	"github.com/yungbote/videoqueue-backend/internal/data/repos/jobs"
	"github.com/yungbote/videoqueue-backend/internal/data/repos/ledger"
	"github.com/yungbote/videoqueue-backend/internal/data/repos/projects"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
	"gorm.io/gorm"
)

type VideoJobRepo = jobs.VideoJobRepo
type VideoJobClipRepo = jobs.VideoJobClipRepo

type TokenReservationRepo = ledger.TokenReservationRepo
type TokenLedgerEntryRepo = ledger.TokenLedgerEntryRepo
type TokenBalanceRepo = ledger.TokenBalanceRepo

type VideoProjectRepo = projects.VideoProjectRepo

func NewVideoJobRepo(db *gorm.DB, baseLog *logger.Logger) VideoJobRepo {
	return jobs.NewVideoJobRepo(db, baseLog)
}
func NewVideoJobClipRepo(db *gorm.DB, baseLog *logger.Logger) VideoJobClipRepo {
	return jobs.NewVideoJobClipRepo(db, baseLog)
}

func NewTokenReservationRepo(db *gorm.DB, baseLog *logger.Logger) TokenReservationRepo {
	return ledger.NewTokenReservationRepo(db, baseLog)
}
func NewTokenLedgerEntryRepo(db *gorm.DB, baseLog *logger.Logger) TokenLedgerEntryRepo {
	return ledger.NewTokenLedgerEntryRepo(db, baseLog)
}
func NewTokenBalanceRepo(db *gorm.DB, baseLog *logger.Logger) TokenBalanceRepo {
	return ledger.NewTokenBalanceRepo(db, baseLog)
}

func NewVideoProjectRepo(db *gorm.DB, baseLog *logger.Logger) VideoProjectRepo {
	return projects.NewVideoProjectRepo(db, baseLog)
}
