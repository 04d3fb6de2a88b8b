package ledger

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/videoqueue-backend/internal/domain"
	"github.com/yungbote/videoqueue-backend/internal/platform/dbctx"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

type TokenBalanceRepo interface {
	Get(dbc dbctx.Context, ownerUserID uuid.UUID) (int, error)
	LockForUpdate(dbc dbctx.Context, ownerUserID uuid.UUID) (int, error)
	Add(dbc dbctx.Context, ownerUserID uuid.UUID, delta int) error
}

type tokenBalanceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTokenBalanceRepo(db *gorm.DB, baseLog *logger.Logger) TokenBalanceRepo {
	return &tokenBalanceRepo{
		db:  db,
		log: baseLog.With("repo", "TokenBalanceRepo"),
	}
}

// Get returns the balance, treating a missing row as zero.
func (r *tokenBalanceRepo) Get(dbc dbctx.Context, ownerUserID uuid.UUID) (int, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.TokenBalance
	if err := transaction.WithContext(dbc.Ctx).
		Where("owner_user_id = ?", ownerUserID).
		Limit(1).
		Find(&row).Error; err != nil {
		return 0, err
	}
	return row.Balance, nil
}

// LockForUpdate ensures the row exists and row-locks it for the remainder of
// the caller's transaction.
func (r *tokenBalanceRepo) LockForUpdate(dbc dbctx.Context, ownerUserID uuid.UUID) (int, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if err := r.ensure(transaction.WithContext(dbc.Ctx), ownerUserID); err != nil {
		return 0, err
	}
	var row types.TokenBalance
	if err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_user_id = ?", ownerUserID).
		First(&row).Error; err != nil {
		return 0, err
	}
	return row.Balance, nil
}

func (r *tokenBalanceRepo) Add(dbc dbctx.Context, ownerUserID uuid.UUID, delta int) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	tx := transaction.WithContext(dbc.Ctx)
	if err := r.ensure(tx, ownerUserID); err != nil {
		return err
	}
	return tx.Model(&types.TokenBalance{}).
		Where("owner_user_id = ?", ownerUserID).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", delta),
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *tokenBalanceRepo) ensure(tx *gorm.DB, ownerUserID uuid.UUID) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_user_id"}},
		DoNothing: true,
	}).Create(&types.TokenBalance{
		OwnerUserID: ownerUserID,
		Balance:     0,
		UpdatedAt:   time.Now().UTC(),
	}).Error
}
