package ledger

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/videoqueue-backend/internal/domain"
	"github.com/yungbote/videoqueue-backend/internal/platform/dbctx"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

type TokenReservationRepo interface {
	Create(dbc dbctx.Context, res *types.TokenReservation) error
	GetByJob(dbc dbctx.Context, jobID uuid.UUID) (*types.TokenReservation, error)
	ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) ([]*types.TokenReservation, error)
	DeleteByJob(dbc dbctx.Context, jobID uuid.UUID) (bool, error)
}

type tokenReservationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTokenReservationRepo(db *gorm.DB, baseLog *logger.Logger) TokenReservationRepo {
	return &tokenReservationRepo{
		db:  db,
		log: baseLog.With("repo", "TokenReservationRepo"),
	}
}

func (r *tokenReservationRepo) Create(dbc dbctx.Context, res *types.TokenReservation) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if res == nil {
		return nil
	}
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	return transaction.WithContext(dbc.Ctx).Create(res).Error
}

func (r *tokenReservationRepo) GetByJob(dbc dbctx.Context, jobID uuid.UUID) (*types.TokenReservation, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var res types.TokenReservation
	err := transaction.WithContext(dbc.Ctx).Where("job_id = ?", jobID).First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *tokenReservationRepo) ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) ([]*types.TokenReservation, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.TokenReservation
	if err := transaction.WithContext(dbc.Ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteByJob removes the job's hold. The boolean is false when no hold was
// present, which callers use to keep release at-most-once.
func (r *tokenReservationRepo) DeleteByJob(dbc dbctx.Context, jobID uuid.UUID) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Delete(&types.TokenReservation{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
