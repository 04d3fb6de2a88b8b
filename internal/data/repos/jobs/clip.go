package jobs

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/videoqueue-backend/internal/domain"
	"github.com/yungbote/videoqueue-backend/internal/platform/dbctx"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

type VideoJobClipRepo interface {
	Insert(dbc dbctx.Context, clip *types.VideoJobClip) (bool, error)
	UpdateURL(dbc dbctx.Context, jobID uuid.UUID, unitKey, url string) error
	ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.VideoJobClip, error)
	CountByJob(dbc dbctx.Context, jobID uuid.UUID) (int64, error)
}

type videoJobClipRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoJobClipRepo(db *gorm.DB, baseLog *logger.Logger) VideoJobClipRepo {
	return &videoJobClipRepo{
		db:  db,
		log: baseLog.With("repo", "VideoJobClipRepo"),
	}
}

// Insert stores the clip unless (job_id, unit_key) already exists. The
// boolean reports whether a new row was written.
func (r *videoJobClipRepo) Insert(dbc dbctx.Context, clip *types.VideoJobClip) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if clip == nil {
		return false, nil
	}
	if clip.ID == uuid.Nil {
		clip.ID = uuid.New()
	}
	res := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "unit_key"}},
			DoNothing: true,
		}).
		Create(clip)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *videoJobClipRepo) UpdateURL(dbc dbctx.Context, jobID uuid.UUID, unitKey, url string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.VideoJobClip{}).
		Where("job_id = ? AND unit_key = ? AND (url = '' OR url IS NULL)", jobID, unitKey).
		UpdateColumn("url", url).Error
}

func (r *videoJobClipRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.VideoJobClip, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.VideoJobClip
	if err := transaction.WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("seq ASC").
		Order("unit_key ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoJobClipRepo) CountByJob(dbc dbctx.Context, jobID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.VideoJobClip{}).
		Where("job_id = ?", jobID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
