package projects

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/videoqueue-backend/internal/domain"
	"github.com/yungbote/videoqueue-backend/internal/platform/dbctx"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

type VideoProjectRepo interface {
	Create(dbc dbctx.Context, project *types.VideoProject) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.VideoProject, error)
}

type videoProjectRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoProjectRepo(db *gorm.DB, baseLog *logger.Logger) VideoProjectRepo {
	return &videoProjectRepo{
		db:  db,
		log: baseLog.With("repo", "VideoProjectRepo"),
	}
}

func (r *videoProjectRepo) Create(dbc dbctx.Context, project *types.VideoProject) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if project == nil {
		return nil
	}
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	return transaction.WithContext(dbc.Ctx).Create(project).Error
}

func (r *videoProjectRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.VideoProject, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var project types.VideoProject
	err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}
