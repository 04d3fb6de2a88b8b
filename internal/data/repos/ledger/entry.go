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

type TokenLedgerEntryRepo interface {
	Append(dbc dbctx.Context, entry *types.TokenLedgerEntry) (bool, error)
	ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID, limit, offset int) ([]*types.TokenLedgerEntry, error)
	ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.TokenLedgerEntry, error)
	SumChangeByJobs(dbc dbctx.Context, jobIDs []uuid.UUID, kind string) (map[uuid.UUID]int, error)
	SumChangeByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) (int, error)
}

type tokenLedgerEntryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTokenLedgerEntryRepo(db *gorm.DB, baseLog *logger.Logger) TokenLedgerEntryRepo {
	return &tokenLedgerEntryRepo{
		db:  db,
		log: baseLog.With("repo", "TokenLedgerEntryRepo"),
	}
}

// Append writes the entry. Entries whose DedupeKey was already used are
// dropped and reported as not inserted.
func (r *tokenLedgerEntryRepo) Append(dbc dbctx.Context, entry *types.TokenLedgerEntry) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if entry == nil {
		return false, nil
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Date.IsZero() {
		entry.Date = time.Now().UTC()
	}
	q := transaction.WithContext(dbc.Ctx)
	if entry.DedupeKey != nil {
		q = q.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedupe_key"}},
			DoNothing: true,
		})
	}
	res := q.Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *tokenLedgerEntryRepo) ListByOwner(dbc dbctx.Context, ownerUserID uuid.UUID, limit, offset int) ([]*types.TokenLedgerEntry, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var out []*types.TokenLedgerEntry
	if err := transaction.WithContext(dbc.Ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("date DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *tokenLedgerEntryRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.TokenLedgerEntry, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.TokenLedgerEntry
	if err := transaction.WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("date ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// SumChangeByJobs totals entry changes of one kind per job.
func (r *tokenLedgerEntryRepo) SumChangeByJobs(dbc dbctx.Context, jobIDs []uuid.UUID, kind string) (map[uuid.UUID]int, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	out := make(map[uuid.UUID]int, len(jobIDs))
	if len(jobIDs) == 0 {
		return out, nil
	}
	type row struct {
		JobID uuid.UUID
		Total int
	}
	var rows []row
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.TokenLedgerEntry{}).
		Select("job_id, COALESCE(SUM(change), 0) AS total").
		Where("job_id IN ? AND kind = ?", jobIDs, kind).
		Group("job_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, rw := range rows {
		out[rw.JobID] = rw.Total
	}
	return out, nil
}

func (r *tokenLedgerEntryRepo) SumChangeByOwner(dbc dbctx.Context, ownerUserID uuid.UUID) (int, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var total int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.TokenLedgerEntry{}).
		Select("COALESCE(SUM(change), 0)").
		Where("owner_user_id = ?", ownerUserID).
		Row().
		Scan(&total); err != nil {
		return 0, err
	}
	return int(total), nil
}
