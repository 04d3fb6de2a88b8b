package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/videoqueue-backend/internal/data/repos"
	types "github.com/yungbote/videoqueue-backend/internal/domain"
	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
	"github.com/yungbote/videoqueue-backend/internal/observability"
	"github.com/yungbote/videoqueue-backend/internal/platform/dbctx"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type BalanceView struct {
	Balance   int `json:"balance"`
	Reserved  int `json:"reserved"`
	Available int `json:"available"`
}

type CreditRequest struct {
	OwnerUserID uuid.UUID
	Amount      int
	Kind        string
	Reason      string
	DedupeKey   string
}

// LedgerService is the read side of the token ledger plus direct credits.
type LedgerService interface {
	Balance(ctx context.Context, ownerUserID uuid.UUID) (*BalanceView, error)
	History(ctx context.Context, ownerUserID uuid.UUID, limit, offset int) ([]*types.TokenLedgerEntry, error)
	Credit(ctx context.Context, in CreditRequest) (*BalanceView, error)
}

type ledgerService struct {
	db      *gorm.DB
	log     *logger.Logger
	entries repos.TokenLedgerEntryRepo
	ledger  domainagg.TokenLedgerAggregate
	notify  VideoJobNotifier
}

func NewLedgerService(
	db *gorm.DB,
	baseLog *logger.Logger,
	entries repos.TokenLedgerEntryRepo,
	ledger domainagg.TokenLedgerAggregate,
	notify VideoJobNotifier,
) LedgerService {
	if notify == nil {
		notify = nopNotifier{}
	}
	return &ledgerService{
		db:      db,
		log:     baseLog.With("service", "LedgerService"),
		entries: entries,
		ledger:  ledger,
		notify:  notify,
	}
}

func (s *ledgerService) Balance(ctx context.Context, ownerUserID uuid.UUID) (*BalanceView, error) {
	const op = "Services.Ledger.Balance"
	if ownerUserID == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "missing user id", nil)
	}
	snap, err := s.ledger.Snapshot(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}
	return &BalanceView{Balance: snap.Balance, Reserved: snap.Reserved, Available: snap.Available}, nil
}

func (s *ledgerService) History(ctx context.Context, ownerUserID uuid.UUID, limit, offset int) ([]*types.TokenLedgerEntry, error) {
	const op = "Services.Ledger.History"
	if ownerUserID == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "missing user id", nil)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.entries.ListByOwner(dbctx.Context{Ctx: ctx}, ownerUserID, limit, offset)
	if err != nil {
		return nil, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	if entries == nil {
		entries = []*types.TokenLedgerEntry{}
	}
	return entries, nil
}

func (s *ledgerService) Credit(ctx context.Context, in CreditRequest) (*BalanceView, error) {
	res, err := s.ledger.Credit(ctx, domainagg.CreditInput{
		OwnerUserID: in.OwnerUserID,
		Change:      in.Amount,
		Kind:        in.Kind,
		Reason:      in.Reason,
		DedupeKey:   in.DedupeKey,
		At:          time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if res.Posted {
		observability.Current().ObserveLedgerPosting(in.Kind, in.Amount)
		s.log.Info("token credit posted", "owner_user_id", in.OwnerUserID, "kind", in.Kind, "change", in.Amount, "balance", res.Balance)
		s.notify.BalanceChanged(ctx, in.OwnerUserID)
	}
	return s.Balance(ctx, in.OwnerUserID)
}
