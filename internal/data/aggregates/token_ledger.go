package aggregates

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/yungbote/videoqueue-backend/internal/data/repos"
	types "github.com/yungbote/videoqueue-backend/internal/domain"
	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
	domainledger "github.com/yungbote/videoqueue-backend/internal/domain/ledger"
	"github.com/yungbote/videoqueue-backend/internal/platform/dbctx"
)

type TokenLedgerAggregateDeps struct {
	Base BaseDeps

	Reservations repos.TokenReservationRepo
	Entries      repos.TokenLedgerEntryRepo
	Balances     repos.TokenBalanceRepo
}

type tokenLedgerAggregate struct {
	deps TokenLedgerAggregateDeps
}

func NewTokenLedgerAggregate(deps TokenLedgerAggregateDeps) domainagg.TokenLedgerAggregate {
	deps.Base = deps.Base.withDefaults()
	return &tokenLedgerAggregate{deps: deps}
}

func (a *tokenLedgerAggregate) Contract() domainagg.Contract {
	return domainagg.TokenLedgerAggregateContract
}

var creditKinds = map[string]bool{
	domainledger.EntryPurchase:        true,
	domainledger.EntryAdminAdjustment: true,
}

func (a *tokenLedgerAggregate) Credit(ctx context.Context, in domainagg.CreditInput) (domainagg.CreditResult, error) {
	const op = "Ledger.TokenLedger.Credit"
	var out domainagg.CreditResult
	kind := strings.TrimSpace(in.Kind)
	if in.OwnerUserID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing owner id", nil)
	}
	if !creditKinds[kind] {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "credit kind must be purchase or admin_adjustment", nil)
	}
	if in.Change == 0 {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "change must be non-zero", nil)
	}
	if a.deps.Entries == nil || a.deps.Balances == nil || a.deps.Reservations == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "token ledger aggregate repos not configured", nil)
	}
	at := nowOr(in.At)

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		balance, err := a.deps.Balances.LockForUpdate(dbc, in.OwnerUserID)
		if err != nil {
			return err
		}
		if in.Change < 0 {
			held, err := outstandingHolds(dbc, a.deps.Reservations, a.deps.Entries, in.OwnerUserID)
			if err != nil {
				return err
			}
			if balance+in.Change < held {
				return domainagg.NewError(domainagg.CodeInsufficientResources, op,
					"adjustment would take the balance below tokens reserved for queued jobs", nil)
			}
		}
		entry := &types.TokenLedgerEntry{
			OwnerUserID: in.OwnerUserID,
			Date:        at,
			Change:      in.Change,
			Reason:      strings.TrimSpace(in.Reason),
			Kind:        kind,
		}
		if key := strings.TrimSpace(in.DedupeKey); key != "" {
			entry.DedupeKey = &key
		}
		posted, err := a.deps.Entries.Append(dbc, entry)
		if err != nil {
			return err
		}
		out.Balance = balance
		if !posted {
			return nil
		}
		if err := a.deps.Balances.Add(dbc, in.OwnerUserID, in.Change); err != nil {
			return err
		}
		out.Posted = true
		out.Balance = balance + in.Change
		return nil
	})
	return out, err
}

func (a *tokenLedgerAggregate) Snapshot(ctx context.Context, ownerUserID uuid.UUID) (domainagg.BalanceSnapshot, error) {
	const op = "Ledger.TokenLedger.Snapshot"
	var out domainagg.BalanceSnapshot
	if ownerUserID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing owner id", nil)
	}
	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		balance, err := a.deps.Balances.Get(dbc, ownerUserID)
		if err != nil {
			return err
		}
		held, err := outstandingHolds(dbc, a.deps.Reservations, a.deps.Entries, ownerUserID)
		if err != nil {
			return err
		}
		out = domainagg.BalanceSnapshot{
			Balance:   balance,
			Reserved:  held,
			Available: balance - held,
		}
		return nil
	})
	return out, err
}

