package aggregates

import (
	"context"
	"time"

	"github.com/google/uuid"
)

var TokenLedgerAggregateContract = Contract{
	Name:             "Ledger.TokenLedgerAggregate",
	WriteTxOwnership: WriteTxOwnedByAggregate,
	ReadPolicy:       ReadPolicyInvariantScoped,
	Notes:            "Owns balance increments and their ledger entries; snapshots read balance and live holds together.",
}

// TokenLedgerAggregate owns direct balance postings outside the job flow.
type TokenLedgerAggregate interface {
	Aggregate

	// Credit posts a signed change and moves the balance by the same amount.
	// A repeated DedupeKey is a no-op.
	Credit(ctx context.Context, in CreditInput) (CreditResult, error)

	// Snapshot reads balance and outstanding holds in one transaction.
	Snapshot(ctx context.Context, ownerUserID uuid.UUID) (BalanceSnapshot, error)
}

type CreditInput struct {
	OwnerUserID uuid.UUID
	Change      int
	Kind        string
	Reason      string
	DedupeKey   string
	At          time.Time
}

type CreditResult struct {
	Posted  bool
	Balance int
}

type BalanceSnapshot struct {
	Balance   int
	Reserved  int
	Available int
}
