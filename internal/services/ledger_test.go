package services

import (
	"context"
	"testing"

	"github.com/google/uuid"

	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
	domainledger "github.com/yungbote/videoqueue-backend/internal/domain/ledger"
)

func TestLedgerCreditAndHistory(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	ctx := context.Background()

	b, err := f.ledgerSvc.Credit(ctx, CreditRequest{OwnerUserID: owner, Amount: 7, Kind: domainledger.EntryPurchase, Reason: "pack", DedupeKey: "order-1"})
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if b.Balance != 7 || b.Available != 7 {
		t.Fatalf("after credit: %+v", b)
	}
	// same order id again is a no-op
	if b, err = f.ledgerSvc.Credit(ctx, CreditRequest{OwnerUserID: owner, Amount: 7, Kind: domainledger.EntryPurchase, DedupeKey: "order-1"}); err != nil || b.Balance != 7 {
		t.Fatalf("dedupe credit: b=%+v err=%v", b, err)
	}
	if _, err := f.ledgerSvc.Credit(ctx, CreditRequest{OwnerUserID: owner, Amount: -2, Kind: domainledger.EntryAdminAdjustment, Reason: "refund"}); err != nil {
		t.Fatalf("adjustment: %v", err)
	}
	if _, err := f.ledgerSvc.Credit(ctx, CreditRequest{OwnerUserID: owner, Amount: 3, Kind: domainledger.EntryUsage}); !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("usage is not a credit kind: %v", err)
	}

	history, err := f.ledgerSvc.History(ctx, owner, 0, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].Change != -2 || history[1].Change != 7 {
		t.Fatalf("history: %+v", history)
	}
	if b := f.balance(t, owner); b.Balance != 5 {
		t.Fatalf("balance: %+v", b)
	}
	if _, err := f.ledgerSvc.Balance(ctx, uuid.Nil); !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("nil owner: %v", err)
	}
}

func TestUserRateLimiter(t *testing.T) {
	var nilLimiter *UserRateLimiter
	if !nilLimiter.Allow(uuid.New()) {
		t.Fatalf("nil limiter must allow")
	}
	if NewUserRateLimiter(0, 0) != nil {
		t.Fatalf("disabled limiter should be nil")
	}
	l := NewUserRateLimiter(1, 2)
	a, b := uuid.New(), uuid.New()
	if !l.Allow(a) || !l.Allow(a) {
		t.Fatalf("burst of 2 should pass")
	}
	if l.Allow(a) {
		t.Fatalf("third call within a minute should be limited")
	}
	if !l.Allow(b) {
		t.Fatalf("limits are per user")
	}
}
