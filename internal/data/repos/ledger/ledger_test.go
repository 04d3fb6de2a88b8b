package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/yungbote/videoqueue-backend/internal/data/repos/testutil"
	types "github.com/yungbote/videoqueue-backend/internal/domain"
	domainledger "github.com/yungbote/videoqueue-backend/internal/domain/ledger"
	"github.com/yungbote/videoqueue-backend/internal/platform/dbctx"
)

func TestTokenBalanceRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewTokenBalanceRepo(db, testutil.Logger(t))

	owner := uuid.New()
	if got, err := repo.Get(dbc, owner); err != nil || got != 0 {
		t.Fatalf("Get missing: got=%d err=%v", got, err)
	}
	if err := repo.Add(dbc, owner, 10); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := repo.Add(dbc, owner, -3); err != nil {
		t.Fatalf("Add negative: %v", err)
	}
	got, err := repo.LockForUpdate(dbc, owner)
	if err != nil || got != 7 {
		t.Fatalf("LockForUpdate: got=%d err=%v", got, err)
	}
}

func TestTokenLedgerEntryRepoDedupe(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewTokenLedgerEntryRepo(db, testutil.Logger(t))

	owner := uuid.New()
	jobID := uuid.New()
	key := "usage:" + jobID.String() + ":1.1"
	entry := func() *types.TokenLedgerEntry {
		k := key
		return &types.TokenLedgerEntry{
			OwnerUserID: owner,
			Change:      -1,
			Kind:        domainledger.EntryVideoCreation,
			JobID:       &jobID,
			DedupeKey:   &k,
		}
	}
	inserted, err := repo.Append(dbc, entry())
	if err != nil || !inserted {
		t.Fatalf("Append first: inserted=%v err=%v", inserted, err)
	}
	inserted, err = repo.Append(dbc, entry())
	if err != nil || inserted {
		t.Fatalf("Append duplicate: inserted=%v err=%v", inserted, err)
	}
	if _, err := repo.Append(dbc, &types.TokenLedgerEntry{
		OwnerUserID: owner, Change: 5, Kind: domainledger.EntryPurchase, Date: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Append purchase: %v", err)
	}

	sums, err := repo.SumChangeByJobs(dbc, []uuid.UUID{jobID}, domainledger.EntryVideoCreation)
	if err != nil || sums[jobID] != -1 {
		t.Fatalf("SumChangeByJobs: err=%v sums=%+v", err, sums)
	}
	total, err := repo.SumChangeByOwner(dbc, owner)
	if err != nil || total != 4 {
		t.Fatalf("SumChangeByOwner: err=%v total=%d", err, total)
	}
	rows, err := repo.ListByOwner(dbc, owner, 10, 0)
	if err != nil || len(rows) != 2 {
		t.Fatalf("ListByOwner: err=%v rows=%d", err, len(rows))
	}
}

func TestTokenReservationRepoDeleteOnce(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewTokenReservationRepo(db, testutil.Logger(t))

	owner := uuid.New()
	jobID := uuid.New()
	if err := repo.Create(dbc, &types.TokenReservation{
		OwnerUserID: owner, JobID: jobID, Amount: -4, Kind: domainledger.KindReserved, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := repo.GetByJob(dbc, jobID)
	if err != nil || got == nil || got.Held() != 4 {
		t.Fatalf("GetByJob: err=%v got=%+v", err, got)
	}
	deleted, err := repo.DeleteByJob(dbc, jobID)
	if err != nil || !deleted {
		t.Fatalf("DeleteByJob first: deleted=%v err=%v", deleted, err)
	}
	deleted, err = repo.DeleteByJob(dbc, jobID)
	if err != nil || deleted {
		t.Fatalf("DeleteByJob second: deleted=%v err=%v", deleted, err)
	}
}
