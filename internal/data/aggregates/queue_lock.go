package aggregates

import (
	"github.com/google/uuid"
	"github.com/yungbote/videoqueue-backend/internal/data/repos"
	domainledger "github.com/yungbote/videoqueue-backend/internal/domain/ledger"
	"github.com/yungbote/videoqueue-backend/internal/platform/dbctx"
)

// videoQueueLockKey is the advisory lock id shared by every write that reads
// or rewrites queue positions.
const videoQueueLockKey int64 = 0x76717565 // "vque"

// lockQueue serializes queue position read-modify-writes for the rest of the
// transaction. SQLite connections are already single-writer.
func lockQueue(dbc dbctx.Context) error {
	if dbc.Tx == nil {
		return ValidationError("queue lock requires a transaction")
	}
	if dbc.Tx.Dialector.Name() != "postgres" {
		return nil
	}
	return dbc.Tx.WithContext(dbc.Ctx).Exec("SELECT pg_advisory_xact_lock(?)", videoQueueLockKey).Error
}

// outstandingHolds sums what every live reservation of the owner still holds:
// the reserved amount minus the usage already debited for that job.
func outstandingHolds(dbc dbctx.Context, reservations repos.TokenReservationRepo, entries repos.TokenLedgerEntryRepo, ownerUserID uuid.UUID) (int, error) {
	live, err := reservations.ListByOwner(dbc, ownerUserID)
	if err != nil {
		return 0, err
	}
	if len(live) == 0 {
		return 0, nil
	}
	ids := make([]uuid.UUID, 0, len(live))
	for _, r := range live {
		ids = append(ids, r.JobID)
	}
	debited, err := entries.SumChangeByJobs(dbc, ids, domainledger.EntryUsage)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, r := range live {
		// debits are stored negative
		if held := r.Held() + debited[r.JobID]; held > 0 {
			total += held
		}
	}
	return total, nil
}
