package ledger

import (
	"time"

	"github.com/google/uuid"
)

const (
	KindReserved = "reserved"

	EntryPurchase        = "purchase"
	EntryUsage           = "usage"
	EntryAdminAdjustment = "admin_adjustment"
	EntryVideoCreation   = "video_creation"
	EntryCancellation    = "cancellation"
)

// TokenReservation is a live hold against a user's balance for one job.
// Releasing a hold deletes the row; there is at most one per job.
type TokenReservation struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	JobID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"job_id"`
	Amount      int       `gorm:"column:amount;not null" json:"amount"`
	Kind        string    `gorm:"column:kind;not null" json:"kind"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}

func (TokenReservation) TableName() string { return "token_reservation" }

// Held is the absolute number of units the reservation holds.
func (r *TokenReservation) Held() int {
	if r.Amount < 0 {
		return -r.Amount
	}
	return r.Amount
}

// TokenLedgerEntry is an append-only balance history row. DedupeKey is unique
// when set so retried postings collapse.
type TokenLedgerEntry struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID  `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Date        time.Time  `gorm:"column:date;not null;index" json:"date"`
	Change      int        `gorm:"column:change;not null" json:"change"`
	Reason      string     `gorm:"column:reason" json:"reason"`
	Kind        string     `gorm:"column:kind;not null;index" json:"kind"`
	JobID       *uuid.UUID `gorm:"type:uuid;column:job_id;index" json:"job_id,omitempty"`
	UnitKey     *string    `gorm:"column:unit_key" json:"unit_key,omitempty"`
	DedupeKey   *string    `gorm:"column:dedupe_key;uniqueIndex" json:"-"`
}

func (TokenLedgerEntry) TableName() string { return "token_ledger_entry" }

// TokenBalance is the running total, maintained by direct increment.
type TokenBalance struct {
	OwnerUserID uuid.UUID `gorm:"type:uuid;primaryKey" json:"owner_user_id"`
	Balance     int       `gorm:"column:balance;not null" json:"balance"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (TokenBalance) TableName() string { return "token_balance" }
