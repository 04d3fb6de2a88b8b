package domain

import (
	"github.com/yungbote/videoqueue-backend/internal/domain/jobs"
	"github.com/yungbote/videoqueue-backend/internal/domain/ledger"
	"github.com/yungbote/videoqueue-backend/internal/domain/projects"
)

type VideoJob = jobs.VideoJob
type VideoJobClip = jobs.VideoJobClip

type TokenReservation = ledger.TokenReservation
type TokenLedgerEntry = ledger.TokenLedgerEntry
type TokenBalance = ledger.TokenBalance

type VideoProject = projects.VideoProject

// Models lists every persisted type in migration order.
func Models() []any {
	return []any{
		&VideoProject{},
		&VideoJob{},
		&VideoJobClip{},
		&TokenBalance{},
		&TokenReservation{},
		&TokenLedgerEntry{},
	}
}

func VideoJobStatuses() []string { return jobs.Statuses() }
