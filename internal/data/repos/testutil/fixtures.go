package testutil

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	types "github.com/yungbote/videoqueue-backend/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SeedProject inserts a project owned by ownerID whose structure is the given
// JSON tree.
func SeedProject(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, structure string) *types.VideoProject {
	tb.Helper()
	now := time.Now().UTC()
	p := &types.VideoProject{
		ID:          uuid.New(),
		OwnerUserID: ownerID,
		Title:       "project",
		ContentPath: `C:\content\` + uuid.NewString(),
		Structure:   datatypes.JSON([]byte(structure)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed project: %v", err)
	}
	return p
}

// SeedBalance writes a balance row directly, bypassing the ledger.
func SeedBalance(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, balance int) {
	tb.Helper()
	row := &types.TokenBalance{OwnerUserID: ownerID, Balance: balance, UpdatedAt: time.Now().UTC()}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		tb.Fatalf("seed balance: %v", err)
	}
}

// Structure builds a one-level tree with n leaves keyed u1..un.
func Structure(n int) string {
	out := `{"key":"root","title":"root","children":[`
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += ","
		}
		out += `{"key":"u` + strconv.Itoa(i) + `","title":"unit"}`
	}
	return out + `]}`
}
