package aggregates

import (
	"testing"

	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
)

func TestRequireStatusAllowed(t *testing.T) {
	if err := RequireStatusAllowed("running", "running", "queued"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	err := RequireStatusAllowed("completed", "running", "queued")
	if err == nil {
		t.Fatalf("expected invalid state error")
	}
	if !domainagg.IsCode(MapError("op", err), domainagg.CodeInvalidState) {
		t.Fatalf("expected invalid_state code, got %v", err)
	}
}

func TestRequireCASSuccess(t *testing.T) {
	if err := RequireCASSuccess(true, "ok"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := RequireCASSuccess(false, "stale"); err == nil {
		t.Fatalf("expected conflict error")
	}
}
