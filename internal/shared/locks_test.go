package shared

import (
	"testing"
	"time"
)

func TestClosingLockKey(t *testing.T) {
	fy := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got := ClosingLockKey(12, fy, "revenue_close")
	if got != "closing:company:12:fy:2024-01-01:revenue_close:lock" {
		t.Fatalf("unexpected key %q", got)
	}
	if ClosingLockKey(12, fy, "expense_close") == got {
		t.Fatal("steps must not share a lock")
	}
}
