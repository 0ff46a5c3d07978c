package capture

import (
	"testing"
	"time"

	"WearSync/utils"
)

func dates(t *testing.T, values ...string) []time.Time {
	t.Helper()
	out := make([]time.Time, len(values))
	for i, v := range values {
		out[i] = mustDate(t, v)
	}
	return out
}

func TestDecideBackwardScan(t *testing.T) {
	ideal := dates(t, "2020-01-01", "2020-01-02", "2020-01-03", "2020-01-04", "2020-01-05")
	captured := dates(t, "2020-01-01", "2020-01-03")

	d := Decide(ideal, captured, 2)
	if !d.ShouldRemind {
		t.Fatal("expected reminder after two consecutive recent misses")
	}
	if d.LastSyncedDate == nil || utils.FormatDate(*d.LastSyncedDate) != "2020-01-03" {
		t.Fatalf("expected last synced 2020-01-03, got %v", d.LastSyncedDate)
	}
}

func TestDecideOldGapInsideWindowCounts(t *testing.T) {
	ideal := dates(t, "2020-01-01", "2020-01-02", "2020-01-03", "2020-01-04", "2020-01-05")
	captured := dates(t, "2020-01-04", "2020-01-05")

	if d := Decide(ideal, captured, 3); !d.ShouldRemind {
		t.Fatal("a full-threshold streak anywhere in the window should remind")
	}
	if d := Decide(ideal, captured, 4); d.ShouldRemind {
		t.Fatal("three misses must not satisfy a threshold of four")
	}
}

func TestDecideGapOutsideWindowIgnored(t *testing.T) {
	ideal := dates(t, "2020-02-01", "2020-02-02", "2020-02-03")
	captured := dates(t, "2020-02-01", "2020-02-03")

	if d := Decide(ideal, captured, 2); d.ShouldRemind {
		t.Fatal("a participant syncing inside the window must not be reminded for older gaps")
	}
}

func TestDecideSparseButRegular(t *testing.T) {
	ideal := dates(t, "2020-01-01", "2020-01-02", "2020-01-03", "2020-01-04", "2020-01-05", "2020-01-06")
	captured := dates(t, "2020-01-02", "2020-01-04", "2020-01-06")

	if d := Decide(ideal, captured, 2); d.ShouldRemind {
		t.Fatal("alternating syncs never reach two consecutive misses")
	}
}

func TestDecideTooNew(t *testing.T) {
	ideal := dates(t, "2020-01-01", "2020-01-02")
	for _, captured := range [][]time.Time{nil, dates(t, "2020-01-01")} {
		d := Decide(ideal, captured, 3)
		if d.ShouldRemind {
			t.Fatalf("window shorter than threshold must never remind (captured %v)", captured)
		}
	}
}

func TestDecideNeverSynced(t *testing.T) {
	ideal := dates(t, "2020-01-01", "2020-01-02", "2020-01-03")
	d := Decide(ideal, nil, 3)
	if !d.ShouldRemind {
		t.Fatal("expected reminder when nothing was ever captured")
	}
	if d.LastSyncedDate != nil {
		t.Fatalf("expected nil last synced date, got %v", d.LastSyncedDate)
	}
}

func TestDecideIgnoresCapturesOutsideWindow(t *testing.T) {
	ideal := dates(t, "2020-01-02", "2020-01-03")
	d := Decide(ideal, dates(t, "2020-01-10"), 5)
	if d.LastSyncedDate != nil {
		t.Fatalf("capture outside the window must not count, got %v", d.LastSyncedDate)
	}
}
