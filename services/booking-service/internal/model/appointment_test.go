package model

import (
	"testing"
	"time"
)

func TestOverlaps_PartialAndContained(t *testing.T) {
	day := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	aStart := day.Add(10 * time.Hour)
	aEnd := day.Add(10*time.Hour + 30*time.Minute)

	if !Overlaps(aStart, aEnd, day.Add(10*time.Hour+15*time.Minute), day.Add(10*time.Hour+45*time.Minute)) {
		t.Fatalf("partial overlap not detected")
	}
	if !Overlaps(aStart, aEnd, day.Add(9*time.Hour), day.Add(12*time.Hour)) {
		t.Fatalf("containing window not detected")
	}
	if !Overlaps(aStart, aEnd, aStart, aEnd) {
		t.Fatalf("identical window not detected")
	}
}

func TestOverlaps_TouchingEndpointsDoNot(t *testing.T) {
	day := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	first := []time.Time{day.Add(10 * time.Hour), day.Add(10*time.Hour + 30*time.Minute)}
	second := []time.Time{day.Add(10*time.Hour + 30*time.Minute), day.Add(11 * time.Hour)}

	if Overlaps(first[0], first[1], second[0], second[1]) {
		t.Fatalf("back-to-back windows must not overlap")
	}
	if Overlaps(second[0], second[1], first[0], first[1]) {
		t.Fatalf("back-to-back windows must not overlap in reverse order either")
	}
}

func TestOverlaps_Symmetric(t *testing.T) {
	day := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	aStart, aEnd := day.Add(10*time.Hour), day.Add(11*time.Hour)
	bStart, bEnd := day.Add(10*time.Hour+30*time.Minute), day.Add(11*time.Hour+30*time.Minute)

	if Overlaps(aStart, aEnd, bStart, bEnd) != Overlaps(bStart, bEnd, aStart, aEnd) {
		t.Fatalf("overlap must be symmetric")
	}
}

func TestIsOccupying(t *testing.T) {
	for _, status := range OccupyingStatuses {
		if !IsOccupying(status) {
			t.Errorf("status %q should occupy the slot", status)
		}
	}
	for _, status := range []string{StatusCancelled, StatusCompleted, "no_show", ""} {
		if IsOccupying(status) {
			t.Errorf("status %q should not occupy the slot", status)
		}
	}
}

func TestIsReschedulable(t *testing.T) {
	if !IsReschedulable(StatusPending) || !IsReschedulable(StatusConfirmed) {
		t.Fatalf("pending and confirmed must be reschedulable")
	}
	for _, status := range []string{StatusInService, StatusCancelled, StatusCompleted} {
		if IsReschedulable(status) {
			t.Errorf("status %q must not be reschedulable", status)
		}
	}
}
