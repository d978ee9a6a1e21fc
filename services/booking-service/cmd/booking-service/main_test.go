package main

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestNotesLocation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	loc := notesLocation("Europe/Rome", logger)
	if loc.String() != "Europe/Rome" {
		t.Fatalf("expected Europe/Rome, got %s", loc)
	}

	loc = notesLocation("Not/AZone", logger)
	if loc != time.UTC {
		t.Fatalf("expected UTC fallback, got %s", loc)
	}
}

func TestNotesLocationStampsLocalTime(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	loc := notesLocation("Europe/Rome", logger)

	// 12:00 UTC in summer is 14:00 in Rome.
	utc := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	if got := utc.In(loc).Hour(); got != 14 {
		t.Fatalf("expected hour 14, got %d", got)
	}
}
