package policy

import (
	"testing"
	"time"

	"github.com/prenotaly/prenotaly/services/booking-service/internal/model"
)

func TestStatusFor_BotSourcesStartPending(t *testing.T) {
	p := New([]string{"whatsapp", "telegram"}, time.UTC)

	if got := p.StatusFor("whatsapp"); got != model.StatusPending {
		t.Fatalf("whatsapp: expected pending, got %q", got)
	}
	if got := p.StatusFor(" WhatsApp "); got != model.StatusPending {
		t.Fatalf("bot matching must ignore case and spacing, got %q", got)
	}
	if got := p.StatusFor("dashboard"); got != model.StatusConfirmed {
		t.Fatalf("dashboard: expected confirmed, got %q", got)
	}
	if got := p.StatusFor(""); got != model.StatusConfirmed {
		t.Fatalf("empty source: expected confirmed, got %q", got)
	}
}

func TestNotesLines(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	p := New([]string{"whatsapp"}, rome)

	if got := p.DefaultNotes("whatsapp"); got != "Prenotato via WhatsApp Bot" {
		t.Fatalf("unexpected default notes: %q", got)
	}
	if got := p.DefaultNotes("dashboard"); got != "Prenotato via Dashboard" {
		t.Fatalf("unexpected default notes: %q", got)
	}

	// 14:30 UTC is 15:30 in Rome in winter.
	at := time.Date(2026, 1, 20, 14, 30, 0, 0, time.UTC)
	if got := p.RescheduleNote("whatsapp", at); got != "Spostato via WhatsApp il 20/01/2026 15:30" {
		t.Fatalf("unexpected reschedule note: %q", got)
	}
	if got := p.CancelNote("dashboard", at); got != "Cancellato via Dashboard il 20/01/2026 15:30" {
		t.Fatalf("unexpected cancel note: %q", got)
	}
}

func TestAppendNote(t *testing.T) {
	if got := AppendNote("", "prima riga"); got != "prima riga" {
		t.Fatalf("append onto empty notes: %q", got)
	}
	got := AppendNote("Prenotato via WhatsApp Bot", "Spostato via WhatsApp il 20/01/2026 15:30")
	want := "Prenotato via WhatsApp Bot\nSpostato via WhatsApp il 20/01/2026 15:30"
	if got != want {
		t.Fatalf("append mismatch:\n got %q\nwant %q", got, want)
	}
}
