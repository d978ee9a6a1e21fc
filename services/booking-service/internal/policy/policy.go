// Package policy decides how the booking channel shapes an appointment:
// which source tags are unattended bots (their bookings start pending,
// waiting for the confirmation flow) and what the notes trail says.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/prenotaly/prenotaly/services/booking-service/internal/model"
)

// SourcePolicy maps a booking's source tag to its initial status and
// renders the customer-facing notes lines. Notes are Italian because the
// trail surfaces verbatim in tenant dashboards and chat replies.
type SourcePolicy struct {
	botSources map[string]struct{}
	notesLoc   *time.Location
}

// New builds a policy. botSources are the channel tags whose bookings
// start pending; matching is case-insensitive. Notes timestamps render
// in loc so the text follows the salon's wall clock, not UTC.
func New(botSources []string, loc *time.Location) *SourcePolicy {
	set := make(map[string]struct{}, len(botSources))
	for _, s := range botSources {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			set[s] = struct{}{}
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SourcePolicy{botSources: set, notesLoc: loc}
}

// StatusFor returns the status a booking from source starts in (and
// returns to after a reschedule): pending for unattended bot channels,
// confirmed for anything a human operates.
func (p *SourcePolicy) StatusFor(source string) string {
	if p.isBot(source) {
		return model.StatusPending
	}
	return model.StatusConfirmed
}

// DefaultNotes seeds the notes trail when the caller sends none.
func (p *SourcePolicy) DefaultNotes(source string) string {
	label := channelLabel(source)
	if p.isBot(source) {
		return "Prenotato via " + label + " Bot"
	}
	return "Prenotato via " + label
}

// RescheduleNote is the line appended when a booking moves.
func (p *SourcePolicy) RescheduleNote(source string, at time.Time) string {
	return fmt.Sprintf("Spostato via %s il %s", channelLabel(source), p.stamp(at))
}

// CancelNote is the line appended when a booking is cancelled.
func (p *SourcePolicy) CancelNote(source string, at time.Time) string {
	return fmt.Sprintf("Cancellato via %s il %s", channelLabel(source), p.stamp(at))
}

// ConfirmNote is the line appended when a pending booking is confirmed.
func (p *SourcePolicy) ConfirmNote(source string, at time.Time) string {
	return fmt.Sprintf("Confermato via %s il %s", channelLabel(source), p.stamp(at))
}

func (p *SourcePolicy) isBot(source string) bool {
	_, ok := p.botSources[strings.ToLower(strings.TrimSpace(source))]
	return ok
}

func (p *SourcePolicy) stamp(at time.Time) string {
	return at.In(p.notesLoc).Format("02/01/2006 15:04")
}

// AppendNote joins a new line onto an existing notes trail.
func AppendNote(notes, line string) string {
	if strings.TrimSpace(notes) == "" {
		return line
	}
	return notes + "\n" + line
}

var channelLabels = map[string]string{
	"whatsapp":  "WhatsApp",
	"telegram":  "Telegram",
	"dashboard": "Dashboard",
	"widget":    "Widget",
}

func channelLabel(source string) string {
	key := strings.ToLower(strings.TrimSpace(source))
	if label, ok := channelLabels[key]; ok {
		return label
	}
	if key == "" {
		return "sistema"
	}
	return source
}
