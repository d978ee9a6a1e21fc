package model

import "time"

// Appointment statuses. Pending, confirmed and in_service hold the slot;
// cancelled and completed free it. Unknown values in old rows are treated
// as non-occupying.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusInService = "in_service"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// OccupyingStatuses lists the statuses that count toward staff calendar
// conflicts. Storage queries filter on exactly this set.
var OccupyingStatuses = []string{StatusPending, StatusConfirmed, StatusInService}

func IsOccupying(status string) bool {
	switch status {
	case StatusPending, StatusConfirmed, StatusInService:
		return true
	}
	return false
}

// IsReschedulable reports whether an appointment in this status may still
// be moved to a new window.
func IsReschedulable(status string) bool {
	return status == StatusPending || status == StatusConfirmed
}

type Appointment struct {
	ID        string
	TenantID  string
	ClientID  string
	ServiceID string
	StaffID   string
	StartAt   time.Time
	EndAt     time.Time
	Status    string
	Source    string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Overlaps reports whether the half-open windows [aStart, aEnd) and
// [bStart, bEnd) share an instant. Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func (a Appointment) OverlapsWindow(start, end time.Time) bool {
	return Overlaps(a.StartAt, a.EndAt, start, end)
}

// Audit actions recorded in appointment_events.
const (
	ActionBooked      = "appointment_booked"
	ActionRescheduled = "appointment_rescheduled"
	ActionCancelled   = "appointment_cancelled"
	ActionConfirmed   = "appointment_confirmed"
	ActionCheckedIn   = "appointment_checked_in"
	ActionCompleted   = "appointment_completed"
)

// AppointmentEvent is one immutable audit log entry. Window fields are
// nil for actions that do not touch the schedule.
type AppointmentEvent struct {
	ID            int64
	AppointmentID string
	TenantID      string
	Action        string
	Source        string
	OldStartAt    *time.Time
	OldEndAt      *time.Time
	NewStartAt    *time.Time
	NewEndAt      *time.Time
	Meta          []byte
	CreatedAt     time.Time
}
