// Package arbiter decides, under concurrency, who gets a staff member's
// time. It is the only code path that mutates scheduling state. Every
// mutation runs the same discipline inside one transaction: claim the
// (tenant, staff) schedule lock, re-read fresh state under row locks,
// check, then write. A request either commits completely or leaves
// nothing behind.
package arbiter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prenotaly/prenotaly/services/booking-service/internal/model"
	"github.com/prenotaly/prenotaly/services/booking-service/internal/policy"
)

// Integration event types queued through the outbox.
const (
	EventBooked      = "booking.appointment.booked.v1"
	EventRescheduled = "booking.appointment.rescheduled.v1"
	EventCancelled   = "booking.appointment.cancelled.v1"
	EventConfirmed   = "booking.appointment.confirmed.v1"
	EventCheckedIn   = "booking.appointment.checked_in.v1"
	EventCompleted   = "booking.appointment.completed.v1"
)

type Service struct {
	store  Store
	policy *policy.SourcePolicy
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, sourcePolicy *policy.SourcePolicy, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		policy: sourcePolicy,
		logger: logger,
		now:    time.Now,
	}
}

type CreateRequest struct {
	TenantID  string
	ClientID  string
	ServiceID string
	StaffID   string
	StartAt   time.Time
	EndAt     time.Time
	Source    string
	Notes     string
	// IdempotencyKey, when set, makes retries of the same create replay
	// the first committed outcome instead of booking twice.
	IdempotencyKey string
}

type CreateResult struct {
	AppointmentID string
	Status        string
	Replayed      bool
}

// CreateBooking books [StartAt, EndAt) on the staff calendar, or reports
// SlotUnavailable if any occupying appointment overlaps it.
func (s *Service) CreateBooking(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if err := validateWindow(req.StartAt, req.EndAt); err != nil {
		return CreateResult{}, err
	}
	if err := validateUUID("tenant_id", req.TenantID); err != nil {
		return CreateResult{}, err
	}
	if err := validateUUID("client_id", req.ClientID); err != nil {
		return CreateResult{}, err
	}
	if err := validateUUID("service_id", req.ServiceID); err != nil {
		return CreateResult{}, err
	}
	if err := validateUUID("staff_id", req.StaffID); err != nil {
		return CreateResult{}, err
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return CreateResult{}, errInvalidInput("source is required")
	}

	now := s.now().UTC()
	notes := strings.TrimSpace(req.Notes)
	if notes == "" {
		notes = s.policy.DefaultNotes(source)
	}

	var res CreateResult
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		if req.IdempotencyKey != "" {
			rec, found, err := tx.LockIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if found && rec.AppointmentID != "" {
				s.logger.Info("replaying idempotent create",
					"tenant_id", req.TenantID,
					"appointment_id", rec.AppointmentID,
				)
				res = CreateResult{AppointmentID: rec.AppointmentID, Status: rec.Status, Replayed: true}
				return nil
			}
		}

		if err := tx.LockStaffSchedule(ctx, req.TenantID, req.StaffID); err != nil {
			return err
		}
		busy, err := tx.LockOverlapping(ctx, req.TenantID, req.StaffID, req.StartAt, req.EndAt, "")
		if err != nil {
			return err
		}
		if len(busy) > 0 {
			return errSlotUnavailable()
		}

		appt := &model.Appointment{
			ID:        uuid.NewString(),
			TenantID:  req.TenantID,
			ClientID:  req.ClientID,
			ServiceID: req.ServiceID,
			StaffID:   req.StaffID,
			StartAt:   req.StartAt.UTC(),
			EndAt:     req.EndAt.UTC(),
			Status:    s.policy.StatusFor(source),
			Source:    source,
			Notes:     notes,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, model.AppointmentEvent{
			AppointmentID: appt.ID,
			TenantID:      appt.TenantID,
			Action:        model.ActionBooked,
			Source:        source,
			NewStartAt:    &appt.StartAt,
			NewEndAt:      &appt.EndAt,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		if err := s.queueEvent(ctx, tx, EventBooked, appt, source, nil); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			if err := tx.FinalizeIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey, appt.ID, appt.Status); err != nil {
				return err
			}
		}
		res = CreateResult{AppointmentID: appt.ID, Status: appt.Status}
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}
	return res, nil
}

type RescheduleRequest struct {
	AppointmentID string
	ClientID      string
	TenantID      string
	StartAt       time.Time
	EndAt         time.Time
	Source        string
}

type RescheduleResult struct {
	AppointmentID string
	Status        string
	StartAt       time.Time
	EndAt         time.Time
}

// RescheduleBooking moves an appointment the caller owns to a new
// window. Ownership is (id, client, tenant): anything else reports
// NotFoundOrForbidden without revealing whether the id exists. The
// appointment keeps blocking its old window until the move commits.
func (s *Service) RescheduleBooking(ctx context.Context, req RescheduleRequest) (RescheduleResult, error) {
	if err := validateWindow(req.StartAt, req.EndAt); err != nil {
		return RescheduleResult{}, err
	}
	if err := validateUUID("appointment_id", req.AppointmentID); err != nil {
		return RescheduleResult{}, err
	}
	if err := validateUUID("client_id", req.ClientID); err != nil {
		return RescheduleResult{}, err
	}
	if err := validateUUID("tenant_id", req.TenantID); err != nil {
		return RescheduleResult{}, err
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return RescheduleResult{}, errInvalidInput("source is required")
	}

	now := s.now().UTC()

	var res RescheduleResult
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		// Unlocked pre-read to learn the staff; staff never changes
		// after creation, so it is safe to key the schedule lock on it.
		peek, found, err := tx.LookupOwned(ctx, req.AppointmentID, req.ClientID, req.TenantID)
		if err != nil {
			return err
		}
		if !found {
			return errNotFound()
		}

		if err := tx.LockStaffSchedule(ctx, req.TenantID, peek.StaffID); err != nil {
			return err
		}

		// Authoritative re-read under the lock: the row may have been
		// cancelled or moved while we waited.
		appt, found, err := tx.GetOwnedForUpdate(ctx, req.AppointmentID, req.ClientID, req.TenantID)
		if err != nil {
			return err
		}
		if !found {
			return errNotFound()
		}
		if !model.IsReschedulable(appt.Status) {
			return errInvalidState(appt.Status)
		}

		busy, err := tx.LockOverlapping(ctx, req.TenantID, appt.StaffID, req.StartAt, req.EndAt, appt.ID)
		if err != nil {
			return err
		}
		if len(busy) > 0 {
			return errNewTimeUnavailable()
		}

		oldStart, oldEnd := appt.StartAt, appt.EndAt
		appt.StartAt = req.StartAt.UTC()
		appt.EndAt = req.EndAt.UTC()
		appt.Status = s.policy.StatusFor(source)
		appt.Notes = policy.AppendNote(appt.Notes, s.policy.RescheduleNote(source, now))
		appt.UpdatedAt = now
		if err := tx.UpdateSchedule(ctx, &appt); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, model.AppointmentEvent{
			AppointmentID: appt.ID,
			TenantID:      appt.TenantID,
			Action:        model.ActionRescheduled,
			Source:        source,
			OldStartAt:    &oldStart,
			OldEndAt:      &oldEnd,
			NewStartAt:    &appt.StartAt,
			NewEndAt:      &appt.EndAt,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		if err := s.queueEvent(ctx, tx, EventRescheduled, &appt, source, map[string]any{
			"old_start_at": oldStart.UTC().Format(time.RFC3339),
			"old_end_at":   oldEnd.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
		res = RescheduleResult{
			AppointmentID: appt.ID,
			Status:        appt.Status,
			StartAt:       appt.StartAt,
			EndAt:         appt.EndAt,
		}
		return nil
	})
	if err != nil {
		// The schema backstop reports the generic slot message; the
		// reschedule wording is the one the chat flow expects.
		if ae, ok := FromError(err); ok && ae.Kind == KindSlotUnavailable {
			ae.Message = MsgNewTimeUnavailable
		}
		return RescheduleResult{}, err
	}
	return res, nil
}

type TransitionRequest struct {
	AppointmentID string
	ClientID      string
	TenantID      string
	Source        string
}

type TransitionResult struct {
	AppointmentID string
	Status        string
}

// CancelBooking frees the slot. Allowed from any occupying status;
// cancelling a cancelled or completed appointment is refused, matching
// the chat flow's "già ..." reply.
func (s *Service) CancelBooking(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	return s.applyTransition(ctx, req, transitionRule{
		action:    model.ActionCancelled,
		eventType: EventCancelled,
		to:        model.StatusCancelled,
		from:      []string{model.StatusPending, model.StatusConfirmed, model.StatusInService},
		note:      (*policy.SourcePolicy).CancelNote,
	})
}

// ConfirmBooking turns a pending booking into a confirmed one. Confirming
// twice is a no-op success so redelivered chat replies stay harmless.
func (s *Service) ConfirmBooking(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	return s.applyTransition(ctx, req, transitionRule{
		action:    model.ActionConfirmed,
		eventType: EventConfirmed,
		to:        model.StatusConfirmed,
		from:      []string{model.StatusPending},
		already:   []string{model.StatusConfirmed},
		note:      (*policy.SourcePolicy).ConfirmNote,
	})
}

// CheckInBooking marks the client as arrived.
func (s *Service) CheckInBooking(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	return s.applyTransition(ctx, req, transitionRule{
		action:    model.ActionCheckedIn,
		eventType: EventCheckedIn,
		to:        model.StatusInService,
		from:      []string{model.StatusPending, model.StatusConfirmed},
		already:   []string{model.StatusInService},
	})
}

// CompleteBooking closes out a served appointment.
func (s *Service) CompleteBooking(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	return s.applyTransition(ctx, req, transitionRule{
		action:    model.ActionCompleted,
		eventType: EventCompleted,
		to:        model.StatusCompleted,
		from:      []string{model.StatusInService},
		already:   []string{model.StatusCompleted},
	})
}

type transitionRule struct {
	action    string
	eventType string
	to        string
	from      []string
	// already lists statuses where the transition is a no-op success.
	already []string
	// note, when set, renders the customer-facing line appended to the
	// notes trail.
	note func(p *policy.SourcePolicy, source string, at time.Time) string
}

// applyTransition mutates status and notes only. Windows never change
// here, so a row lock on the target is enough; transitions take no
// schedule lock and can never deadlock with create or reschedule.
func (s *Service) applyTransition(ctx context.Context, req TransitionRequest, rule transitionRule) (TransitionResult, error) {
	if err := validateUUID("appointment_id", req.AppointmentID); err != nil {
		return TransitionResult{}, err
	}
	if err := validateUUID("client_id", req.ClientID); err != nil {
		return TransitionResult{}, err
	}
	if err := validateUUID("tenant_id", req.TenantID); err != nil {
		return TransitionResult{}, err
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return TransitionResult{}, errInvalidInput("source is required")
	}

	now := s.now().UTC()

	var res TransitionResult
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		appt, found, err := tx.GetOwnedForUpdate(ctx, req.AppointmentID, req.ClientID, req.TenantID)
		if err != nil {
			return err
		}
		if !found {
			return errNotFound()
		}
		if statusIn(appt.Status, rule.already) {
			res = TransitionResult{AppointmentID: appt.ID, Status: appt.Status}
			return nil
		}
		if !statusIn(appt.Status, rule.from) {
			if appt.Status == model.StatusCancelled || appt.Status == model.StatusCompleted {
				return errAlreadyInState(appt.Status)
			}
			return errInvalidState(appt.Status)
		}

		appt.Status = rule.to
		if rule.note != nil {
			appt.Notes = policy.AppendNote(appt.Notes, rule.note(s.policy, source, now))
		}
		appt.UpdatedAt = now
		if err := tx.UpdateStatus(ctx, &appt); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, model.AppointmentEvent{
			AppointmentID: appt.ID,
			TenantID:      appt.TenantID,
			Action:        rule.action,
			Source:        source,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		if err := s.queueEvent(ctx, tx, rule.eventType, &appt, source, nil); err != nil {
			return err
		}
		res = TransitionResult{AppointmentID: appt.ID, Status: appt.Status}
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}
	return res, nil
}

// queueEvent writes the integration event for a committed-to-be mutation.
// source is the channel that acted now, which for reschedules and
// transitions may differ from the channel that originally booked.
func (s *Service) queueEvent(ctx context.Context, tx Tx, eventType string, appt *model.Appointment, source string, extra map[string]any) error {
	fields := map[string]any{
		"appointment_id": appt.ID,
		"tenant_id":      appt.TenantID,
		"client_id":      appt.ClientID,
		"service_id":     appt.ServiceID,
		"staff_id":       appt.StaffID,
		"start_at":       appt.StartAt.UTC().Format(time.RFC3339),
		"end_at":         appt.EndAt.UTC().Format(time.RFC3339),
		"status":         appt.Status,
		"source":         source,
	}
	for k, v := range extra {
		fields[k] = v
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return tx.InsertOutbox(ctx, OutboxEvent{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

func validateWindow(startAt, endAt time.Time) error {
	if startAt.IsZero() || endAt.IsZero() {
		return errInvalidInput("start_at and end_at are required")
	}
	if !startAt.Before(endAt) {
		return errInvalidInput("start_at must be before end_at")
	}
	return nil
}

func validateUUID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return errInvalidInput(field + " is required")
	}
	if _, err := uuid.Parse(value); err != nil {
		return errInvalidInput(field + " is not a valid uuid")
	}
	return nil
}

func statusIn(status string, set []string) bool {
	for _, s := range set {
		if status == s {
			return true
		}
	}
	return false
}
