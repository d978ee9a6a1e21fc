package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prenotaly/prenotaly/services/booking-service/internal/arbiter"
	"github.com/prenotaly/prenotaly/services/booking-service/internal/model"
	"github.com/prenotaly/prenotaly/services/booking-service/internal/outbox"
)

// bookingTx carries one arbiter transaction. Methods return raw errors;
// RunInTx translates them on the way out.
type bookingTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

var _ arbiter.Tx = (*bookingTx)(nil)

// LockStaffSchedule serializes writers on one (tenant, staff) calendar.
// The advisory lock is transaction-scoped and keyed by a hash of the
// pair, so two tenants sharing a staff uuid still get distinct locks and
// no other calendar is ever blocked. It also closes the window a plain
// row lock leaves open: a not-yet-visible insert cannot slip past the
// overlap check, because its transaction held this lock first.
func (t *bookingTx) LockStaffSchedule(ctx context.Context, tenantID, staffID string) error {
	_, err := t.tx.Exec(ctx, `
		SELECT pg_advisory_xact_lock(hashtextextended($1, 0))
	`, scheduleLockKey(tenantID, staffID))
	return err
}

func scheduleLockKey(tenantID, staffID string) string {
	return tenantID + "/" + staffID
}

func (t *bookingTx) LookupOwned(ctx context.Context, appointmentID, clientID, tenantID string) (model.Appointment, bool, error) {
	appt, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT id, tenant_id, client_id, service_id, staff_id,
			start_at, end_at, status, source, COALESCE(notes, ''), created_at, updated_at
		FROM appointments
		WHERE id = $1 AND client_id = $2 AND tenant_id = $3
	`, appointmentID, clientID, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, err
	}
	return appt, true, nil
}

func (t *bookingTx) GetOwnedForUpdate(ctx context.Context, appointmentID, clientID, tenantID string) (model.Appointment, bool, error) {
	appt, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT id, tenant_id, client_id, service_id, staff_id,
			start_at, end_at, status, source, COALESCE(notes, ''), created_at, updated_at
		FROM appointments
		WHERE id = $1 AND client_id = $2 AND tenant_id = $3
		FOR UPDATE
	`, appointmentID, clientID, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, err
	}
	return appt, true, nil
}

// LockOverlapping locks and returns every occupying appointment on the
// staff calendar that intersects [startAt, endAt). Touching endpoints do
// not intersect. excludeID, when set, skips the appointment being moved.
func (t *bookingTx) LockOverlapping(ctx context.Context, tenantID, staffID string, startAt, endAt time.Time, excludeID string) ([]model.Appointment, error) {
	var exclude any
	if excludeID != "" {
		exclude = excludeID
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, tenant_id, client_id, service_id, staff_id,
			start_at, end_at, status, source, COALESCE(notes, ''), created_at, updated_at
		FROM appointments
		WHERE tenant_id = $1
			AND staff_id = $2
			AND status IN ('pending', 'confirmed', 'in_service')
			AND start_at < $4
			AND end_at > $3
			AND ($5::uuid IS NULL OR id <> $5::uuid)
		ORDER BY start_at ASC
		FOR UPDATE
	`, tenantID, staffID, startAt, endAt, exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (t *bookingTx) InsertAppointment(ctx context.Context, appt *model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, tenant_id, client_id, service_id, staff_id, start_at, end_at, status, source, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, appt.ID, appt.TenantID, appt.ClientID, appt.ServiceID, appt.StaffID,
		appt.StartAt, appt.EndAt, appt.Status, appt.Source, appt.Notes,
		appt.CreatedAt, appt.UpdatedAt)
	return err
}

func (t *bookingTx) UpdateSchedule(ctx context.Context, appt *model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET start_at = $3,
			end_at = $4,
			status = $5,
			notes = $6,
			updated_at = $7
		WHERE id = $1 AND tenant_id = $2
	`, appt.ID, appt.TenantID, appt.StartAt, appt.EndAt, appt.Status, appt.Notes, appt.UpdatedAt)
	return err
}

func (t *bookingTx) UpdateStatus(ctx context.Context, appt *model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
			notes = $4,
			updated_at = $5
		WHERE id = $1 AND tenant_id = $2
	`, appt.ID, appt.TenantID, appt.Status, appt.Notes, appt.UpdatedAt)
	return err
}

func (t *bookingTx) AppendEvent(ctx context.Context, evt model.AppointmentEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointment_events
			(appointment_id, tenant_id, action, source, old_start_at, old_end_at, new_start_at, new_end_at, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, evt.AppointmentID, evt.TenantID, evt.Action, evt.Source,
		evt.OldStartAt, evt.OldEndAt, evt.NewStartAt, evt.NewEndAt,
		evt.Meta, evt.CreatedAt)
	return err
}

func (t *bookingTx) InsertOutbox(ctx context.Context, evt arbiter.OutboxEvent) error {
	return t.outbox.Insert(ctx, t.tx, outbox.Event{
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		EventType:     evt.EventType,
		Payload:       evt.Payload,
	})
}

// LockIdempotencyKey claims (tenant, key) for this transaction. A racing
// retry blocks on the first claimant's row until that transaction
// resolves: commit makes the retry see the finalized record and replay,
// rollback lets it start fresh.
func (t *bookingTx) LockIdempotencyKey(ctx context.Context, tenantID, key string) (arbiter.IdempotencyRecord, bool, error) {
	rec, err := t.selectIdempotencyForUpdate(ctx, tenantID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return arbiter.IdempotencyRecord{}, false, err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (tenant_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
	`, tenantID, key)
	if err != nil {
		return arbiter.IdempotencyRecord{}, false, err
	}

	rec, err = t.selectIdempotencyForUpdate(ctx, tenantID, key)
	if err != nil {
		return arbiter.IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (t *bookingTx) FinalizeIdempotencyKey(ctx context.Context, tenantID, key, appointmentID, status string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			status = $4,
			updated_at = now()
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key, appointmentID, status)
	return err
}

func (t *bookingTx) selectIdempotencyForUpdate(ctx context.Context, tenantID, key string) (arbiter.IdempotencyRecord, error) {
	var rec arbiter.IdempotencyRecord
	err := t.tx.QueryRow(ctx, `
		SELECT tenant_id::text,
			idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status, '')
		FROM booking_idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, tenantID, key).Scan(
		&rec.TenantID,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.Status,
	)
	if err != nil {
		return arbiter.IdempotencyRecord{}, err
	}
	return rec, nil
}
