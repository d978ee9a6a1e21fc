package arbiter

import (
	"context"
	"time"

	"github.com/prenotaly/prenotaly/services/booking-service/internal/model"
)

// Store is the transactional persistence contract the arbiter drives.
// Implementations translate their own failure modes into *Error values
// where the protocol must tell them apart: KindTransient for lock waits,
// deadlock victims and broken connections, KindSlotUnavailable when a
// schema-level overlap backstop fires. Anything else may surface raw.
type Store interface {
	// RunInTx executes fn inside one transaction. A non-nil error from
	// fn aborts the transaction; locks taken through tx are released at
	// commit or rollback, never earlier.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is what a mutation may do inside its transaction. Lock order is
// fixed and total: idempotency key, then one staff schedule, then
// appointment rows. Every operation follows it, which is what makes the
// arbiter deadlock-free.
type Tx interface {
	// LockStaffSchedule serializes mutations of one (tenant, staff)
	// calendar until the transaction ends. It must be taken before any
	// appointment row lock and at most once per transaction.
	LockStaffSchedule(ctx context.Context, tenantID, staffID string) error

	// LookupOwned reads an appointment scoped by owner and tenant
	// without locking it. The arbiter uses it to discover the staff
	// before taking the schedule lock; the authoritative read happens
	// under GetOwnedForUpdate afterwards.
	LookupOwned(ctx context.Context, appointmentID, clientID, tenantID string) (model.Appointment, bool, error)

	// GetOwnedForUpdate reads the same scope with a row lock.
	GetOwnedForUpdate(ctx context.Context, appointmentID, clientID, tenantID string) (model.Appointment, bool, error)

	// LockOverlapping locks and returns the occupying appointments of
	// (tenant, staff) whose window overlaps [startAt, endAt), excluding
	// excludeID when non-empty. Half-open semantics: rows that merely
	// touch an endpoint do not count.
	LockOverlapping(ctx context.Context, tenantID, staffID string, startAt, endAt time.Time, excludeID string) ([]model.Appointment, error)

	InsertAppointment(ctx context.Context, appt *model.Appointment) error

	// UpdateSchedule persists window, status, notes and updated_at.
	UpdateSchedule(ctx context.Context, appt *model.Appointment) error

	// UpdateStatus persists status, notes and updated_at only.
	UpdateStatus(ctx context.Context, appt *model.Appointment) error

	AppendEvent(ctx context.Context, evt model.AppointmentEvent) error

	InsertOutbox(ctx context.Context, evt OutboxEvent) error

	// LockIdempotencyKey claims (tenantID, key), blocking on a parallel
	// claim of the same key until that transaction ends. It reports the
	// stored record and whether one already existed.
	LockIdempotencyKey(ctx context.Context, tenantID, key string) (IdempotencyRecord, bool, error)

	// FinalizeIdempotencyKey stores the outcome replayed to retries.
	FinalizeIdempotencyKey(ctx context.Context, tenantID, key, appointmentID, status string) error
}

// OutboxEvent is the integration event a mutation queues in the same
// transaction; a relay publishes it after commit.
type OutboxEvent struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// IdempotencyRecord is the stored outcome of a keyed create. A record
// with an empty AppointmentID marks a claim whose transaction rolled
// back; the key is free to retry.
type IdempotencyRecord struct {
	TenantID       string
	IdempotencyKey string
	AppointmentID  string
	Status         string
}
