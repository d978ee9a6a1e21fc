// Package storage is the Postgres side of the booking arbiter. It owns
// the transaction discipline the arbiter relies on: per-calendar advisory
// locks, row locks on candidate appointments, and a lock_timeout so a
// stuck competitor surfaces as a retryable failure instead of a hang.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prenotaly/prenotaly/libs/db"
	"github.com/prenotaly/prenotaly/services/booking-service/internal/arbiter"
	"github.com/prenotaly/prenotaly/services/booking-service/internal/model"
	"github.com/prenotaly/prenotaly/services/booking-service/internal/outbox"
)

const defaultLockTimeout = 3 * time.Second

type BookingRepository struct {
	pool        *db.Pool
	outbox      *outbox.Repository
	lockTimeout time.Duration
}

func NewBookingRepository(pool *db.Pool, outboxRepo *outbox.Repository, lockTimeout time.Duration) *BookingRepository {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &BookingRepository{pool: pool, outbox: outboxRepo, lockTimeout: lockTimeout}
}

var _ arbiter.Store = (*BookingRepository)(nil)

// RunInTx runs fn in one transaction with the configured lock_timeout.
// Raw Postgres failures come back translated: overlap constraint hits as
// SlotConflict, lock waits and dead connections as Transient.
func (r *BookingRepository) RunInTx(ctx context.Context, fn func(tx arbiter.Tx) error) error {
	err := r.pool.WithinTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds()))
		if err != nil {
			return err
		}
		return fn(&bookingTx{tx: tx, outbox: r.outbox})
	})
	return translateErr(err)
}

// ListClientAppointments returns the client's upcoming pending and
// confirmed appointments, soonest first.
func (r *BookingRepository) ListClientAppointments(ctx context.Context, tenantID, clientID string, from time.Time, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, client_id, service_id, staff_id,
			start_at, end_at, status, source, COALESCE(notes, ''), created_at, updated_at
		FROM appointments
		WHERE tenant_id = $1
			AND client_id = $2
			AND status IN ('pending', 'confirmed')
			AND end_at > $3
		ORDER BY start_at ASC
		LIMIT $4
	`, tenantID, clientID, from, limit)
	if err != nil {
		return nil, translateErr(err)
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
		return nil, translateErr(rows.Err())
	}
	return appts, nil
}

// GetOwned loads one appointment scoped to its owner, outside any
// transaction. Reports found=false for a wrong client or tenant as much
// as for an unknown id.
func (r *BookingRepository) GetOwned(ctx context.Context, appointmentID, clientID, tenantID string) (model.Appointment, bool, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, client_id, service_id, staff_id,
			start_at, end_at, status, source, COALESCE(notes, ''), created_at, updated_at
		FROM appointments
		WHERE id = $1 AND client_id = $2 AND tenant_id = $3
	`, appointmentID, clientID, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, translateErr(err)
	}
	return appt, true, nil
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsTransient reports failures worth a client retry: lock_timeout hits,
// deadlock victims, serialization failures, and connection trouble.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01":
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var ae *arbiter.Error
	if errors.As(err, &ae) {
		return err
	}
	if IsConflict(err) {
		return arbiter.SlotConflict(err)
	}
	if IsTransient(err) {
		return arbiter.Transient(err)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.TenantID,
		&appt.ClientID,
		&appt.ServiceID,
		&appt.StaffID,
		&appt.StartAt,
		&appt.EndAt,
		&appt.Status,
		&appt.Source,
		&appt.Notes,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}
