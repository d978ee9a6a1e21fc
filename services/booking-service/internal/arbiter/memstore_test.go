package arbiter

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/prenotaly/prenotaly/services/booking-service/internal/model"
)

// memStore backs the protocol tests: the same lock discipline as the SQL
// store, rebuilt on keyed mutexes. Writes are staged per transaction and
// applied only when the transaction function succeeds, so a failed call
// observably changes nothing. Lock waits are bounded and surface as
// KindTransient, mirroring the SQL store's lock_timeout.
type memStore struct {
	mu           sync.Mutex
	appointments map[string]model.Appointment
	events       []model.AppointmentEvent
	outbox       []OutboxEvent
	idem         map[string]IdempotencyRecord

	scheduleLocks map[string]*sync.Mutex
	rowLocks      map[string]*sync.Mutex
	idemLocks     map[string]*sync.Mutex

	// Failure injection for atomicity tests.
	failAppendEvent  error
	failInsertOutbox error
}

const memLockWait = 5 * time.Second

func newMemStore() *memStore {
	return &memStore{
		appointments:  map[string]model.Appointment{},
		idem:          map[string]IdempotencyRecord{},
		scheduleLocks: map[string]*sync.Mutex{},
		rowLocks:      map[string]*sync.Mutex{},
		idemLocks:     map[string]*sync.Mutex{},
	}
}

func (m *memStore) RunInTx(_ context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		store:   m,
		inserts: map[string]model.Appointment{},
		updates: map[string]model.Appointment{},
		held:    map[string]bool{},
	}
	defer tx.releaseLocks()

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *memStore) mutexFor(table map[string]*sync.Mutex, key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := table[key]
	if !ok {
		mu = &sync.Mutex{}
		table[key] = mu
	}
	return mu
}

func lockWithTimeout(mu *sync.Mutex, wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for {
		if mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

type memTx struct {
	store *memStore

	inserts      map[string]model.Appointment
	updates      map[string]model.Appointment
	events       []model.AppointmentEvent
	outbox       []OutboxEvent
	idemFinalize *IdempotencyRecord

	locks []*sync.Mutex
	held  map[string]bool
}

func (t *memTx) acquire(table map[string]*sync.Mutex, kind, key string) error {
	id := kind + "/" + key
	if t.held[id] {
		return nil
	}
	mu := t.store.mutexFor(table, key)
	if !lockWithTimeout(mu, memLockWait) {
		return Transient(errors.New(kind + " lock timeout"))
	}
	t.locks = append(t.locks, mu)
	t.held[id] = true
	return nil
}

func (t *memTx) releaseLocks() {
	for i := len(t.locks) - 1; i >= 0; i-- {
		t.locks[i].Unlock()
	}
	t.locks = nil
}

func (t *memTx) commit() {
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, appt := range t.inserts {
		m.appointments[id] = appt
	}
	for id, appt := range t.updates {
		m.appointments[id] = appt
	}
	m.events = append(m.events, t.events...)
	m.outbox = append(m.outbox, t.outbox...)
	if t.idemFinalize != nil {
		m.idem[t.idemFinalize.TenantID+"/"+t.idemFinalize.IdempotencyKey] = *t.idemFinalize
	}
}

func (t *memTx) LockStaffSchedule(_ context.Context, tenantID, staffID string) error {
	return t.acquire(t.store.scheduleLocks, "schedule", tenantID+"/"+staffID)
}

func (t *memTx) LookupOwned(_ context.Context, appointmentID, clientID, tenantID string) (model.Appointment, bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	appt, ok := t.store.appointments[appointmentID]
	if !ok || appt.ClientID != clientID || appt.TenantID != tenantID {
		return model.Appointment{}, false, nil
	}
	return appt, true, nil
}

func (t *memTx) GetOwnedForUpdate(ctx context.Context, appointmentID, clientID, tenantID string) (model.Appointment, bool, error) {
	if err := t.acquire(t.store.rowLocks, "row", appointmentID); err != nil {
		return model.Appointment{}, false, err
	}
	return t.LookupOwned(ctx, appointmentID, clientID, tenantID)
}

func (t *memTx) LockOverlapping(_ context.Context, tenantID, staffID string, startAt, endAt time.Time, excludeID string) ([]model.Appointment, error) {
	candidates := t.snapshotOverlapping(tenantID, staffID, startAt, endAt, excludeID)

	var out []model.Appointment
	for _, id := range candidates {
		if err := t.acquire(t.store.rowLocks, "row", id); err != nil {
			return nil, err
		}
		// Re-read under the lock: the row may have stopped occupying
		// or moved away while we waited.
		t.store.mu.Lock()
		appt, ok := t.store.appointments[id]
		t.store.mu.Unlock()
		if !ok || !model.IsOccupying(appt.Status) {
			continue
		}
		if appt.TenantID != tenantID || appt.StaffID != staffID {
			continue
		}
		if !appt.OverlapsWindow(startAt, endAt) {
			continue
		}
		out = append(out, appt)
	}
	return out, nil
}

func (t *memTx) snapshotOverlapping(tenantID, staffID string, startAt, endAt time.Time, excludeID string) []string {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var ids []string
	for id, appt := range t.store.appointments {
		if id == excludeID {
			continue
		}
		if appt.TenantID != tenantID || appt.StaffID != staffID {
			continue
		}
		if !model.IsOccupying(appt.Status) {
			continue
		}
		if appt.OverlapsWindow(startAt, endAt) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (t *memTx) InsertAppointment(_ context.Context, appt *model.Appointment) error {
	t.inserts[appt.ID] = *appt
	return nil
}

func (t *memTx) UpdateSchedule(_ context.Context, appt *model.Appointment) error {
	t.updates[appt.ID] = *appt
	return nil
}

func (t *memTx) UpdateStatus(_ context.Context, appt *model.Appointment) error {
	t.updates[appt.ID] = *appt
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, evt model.AppointmentEvent) error {
	if t.store.failAppendEvent != nil {
		return t.store.failAppendEvent
	}
	t.events = append(t.events, evt)
	return nil
}

func (t *memTx) InsertOutbox(_ context.Context, evt OutboxEvent) error {
	if t.store.failInsertOutbox != nil {
		return t.store.failInsertOutbox
	}
	t.outbox = append(t.outbox, evt)
	return nil
}

func (t *memTx) LockIdempotencyKey(_ context.Context, tenantID, key string) (IdempotencyRecord, bool, error) {
	if err := t.acquire(t.store.idemLocks, "idem", tenantID+"/"+key); err != nil {
		return IdempotencyRecord{}, false, err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	rec, ok := t.store.idem[tenantID+"/"+key]
	if !ok {
		return IdempotencyRecord{}, false, nil
	}
	return rec, true, nil
}

func (t *memTx) FinalizeIdempotencyKey(_ context.Context, tenantID, key, appointmentID, status string) error {
	t.idemFinalize = &IdempotencyRecord{
		TenantID:       tenantID,
		IdempotencyKey: key,
		AppointmentID:  appointmentID,
		Status:         status,
	}
	return nil
}

// Inspection helpers for assertions.

func (m *memStore) appointment(id string) (model.Appointment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appointments[id]
	return appt, ok
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appointments)
}

func (m *memStore) eventsFor(appointmentID string) []model.AppointmentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AppointmentEvent
	for _, evt := range m.events {
		if evt.AppointmentID == appointmentID {
			out = append(out, evt)
		}
	}
	return out
}

func (m *memStore) outboxTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, evt := range m.outbox {
		out = append(out, evt.EventType)
	}
	return out
}

// overlappingPairs reports pairs of occupying appointments on the same
// (tenant, staff) calendar whose windows overlap. The arbiter's whole
// job is keeping this empty.
func (m *memStore) overlappingPairs() [][2]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []model.Appointment
	for _, appt := range m.appointments {
		all = append(all, appt)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	var pairs [][2]string
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			a, b := all[i], all[j]
			if a.TenantID != b.TenantID || a.StaffID != b.StaffID {
				continue
			}
			if !model.IsOccupying(a.Status) || !model.IsOccupying(b.Status) {
				continue
			}
			if a.OverlapsWindow(b.StartAt, b.EndAt) {
				pairs = append(pairs, [2]string{a.ID, b.ID})
			}
		}
	}
	return pairs
}
