package arbiter

import (
	"errors"
	"fmt"
)

// Kind classifies a booking outcome the caller must branch on.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindSlotUnavailable     Kind = "slot_unavailable"
	KindNotFoundOrForbidden Kind = "not_found"
	KindInvalidState        Kind = "invalid_state"
	KindTransient           Kind = "transient"
)

// Customer-facing messages, Italian because they surface verbatim in the
// chat channel and tenant dashboards. Callers must branch on Kind, never
// on this text.
const (
	MsgSlotUnavailable    = "Lo slot selezionato non è più disponibile. Per favore verifica la disponibilità aggiornata."
	MsgNewTimeUnavailable = "Il nuovo orario non è disponibile."
	MsgNotFound           = "Appuntamento non trovato o non appartiene a te."
	MsgInvalidInput       = "Dati della prenotazione non validi."
	MsgTransient          = "Errore temporaneo, riprova tra qualche istante."
)

// Error is a definitive business outcome, not an exception: every failed
// operation returns one with a Kind, and a failed call has changed
// nothing. Detail is operator-facing English for logs; it never reaches
// the customer.
type Error struct {
	Kind    Kind
	Message string
	Detail  string
	cause   error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// FromError unwraps an arbiter outcome from an error chain.
func FromError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the outcome kind, or "" for unexpected errors.
func KindOf(err error) Kind {
	if ae, ok := FromError(err); ok {
		return ae.Kind
	}
	return ""
}

func errInvalidInput(detail string) *Error {
	return &Error{Kind: KindInvalidInput, Message: MsgInvalidInput, Detail: detail}
}

func errSlotUnavailable() *Error {
	return &Error{Kind: KindSlotUnavailable, Message: MsgSlotUnavailable}
}

func errNewTimeUnavailable() *Error {
	return &Error{Kind: KindSlotUnavailable, Message: MsgNewTimeUnavailable}
}

func errNotFound() *Error {
	return &Error{Kind: KindNotFoundOrForbidden, Message: MsgNotFound}
}

// errInvalidState is the reschedule-style refusal: the appointment exists
// but its status forbids the change.
func errInvalidState(status string) *Error {
	return &Error{
		Kind:    KindInvalidState,
		Message: fmt.Sprintf("Impossibile modificare un appuntamento con stato '%s'.", status),
		Detail:  "status " + status + " is not modifiable",
	}
}

// errAlreadyInState is the cancel-style refusal for terminal statuses.
func errAlreadyInState(status string) *Error {
	return &Error{
		Kind:    KindInvalidState,
		Message: fmt.Sprintf("L'appuntamento è già %s.", status),
		Detail:  "appointment already " + status,
	}
}

// Transient wraps a store failure the caller should retry with backoff:
// lock waits, deadlock victims, broken connections. Store implementations
// use this to keep retryable noise distinct from real conflicts.
func Transient(cause error) *Error {
	return &Error{Kind: KindTransient, Message: MsgTransient, cause: cause}
}

// SlotConflict wraps a schema-level overlap rejection. The arbiter checks
// before writing, so this fires only if a write slips past the in-transaction
// check; callers see the same answer either way.
func SlotConflict(cause error) *Error {
	return &Error{Kind: KindSlotUnavailable, Message: MsgSlotUnavailable, cause: cause}
}
