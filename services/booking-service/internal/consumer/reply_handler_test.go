package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/prenotaly/prenotaly/services/booking-service/internal/arbiter"
)

type actionsMock struct {
	confirm func(ctx context.Context, req arbiter.TransitionRequest) (arbiter.TransitionResult, error)
	cancel  func(ctx context.Context, req arbiter.TransitionRequest) (arbiter.TransitionResult, error)
}

func (m *actionsMock) ConfirmBooking(ctx context.Context, req arbiter.TransitionRequest) (arbiter.TransitionResult, error) {
	return m.confirm(ctx, req)
}

func (m *actionsMock) CancelBooking(ctx context.Context, req arbiter.TransitionRequest) (arbiter.TransitionResult, error) {
	return m.cancel(ctx, req)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func replyMsg(payload string) kafka.Message {
	return kafka.Message{Topic: "chat.booking.reply.v1", Value: []byte(payload)}
}

func TestReplyHandler_ConfirmRouted(t *testing.T) {
	var got arbiter.TransitionRequest
	mock := &actionsMock{
		confirm: func(_ context.Context, req arbiter.TransitionRequest) (arbiter.TransitionResult, error) {
			got = req
			return arbiter.TransitionResult{AppointmentID: req.AppointmentID, Status: "confirmed"}, nil
		},
		cancel: func(_ context.Context, _ arbiter.TransitionRequest) (arbiter.TransitionResult, error) {
			t.Fatalf("cancel must not be called")
			return arbiter.TransitionResult{}, nil
		},
	}
	handler := NewReplyHandler(mock, discardLogger())

	err := handler(context.Background(), replyMsg(`{
		"tenant_id": "t-1",
		"client_id": "c-1",
		"appointment_id": "a-1",
		"action": "confirm",
		"source": "whatsapp"
	}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got.AppointmentID != "a-1" || got.ClientID != "c-1" || got.TenantID != "t-1" || got.Source != "whatsapp" {
		t.Fatalf("unexpected transition request: %+v", got)
	}
}

func TestReplyHandler_CancelRouted(t *testing.T) {
	called := false
	mock := &actionsMock{
		confirm: func(_ context.Context, _ arbiter.TransitionRequest) (arbiter.TransitionResult, error) {
			t.Fatalf("confirm must not be called")
			return arbiter.TransitionResult{}, nil
		},
		cancel: func(_ context.Context, req arbiter.TransitionRequest) (arbiter.TransitionResult, error) {
			called = true
			return arbiter.TransitionResult{AppointmentID: req.AppointmentID, Status: "cancelled"}, nil
		},
	}
	handler := NewReplyHandler(mock, discardLogger())

	if err := handler(context.Background(), replyMsg(`{"tenant_id":"t-1","client_id":"c-1","appointment_id":"a-1","action":"cancel"}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !called {
		t.Fatalf("cancel was not applied")
	}
}

func TestReplyHandler_DefaultsSourceToWhatsapp(t *testing.T) {
	mock := &actionsMock{
		confirm: func(_ context.Context, req arbiter.TransitionRequest) (arbiter.TransitionResult, error) {
			if req.Source != "whatsapp" {
				t.Fatalf("missing source should default to whatsapp, got %q", req.Source)
			}
			return arbiter.TransitionResult{}, nil
		},
	}
	handler := NewReplyHandler(mock, discardLogger())

	if err := handler(context.Background(), replyMsg(`{"tenant_id":"t-1","client_id":"c-1","appointment_id":"a-1","action":"confirm"}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}
}

func TestReplyHandler_MalformedDropped(t *testing.T) {
	mock := &actionsMock{
		confirm: func(_ context.Context, _ arbiter.TransitionRequest) (arbiter.TransitionResult, error) {
			t.Fatalf("confirm must not be called")
			return arbiter.TransitionResult{}, nil
		},
		cancel: func(_ context.Context, _ arbiter.TransitionRequest) (arbiter.TransitionResult, error) {
			t.Fatalf("cancel must not be called")
			return arbiter.TransitionResult{}, nil
		},
	}
	handler := NewReplyHandler(mock, discardLogger())

	if err := handler(context.Background(), replyMsg(`{not json`)); err != nil {
		t.Fatalf("malformed reply must be dropped, not retried: %v", err)
	}
	if err := handler(context.Background(), replyMsg(`{"action":"snooze"}`)); err != nil {
		t.Fatalf("unknown action must be dropped, not retried: %v", err)
	}
}

func TestReplyHandler_StaleReplyDropped(t *testing.T) {
	mock := &actionsMock{
		cancel: func(_ context.Context, _ arbiter.TransitionRequest) (arbiter.TransitionResult, error) {
			return arbiter.TransitionResult{}, &arbiter.Error{
				Kind:    arbiter.KindInvalidState,
				Message: "Impossibile modificare un appuntamento con stato 'completed'.",
			}
		},
	}
	handler := NewReplyHandler(mock, discardLogger())

	// The appointment moved on; redelivery cannot change the outcome.
	if err := handler(context.Background(), replyMsg(`{"tenant_id":"t-1","client_id":"c-1","appointment_id":"a-1","action":"cancel"}`)); err != nil {
		t.Fatalf("stale reply must be dropped: %v", err)
	}
}

func TestReplyHandler_TransientPropagates(t *testing.T) {
	cause := errors.New("lock timeout")
	mock := &actionsMock{
		cancel: func(_ context.Context, _ arbiter.TransitionRequest) (arbiter.TransitionResult, error) {
			return arbiter.TransitionResult{}, arbiter.Transient(cause)
		},
	}
	handler := NewReplyHandler(mock, discardLogger())

	err := handler(context.Background(), replyMsg(`{"tenant_id":"t-1","client_id":"c-1","appointment_id":"a-1","action":"cancel"}`))
	if err == nil {
		t.Fatalf("transient failure must propagate to the read loop")
	}
	if arbiter.KindOf(err) != arbiter.KindTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
}
