package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/prenotaly/prenotaly/services/booking-service/internal/arbiter"
)

// Actions the chat reply flow can take on a booking.
const (
	ActionConfirm = "confirm"
	ActionCancel  = "cancel"
)

// BookingActions is the slice of the arbiter this consumer needs.
type BookingActions interface {
	ConfirmBooking(ctx context.Context, req arbiter.TransitionRequest) (arbiter.TransitionResult, error)
	CancelBooking(ctx context.Context, req arbiter.TransitionRequest) (arbiter.TransitionResult, error)
}

type bookingReply struct {
	TenantID      string `json:"tenant_id"`
	ClientID      string `json:"client_id"`
	AppointmentID string `json:"appointment_id"`
	Action        string `json:"action"`
	Source        string `json:"source"`
}

// NewReplyHandler applies chat replies to bookings. Malformed or stale
// replies are logged and dropped: redelivering them cannot make them
// valid. Only transient store failures propagate, so the read loop logs
// them as handler errors.
func NewReplyHandler(actions BookingActions, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var reply bookingReply
		if err := json.Unmarshal(msg.Value, &reply); err != nil {
			logger.Error("malformed booking reply dropped", "err", err)
			return nil
		}
		if reply.Source == "" {
			reply.Source = "whatsapp"
		}

		req := arbiter.TransitionRequest{
			AppointmentID: reply.AppointmentID,
			ClientID:      reply.ClientID,
			TenantID:      reply.TenantID,
			Source:        reply.Source,
		}

		var err error
		switch reply.Action {
		case ActionConfirm:
			_, err = actions.ConfirmBooking(ctx, req)
		case ActionCancel:
			_, err = actions.CancelBooking(ctx, req)
		default:
			logger.Error("unknown booking reply action dropped", "action", reply.Action)
			return nil
		}
		if err != nil {
			if ae, ok := arbiter.FromError(err); ok && ae.Kind != arbiter.KindTransient {
				logger.Info("booking reply rejected",
					"action", reply.Action,
					"appointment_id", reply.AppointmentID,
					"code", string(ae.Kind),
				)
				return nil
			}
			return err
		}

		logger.Info("booking reply applied",
			"action", reply.Action,
			"appointment_id", reply.AppointmentID,
			"tenant_id", reply.TenantID,
		)
		return nil
	}
}
