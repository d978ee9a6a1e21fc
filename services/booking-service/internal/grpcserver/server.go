//go:build protogen

package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	bookingv1 "github.com/prenotaly/prenotaly/protos/gen/booking/v1"
	"github.com/prenotaly/prenotaly/services/booking-service/internal/arbiter"
)

// server adapts the arbiter for in-cluster callers (the chat service
// books and moves appointments over gRPC; end clients go through HTTP).
type server struct {
	bookingv1.UnimplementedBookingArbiterServer
	arbiter *arbiter.Service
}

func Register(grpcServer *grpc.Server, arb *arbiter.Service) {
	bookingv1.RegisterBookingArbiterServer(grpcServer, &server{arbiter: arb})
}

func (s *server) CreateBooking(ctx context.Context, req *bookingv1.CreateBookingRequest) (*bookingv1.CreateBookingResponse, error) {
	startAt, endAt := windowFromProto(req.GetStartAt(), req.GetEndAt())
	res, err := s.arbiter.CreateBooking(ctx, arbiter.CreateRequest{
		TenantID:       req.GetTenantId(),
		ClientID:       req.GetClientId(),
		ServiceID:      req.GetServiceId(),
		StaffID:        req.GetStaffId(),
		StartAt:        startAt,
		EndAt:          endAt,
		Source:         req.GetSource(),
		Notes:          req.GetNotes(),
		IdempotencyKey: req.GetIdempotencyKey(),
	})
	if err != nil {
		return nil, statusFromError(err)
	}
	return &bookingv1.CreateBookingResponse{
		AppointmentId: res.AppointmentID,
		Status:        res.Status,
		Replayed:      res.Replayed,
	}, nil
}

func (s *server) RescheduleBooking(ctx context.Context, req *bookingv1.RescheduleBookingRequest) (*bookingv1.RescheduleBookingResponse, error) {
	startAt, endAt := windowFromProto(req.GetStartAt(), req.GetEndAt())
	res, err := s.arbiter.RescheduleBooking(ctx, arbiter.RescheduleRequest{
		AppointmentID: req.GetAppointmentId(),
		ClientID:      req.GetClientId(),
		TenantID:      req.GetTenantId(),
		StartAt:       startAt,
		EndAt:         endAt,
		Source:        req.GetSource(),
	})
	if err != nil {
		return nil, statusFromError(err)
	}
	return &bookingv1.RescheduleBookingResponse{
		AppointmentId: res.AppointmentID,
		Status:        res.Status,
		StartAt:       timestamppb.New(res.StartAt),
		EndAt:         timestamppb.New(res.EndAt),
	}, nil
}

// windowFromProto keeps missing timestamps as zero times so the arbiter
// rejects them as required fields instead of reading the Unix epoch.
func windowFromProto(start, end *timestamppb.Timestamp) (time.Time, time.Time) {
	var startAt, endAt time.Time
	if start != nil {
		startAt = start.AsTime()
	}
	if end != nil {
		endAt = end.AsTime()
	}
	return startAt, endAt
}

func statusFromError(err error) error {
	ae, ok := arbiter.FromError(err)
	if !ok {
		return status.Error(codes.Internal, "internal error")
	}
	switch ae.Kind {
	case arbiter.KindInvalidInput:
		return status.Error(codes.InvalidArgument, ae.Message)
	case arbiter.KindSlotUnavailable:
		return status.Error(codes.AlreadyExists, ae.Message)
	case arbiter.KindNotFoundOrForbidden:
		return status.Error(codes.NotFound, ae.Message)
	case arbiter.KindInvalidState:
		return status.Error(codes.FailedPrecondition, ae.Message)
	case arbiter.KindTransient:
		return status.Error(codes.Unavailable, ae.Message)
	}
	return status.Error(codes.Internal, ae.Message)
}
