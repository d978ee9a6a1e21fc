//go:build protogen

package main

import (
	"context"
	"sync"
	"time"

	"github.com/prenotaly/prenotaly/libs/grpcx"
	bookingv1 "github.com/prenotaly/prenotaly/protos/gen/booking/v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func runGrpcProbe(addr string, p probe) (int, map[string]int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{})
	if err != nil {
		return 0, nil, err
	}
	defer conn.Close()

	client := bookingv1.NewBookingArbiterClient(conn)
	req := &bookingv1.CreateBookingRequest{
		TenantId:  p.tenantID,
		ClientId:  p.clientID,
		ServiceId: p.serviceID,
		StaffId:   p.staffID,
		StartAt:   timestamppb.New(p.startAt),
		EndAt:     timestamppb.New(p.endAt),
		Source:    p.source,
	}

	outcomes := make([]string, p.workers)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := client.CreateBooking(ctx, req); err != nil {
				outcomes[i] = "grpc " + status.Code(err).String()
				return
			}
			outcomes[i] = "grpc OK"
		}(i)
	}
	wg.Wait()

	wins := 0
	dist := map[string]int{}
	for _, o := range outcomes {
		dist[o]++
		if o == "grpc OK" {
			wins++
		}
	}
	return wins, dist, nil
}
