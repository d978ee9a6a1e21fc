//go:build !protogen

package main

import (
	"context"
	"log/slog"

	"github.com/prenotaly/prenotaly/services/booking-service/internal/arbiter"
)

func startGrpcServer(_ context.Context, _ *slog.Logger, _ *arbiter.Service) error {
	return nil
}
