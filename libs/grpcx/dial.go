// Package grpcx bundles the gRPC client/server plumbing we use everywhere:
// otel stats handlers and request-id propagation.
package grpcx

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type DialOptions struct {
	Timeout time.Duration
	// Nil means insecure credentials: fine for local dev and for
	// clusters that terminate mTLS at the mesh layer.
	TransportCredentials grpc.DialOption
}

// Dial opens a traced, request-id-propagating client connection and
// blocks until it is ready or the timeout passes.
func Dial(ctx context.Context, addr string, opts DialOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	creds := opts.TransportCredentials
	if creds == nil {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(UnaryClientRequestIDInterceptor()),
		grpc.WithBlock(),
		creds,
	}, extra...)

	return grpc.DialContext(ctx, addr, dialOpts...)
}
