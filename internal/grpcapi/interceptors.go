package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/linkwatch/internal/logging"
)

const correlationIDMetadataKey = "x-correlation-id"

// CorrelationIDUnaryServerInterceptor takes the correlation id from inbound
// metadata, or mints one, and stores a logger annotated with it and the
// method on the context.
func CorrelationIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		return handler(withCallLogger(ctx, base, info.FullMethod), req)
	}
}

// CorrelationIDStreamServerInterceptor is the streaming counterpart, used
// by health Watch.
func CorrelationIDStreamServerInterceptor(base logging.Logger) grpc.StreamServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := withCallLogger(ss.Context(), base, info.FullMethod)
		return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
}

func withCallLogger(ctx context.Context, base logging.Logger, method string) context.Context {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if incoming := firstHeader(md, correlationIDMetadataKey); incoming != "" {
			ctx = logging.ContextWithCorrelationID(ctx, incoming)
		}
	}
	ctx, _ = logging.EnsureCorrelationID(ctx)
	return logging.ContextWithLogger(ctx, base.With(logging.String("method", method)))
}

type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }

func firstHeader(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
