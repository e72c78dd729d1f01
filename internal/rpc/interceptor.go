package rpc

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"tokendist.org/internal/auth"
	"tokendist.org/internal/obs"
)

var publicMethods = map[string]bool{
	"/" + ServiceName + "/Info":   true,
	"/" + ServiceName + "/Health": true,
}

// BearerAuth validates the authorization metadata and stores the caller
// address in the context. Info and Health stay public.
func BearerAuth(iss *auth.Issuer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if iss == nil || publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		raw := strings.TrimSpace(values[0])
		if len(raw) < 7 || !strings.EqualFold(raw[:7], "bearer ") {
			return nil, status.Error(codes.Unauthenticated, "invalid authorization scheme")
		}
		token := strings.TrimSpace(raw[7:])
		claims, err := iss.ParseAndValidate(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		ctx = auth.ContextWithCaller(ctx, claims.Address())
		ctx = auth.ContextWithToken(ctx, token)
		return handler(ctx, req)
	}
}

// Logging writes one JSON line per completed call.
func Logging() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		level := "info"
		code := status.Code(err)
		if code == codes.Internal || code == codes.Unknown {
			level = "error"
		}
		obs.LogEvent(level, "rpc_complete", map[string]any{
			"method":      info.FullMethod,
			"code":        code.String(),
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
		})
		return resp, err
	}
}
