package server

import (
	"ExchangeLedger/internal/observability"
	"ExchangeLedger/internal/signing"
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type callerKey struct{}

// WithCaller returns ctx carrying the authenticated caller.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the authenticated caller, or the zero address for
// unauthenticated calls. The zero address holds no role.
func CallerFrom(ctx context.Context) common.Address {
	caller, _ := ctx.Value(callerKey{}).(common.Address)
	return caller
}

// authInterceptor authenticates every non-public call. The signed body is
// the JSON encoding of the request message and the signed method is its
// short name, e.g. "Deposit".
func authInterceptor(verifier *signing.RequestVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method := path.Base(info.FullMethod)
		if publicMethods[method] {
			return handler(ctx, req)
		}
		body, err := json.Marshal(req)
		if err != nil {
			return nil, invalidArgument("encode request: %v", err)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		caller, err := verifier.Verify(method, body, func(key string) string {
			if v := md.Get(key); len(v) > 0 {
				return v[0]
			}
			return ""
		})
		if err != nil {
			return nil, toStatus(err)
		}
		return handler(WithCaller(ctx, caller), req)
	}
}

// observeInterceptor records per-method request counts and latency and logs
// failed calls.
func observeInterceptor(metrics *observability.Metrics, logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		method := path.Base(info.FullMethod)
		code := status.Code(err)

		if metrics != nil {
			metrics.RPCRequests.WithLabelValues(method, code.String()).Inc()
			metrics.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			logger.Debug().
				Str("method", method).
				Str("code", code.String()).
				Err(err).
				Msg("rpc failed")
		}
		return resp, err
	}
}
