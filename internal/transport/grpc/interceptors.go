package grpcx

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/lamosty/aharadar-sub003/internal/auth"
	"github.com/lamosty/aharadar-sub003/internal/domain"
	"github.com/lamosty/aharadar-sub003/internal/llm"
	"github.com/lamosty/aharadar-sub003/internal/rpccontract"
)

type callerKey struct{}

// CallerFromContext returns the caller name set by AuthUnaryInterceptor.
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerKey{}).(string)
	return caller, ok
}

func RecoveryUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (response any, err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				log.Printf("panic recovered method=%s panic=%v\n%s", info.FullMethod, recovered, string(debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// AuthUnaryInterceptor guards write methods. A request passes with the static
// token or with an HS256 JWT signed by jwtSecret. With neither configured,
// write methods are open.
func AuthUnaryInterceptor(token, jwtSecret string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if token == "" && jwtSecret == "" {
			return handler(ctx, req)
		}
		if _, isWriteMethod := rpccontract.WriteMethods[info.FullMethod]; !isWriteMethod {
			return handler(ctx, req)
		}

		requestToken := extractToken(ctx)
		if requestToken == "" {
			return nil, status.Error(codes.Unauthenticated, "missing authentication token")
		}
		if token != "" && subtle.ConstantTimeCompare([]byte(requestToken), []byte(token)) == 1 {
			return handler(context.WithValue(ctx, callerKey{}, "static-token"), req)
		}
		if jwtSecret != "" && auth.LooksLikeJWT(requestToken) {
			claims, err := auth.ParseToken(jwtSecret, requestToken)
			if errors.Is(err, auth.ErrTokenExpired) {
				return nil, status.Error(codes.Unauthenticated, "authentication token expired")
			}
			if err == nil {
				return handler(context.WithValue(ctx, callerKey{}, claims.Caller), req)
			}
		}
		return nil, status.Error(codes.Unauthenticated, "invalid authentication token")
	}
}

func LoggingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		started := time.Now()
		response, err := handler(ctx, req)
		caller, _ := CallerFromContext(ctx)
		log.Printf("grpc method=%s duration=%s code=%s caller=%s", info.FullMethod, time.Since(started), status.Code(err), caller)
		return response, err
	}
}

func ErrorUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		response, err := handler(ctx, req)
		if err == nil {
			return response, nil
		}

		if status.Code(err) != codes.Unknown {
			return nil, err
		}

		return nil, mapError(err)
	}
}

func mapError(err error) error {
	var appError *domain.AppError
	if errors.As(err, &appError) {
		switch appError.Code {
		case domain.CodeInvalidArgument:
			return status.Error(codes.InvalidArgument, appError.Message)
		case domain.CodeNotFound:
			return status.Error(codes.NotFound, appError.Message)
		case domain.CodeUnauthenticated:
			return status.Error(codes.Unauthenticated, appError.Message)
		case domain.CodeFailedPrecondition, domain.CodeConfiguration, domain.CodeProviderAuthRequired:
			return status.Error(codes.FailedPrecondition, appError.Message)
		case domain.CodeResourceExhausted:
			return status.Error(codes.ResourceExhausted, appError.Message)
		case domain.CodeInvalidOutput, domain.CodeProvider:
			return status.Error(codes.Unavailable, appError.Message)
		default:
			return status.Error(codes.Internal, appError.Message)
		}
	}

	var providerErr *llm.ProviderError
	if errors.As(err, &providerErr) {
		return status.Error(codes.Unavailable, providerErr.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, "request canceled")
	}
	return status.Error(codes.Internal, "internal server error")
}

func extractToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	token := strings.TrimSpace(first(md.Get(rpccontract.TokenHeader)))
	if token != "" {
		return token
	}

	authHeader := strings.TrimSpace(first(md.Get("authorization")))
	const bearer = "Bearer "
	if strings.HasPrefix(authHeader, bearer) {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, bearer))
	}
	return ""
}

func first(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[0]
}
