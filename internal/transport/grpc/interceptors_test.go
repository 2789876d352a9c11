package grpcx

import (
	"context"
	"errors"
	"fmt"
	"testing"
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

func okHandler(ctx context.Context, req any) (any, error) {
	return "ok", nil
}

func withToken(header, value string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(header, value))
}

func TestAuthInterceptorOpenWhenUnconfigured(t *testing.T) {
	interceptor := AuthUnaryInterceptor("", "")
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{
		FullMethod: rpccontract.MethodRunTask,
	}, okHandler)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestAuthInterceptorLeavesReadMethodsOpen(t *testing.T) {
	interceptor := AuthUnaryInterceptor("secret", "")
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{
		FullMethod: rpccontract.MethodGetQuotaStatus,
	}, okHandler)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestAuthInterceptorRejectsWriteWithoutToken(t *testing.T) {
	interceptor := AuthUnaryInterceptor("secret", "")
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{
		FullMethod: rpccontract.MethodRunTask,
	}, okHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %s", status.Code(err))
	}
}

func TestAuthInterceptorAcceptsStaticToken(t *testing.T) {
	interceptor := AuthUnaryInterceptor("secret", "")
	_, err := interceptor(withToken(rpccontract.TokenHeader, "secret"), nil, &grpc.UnaryServerInfo{
		FullMethod: rpccontract.MethodRunTask,
	}, func(ctx context.Context, req any) (any, error) {
		caller, ok := CallerFromContext(ctx)
		if !ok || caller != "static-token" {
			t.Fatalf("expected static-token caller, got ok=%v caller=%q", ok, caller)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestAuthInterceptorRejectsWrongStaticToken(t *testing.T) {
	interceptor := AuthUnaryInterceptor("secret", "")
	_, err := interceptor(withToken(rpccontract.TokenHeader, "nope"), nil, &grpc.UnaryServerInfo{
		FullMethod: rpccontract.MethodRunTask,
	}, okHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %s", status.Code(err))
	}
}

func TestAuthInterceptorAcceptsSignedBearerToken(t *testing.T) {
	raw, err := auth.IssueToken("jwt-secret", "digest-worker", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	interceptor := AuthUnaryInterceptor("", "jwt-secret")
	_, err = interceptor(withToken("authorization", "Bearer "+raw), nil, &grpc.UnaryServerInfo{
		FullMethod: rpccontract.MethodRunTask,
	}, func(ctx context.Context, req any) (any, error) {
		caller, _ := CallerFromContext(ctx)
		if caller != "digest-worker" {
			t.Fatalf("expected digest-worker caller, got %q", caller)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestAuthInterceptorReportsExpiredToken(t *testing.T) {
	raw, err := auth.IssueToken("jwt-secret", "w", time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	interceptor := AuthUnaryInterceptor("", "jwt-secret")
	_, err = interceptor(withToken(rpccontract.TokenHeader, raw), nil, &grpc.UnaryServerInfo{
		FullMethod: rpccontract.MethodRunTask,
	}, okHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %s", status.Code(err))
	}
	if status.Convert(err).Message() != "authentication token expired" {
		t.Fatalf("unexpected message %q", status.Convert(err).Message())
	}
}

func TestRecoveryInterceptorConvertsPanic(t *testing.T) {
	interceptor := RecoveryUnaryInterceptor()
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{
		FullMethod: rpccontract.MethodGetHealth,
	}, func(ctx context.Context, req any) (any, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %s", status.Code(err))
	}
}

func TestErrorInterceptorMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{domain.InvalidArgument("bad"), codes.InvalidArgument},
		{domain.ResourceExhausted("codex-subscription quota exhausted"), codes.ResourceExhausted},
		{domain.Configuration("OPENAI_API_KEY is not set"), codes.FailedPrecondition},
		{&domain.AppError{Code: domain.CodeProviderAuthRequired, Message: "login required"}, codes.FailedPrecondition},
		{domain.InvalidOutput("aha_score out of range", nil), codes.Unavailable},
		{fmt.Errorf("call: %w", &llm.ProviderError{Provider: domain.ProviderOpenAI, Status: 502}), codes.Unavailable},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{errors.New("mystery"), codes.Internal},
		{status.Error(codes.NotFound, "already a status"), codes.NotFound},
	}

	interceptor := ErrorUnaryInterceptor()
	for _, tc := range cases {
		_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{
			FullMethod: rpccontract.MethodRunTask,
		}, func(ctx context.Context, req any) (any, error) {
			return nil, tc.err
		})
		if status.Code(err) != tc.want {
			t.Fatalf("error %v: expected %s, got %s", tc.err, tc.want, status.Code(err))
		}
	}
}
