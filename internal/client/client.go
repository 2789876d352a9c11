// Package client is the gRPC client used by the CLI and by workers that want
// the orchestrator to run LLM tasks on their behalf.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lamosty/aharadar-sub003/internal/domain"
	"github.com/lamosty/aharadar-sub003/internal/rpccontract"
	"github.com/lamosty/aharadar-sub003/internal/service"
)

const requestIDHeader = "x-client-request-id"

type Config struct {
	Addr           string
	Token          string
	Insecure       bool
	RequestTimeout time.Duration
	RetryAttempts  int
}

func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:50061",
		RequestTimeout: 10 * time.Second,
		RetryAttempts:  3,
	}
}

type Client struct {
	conn          *grpc.ClientConn
	token         string
	requestTO     time.Duration
	retryAttempts int
	sleep         func(time.Duration)
}

func New(cfg Config) (*Client, error) {
	cred := grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}))
	if cfg.Insecure || strings.HasPrefix(cfg.Addr, "127.0.0.1:") || strings.HasPrefix(cfg.Addr, "localhost:") {
		cred = grpc.WithTransportCredentials(insecure.NewCredentials())
	}

	conn, err := grpc.NewClient(
		cfg.Addr,
		cred,
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                25 * time.Second,
			Timeout:             6 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}
	conn.Connect()

	requestTO := cfg.RequestTimeout
	if requestTO <= 0 {
		requestTO = DefaultConfig().RequestTimeout
	}
	return &Client{
		conn:          conn,
		token:         strings.TrimSpace(cfg.Token),
		requestTO:     requestTO,
		retryAttempts: cfg.RetryAttempts,
		sleep:         time.Sleep,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	response := &structpb.Struct{}
	if err := c.invoke(ctx, rpccontract.MethodGetHealth, &emptypb.Empty{}, response, true); err != nil {
		return nil, err
	}
	return response.AsMap(), nil
}

func (c *Client) Summary(ctx context.Context) (domain.Summary, error) {
	var summary domain.Summary
	response := &structpb.Struct{}
	if err := c.invoke(ctx, rpccontract.MethodGetSummary, &emptypb.Empty{}, response, true); err != nil {
		return summary, err
	}
	return summary, reshape(response.AsMap(), &summary)
}

func (c *Client) RecentCalls(ctx context.Context, limit int) ([]domain.CallRecord, error) {
	request, err := structpb.NewStruct(map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	response := &structpb.ListValue{}
	if err := c.invoke(ctx, rpccontract.MethodListCalls, request, response, true); err != nil {
		return nil, err
	}
	records := []domain.CallRecord{}
	return records, reshape(response.AsSlice(), &records)
}

func (c *Client) QuotaStatus(ctx context.Context, provider string) (service.QuotaReport, error) {
	var report service.QuotaReport
	response, err := c.invokeStruct(ctx, rpccontract.MethodGetQuotaStatus, map[string]any{
		"provider": strings.TrimSpace(provider),
	}, true)
	if err != nil {
		return report, err
	}
	return report, reshape(response, &report)
}

func (c *Client) CheckQuotaForRun(ctx context.Context, provider string, expectedCalls int64) (domain.QuotaCheckResult, error) {
	var result domain.QuotaCheckResult
	response, err := c.invokeStruct(ctx, rpccontract.MethodCheckQuotaForRun, map[string]any{
		"provider":       strings.TrimSpace(provider),
		"expected_calls": expectedCalls,
	}, true)
	if err != nil {
		return result, err
	}
	return result, reshape(response, &result)
}

// RunTask is not retried: a retry after a lost response would spend quota
// twice.
func (c *Client) RunTask(ctx context.Context, request service.RunTaskRequest) (map[string]any, error) {
	var input any
	if len(request.Input) > 0 {
		if err := json.Unmarshal(request.Input, &input); err != nil {
			return nil, fmt.Errorf("task input is not valid JSON: %w", err)
		}
	}
	return c.invokeStruct(ctx, rpccontract.MethodRunTask, map[string]any{
		"task":           strings.TrimSpace(request.Task),
		"tier":           strings.TrimSpace(request.Tier),
		"expected_calls": request.ExpectedCalls,
		"input":          input,
	}, false)
}

func (c *Client) invokeStruct(ctx context.Context, method string, payload map[string]any, retry bool) (map[string]any, error) {
	request, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, err
	}
	response := &structpb.Struct{}
	if err := c.invoke(ctx, method, request, response, retry); err != nil {
		return nil, err
	}
	return response.AsMap(), nil
}

func (c *Client) invoke(ctx context.Context, method string, request, response proto.Message, retry bool) error {
	attempts := c.retryAttempts
	if attempts < 1 || !retry {
		attempts = 1
	}
	requestID := uuid.NewString()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.requestTO)
		callCtx = metadata.AppendToOutgoingContext(c.withAuth(callCtx), requestIDHeader, requestID)

		invokeErr := c.conn.Invoke(callCtx, method, request, response)
		cancel()
		if invokeErr == nil {
			return nil
		}
		lastErr = invokeErr
		if !isRetryable(invokeErr) || attempt == attempts {
			break
		}
		c.sleep(time.Duration(attempt) * 250 * time.Millisecond)
	}
	return lastErr
}

func (c *Client) withAuth(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, rpccontract.TokenHeader, c.token)
}

func isRetryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func reshape(in any, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
