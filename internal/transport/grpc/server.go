package grpcx

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lamosty/aharadar-sub003/internal/domain"
	"github.com/lamosty/aharadar-sub003/internal/rpccontract"
	"github.com/lamosty/aharadar-sub003/internal/service"
)

type OrchestratorRPCServer interface {
	GetHealth(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetSummary(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListCalls(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	GetQuotaStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckQuotaForRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type OrchestratorHandler struct {
	orchestrator *service.Orchestrator
}

func NewOrchestratorHandler(orchestrator *service.Orchestrator) *OrchestratorHandler {
	return &OrchestratorHandler{orchestrator: orchestrator}
}

func RegisterOrchestratorServer(server *grpc.Server, handler OrchestratorRPCServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: rpccontract.ServiceName,
		HandlerType: (*OrchestratorRPCServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetHealth", Handler: emptyHandler(rpccontract.MethodGetHealth, OrchestratorRPCServer.GetHealth)},
			{MethodName: "GetSummary", Handler: emptyHandler(rpccontract.MethodGetSummary, OrchestratorRPCServer.GetSummary)},
			{MethodName: "ListCalls", Handler: structHandler(rpccontract.MethodListCalls, OrchestratorRPCServer.ListCalls)},
			{MethodName: "GetQuotaStatus", Handler: structHandler(rpccontract.MethodGetQuotaStatus, OrchestratorRPCServer.GetQuotaStatus)},
			{MethodName: "CheckQuotaForRun", Handler: structHandler(rpccontract.MethodCheckQuotaForRun, OrchestratorRPCServer.CheckQuotaForRun)},
			{MethodName: "RunTask", Handler: structHandler(rpccontract.MethodRunTask, OrchestratorRPCServer.RunTask)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "proto/aharadar/llm/v1/orchestrator.proto",
	}, handler)
}

func (h *OrchestratorHandler) GetHealth(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(h.orchestrator.Health(ctx))
}

func (h *OrchestratorHandler) GetSummary(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	summary, err := h.orchestrator.Summary(ctx)
	if err != nil {
		return nil, err
	}
	return toStruct(summary)
}

func (h *OrchestratorHandler) ListCalls(ctx context.Context, request *structpb.Struct) (*structpb.ListValue, error) {
	decoded, err := decodeStruct[service.RecentCallsRequest](request)
	if err != nil {
		return nil, err
	}
	records, err := h.orchestrator.RecentCalls(ctx, decoded)
	if err != nil {
		return nil, err
	}
	return toList(records)
}

func (h *OrchestratorHandler) GetQuotaStatus(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[service.QuotaStatusRequest](request)
	if err != nil {
		return nil, err
	}
	return toStruct(h.orchestrator.QuotaStatus(ctx, decoded))
}

func (h *OrchestratorHandler) CheckQuotaForRun(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[service.CheckQuotaRequest](request)
	if err != nil {
		return nil, err
	}
	result, err := h.orchestrator.CheckQuotaForRun(ctx, decoded)
	if err != nil {
		return nil, err
	}
	return toStruct(result)
}

func (h *OrchestratorHandler) RunTask(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[service.RunTaskRequest](request)
	if err != nil {
		return nil, err
	}
	response, err := h.orchestrator.RunTask(ctx, decoded)
	if err != nil {
		return nil, err
	}
	return toStruct(response)
}

func toStruct(value any) (*structpb.Struct, error) {
	serialized, err := json.Marshal(value)
	if err != nil {
		return nil, domain.Internal("failed to encode response", err)
	}

	decoded := map[string]any{}
	if err := json.Unmarshal(serialized, &decoded); err != nil {
		return nil, domain.Internal("failed to shape response object", err)
	}
	result, err := structpb.NewStruct(decoded)
	if err != nil {
		return nil, domain.Internal("failed to convert response to protobuf struct", err)
	}
	return result, nil
}

func toList(value any) (*structpb.ListValue, error) {
	serialized, err := json.Marshal(value)
	if err != nil {
		return nil, domain.Internal("failed to encode response list", err)
	}

	decoded := []any{}
	if err := json.Unmarshal(serialized, &decoded); err != nil {
		return nil, domain.Internal("failed to shape response list", err)
	}
	result, err := structpb.NewList(decoded)
	if err != nil {
		return nil, domain.Internal("failed to convert response to protobuf list", err)
	}
	return result, nil
}

func decodeStruct[T any](input *structpb.Struct) (T, error) {
	var out T
	serialized, err := json.Marshal(input.AsMap())
	if err != nil {
		return out, domain.InvalidArgument("request payload could not be encoded")
	}
	if err := json.Unmarshal(serialized, &out); err != nil {
		return out, domain.InvalidArgument("request payload shape is invalid")
	}
	return out, nil
}

func emptyHandler[Resp any](
	fullMethod string,
	call func(OrchestratorRPCServer, context.Context, *emptypb.Empty) (Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, decoder func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(emptypb.Empty)
		if err := decoder(request); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrchestratorRPCServer), ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrchestratorRPCServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, request, info, handler)
	}
}

func structHandler[Resp any](
	fullMethod string,
	call func(OrchestratorRPCServer, context.Context, *structpb.Struct) (Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, decoder func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(structpb.Struct)
		if err := decoder(request); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrchestratorRPCServer), ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrchestratorRPCServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, request, info, handler)
	}
}
