package api

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

/*
 * gRPC surface.
 *
 * Messages are google.protobuf.Struct carrying the same JSON documents as
 * the HTTP API, so both transports share one request schema and the
 * predicate wire codec. The service descriptor is written by hand:
 *
 *   service underwriting.v1.Underwriting {
 *     rpc ValidatePredicate(google.protobuf.Struct) returns (google.protobuf.Struct);
 *     rpc Resolve(google.protobuf.Struct) returns (google.protobuf.Struct);
 *   }
 */

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "underwriting.v1.Underwriting"

// UnderwritingServer is the server API for the underwriting service.
type UnderwritingServer interface {
	ValidatePredicate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterUnderwritingServer registers srv on s.
func RegisterUnderwritingServer(s grpc.ServiceRegistrar, srv UnderwritingServer) {
	s.RegisterService(&underwritingServiceDesc, srv)
}

var underwritingServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*UnderwritingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ValidatePredicate", Handler: validatePredicateHandler},
		{MethodName: "Resolve", Handler: resolveHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "underwriting/v1/underwriting.proto",
}

func validatePredicateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(UnderwritingServer).ValidatePredicate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ValidatePredicate"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(UnderwritingServer).ValidatePredicate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func resolveHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(UnderwritingServer).Resolve(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Resolve"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(UnderwritingServer).Resolve(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCHandler adapts Service to UnderwritingServer.
type GRPCHandler struct {
	svc *Service
}

// NewGRPCHandler wraps svc for registration on a gRPC server.
func NewGRPCHandler(svc *Service) *GRPCHandler {
	return &GRPCHandler{svc: svc}
}

// ValidatePredicate implements UnderwritingServer.
func (h *GRPCHandler) ValidatePredicate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in ValidateRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, toStatus(err)
	}
	resp, err := h.svc.ValidatePredicate(ctx, &in)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(resp)
}

// Resolve implements UnderwritingServer.
func (h *GRPCHandler) Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in ResolveRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, toStatus(err)
	}
	resp, err := h.svc.Resolve(ctx, &in)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(resp)
}

func fromStruct(s *structpb.Struct, dest any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(grpcCode(err), "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(grpcCode(err), "encode response: %v", err)
	}
	return out, nil
}

func toStatus(err error) error {
	return status.Error(grpcCode(err), err.Error())
}
