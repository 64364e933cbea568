package handler

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-po-approvals/internal/client"
	"github.com/pesio-ai/be-po-approvals/internal/errors"
	"github.com/pesio-ai/be-po-approvals/internal/service"
)

// GRPCHandler serves the approval authorization service, so other back-office
// services can ask whether a user may act on an order's approval chain.
type GRPCHandler struct {
	resolver service.EligibilityResolver
	logger   zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(resolver service.EligibilityResolver, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		resolver: resolver,
		logger:   logger.With().Str("handler", "grpc").Logger(),
	}
}

// Register adds the authorization service to s.
func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: client.AuthorizationServiceName,
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "CanApprove",
			Handler:    h.canApproveHandler,
		}},
		Metadata: "approval_authorization",
	}, h)
}

func (h *GRPCHandler) canApproveHandler(
	_ interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return h.CanApprove(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: h, FullMethod: client.CanApproveMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return h.CanApprove(ctx, req.(*structpb.Struct))
	})
}

// CanApprove answers {user_id, order_id} with {allowed}.
func (h *GRPCHandler) CanApprove(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := req.GetFields()["user_id"].GetStringValue()
	orderID := req.GetFields()["order_id"].GetStringValue()
	if userID == "" || orderID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id and order_id are required")
	}

	allowed, err := h.resolver.CanApprove(ctx, userID, orderID)
	if err != nil {
		h.logger.Error().Err(err).
			Str("user_id", userID).
			Str("order_id", orderID).
			Msg("Failed to resolve approval eligibility")
		return nil, mapErrorToGRPC(err)
	}

	return structpb.NewStruct(map[string]interface{}{"allowed": allowed})
}

// mapErrorToGRPC converts service error codes to gRPC status codes
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, err.Error())
	case errors.ErrCodeValidation, errors.ErrCodeConfirmationRequired, errors.ErrCodeMissingDepartment:
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.ErrCodeForbidden, errors.ErrCodeNotEligible:
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.ErrCodeApprovalNotPending, errors.ErrCodeOutOfOrder, errors.ErrCodeInvalidState:
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.ErrCodeStorageFailure:
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
