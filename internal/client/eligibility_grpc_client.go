package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Authorization service contract. Requests and responses are
// google.protobuf.Struct messages:
//
//	request:  {"user_id": "...", "order_id": "..."}
//	response: {"allowed": true}
const (
	AuthorizationServiceName = "pesio.purchasing.v1.ApprovalAuthorization"
	CanApproveMethod         = "/" + AuthorizationServiceName + "/CanApprove"
)

// EligibilityGRPCClient implements service.EligibilityResolver against a
// remote authorization service.
type EligibilityGRPCClient struct {
	conn *grpc.ClientConn
}

// NewEligibilityGRPCClient dials the authorization service. Extra dial options
// are appended after the defaults.
func NewEligibilityGRPCClient(addr string, opts ...grpc.DialOption) (*EligibilityGRPCClient, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(forwardMetadata),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	return &EligibilityGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *EligibilityGRPCClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// CanApprove asks the authorization service whether userID may act on the
// current approval step of orderID.
func (c *EligibilityGRPCClient) CanApprove(ctx context.Context, userID, orderID string) (bool, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"user_id":  userID,
		"order_id": orderID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to build authorization request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, CanApproveMethod, req, resp); err != nil {
		return false, fmt.Errorf("failed to check approval eligibility: %w", err)
	}

	allowed, ok := resp.GetFields()["allowed"]
	if !ok {
		return false, fmt.Errorf("authorization response has no 'allowed' field")
	}
	return allowed.GetBoolValue(), nil
}
