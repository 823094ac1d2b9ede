package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
)

const VerifyFullMethod = "/authkeeper.v1.TokenVerifier/Verify"

// TokenVerifierServer is the server API of authkeeper.v1.TokenVerifier.
// The request carries the access token; the reply holds its sub, iat and
// exp claims.
type TokenVerifierServer interface {
	Verify(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

var TokenVerifierServiceDesc = grpc.ServiceDesc{
	ServiceName: "authkeeper.v1.TokenVerifier",
	HandlerType: (*TokenVerifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Verify", Handler: verifyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authkeeper/v1/verifier.proto",
}

func verifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TokenVerifierServer).Verify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: VerifyFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TokenVerifierServer).Verify(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Verify checks an access token. Every failure is reported as the same
// Unauthenticated status.
func (s *GRPCServer) Verify(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	token := in.GetValue()
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, common.ErrAccessTokenNotFound.Error())
	}

	claims, err := s.verifier.Verify(token, auth.KindAccess)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, common.ErrTokenExpired) {
			reason = "expired"
		}
		s.logger.Info(ctx, "token rejected", "reason", reason)
		return nil, status.Error(codes.Unauthenticated, common.ErrInvalidAccessToken.Error())
	}

	fields := map[string]any{"sub": claims.Subject}
	if claims.IssuedAt != nil {
		fields["iat"] = float64(claims.IssuedAt.Unix())
	}
	if claims.ExpiresAt != nil {
		fields["exp"] = float64(claims.ExpiresAt.Unix())
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

// VerifyToken calls TokenVerifier.Verify on cc.
func VerifyToken(ctx context.Context, cc grpc.ClientConnInterface, token string) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, VerifyFullMethod, wrapperspb.String(token), out); err != nil {
		return nil, err
	}
	return out, nil
}
