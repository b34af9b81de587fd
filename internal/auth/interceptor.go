// ABOUTME: gRPC verifier interceptors for services fronted by gRPC
// ABOUTME: Same contract as the HTTP middleware, carried over request metadata

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/bookmesh/bookmesh/internal/session"
	"github.com/bookmesh/bookmesh/internal/token"
)

// Metadata keys for the credential pair on gRPC transports. Rotated pairs
// are returned to the caller through response header metadata.
const (
	renewalMetadataKey = "x-renewal-token"
	accessMetadataKey  = "x-access-token"
)

// UnaryInterceptor returns a gRPC unary interceptor that authenticates
// requests with the shared codec, renewing through the Renewer when the
// access token has expired.
func UnaryInterceptor(codec *token.Codec, renewer Renewer, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		id, rotated, err := verifyFromMetadata(ctx, codec, renewer, logger)
		if err != nil {
			return nil, err
		}
		if rotated != nil {
			// Best effort: the handler outcome does not depend on the
			// caller picking up the new pair.
			_ = grpc.SetHeader(ctx, metadata.Pairs(
				accessMetadataKey, rotated.AccessToken,
				renewalMetadataKey, rotated.RenewalToken,
			))
		}
		return handler(WithIdentity(ctx, id), req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor with the same
// authentication contract as UnaryInterceptor.
func StreamInterceptor(codec *token.Codec, renewer Renewer, logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		id, rotated, err := verifyFromMetadata(ss.Context(), codec, renewer, logger)
		if err != nil {
			return err
		}
		if rotated != nil {
			_ = ss.SetHeader(metadata.Pairs(
				accessMetadataKey, rotated.AccessToken,
				renewalMetadataKey, rotated.RenewalToken,
			))
		}
		wrapped := &wrappedServerStream{
			ServerStream: ss,
			ctx:          WithIdentity(ss.Context(), id),
		}
		return handler(srv, wrapped)
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

// verifyFromMetadata runs the verifier flow against incoming metadata.
// It returns the identity plus the rotated pair when an inline renewal
// happened.
func verifyFromMetadata(ctx context.Context, codec *token.Codec, renewer Renewer, logger *slog.Logger) (*Identity, *session.TokenPair, error) {
	if logger == nil {
		logger = slog.Default()
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return nil, nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	authHeader := authHeaders[0]
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, nil, status.Error(codes.Unauthenticated, "invalid authorization metadata format")
	}
	accessToken := strings.TrimPrefix(authHeader, "Bearer ")

	claims, err := codec.DecodeAccess(accessToken)
	if err == nil {
		return &Identity{PrincipalID: claims.Subject, Role: claims.Role}, nil, nil
	}

	if !errors.Is(err, token.ErrTokenExpired) {
		logger.Warn("rejected access token", "reason", "invalid", "transport", "grpc")
		return nil, nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	renewalTokens := md.Get(renewalMetadataKey)
	if len(renewalTokens) == 0 || renewalTokens[0] == "" {
		return nil, nil, status.Error(codes.Unauthenticated, "session expired")
	}

	pair, err := renewer.Renew(ctx, renewalTokens[0])
	if err != nil {
		if errors.Is(err, session.ErrStoreUnavailable) {
			return nil, nil, status.Error(codes.Unavailable, "temporarily unavailable")
		}
		logger.Warn("renewal failed during request", "error", err, "transport", "grpc")
		return nil, nil, status.Error(codes.Unauthenticated, "session expired")
	}

	freshClaims, err := codec.DecodeAccess(pair.AccessToken)
	if err != nil {
		logger.Error("issuer returned unverifiable access token", "error", err)
		return nil, nil, status.Error(codes.Unauthenticated, "session expired")
	}

	return &Identity{PrincipalID: freshClaims.Subject, Role: freshClaims.Role}, pair, nil
}
