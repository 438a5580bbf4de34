// Package connect provides Connect RPC service implementations.
package connect

import (
	"context"
	"crypto/subtle"

	"connectrpc.com/connect"
)

const (
	// ShellTokenHeader is the header name for presentation shell authentication.
	ShellTokenHeader = "X-Shell-Token"
)

// shellAuthInterceptor validates the shell token on unary and streaming calls.
type shellAuthInterceptor struct {
	token string
}

// NewShellAuthInterceptor creates an interceptor that rejects requests whose
// X-Shell-Token header does not match token.
func NewShellAuthInterceptor(token string) connect.Interceptor {
	return &shellAuthInterceptor{token: token}
}

func (i *shellAuthInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			req.Header().Set(ShellTokenHeader, i.token)
			return next(ctx, req)
		}
		if !i.valid(req.Header().Get(ShellTokenHeader)) {
			return nil, connect.NewError(connect.CodeUnauthenticated, nil)
		}
		return next(ctx, req)
	}
}

func (i *shellAuthInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		conn.RequestHeader().Set(ShellTokenHeader, i.token)
		return conn
	}
}

func (i *shellAuthInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if !i.valid(conn.RequestHeader().Get(ShellTokenHeader)) {
			return connect.NewError(connect.CodeUnauthenticated, nil)
		}
		return next(ctx, conn)
	}
}

func (i *shellAuthInterceptor) valid(token string) bool {
	if token == "" || i.token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(i.token)) == 1
}
