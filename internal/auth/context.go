package auth

import (
	"context"

	"github.com/dukerupert/ltgvault/internal/model"
)

type contextKey struct{}

type requestIDKey struct{}

// AuthContext is the caller resolved from a presented API key.
type AuthContext struct {
	Account *model.Account
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	if !ok || ac.Account == nil {
		return AuthContext{}, false
	}
	return ac, true
}

func Account(ctx context.Context) *model.Account {
	ac, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	return ac.Account
}

func AccountID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.Account.ID
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id assigned by the request logger, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
