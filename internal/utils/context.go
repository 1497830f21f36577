package utils

import "context"

type contextKey string

const userIDContextKey contextKey = "userId"

// UserIdHeaders are checked in order when extracting the caller identity.
var UserIdHeaders = []string{"X-Servcy-User-Id", "X-User-Id"}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

func GetUserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDContextKey).(string); ok {
		return v
	}
	return ""
}
