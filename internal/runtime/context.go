package runtime

import "context"

type ctxKey int

const sessionIDKey ctxKey = iota

// WithSessionID tags ctx with the session being driven.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFrom returns the session id carried by ctx, if any.
func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}
