package authcore

import "context"

type currentSessionContextKey struct{}
type clientIPContextKey struct{}

// WithCurrentSession attaches the caller's session id to ctx. signIn replaces
// it, signOut deletes it, verifier captures it so that an OAuth identity can
// be linked to the signed-in user, and account creation joins its user.
func WithCurrentSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, currentSessionContextKey{}, sessionID)
}

// CurrentSession returns the session id attached by [WithCurrentSession].
func CurrentSession(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(currentSessionContextKey{}).(string)
	return id
}

// WithClientIP attaches the caller's IP address to ctx for audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
