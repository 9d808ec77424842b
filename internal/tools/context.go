package tools

import "context"

type userKey struct{}

// WithUser attaches the acting user's ID to the context so tools scope their
// queries without taking the ID as a model-controlled argument.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the acting user's ID, if set.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userKey{}).(string)
	return userID, ok && userID != ""
}
