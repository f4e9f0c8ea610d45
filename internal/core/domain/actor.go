package domain

import "context"

type actorKey struct{}

// SystemActor is recorded when no actor is attached to the context.
const SystemActor = "system"

// WithActor attaches the acting principal to ctx for audit fields.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the acting principal, defaulting to SystemActor.
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}
