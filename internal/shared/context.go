// Package shared holds cross-cutting helpers: actor propagation,
// audit logging, and pagination.
package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the acting caller's identity in context.
// The gateway in front of this service validates tokens and forwards
// the actor identity; it is carried explicitly, never as process
// state.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting caller's identity, or ""
// when none was forwarded.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	return actor
}
