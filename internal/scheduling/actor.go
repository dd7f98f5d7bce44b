package scheduling

import (
	"context"
	"strings"
)

// SystemActor stamps changes made without a caller, such as batch processing.
const SystemActor = "system"

// Actor identifies the caller for audit stamps.
type Actor struct {
	ID   string
	Name string
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the caller, or SystemActor when none is set.
func ActorFromContext(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok && strings.TrimSpace(a.ID) != "" {
		return a
	}
	return Actor{ID: SystemActor, Name: SystemActor}
}
