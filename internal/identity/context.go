package identity

import (
	"context"

	"github.com/ppiankov/claimgate/internal/model"
)

type actorKey struct{}

// NewContext returns ctx carrying actor
func NewContext(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// FromContext returns the actor carried by ctx
func FromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(model.Actor)
	return actor, ok && actor.ID != ""
}
