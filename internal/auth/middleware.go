package auth

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/stayledger/internal/observability/context"
)

type actorKey struct{}

const ginActorKey = "auth.actor"

// WithActor stores the actor on ctx.
func WithActor(ctx context.Context, actor Actor) context.Context {
	ctx = context.WithValue(ctx, actorKey{}, actor)
	return obscontext.WithActor(ctx, actor.Role, actor.UserID.String())
}

// ActorFromContext returns the actor stored by WithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok && actor.UserID != 0
}

// Middleware requires a valid bearer token. onError receives
// ErrUnauthenticated so the caller's error mapping stays in one place.
func Middleware(v *TokenVerifier, onError func(*gin.Context, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || v == nil {
			onError(c, ErrUnauthenticated)
			return
		}

		actor, err := v.Verify(raw)
		if err != nil {
			onError(c, err)
			return
		}

		c.Set(ginActorKey, actor)
		c.Request = c.Request.WithContext(WithActor(c.Request.Context(), actor))
		c.Next()
	}
}
