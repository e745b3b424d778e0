package httpconn

import (
	"context"

	"github.com/google/uuid"
)

type connIDKey struct{}

// newConnID returns a fresh correlation ID for one logical Get call,
// carried on its context for the whole redirect chain, where a Resolver
// can read it with ConnIDFrom. Conn's own log lines do not include it.
func newConnID() string {
	return uuid.NewString()
}

func withConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey{}, id)
}

// ConnIDFrom returns the correlation ID attached by Get/Start to ctx, if any.
func ConnIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(connIDKey{}).(string)
	return id, ok
}
