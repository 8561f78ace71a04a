package actor

import (
	"context"
	"fmt"
)

// Kind tags which variant an Actor is.
type Kind int

const (
	Anonymous Kind = iota
	Identified
)

func (k Kind) String() string {
	switch k {
	case Identified:
		return "identified"
	default:
		return "anonymous"
	}
}

// UnknownOrigin is used when neither a forwarded header nor a transport
// address is available.
const UnknownOrigin = "unknown"

// Actor is the identity usage is metered against. ID is set for identified
// actors, Origin for anonymous ones.
type Actor struct {
	Kind   Kind
	ID     string
	Origin string
}

func NewIdentified(id string) Actor {
	return Actor{Kind: Identified, ID: id}
}

func NewAnonymous(origin string) Actor {
	if origin == "" {
		origin = UnknownOrigin
	}
	return Actor{Kind: Anonymous, Origin: origin}
}

func (a Actor) IsIdentified() bool {
	return a.Kind == Identified
}

// Key is the ledger row key. It depends only on the resolved identity or
// origin so repeated requests from one source land on the same counters.
func (a Actor) Key() string {
	if a.Kind == Identified {
		return fmt.Sprintf("user:%s", a.ID)
	}
	return fmt.Sprintf("ip:%s", a.Origin)
}

func (a Actor) String() string {
	return a.Key()
}

type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// FromContext returns the actor stored by the middleware, or an anonymous
// actor with an unknown origin.
func FromContext(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey).(Actor); ok {
		return a
	}
	return NewAnonymous(UnknownOrigin)
}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
