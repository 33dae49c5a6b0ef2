// Package requestid carries a per-request id through context so that log
// lines from the HTTP layer, the coordinator and the mirror port line up.
package requestid

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header is the HTTP header used to pass request ids in and out.
const Header = "X-Request-ID"

type ctxKey struct{}

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the request id in ctx, or "" if there is none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Ensure returns ctx unchanged if it already carries an id (or a valid
// incoming one is supplied), otherwise a context with a fresh id.
func Ensure(ctx context.Context, incoming string) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	if incoming != "" && len(incoming) <= 128 {
		return WithRequestID(ctx, incoming), incoming
	}
	return New(ctx)
}

// New generates a request id and returns the enriched context and the id.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Logger returns l with the request id from ctx attached, if any.
func Logger(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	if id := FromContext(ctx); id != "" {
		return l.With().Str("request_id", id).Logger()
	}
	return l
}
