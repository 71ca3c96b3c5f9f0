package repositorycache

import (
	"context"
)

type freshReadContextKey struct{}

// WithFreshRead marks ctx so that reads through a CachedRepository skip the
// cache lookup and go to the inner repository. The result still refreshes
// the cache. Use it for read-modify-write sequences.
func WithFreshRead(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if isFreshRead(ctx) {
		return ctx
	}
	return context.WithValue(ctx, freshReadContextKey{}, true)
}

func isFreshRead(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	fresh, _ := ctx.Value(freshReadContextKey{}).(bool)
	return fresh
}
