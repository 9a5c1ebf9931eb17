package utils

import "context"

// RequestMeta describes the client behind a request. The HTTP layer attaches
// it to the request context so services can record it in audit entries.
type RequestMeta struct {
	RequestID string
	IP        string
	UserAgent string
}

type requestMetaKey struct{}

// WithRequestMeta returns a context carrying meta
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom returns the meta attached to ctx, if any
func RequestMetaFrom(ctx context.Context) (RequestMeta, bool) {
	meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta, ok
}
