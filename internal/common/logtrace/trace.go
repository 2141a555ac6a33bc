package logtrace

import (
	"context"
)

type requestIdKeyType string

const requestIdKey requestIdKeyType = "requestId"

// WithRequestId stores the request identifier in ctx.
func WithRequestId(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIdKey, id)
}

// RequestIdFromContext returns the request identifier or "".
func RequestIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	r, _ := ctx.Value(requestIdKey).(string)
	return r
}
