package ratelimit

import (
	"math"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/httpx"
	"github.com/tansive/modhost/internal/modhost/metrics"
	"github.com/tansive/modhost/internal/modhost/modcommon"
)

// Middleware limits requests per tenant and subject. A nil limiter lets
// everything through, and so does a Redis failure.
func Middleware(l *Limiter, m *metrics.Metrics, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := string(modcommon.GetTenantID(ctx)) + ":" + modcommon.UserID(ctx)
			allowed, retry, err := l.Allow(ctx, key)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				m.RateLimited(route)
				httpx.ErrTooManyRequests(int(math.Ceil(retry.Seconds()))).Send(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
