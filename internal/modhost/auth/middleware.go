package auth

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/httpx"
	"github.com/tansive/modhost/internal/modhost/modcommon"
	"github.com/tansive/modhost/internal/modhost/schemavalidator"
)

const (
	AuthHeaderPrefix = "Bearer "
	GenericAuthError = "authentication failed"
	TenantHeader     = "X-Tenant-ID"
)

// Middleware attaches the caller identity to the request. With a nil
// verifier every request runs as the anonymous identity.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if v == nil {
				anon := modcommon.AnonymousIdentity
				next.ServeHTTP(w, r.WithContext(modcommon.WithIdentity(ctx, &anon)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, AuthHeaderPrefix) {
				log.Ctx(ctx).Debug().Msg("missing or invalid authorization header")
				httpx.ErrUnAuthorized(GenericAuthError).Send(w)
				return
			}

			identity, err := v.Verify(strings.TrimSpace(strings.TrimPrefix(authHeader, AuthHeaderPrefix)))
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("token validation failed")
				httpx.ErrUnAuthorized(GenericAuthError).Send(w)
				return
			}

			ctx = log.Ctx(ctx).With().Str("user_id", identity.Subject).Logger().WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(modcommon.WithIdentity(ctx, identity)))
		})
	}
}

// TenantMiddleware resolves the tenant from the X-Tenant-ID header, falling
// back to defaultTenant. Tenancy is never read from the token.
func TenantMiddleware(defaultTenant string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := r.Header.Get(TenantHeader)
			if tenantID == "" {
				tenantID = defaultTenant
			}
			if !schemavalidator.ValidResourceName(tenantID) {
				httpx.ErrInvalidTenantId().Send(w)
				return
			}
			ctx := modcommon.WithTenantID(r.Context(), modcommon.TenantId(tenantID))
			ctx = log.Ctx(ctx).With().Str("tenant_id", tenantID).Logger().WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
