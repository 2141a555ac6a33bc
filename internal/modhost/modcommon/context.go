// Package modcommon carries request-scoped values shared by the modhost
// packages: the tenant a request acts for and the identity that sent it.
package modcommon

import (
	"context"
)

type ctxKeyType string

const (
	ctxTenantIdKey ctxKeyType = "ModhostTenantId"
	ctxIdentityKey ctxKeyType = "ModhostIdentity"
)

// TenantId identifies a tenant namespace.
type TenantId string

// Identity is the subset of identity provider claims modhost relies on.
type Identity struct {
	Subject  string `json:"sub"`
	Username string `json:"preferred_username"`
}

// AnonymousIdentity is used when token verification is disabled.
var AnonymousIdentity = Identity{Subject: "anonymous", Username: "anonymous"}

func WithTenantID(ctx context.Context, tenantID TenantId) context.Context {
	return context.WithValue(ctx, ctxTenantIdKey, tenantID)
}

// GetTenantID returns the tenant stored in ctx or "".
func GetTenantID(ctx context.Context) TenantId {
	if t, ok := ctx.Value(ctxTenantIdKey).(TenantId); ok {
		return t
	}
	return ""
}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey, id)
}

// GetIdentity returns the caller identity, or nil when none was attached.
func GetIdentity(ctx context.Context) *Identity {
	if id, ok := ctx.Value(ctxIdentityKey).(*Identity); ok {
		return id
	}
	return nil
}

// UserID is the audit user for ctx: the token subject, or "anonymous".
func UserID(ctx context.Context) string {
	if id := GetIdentity(ctx); id != nil && id.Subject != "" {
		return id.Subject
	}
	return AnonymousIdentity.Subject
}
