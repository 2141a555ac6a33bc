// Package secrets keeps tenant-scoped provider credentials in an external
// secret service. Records in the relational store never carry secret material.
package secrets

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/apperrors"
)

// Backend is the storage contract a secret service must satisfy. Read returns
// a nil map and no error when nothing is stored at path.
type Backend interface {
	Read(ctx context.Context, path string) (map[string]any, error)
	Write(ctx context.Context, path string, payload map[string]any) error
	Delete(ctx context.Context, path string) error
}

type Broker struct {
	backend Backend
}

func NewBroker(backend Backend) *Broker {
	return &Broker{backend: backend}
}

// SecretPath returns the storage path of a provider secret.
func SecretPath(tenantID, name string) (string, apperrors.Error) {
	if err := validateSegment("tenant", tenantID); err != nil {
		return "", err
	}
	if err := validateSegment("name", name); err != nil {
		return "", err
	}
	return tenantID + "/providers/" + name, nil
}

func validateSegment(what, s string) apperrors.Error {
	if s == "" {
		return ErrInvalidSecretPath.Msg(what + " is required")
	}
	if strings.Contains(s, "/") || s == "." || s == ".." {
		return ErrInvalidSecretPath.Msg("invalid " + what + ": " + s)
	}
	return nil
}

// Put replaces the whole payload stored for tenantID and name.
func (b *Broker) Put(ctx context.Context, tenantID, name string, payload map[string]any) apperrors.Error {
	path, aerr := SecretPath(tenantID, name)
	if aerr != nil {
		return aerr
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if err := b.backend.Write(ctx, path, payload); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("path", path).Msg("failed to write secret")
		return ErrSecretStoreUnavailable.Err(err)
	}
	return nil
}

// Get returns the stored payload, or an empty map when nothing is stored.
func (b *Broker) Get(ctx context.Context, tenantID, name string) (map[string]any, apperrors.Error) {
	path, aerr := SecretPath(tenantID, name)
	if aerr != nil {
		return nil, aerr
	}
	payload, err := b.backend.Read(ctx, path)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("path", path).Msg("failed to read secret")
		return nil, ErrSecretStoreUnavailable.Err(err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}

func (b *Broker) Delete(ctx context.Context, tenantID, name string) apperrors.Error {
	path, aerr := SecretPath(tenantID, name)
	if aerr != nil {
		return aerr
	}
	if err := b.backend.Delete(ctx, path); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("path", path).Msg("failed to delete secret")
		return ErrSecretStoreUnavailable.Err(err)
	}
	return nil
}
