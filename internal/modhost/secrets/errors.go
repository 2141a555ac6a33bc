package secrets

import (
	"net/http"

	"github.com/tansive/modhost/internal/common/apperrors"
)

var (
	ErrSecretStore            apperrors.Error = apperrors.New("secret store error").SetStatusCode(http.StatusInternalServerError)
	ErrSecretStoreUnavailable apperrors.Error = ErrSecretStore.New("secret store unavailable").SetStatusCode(http.StatusServiceUnavailable)
	ErrInvalidSecretPath      apperrors.Error = ErrSecretStore.New("invalid secret path").SetStatusCode(http.StatusBadRequest)
	ErrUnknownBackend         apperrors.Error = ErrSecretStore.New("unknown secret backend")
)
