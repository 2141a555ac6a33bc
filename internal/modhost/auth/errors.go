package auth

import (
	"net/http"

	"github.com/tansive/modhost/internal/common/apperrors"
)

var (
	ErrAuth         apperrors.Error = apperrors.New("auth error").SetStatusCode(http.StatusInternalServerError)
	ErrInvalidKey   apperrors.Error = ErrAuth.New("invalid verification key")
	ErrUnauthorized apperrors.Error = ErrAuth.New("unauthorized access").SetStatusCode(http.StatusUnauthorized)
	ErrInvalidToken apperrors.Error = ErrAuth.New("invalid token").SetStatusCode(http.StatusUnauthorized)
)
