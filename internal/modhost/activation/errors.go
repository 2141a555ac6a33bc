package activation

import (
	"net/http"

	"github.com/tansive/modhost/internal/common/apperrors"
)

var (
	ErrActivation         apperrors.Error = apperrors.New("activation error").SetStatusCode(http.StatusInternalServerError)
	ErrValidation         apperrors.Error = ErrActivation.New("validation error").SetStatusCode(http.StatusBadRequest)
	ErrInvalidConfig      apperrors.Error = ErrValidation.New("config does not match module schema").SetExpandError(true)
	ErrServiceUnavailable apperrors.Error = ErrActivation.New("container runtime unavailable").SetStatusCode(http.StatusServiceUnavailable)
)
