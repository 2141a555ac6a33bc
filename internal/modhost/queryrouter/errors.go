package queryrouter

import (
	"net/http"

	"github.com/tansive/modhost/internal/common/apperrors"
)

var (
	ErrRouter             apperrors.Error = apperrors.New("query router error").SetStatusCode(http.StatusInternalServerError)
	ErrInvalidQuestion    apperrors.Error = ErrRouter.New("invalid question").SetStatusCode(http.StatusBadRequest)
	ErrServiceUnavailable apperrors.Error = ErrRouter.New("All AI services are currently unavailable.").SetStatusCode(http.StatusServiceUnavailable)
	ErrRetrieval          apperrors.Error = ErrRouter.New("context retrieval failed").SetStatusCode(http.StatusServiceUnavailable)
)
