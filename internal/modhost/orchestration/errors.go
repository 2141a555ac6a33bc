package orchestration

import (
	"net/http"

	"github.com/tansive/modhost/internal/common/apperrors"
)

var (
	ErrOrchestration  apperrors.Error = apperrors.New("orchestration error").SetStatusCode(http.StatusInternalServerError)
	ErrValidation     apperrors.Error = ErrOrchestration.New("validation error").SetStatusCode(http.StatusBadRequest)
	ErrUnknownModules apperrors.Error = ErrValidation.New("pipeline references unknown modules")
	ErrInvalidID      apperrors.Error = ErrValidation.New("invalid orchestration id")
	ErrInvalidRunID   apperrors.Error = ErrValidation.New("invalid run id")
	ErrInvalidInput   apperrors.Error = ErrValidation.New("run input must be a JSON object")

	ErrStepFailed     apperrors.Error = apperrors.New("step failed")
	ErrModuleInactive apperrors.Error = ErrStepFailed.New("module is not active for tenant")
	ErrNoInvoker      apperrors.Error = ErrStepFailed.New("no invoker for module kind")
)
