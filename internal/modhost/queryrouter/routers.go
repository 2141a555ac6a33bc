package queryrouter

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tansive/modhost/internal/common/httpx"
	"github.com/tansive/modhost/internal/modhost/modcommon"
)

type askRequest struct {
	ModuleID string `json:"module_id"`
	Question string `json:"question"`
}

// Router returns the /ask route. Extra middleware, such as the rate
// limiter, wraps only this route.
func (r *Router) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	cr := chi.NewRouter()
	cr.Use(middlewares...)
	cr.Method(http.MethodPost, "/", httpx.WrapHttpRsp(r.ask))
	return cr
}

func (r *Router) ask(req *http.Request) (*httpx.Response, error) {
	tenantID := modcommon.GetTenantID(req.Context())
	if tenantID == "" {
		return nil, httpx.ErrInvalidTenantId()
	}
	body := &askRequest{}
	if err := httpx.GetRequestData(req, body); err != nil {
		return nil, err
	}
	answer, err := r.Ask(req.Context(), string(tenantID), body.ModuleID, body.Question)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: answer}, nil
}
