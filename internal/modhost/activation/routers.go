package activation

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tansive/modhost/internal/common/httpx"
	"github.com/tansive/modhost/internal/modhost/modcommon"
)

func (c *Controller) handlers() []httpx.ResponseHandlerParam {
	return []httpx.ResponseHandlerParam{
		{Method: http.MethodGet, Path: "/", Handler: c.listModules},
		{Method: http.MethodPost, Path: "/", Handler: c.registerModule},
		{Method: http.MethodGet, Path: "/active", Handler: c.listActive},
		{Method: http.MethodGet, Path: "/{name}", Handler: c.getModule},
		{Method: http.MethodPost, Path: "/{name}/activate", Handler: c.activateModule},
		{Method: http.MethodPost, Path: "/{name}/deactivate", Handler: c.deactivateModule},
		{Method: http.MethodPost, Path: "/{name}/reconcile", Handler: c.reconcileModule},
	}
}

// Router returns the /modules routes plus any extra module scoped handlers.
func (c *Controller) Router(extra ...httpx.ResponseHandlerParam) chi.Router {
	r := chi.NewRouter()
	for _, h := range append(c.handlers(), extra...) {
		r.Method(h.Method, h.Path, httpx.WrapHttpRsp(h.Handler))
	}
	return r
}

func (c *Controller) listModules(r *http.Request) (*httpx.Response, error) {
	mods, err := c.ListModules(r.Context())
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: mods}, nil
}

func (c *Controller) getModule(r *http.Request) (*httpx.Response, error) {
	m, err := c.GetModule(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: m}, nil
}

func (c *Controller) registerModule(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	req := &RegisterRequest{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}
	m, err := c.Register(ctx, string(modcommon.GetTenantID(ctx)), modcommon.UserID(ctx), req)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/modules/" + m.Name,
		Response:   &RegisterResult{Status: "registered", Module: m.Name},
	}, nil
}

func (c *Controller) listActive(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	tenantID := modcommon.GetTenantID(ctx)
	if tenantID == "" {
		return nil, httpx.ErrInvalidTenantId()
	}
	links, err := c.ListActive(ctx, string(tenantID))
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: links}, nil
}

func (c *Controller) activateModule(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	tenantID := modcommon.GetTenantID(ctx)
	if tenantID == "" {
		return nil, httpx.ErrInvalidTenantId()
	}
	req := &ActivateRequest{}
	if r.ContentLength != 0 {
		if err := httpx.GetRequestData(r, req); err != nil {
			return nil, err
		}
	}
	result, err := c.Activate(ctx, string(tenantID), modcommon.UserID(ctx), chi.URLParam(r, "name"), req.Config)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: result}, nil
}

func (c *Controller) deactivateModule(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	tenantID := modcommon.GetTenantID(ctx)
	if tenantID == "" {
		return nil, httpx.ErrInvalidTenantId()
	}
	result, err := c.Deactivate(ctx, string(tenantID), modcommon.UserID(ctx), chi.URLParam(r, "name"))
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: result}, nil
}

func (c *Controller) reconcileModule(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	tenantID := modcommon.GetTenantID(ctx)
	if tenantID == "" {
		return nil, httpx.ErrInvalidTenantId()
	}
	result, err := c.Reconcile(ctx, string(tenantID), chi.URLParam(r, "name"))
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: result}, nil
}
