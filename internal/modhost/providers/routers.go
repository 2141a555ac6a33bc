package providers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tansive/modhost/internal/common/httpx"
	"github.com/tansive/modhost/internal/modhost/modcommon"
)

func (s *Service) handlers() []httpx.ResponseHandlerParam {
	return []httpx.ResponseHandlerParam{
		{Method: http.MethodGet, Path: "/", Handler: s.listProviders},
		{Method: http.MethodPost, Path: "/", Handler: s.createProvider},
		{Method: http.MethodGet, Path: "/{name}", Handler: s.getProvider},
		{Method: http.MethodPut, Path: "/{name}", Handler: s.updateProvider},
		{Method: http.MethodDelete, Path: "/{name}", Handler: s.deleteProvider},
	}
}

// Router returns the /providers routes.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	for _, h := range s.handlers() {
		r.Method(h.Method, h.Path, httpx.WrapHttpRsp(h.Handler))
	}
	return r
}

func tenantOf(r *http.Request) (string, error) {
	tenantID := modcommon.GetTenantID(r.Context())
	if tenantID == "" {
		return "", httpx.ErrInvalidTenantId()
	}
	return string(tenantID), nil
}

func (s *Service) listProviders(r *http.Request) (*httpx.Response, error) {
	tenantID, err := tenantOf(r)
	if err != nil {
		return nil, err
	}
	list, aerr := s.List(r.Context(), tenantID)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: list}, nil
}

func (s *Service) createProvider(r *http.Request) (*httpx.Response, error) {
	tenantID, err := tenantOf(r)
	if err != nil {
		return nil, err
	}
	req := &Request{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}
	v, aerr := s.Create(r.Context(), tenantID, modcommon.UserID(r.Context()), req)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusCreated, Location: "/providers/" + v.Name, Response: v}, nil
}

func (s *Service) getProvider(r *http.Request) (*httpx.Response, error) {
	tenantID, err := tenantOf(r)
	if err != nil {
		return nil, err
	}
	v, aerr := s.Get(r.Context(), tenantID, chi.URLParam(r, "name"))
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: v}, nil
}

func (s *Service) updateProvider(r *http.Request) (*httpx.Response, error) {
	tenantID, err := tenantOf(r)
	if err != nil {
		return nil, err
	}
	req := &Request{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}
	v, aerr := s.Update(r.Context(), tenantID, modcommon.UserID(r.Context()), chi.URLParam(r, "name"), req.Secret)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: v}, nil
}

func (s *Service) deleteProvider(r *http.Request) (*httpx.Response, error) {
	tenantID, err := tenantOf(r)
	if err != nil {
		return nil, err
	}
	name := chi.URLParam(r, "name")
	if aerr := s.Delete(r.Context(), tenantID, modcommon.UserID(r.Context()), name); aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   map[string]string{"status": "deleted", "provider": name},
	}, nil
}
