package orchestration

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tansive/modhost/internal/common/httpx"
	"github.com/tansive/modhost/internal/common/uuid"
	"github.com/tansive/modhost/internal/modhost/modcommon"
)

func (s *Service) handlers() []httpx.ResponseHandlerParam {
	return []httpx.ResponseHandlerParam{
		{Method: http.MethodGet, Path: "/", Handler: s.listOrchestrations},
		{Method: http.MethodPost, Path: "/", Handler: s.createOrchestration},
		{Method: http.MethodGet, Path: "/{id}", Handler: s.getOrchestration},
		{Method: http.MethodPut, Path: "/{id}", Handler: s.updateOrchestration},
		{Method: http.MethodDelete, Path: "/{id}", Handler: s.deleteOrchestration},
		{Method: http.MethodPost, Path: "/{id}/trigger", Handler: s.triggerOrchestration},
	}
}

// Router returns the /orchestrations routes.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	for _, h := range s.handlers() {
		r.Method(h.Method, h.Path, httpx.WrapHttpRsp(h.Handler))
	}
	return r
}

func requestScope(r *http.Request) (string, string, error) {
	tenantID := modcommon.GetTenantID(r.Context())
	if tenantID == "" {
		return "", "", httpx.ErrInvalidTenantId()
	}
	return string(tenantID), modcommon.UserID(r.Context()), nil
}

func orchestrationID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, ErrInvalidID
	}
	return id, nil
}

func (s *Service) listOrchestrations(r *http.Request) (*httpx.Response, error) {
	tenantID, _, err := requestScope(r)
	if err != nil {
		return nil, err
	}
	list, aerr := s.List(r.Context(), tenantID)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: list}, nil
}

func (s *Service) createOrchestration(r *http.Request) (*httpx.Response, error) {
	tenantID, userID, err := requestScope(r)
	if err != nil {
		return nil, err
	}
	req := &Request{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}
	o, aerr := s.Create(r.Context(), tenantID, userID, req)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/orchestrations/" + o.ID.String(),
		Response:   o,
	}, nil
}

func (s *Service) getOrchestration(r *http.Request) (*httpx.Response, error) {
	tenantID, _, err := requestScope(r)
	if err != nil {
		return nil, err
	}
	id, err := orchestrationID(r)
	if err != nil {
		return nil, err
	}
	o, aerr := s.Get(r.Context(), tenantID, id)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: o}, nil
}

func (s *Service) updateOrchestration(r *http.Request) (*httpx.Response, error) {
	tenantID, userID, err := requestScope(r)
	if err != nil {
		return nil, err
	}
	id, err := orchestrationID(r)
	if err != nil {
		return nil, err
	}
	req := &Request{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}
	o, aerr := s.Update(r.Context(), tenantID, userID, id, req)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: o}, nil
}

func (s *Service) deleteOrchestration(r *http.Request) (*httpx.Response, error) {
	tenantID, userID, err := requestScope(r)
	if err != nil {
		return nil, err
	}
	id, err := orchestrationID(r)
	if err != nil {
		return nil, err
	}
	if aerr := s.Delete(r.Context(), tenantID, userID, id); aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   map[string]string{"status": "deleted", "id": id.String()},
	}, nil
}

func (s *Service) triggerOrchestration(r *http.Request) (*httpx.Response, error) {
	tenantID, userID, err := requestScope(r)
	if err != nil {
		return nil, err
	}
	id, err := orchestrationID(r)
	if err != nil {
		return nil, err
	}
	run, aerr := s.Trigger(r.Context(), tenantID, userID, id)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: run}, nil
}

// RunRequest is the body of a direct module run.
type RunRequest struct {
	Input json.RawMessage `json:"input"`
}

// Handlers are mounted under /modules next to the activation routes.
func (rn *Runner) Handlers() []httpx.ResponseHandlerParam {
	return []httpx.ResponseHandlerParam{
		{Method: http.MethodPost, Path: "/{name}/run", Handler: rn.runModule},
		{Method: http.MethodGet, Path: "/{name}/runs", Handler: rn.listRuns},
		{Method: http.MethodGet, Path: "/{name}/runs/{id}", Handler: rn.getRun},
	}
}

func (rn *Runner) runModule(r *http.Request) (*httpx.Response, error) {
	tenantID, userID, err := requestScope(r)
	if err != nil {
		return nil, err
	}
	req := &RunRequest{}
	if r.ContentLength != 0 {
		if err := httpx.GetRequestData(r, req); err != nil {
			return nil, err
		}
	}
	name := chi.URLParam(r, "name")
	run, aerr := rn.Run(r.Context(), tenantID, userID, name, req.Input)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/modules/" + name + "/runs/" + run.ID.String(),
		Response:   run,
	}, nil
}

func (rn *Runner) listRuns(r *http.Request) (*httpx.Response, error) {
	tenantID, _, err := requestScope(r)
	if err != nil {
		return nil, err
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, httpx.ErrInvalidRequest("limit must be a non-negative integer")
		}
		limit = n
	}
	runs, aerr := rn.ListRuns(r.Context(), tenantID, chi.URLParam(r, "name"), limit)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: runs}, nil
}

func (rn *Runner) getRun(r *http.Request) (*httpx.Response, error) {
	tenantID, _, err := requestScope(r)
	if err != nil {
		return nil, err
	}
	id, perr := uuid.Parse(chi.URLParam(r, "id"))
	if perr != nil {
		return nil, ErrInvalidRunID
	}
	run, aerr := rn.GetRun(r.Context(), tenantID, chi.URLParam(r, "name"), id)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: run}, nil
}
