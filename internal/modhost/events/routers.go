package events

import (
	"net/http"
	"strconv"

	"github.com/tansive/modhost/internal/common/httpx"
	"github.com/tansive/modhost/internal/modhost/modcommon"
)

// Handlers are mounted at the server root: /audit-logs and /usage-metrics.
func (r *Recorder) Handlers() []httpx.ResponseHandlerParam {
	return []httpx.ResponseHandlerParam{
		{Method: http.MethodGet, Path: "/audit-logs", Handler: r.listAuditLogs},
		{Method: http.MethodGet, Path: "/usage-metrics", Handler: r.listUsageMetrics},
	}
}

// listScope reads the tenant and the optional ?limit=. The store clamps the
// limit; zero means its default.
func listScope(req *http.Request) (string, int, error) {
	tenantID := modcommon.GetTenantID(req.Context())
	if tenantID == "" {
		return "", 0, httpx.ErrInvalidTenantId()
	}
	limit := 0
	if s := req.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return "", 0, httpx.ErrInvalidRequest("limit must be a non-negative integer")
		}
		limit = n
	}
	return string(tenantID), limit, nil
}

func (r *Recorder) listAuditLogs(req *http.Request) (*httpx.Response, error) {
	tenantID, limit, err := listScope(req)
	if err != nil {
		return nil, err
	}
	entries, aerr := r.ListAudit(req.Context(), tenantID, limit)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: entries}, nil
}

func (r *Recorder) listUsageMetrics(req *http.Request) (*httpx.Response, error) {
	tenantID, limit, err := listScope(req)
	if err != nil {
		return nil, err
	}
	samples, aerr := r.ListUsage(req.Context(), tenantID, limit)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: samples}, nil
}
