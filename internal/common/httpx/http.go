// Package httpx adapts modhost handlers to net/http. Handlers return a Response
// or an error; errors carrying a status code are rendered as the standard
// {"result":0,"error":"..."} body.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// GetRequestData decodes the JSON body of a POST or PUT request into data.
func GetRequestData(r *http.Request, data any) error {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil {
		log.Ctx(r.Context()).Error().Msg("empty request body")
		return ErrUnableToParseReqData()
	}
	if err := json.NewDecoder(r.Body).Decode(data); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return ErrRequestTooLarge(maxErr.Limit)
		}
		if errors.Is(err, io.EOF) {
			return ErrInvalidRequest("request body is empty")
		}
		return ErrUnableToParseReqData()
	}
	return nil
}

// Response is what a RequestHandler hands back on success.
type Response struct {
	StatusCode  int
	Location    string
	Response    any
	ContentType string
}

// RequestHandler is the signature of every modhost API handler.
type RequestHandler func(r *http.Request) (*Response, error)

// WrapHttpRsp turns a RequestHandler into an http.HandlerFunc.
func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			SendError(w, err)
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		if rsp.ContentType == "" {
			rsp.ContentType = "application/json"
		}
		var location []string
		if rsp.Location != "" {
			location = append(location, rsp.Location)
		}
		switch rsp.ContentType {
		case "application/json":
			SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response, location...)
		case "text/plain":
			body, _ := rsp.Response.(string)
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(rsp.StatusCode)
			w.Write([]byte(body))
		default:
			ErrApplicationError("unsupported response type").Send(w)
		}
	})
}

// ResponseHandlerParam binds a handler to a method and path in a router table.
type ResponseHandlerParam struct {
	Method  string
	Path    string
	Handler RequestHandler
}
