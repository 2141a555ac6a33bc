package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tansive/modhost/internal/common/apperrors"
)

// Error is an HTTP error response.
type Error struct {
	Description string `json:"description"`
	StatusCode  int    `json:"http_status_code"`
	RetryAfter  int    `json:"-"`
}

type errorRsp struct {
	Result int    `json:"result"`
	Error  string `json:"error"`
}

// Failure is the result code of every error body.
const Failure int = 0

// Send writes the error to w.
func (e *Error) Send(w http.ResponseWriter) {
	if w == nil {
		return
	}
	rspJson, err := json.Marshal(&errorRsp{Result: Failure, Error: e.Description})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("unable to encode error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", e.RetryAfter))
	}
	w.WriteHeader(e.StatusCode)
	w.Write(rspJson)
}

func (e *Error) Error() string {
	return e.Description
}

// SendError renders any error. *Error values are sent as is, apperrors.Error
// values use their status code and expanded message, anything else is a 500.
func SendError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var httpErr *Error
	if errors.As(err, &httpErr) {
		httpErr.Send(w)
		return
	}
	var appErr apperrors.Error
	if errors.As(err, &appErr) {
		(&Error{
			StatusCode:  apperrors.StatusOf(appErr),
			Description: appErr.ErrorAll(),
		}).Send(w)
		return
	}
	ErrApplicationError(err.Error()).Send(w)
}

func ErrReqMethodNotSupported() *Error {
	return &Error{
		Description: "request method not supported",
		StatusCode:  http.StatusMethodNotAllowed,
	}
}

func ErrUnableToParseReqData() *Error {
	return &Error{
		Description: "unable to parse request data",
		StatusCode:  http.StatusBadRequest,
	}
}

// ErrApplicationError is a 500 with an optional message.
func ErrApplicationError(msg ...string) *Error {
	s := "unable to process request"
	if len(msg) > 0 {
		s = msg[0]
	}
	return &Error{
		Description: s,
		StatusCode:  http.StatusInternalServerError,
	}
}

// ErrUnAuthorized is a 401 with an optional message.
func ErrUnAuthorized(msg ...string) *Error {
	s := "unable to authenticate request"
	if len(msg) > 0 {
		s = msg[0]
	}
	return &Error{
		Description: s,
		StatusCode:  http.StatusUnauthorized,
	}
}

// ErrInvalidRequest is a 400 with an optional message.
func ErrInvalidRequest(msg ...string) *Error {
	s := "invalid request data or empty request values"
	if len(msg) > 0 {
		s = msg[0]
	}
	return &Error{
		Description: s,
		StatusCode:  http.StatusBadRequest,
	}
}

func ErrInvalidTenantId() *Error {
	return &Error{
		Description: "invalid tenant id",
		StatusCode:  http.StatusBadRequest,
	}
}

func ErrRequestTimeout() *Error {
	return &Error{
		Description: "request timed out",
		StatusCode:  http.StatusRequestTimeout,
	}
}

func ErrRequestTooLarge(limit int64) *Error {
	return &Error{
		Description: fmt.Sprintf("request body too large (limit: %d bytes)", limit),
		StatusCode:  http.StatusRequestEntityTooLarge,
	}
}

// ErrTooManyRequests is a 429 that tells the client when to come back.
func ErrTooManyRequests(retryAfterSeconds int) *Error {
	return &Error{
		Description: "rate limit exceeded",
		StatusCode:  http.StatusTooManyRequests,
		RetryAfter:  retryAfterSeconds,
	}
}
