package apierr

import (
	"fmt"
	"net/http"

	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// FromError maps an aggregate error code onto an HTTP status. Errors without a
// code become 500 internal.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*Error); ok {
		return ae
	}
	code := domainagg.CodeOf(err)
	if code == "" {
		return New(http.StatusInternalServerError, string(domainagg.CodeInternal), err)
	}
	return New(StatusFor(code), string(code), err)
}

func StatusFor(code domainagg.ErrorCode) int {
	switch code {
	case domainagg.CodeNotFound:
		return http.StatusNotFound
	case domainagg.CodeValidation, domainagg.CodeInvalidContent:
		return http.StatusBadRequest
	case domainagg.CodeConflict, domainagg.CodeInvalidState:
		return http.StatusConflict
	case domainagg.CodeInsufficientResources:
		return http.StatusPaymentRequired
	case domainagg.CodeRateLimited:
		return http.StatusTooManyRequests
	case domainagg.CodeRetryable:
		return http.StatusServiceUnavailable
	case domainagg.CodeExternalUnavailable, domainagg.CodeMalformedResponse, domainagg.CodeNoHandleReturned:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
