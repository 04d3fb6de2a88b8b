package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
	"github.com/yungbote/videoqueue-backend/internal/platform/apierr"
)

// ErrorCodeKey is the gin context key under which the error code of the
// response is kept for the request metrics.
const ErrorCodeKey = "error_code"

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if code != "" {
		c.Set(ErrorCodeKey, code)
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondFromError maps an aggregate error onto its status and code. Internal
// failures are logged by the caller and answered with a generic message.
func RespondFromError(c *gin.Context, err error) {
	ae := apierr.FromError(err)
	if ae == nil {
		RespondError(c, http.StatusInternalServerError, string(domainagg.CodeInternal), nil)
		return
	}
	if ae.Status >= http.StatusInternalServerError && domainagg.CodeOf(err) == "" {
		RespondError(c, ae.Status, ae.Code, errors.New("internal error"))
		return
	}
	msg := domainagg.MessageOf(err)
	if msg == "" {
		msg = ae.Error()
	}
	RespondError(c, ae.Status, ae.Code, errors.New(msg))
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
