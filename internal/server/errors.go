package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/vervex/pkg/errs"
	"gorm.io/gorm"
)

// errorResponse is the body of every failed request. Error carries the kind,
// Code the stable machine code of the underlying sentinel.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

var (
	ErrUnauthorized   = errs.New(errs.KindUnauthenticated, "unauthorized")
	ErrInvalidRequest = errs.New(errs.KindInvalidArgument, "invalid_request")
	ErrNotFound       = errs.New(errs.KindNotFound, "not_found")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, resp := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, resp)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return ErrInvalidRequest
}

func mapError(err error) (int, errorResponse) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrNotFound
	}

	kind := errs.KindOf(err)
	if kind == errs.KindInternal {
		return http.StatusInternalServerError, errorResponse{
			Error:   string(errs.KindInternal),
			Message: "internal server error",
		}
	}

	code := errs.Code(err)
	return statusFor(kind), errorResponse{
		Error:   string(kind),
		Message: strings.ReplaceAll(code, "_", " "),
		Code:    code,
	}
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidArgument:
		return http.StatusBadRequest
	case errs.KindUnauthenticated:
		return http.StatusUnauthorized
	case errs.KindPermissionDenied:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindAlreadyExists:
		return http.StatusConflict
	case errs.KindFailedPrecondition:
		return http.StatusPreconditionFailed
	case errs.KindResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// classifyErrorForLog reduces an error to low-cardinality log fields.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return string(errs.KindNotFound), ErrNotFound.Code
	}
	return string(errs.KindOf(err)), errs.Code(err)
}
