package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/slamtalk/slamtalk/internal/apperr"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(statusCode int) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    lower(http.StatusText(statusCode)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound)
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError)
	e.Err = err
	return e
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden)
}

func NewConflictError() *ApiError {
	return newApiError(http.StatusConflict)
}

// NewValidationError reports the first failed field of a request body.
func NewValidationError(err error) *ApiError {
	e := NewBadRequestError()
	e.Code = string(apperr.InvalidArgument)
	e.Err = err

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		e.Message = fmt.Sprintf("%s failed on %s", lower(fe.Field()), fe.Tag())
	}
	return e
}

// NewErrorFromApp maps a service error onto a response. Errors without a
// domain code are internal.
func NewErrorFromApp(err error) *ApiError {
	code, ok := apperr.CodeOf(err)
	if !ok {
		return NewInternalServerError(err)
	}

	e := newApiError(apperr.HTTPStatus(err))
	e.Code = string(code)
	e.Err = err

	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Message != "" {
		e.Message = ae.Message
	}
	return e
}
