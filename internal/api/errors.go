package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// AppError is an error with the HTTP status it maps to.
type AppError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest         = &AppError{Code: http.StatusBadRequest, Message: "bad request"}
	ErrUnauthorized       = &AppError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	ErrForbidden          = &AppError{Code: http.StatusForbidden, Message: "forbidden"}
	ErrNotFound           = &AppError{Code: http.StatusNotFound, Message: "not found"}
	ErrInternalServer     = &AppError{Code: http.StatusInternalServerError, Message: "internal server error"}
	ErrInvalidToken       = &AppError{Code: http.StatusUnauthorized, Message: "invalid or expired token"}
	ErrServiceUnavailable = &AppError{Code: http.StatusServiceUnavailable, Message: "service unavailable"}
)

func NewBadRequestError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func NewNotFoundError(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

// NewValidationError turns a validator error into a 400 listing each failed
// field and rule, e.g. "validation failed: Message (max=4000)".
func NewValidationError(err error) *AppError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &AppError{Code: http.StatusBadRequest, Message: "validation failed: " + err.Error()}
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		field := fe.Field()
		if field == "" {
			field = "value"
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", field, rule))
	}
	return &AppError{Code: http.StatusBadRequest, Message: "validation failed: " + strings.Join(parts, ", ")}
}

// HandleError writes err as a JSON error. Anything that is not an AppError
// is logged and reported as a bare 500.
func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		JSONErrorMessage(w, appErr.Code, appErr.Message)
		return
	}
	slog.Error("unhandled error", "error", err)
	JSONErrorMessage(w, http.StatusInternalServerError, ErrInternalServer.Message)
}
