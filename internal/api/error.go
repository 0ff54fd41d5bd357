package api

import (
	"net/http"
	"strings"
)

// apiError is an error with an HTTP status and a machine-readable code.
// Order validation failures carry "CODE: human reason" messages; the code
// part becomes the response code field.
type apiError struct {
	Status int    `json:"-"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (e *apiError) Error() string {
	return e.Reason
}

// rejection converts a validation error into a 400 response.
func rejection(err error) *apiError {
	code := "INVALID_ORDER"
	reason := err.Error()
	if i := strings.Index(reason, ": "); i > 0 && !strings.ContainsAny(reason[:i], " \t") {
		code = reason[:i]
		reason = reason[i+2:]
	}
	return &apiError{Status: http.StatusBadRequest, Code: code, Reason: reason}
}

func badRequest(reason string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "INVALID_REQUEST", Reason: reason}
}

func notFound() *apiError {
	return &apiError{Status: http.StatusNotFound, Code: "NOT_FOUND", Reason: "order not found"}
}

func methodNotAllowed() *apiError {
	return &apiError{Status: http.StatusMethodNotAllowed, Code: "METHOD_NOT_ALLOWED", Reason: "method not allowed"}
}

func internalError() *apiError {
	return &apiError{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Reason: "internal error"}
}
