package crud

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is an error with the status code and message sent to the client
type HTTPError struct {
	Status  int
	Message string
	// Errors is set for validation failures
	Errors ValidationErrors
	Err    error
}

func NewHTTPError(status int, message string) *HTTPError {
	return &HTTPError{Status: status, Message: message}
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// newValidationError builds the 412 error for a failed save
func newValidationError(errs ValidationErrors) *HTTPError {
	message := "A validation error occurred"
	if n := errs.Count(); n > 1 {
		message = fmt.Sprintf("%d validation errors occurred", n)
	}
	return &HTTPError{Status: http.StatusPreconditionFailed, Message: message, Errors: errs}
}

// asHTTPError maps any error to the response it should produce
func asHTTPError(err error) *HTTPError {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return &HTTPError{Status: http.StatusInternalServerError, Message: "An internal error occurred", Err: err}
}
