package retry

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// Class is the failure classification of an error.
type Class int

const (
	Other Class = iota
	QuotaExhausted
	ServerBusy
)

func (c Class) String() string {
	switch c {
	case QuotaExhausted:
		return "quota-exhausted"
	case ServerBusy:
		return "server-busy"
	default:
		return "other"
	}
}

// Retryable reports whether errors of this class are retried.
func (c Class) Retryable() bool {
	return c == QuotaExhausted || c == ServerBusy
}

const statusResourceExhausted = "RESOURCE_EXHAUSTED"

// StatusError is a transport failure carrying an HTTP status code and an
// optional status string (e.g. RESOURCE_EXHAUSTED).
type StatusError struct {
	Code    int
	Status  string
	Message string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("status %d (%s): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

func (e *StatusError) StatusCode() int { return e.Code }

type statusCoder interface {
	StatusCode() int
}

// Classify derives the failure class from an error's status code, status
// string, and message.
func Classify(err error) Class {
	if err == nil {
		return Other
	}
	code, status, msg := inspect(err)

	if code == http.StatusTooManyRequests ||
		strings.Contains(msg, "429") ||
		strings.Contains(strings.ToLower(msg), "quota") ||
		status == statusResourceExhausted {
		return QuotaExhausted
	}
	if code == http.StatusServiceUnavailable {
		return ServerBusy
	}
	return Other
}

func inspect(err error) (code int, status, msg string) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Status, apiErr.Message
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Status, apiErrPtr.Message
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, se.Status, se.Message
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), "", err.Error()
	}
	return 0, "", err.Error()
}
