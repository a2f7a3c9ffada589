package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ValidationError is a client-side precondition failure, raised before any request is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NetworkError covers timeouts and connectivity failures.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *APIError) ServerSide() bool {
	return e.Status >= 500
}

var ErrTooLarge = errors.New("response exceeds size limit")

// IsRetryable reports whether another attempt could succeed:
// network failures and 5xx are retried, validation and 4xx never are.
func IsRetryable(err error) bool {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ServerSide()
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return !errors.Is(netErr.Err, context.Canceled)
	}
	return false
}

// parseAPIError pulls a message out of the FastAPI-style error bodies the backend sends.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Code: strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")}

	var payload struct {
		Error  string `json:"error"`
		Code   string `json:"code"`
		Detail any    `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(truncate(body, 200)))
		return apiErr
	}

	if payload.Code != "" {
		apiErr.Code = payload.Code
	}
	switch {
	case payload.Error != "":
		apiErr.Message = payload.Error
	case payload.Detail != nil:
		if s, ok := payload.Detail.(string); ok {
			apiErr.Message = s
		} else if b, err := json.Marshal(payload.Detail); err == nil {
			apiErr.Message = string(truncate(b, 200))
		}
	}
	return apiErr
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
