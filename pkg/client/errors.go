package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Common errors returned by the client.
var (
	// ErrNotFound is wrapped by errors for 404 responses.
	ErrNotFound = errors.New("resource not found")

	// ErrRateLimited is wrapped when the request budget is spent, either
	// locally or as reported by a 429 response.
	ErrRateLimited = errors.New("rate limited")

	// ErrCircuitOpen is wrapped when the circuit breaker rejects a request.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrInvalidRequest is returned for arguments the API would reject.
	ErrInvalidRequest = errors.New("invalid request")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassNotFound represents 404 responses.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and locally blocked requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport failures, timeouts and an open breaker.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError is a failed call to the collection API.
type APIError struct {
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	// RetryAfter is the server-requested pause on 429 responses.
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		if e.Err != nil {
			return fmt.Sprintf("artic %s error: %s: %v", e.ErrorClass, e.Message, e.Err)
		}
		return fmt.Sprintf("artic %s error: %s", e.ErrorClass, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("artic %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("artic %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the response status, or 0 for failures without one.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// countsAsSuccess reports whether err leaves the circuit breaker's failure
// count untouched. Rejections caused by the request itself say nothing about
// the health of the API.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass == ErrorClassClient || apiErr.ErrorClass == ErrorClassNotFound
	}
	return false
}

// classifyStatus maps an HTTP status to its error class.
func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusNotFound:
		return ErrorClassNotFound
	case code == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case code >= 400 && code < 500:
		return ErrorClassClient
	case code >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 4 << 10

// newAPIError builds an APIError from a >= 400 response and closes its body.
// The API reports failures as {"status", "error", "detail"}.
func newAPIError(resp *http.Response) *APIError {
	defer resp.Body.Close()

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		ErrorClass: classifyStatus(resp.StatusCode),
		Message:    resp.Status,
	}

	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)); err == nil {
		if json.Unmarshal(data, &body) == nil {
			switch {
			case body.Detail != "":
				apiErr.Message = body.Detail
			case body.Error != "":
				apiErr.Message = body.Error
			}
		}
	}

	switch apiErr.ErrorClass {
	case ErrorClassNotFound:
		apiErr.Err = ErrNotFound
	case ErrorClassRateLimit:
		apiErr.Err = ErrRateLimited
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	return apiErr
}
