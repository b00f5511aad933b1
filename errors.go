// Copyright 2025 The octopus-usage-exporter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNoTelemetry is returned when the API answers without any telemetry rows for a device.
	ErrNoTelemetry = errors.New("no telemetry returned")

	// ErrTokenExpired marks a request rejected because the bearer token is no longer accepted.
	ErrTokenExpired = errors.New("token expired or rejected")
)

// APIError represents an HTTP-level error from the Octopus Energy API
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
	Retryable  bool
	Err        error // Underlying error if any
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("API error (%d) at %s: %s (caused by: %v)", e.StatusCode, e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("API error (%d) at %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new APIError with automatic retryable detection.
// A zero status code means the request never got a response and is retryable.
func NewAPIError(statusCode int, endpoint, message string, err error) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Endpoint:   endpoint,
		Message:    message,
		Retryable:  statusCode == 0 || isRetryableStatus(statusCode),
		Err:        err,
	}
}

// isRetryableStatus determines if an HTTP status code is retryable
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	default:
		return false
	}
}

// isAuthStatus reports whether the status code means the token was refused
func isAuthStatus(statusCode int) bool {
	return statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden
}

// GraphQLError is an error entry reported in the "errors" array of a GraphQL response
type GraphQLError struct {
	Code    string // Kraken error code from extensions.errorCode
	Message string
}

func (e *GraphQLError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("GraphQL error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("GraphQL error: %s", e.Message)
}

// RateLimited reports whether the API refused the query because of rate limiting
func (e *GraphQLError) RateLimited() bool {
	return e.Code == OctopusErrorCodeRateLimited ||
		strings.Contains(strings.ToLower(e.Message), "too many requests")
}

// AuthExpired reports whether the API refused the query because of the token
func (e *GraphQLError) AuthExpired() bool {
	if e.Code == OctopusErrorCodeJWTExpired || e.Code == OctopusErrorCodeInvalidAuth {
		return true
	}
	return strings.Contains(e.Message, "Signature of the JWT has expired") ||
		strings.Contains(e.Message, "JWT has expired") ||
		strings.Contains(e.Message, "Token has expired")
}

func (e *GraphQLError) Unwrap() error {
	if e.AuthExpired() {
		return ErrTokenExpired
	}
	return nil
}

// AuthError represents a failure to obtain or decode a bearer token
type AuthError struct {
	Code    string // Error code from API (e.g., "KT-CT-1139")
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Code != "" {
		return fmt.Sprintf("authentication error [%s]: %s", e.Code, msg)
	}
	return fmt.Sprintf("authentication error: %s", msg)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// DiscoveryError is raised at startup when a requested fuel has no usable smart meter
type DiscoveryError struct {
	Fuel    FuelKind
	Account string
	Err     error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("discovery error for %s on account %s: %v", e.Fuel, e.Account, e.Err)
	}
	return fmt.Sprintf("discovery error for %s on account %s: no smart meter found", e.Fuel, e.Account)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// ShapeError represents a response that decoded but did not have the expected structure
type ShapeError struct {
	DeviceID string
	Field    string
	Err      error
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("unexpected response shape for device %s at %s: %v", e.DeviceID, e.Field, e.Err)
}

func (e *ShapeError) Unwrap() error {
	return e.Err
}

// ValidationError represents configuration or input validation errors
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation error for %s (value: %v): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// isRetryable reports whether a failed request is worth repeating
func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	var gqlErr *GraphQLError
	if errors.As(err, &gqlErr) {
		return gqlErr.RateLimited()
	}
	return false
}

// isRateLimited reports whether the API throttled the request
func isRateLimited(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	var gqlErr *GraphQLError
	return errors.As(err, &gqlErr) && gqlErr.RateLimited()
}
