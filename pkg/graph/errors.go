// Package graph (errors.go) defines the sentinel and typed errors returned by
// the Graph client, the page iterator and the large file upload task.
package graph

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors
var (
	ErrReauthRequired        = errors.New("re-authentication required")
	ErrAccessDenied          = errors.New("access denied")
	ErrRetryLater            = errors.New("retry later")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrResourceNotFound      = errors.New("resource not found")
	ErrConflict              = errors.New("conflict")
	ErrQuotaExceeded         = errors.New("quota exceeded")
	ErrAuthorizationPending  = errors.New("authorization pending")
	ErrAuthorizationDeclined = errors.New("authorization declined")
	ErrTokenExpired          = errors.New("token expired")
	ErrDecodingFailed        = errors.New("decoding failed")
	ErrOperationFailed       = errors.New("operation failed")
)

// Protocol errors for the iterator and upload task.
var (
	// ErrInvalidState is returned when an operation is called in a state that
	// does not allow it, e.g. Resume on an iterator that is not paused.
	ErrInvalidState = errors.New("invalid state")

	// ErrSessionExpired is returned when an upload session's expiration time
	// has passed.
	ErrSessionExpired = errors.New("upload session expired")

	// ErrUploadFailed matches every *UploadError via errors.Is.
	ErrUploadFailed = errors.New("upload failed")
)

// TransportError reports that a request could not complete at the network
// level: no HTTP response was received.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("network error during %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError carries the status and Graph error body of a failed request.
// It unwraps to the sentinel error the status/code maps to, if any.
type APIError struct {
	StatusCode int
	Status     string
	Code       string
	Message    string
	sentinel   error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.sentinel != nil {
		return fmt.Sprintf("%v: %s", e.sentinel, msg)
	}
	if e.Code != "" {
		return fmt.Sprintf("Graph error: %s - %s: %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("HTTP error: %s - %s", e.Status, msg)
}

func (e *APIError) Unwrap() error { return e.sentinel }

// UploadError is the terminal failure of an upload task. Offset is the last
// byte offset the server acknowledged; a later Resume continues from there.
type UploadError struct {
	StatusCode int
	Body       string
	Offset     int64
	Attempts   int
	Err        error
}

func (e *UploadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload failed at offset %d after %d attempt(s) with status %d: %s", e.Offset, e.Attempts, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upload failed at offset %d after %d attempt(s): %v", e.Offset, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUploadFailed) true for every UploadError.
func (e *UploadError) Is(target error) bool { return target == ErrUploadFailed }

// graphErrorBody is the JSON error envelope returned by Microsoft Graph.
type graphErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// sentinelForCode maps a Graph error code to a sentinel error.
func sentinelForCode(code string) error {
	switch code {
	case "accessDenied", "Forbidden":
		return ErrAccessDenied
	case "activityLimitReached", "serviceNotAvailable", "TooManyRequests":
		return ErrRetryLater
	case "itemNotFound", "ItemNotFound", "ErrorItemNotFound":
		return ErrResourceNotFound
	case "nameAlreadyExists", "NameAlreadyExists":
		return ErrConflict
	case "invalidRange", "invalidRequest", "InvalidRequest", "malwareDetected",
		"notAllowed", "notSupported", "resourceModified",
		"resyncRequired", "generalException", "ErrorInvalidRequest":
		return ErrInvalidRequest
	case "quotaLimitReached", "InsufficientQuota":
		return ErrQuotaExceeded
	case "unauthenticated", "InvalidAuthenticationToken":
		return ErrReauthRequired
	}
	return nil
}

// sentinelForStatus maps an HTTP status code to a sentinel error.
func sentinelForStatus(status int) error {
	switch status {
	case http.StatusBadRequest, http.StatusMethodNotAllowed, http.StatusNotAcceptable,
		http.StatusLengthRequired, http.StatusPreconditionFailed,
		http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType,
		http.StatusRequestedRangeNotSatisfiable, http.StatusUnprocessableEntity:
		return ErrInvalidRequest
	case http.StatusUnauthorized:
		return ErrReauthRequired
	case http.StatusForbidden:
		return ErrAccessDenied
	case http.StatusGone, http.StatusNotFound:
		return ErrResourceNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusInsufficientStorage:
		return ErrQuotaExceeded
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, 509:
		return ErrRetryLater
	}
	return nil
}
