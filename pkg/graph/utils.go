// Package graph provides utility functions for common operations and error handling.
package graph

import (
	"io"

	"github.com/tonimelisma/graph-snippets/internal/logger"
)

// closeBodySafely closes an HTTP response body and logs any error.
// This is intended for use in defer statements where error handling is not critical.
func closeBodySafely(body io.Closer, log logger.Logger, operation string) {
	if err := body.Close(); err != nil && log != nil {
		log.Warnf("Failed to close %s body: %v", operation, err)
	}
}

// seekToStart resets a ReadSeeker to the beginning for retry operations.
func seekToStart(body io.ReadSeeker) error {
	if body == nil {
		return nil
	}
	_, err := body.Seek(0, io.SeekStart)
	return err
}

// maxErrorBody bounds how much of an error response is kept in errors.
const maxErrorBody = 64 * 1024

// readErrorBody reads and returns the error body from an HTTP response, with safe error handling.
func readErrorBody(body io.Reader) string {
	if body == nil {
		return ""
	}
	errorBody, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return string(errorBody)
}
