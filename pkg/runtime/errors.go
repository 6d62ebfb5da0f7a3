package runtime

import (
	"context"
	"errors"
	"net"

	"github.com/docker/docker/client"
)

// The adapter classifies every Docker failure into a closed taxonomy so that
// callers never see raw client errors.
var (
	// ErrNotFound means the daemon answered but no such container exists.
	ErrNotFound = errors.New("container not found")

	// ErrUnreachable means the daemon itself could not be contacted.
	ErrUnreachable = errors.New("docker daemon unreachable")
)

// maxAPIErrorLen bounds the daemon error text carried upward.
const maxAPIErrorLen = 500

// APIError means the daemon responded with an error. The message is the
// daemon's own, truncated to maxAPIErrorLen characters.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "docker api error: " + e.Message
}

// classify maps a Docker client error onto the adapter taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return ErrNotFound
	}
	if client.IsErrConnectionFailed(err) {
		return ErrUnreachable
	}
	// A dial failure or an expired call budget both mean the daemon was not
	// contactable within bounds.
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return ErrUnreachable
	}

	msg := err.Error()
	if len(msg) > maxAPIErrorLen {
		msg = msg[:maxAPIErrorLen]
	}
	return &APIError{Message: msg}
}
