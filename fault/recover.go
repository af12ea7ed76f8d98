package fault

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// IsRecoverable reports whether an error justifies switching strategy, such
// as falling through to the next generation provider. Classified errors are
// recoverable only when their kind is KindUpstreamUnavailable; unclassified
// errors are judged by type and message heuristics.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == KindUpstreamUnavailable
	}
	return isRecoverableByType(err)
}

// isRecoverableByType applies heuristics to plain errors.
func isRecoverableByType(err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		return false // cancellation is intentional
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return isRecoverableByType(urlErr.Err)
	}

	errStr := strings.ToLower(err.Error())
	recoverablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"rate limit",
		"quota",
		"resource exhausted",
		"service unavailable",
		"internal server error",
		"bad gateway",
		"gateway timeout",
	}
	for _, pattern := range recoverablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
