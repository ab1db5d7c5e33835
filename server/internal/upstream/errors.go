package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTransport wraps failures to reach upstream within the timeout.
	ErrTransport = errors.New("upstream transport error")

	// ErrValidation wraps malformed or unsuccessful top-level responses.
	ErrValidation = errors.New("upstream response invalid")
)

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: unexpected status %d", e.Code)
}

// Is lets errors.Is(err, ErrTransport) match a StatusError.
func (e *StatusError) Is(target error) bool { return target == ErrTransport }

// IsTimeout reports whether err was caused by the fetch deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Reason returns a short, stable label for err, used in logs and metrics:
// "timeout", "transport", "status", "validation" or "other".
func Reason(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return "status"
	case errors.Is(err, ErrTransport) && IsTimeout(err):
		return "timeout"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "other"
	}
}
