// Package failure defines the failure taxonomy shared by the transport,
// resilience and orchestration layers.
package failure

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure so callers can tell "retry later" apart from
// "this work cannot be handled".
type Kind string

const (
	KindUnreachable Kind = "Unreachable"
	KindRemote      Kind = "RemoteError"
	KindProtocol    Kind = "ProtocolError"
	KindCircuitOpen Kind = "CircuitOpen"
	KindUnsupported Kind = "Unsupported"
	KindCancelled   Kind = "Cancelled"

	// KindAgent marks a downstream agent that ran but reported its own failure.
	KindAgent Kind = "AgentError"
)

// Error is a classified failure. Status is the HTTP status for KindRemote
// (0 otherwise); RetryAfter carries a server-supplied hint when present.
type Error struct {
	Kind       Kind
	Status     int
	Retryable  bool
	RetryAfter time.Duration
	Msg        string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Unreachable wraps a network-level failure. Always retryable.
func Unreachable(err error, format string, args ...any) *Error {
	return &Error{Kind: KindUnreachable, Retryable: true, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Remote builds a RemoteError for a non-2xx status. 5xx and 429 are retryable.
func Remote(status int, retryAfter time.Duration, format string, args ...any) *Error {
	return &Error{
		Kind:       KindRemote,
		Status:     status,
		Retryable:  status >= 500 || status == 429,
		RetryAfter: retryAfter,
		Msg:        fmt.Sprintf(format, args...),
	}
}

// Protocol wraps a malformed envelope or frame. Never retryable.
func Protocol(err error, format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CircuitOpen reports a breaker rejection for endpoint.
func CircuitOpen(endpoint string) *Error {
	return &Error{Kind: KindCircuitOpen, Msg: "circuit open for " + endpoint}
}

// Unsupported reports work that no route accepts.
func Unsupported(format string, args ...any) *Error {
	return &Error{Kind: KindUnsupported, Msg: fmt.Sprintf(format, args...)}
}

// Cancelled reports an explicit caller cancellation.
func Cancelled(err error) *Error {
	return &Error{Kind: KindCancelled, Msg: "task cancelled", Err: err}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the failure kind of err. Unclassified errors are reported
// as ProtocolError since they originate from local decoding or validation.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return KindProtocol
}

// IsRetryable reports whether err may succeed when attempted again.
func IsRetryable(err error) bool {
	fe, ok := As(err)
	return ok && fe.Retryable
}

// RetryAfterOf returns the server-supplied retry hint, if any.
func RetryAfterOf(err error) time.Duration {
	if fe, ok := As(err); ok {
		return fe.RetryAfter
	}
	return 0
}

// Payload renders err as an error event payload that keeps the kind visible
// to callers.
func Payload(err error) map[string]any {
	p := map[string]any{
		"kind":    string(KindOf(err)),
		"message": err.Error(),
	}
	if fe, ok := As(err); ok {
		p["retryable"] = fe.Retryable
		if fe.Status != 0 {
			p["status"] = fe.Status
		}
		if fe.RetryAfter > 0 {
			p["retry_after_ms"] = fe.RetryAfter.Milliseconds()
		}
	}
	return p
}
