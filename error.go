// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package webio

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed reports I/O on a closed session. Tasks parked on a
	// session receive it when the session closes.
	ErrSessionClosed = errors.New("webio: session closed")

	// ErrNoSession reports I/O from a goroutine that is not bound to a session.
	ErrNoSession = errors.New("webio: no session bound to the calling task")

	// ErrWrongSessionKind reports a cooperative-only call in a preemptive
	// session or the reverse.
	ErrWrongSessionKind = errors.New("webio: operation not supported by this session kind")

	// ErrBadArgument reports a programming error in an I/O call: invalid
	// scope or item name, duplicate item name, unknown input type or an
	// unparsable size.
	ErrBadArgument = errors.New("webio: bad argument")

	// ErrMalformedEvent reports an inbound frame that cannot be decoded.
	ErrMalformedEvent = errors.New("webio: malformed event")
)

func badArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadArgument, fmt.Sprintf(format, args...))
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, fmt.Sprintf(format, args...))
}

// FieldError is returned by a form validator to mark one item invalid.
type FieldError struct {
	Name    string
	Message string
}

func (e *FieldError) Error() string {
	return e.Name + ": " + e.Message
}

// PanicError wraps a panic recovered from application code.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// quiet reports whether err ends a task without being an application fault.
func quiet(err error) bool {
	return err == nil || errors.Is(err, ErrSessionClosed)
}
