// MIT License
//
// Copyright (c) 2023 kache.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package coalesce

import (
	"errors"
	"fmt"
)

// Status is the outcome of a Coalesce call.
type Status int

const (
	// StatusOK indicates the call returned a valid result.
	StatusOK Status = iota

	// StatusShutdown indicates the coalescer was or became shut down
	// while the call was in flight.
	StatusShutdown

	// StatusTimeout indicates a follower's wait exceeded MaxWaitTime
	// without the group publishing a result.
	StatusTimeout

	// StatusQueryFailed indicates the leader's query_fn returned an error,
	// propagated unchanged to every waiter in the group.
	StatusQueryFailed
)

// String returns the Status as a string.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "StatusOK"
	case StatusShutdown:
		return "StatusShutdown"
	case StatusTimeout:
		return "StatusTimeout"
	case StatusQueryFailed:
		return "StatusQueryFailed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Sentinel errors a caller can match with errors.Is.
var (
	// ErrShutdownInProgress is returned when the coalescer was or became
	// shut down while a call was in flight. Treat as transient.
	ErrShutdownInProgress = errors.New("coalesce: shutdown in progress")

	// ErrExceededTimeLimit is returned when a follower's wait exceeds
	// MaxWaitTime without publication. Treat as transient.
	ErrExceededTimeLimit = errors.New("coalesce: exceeded time limit")
)

// CoalesceError wraps the outcome of a failed Coalesce call. For
// StatusQueryFailed, Cause is the error returned by the caller's own
// query_fn, propagated unchanged.
type CoalesceError struct {
	Status Status
	Cause  error
}

func (e *CoalesceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("coalesce: %s: %v", e.Status, e.Cause)
	}
	return fmt.Sprintf("coalesce: %s", e.Status)
}

// Unwrap exposes Cause so errors.Is/errors.As reach through to the
// original query_fn error (or, for shutdown/timeout, the sentinel).
func (e *CoalesceError) Unwrap() error {
	return e.Cause
}

func newShutdownError() error {
	return &CoalesceError{Status: StatusShutdown, Cause: ErrShutdownInProgress}
}

func newTimeoutError() error {
	return &CoalesceError{Status: StatusTimeout, Cause: ErrExceededTimeLimit}
}

func newQueryError(cause error) error {
	return &CoalesceError{Status: StatusQueryFailed, Cause: cause}
}
