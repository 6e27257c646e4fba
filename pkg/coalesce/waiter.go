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

// waiter is associated with exactly one in-flight caller. It is
// co-owned by the caller, which creates it on its own stack frame and
// holds it until its Coalesce call returns, and by the group, which
// holds it in its waiters list until publication. Both owners hold the
// same pointer; the Go garbage collector keeps it alive until both
// have dropped it, which is what replaces the manual shared-ownership
// bookkeeping a non-GC implementation would need.
type waiter struct {
	// requestedVersion is the caller's own version. The core never
	// filters on it; it exists for the caller's own post-filtering and
	// for diagnostics.
	requestedVersion uint64

	// reqID correlates this waiter's log lines with the call that
	// created it. It has no bearing on grouping.
	reqID string

	// result is set by the leader on success.
	result *SharedResult

	// err is set at publication: the leader's query failure, or a
	// shutdown error when the leader aborts during its window. A follower
	// that times out or sees shutdown while waiting returns its error
	// directly and leaves err unset.
	err error

	// done is set at publication, before the group's condition variable
	// is signaled. It stays false for a follower that gave up waiting.
	done bool
}
