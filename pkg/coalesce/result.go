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
	"sync/atomic"

	xxhash "github.com/cespare/xxhash/v2"
)

// Record is an opaque result record. The coalescer never inspects its
// contents; it only stores, counts, and hands it out.
type Record []byte

// SharedResult is the immutable, shared carrier for the outcome of a
// single underlying query, handed out by pointer to every waiter in a
// coalescing group. It must remain valid for as long as any waiter
// holds a reference to it, which in Go is guaranteed by the garbage
// collector. The refs counter is not a memory-management mechanism: it
// is an explicit lifetime instrument mirroring the ref-counted
// hand-off a non-GC implementation would need (see DESIGN.md), exposed
// only through RefCount for observability; no coalescing decision
// reads it.
type SharedResult struct {
	records []Record
	refs    atomic.Int32
}

// NewSharedResult wraps a query's result records for zero-copy fan-out.
// The slice is taken by reference, never copied; callers must not
// mutate it after handing it to NewSharedResult.
func NewSharedResult(records []Record) *SharedResult {
	return &SharedResult{records: records}
}

// Records returns the ordered result records. The returned slice must
// be treated as read-only: it is shared, unmodified, by every waiter
// in the group.
func (r *SharedResult) Records() []Record {
	if r == nil {
		return nil
	}
	return r.records
}

// Len returns the number of result records.
func (r *SharedResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.records)
}

// acquire bumps the reference count. Called once per waiter the
// leader publishes to.
func (r *SharedResult) acquire() {
	r.refs.Add(1)
}

// Release drops a caller's reference. Callers should call Release once
// their Coalesce call returns and they are done reading the result, so
// RefCount() reflects genuinely outstanding holders rather than every
// waiter that was ever handed the pointer.
func (r *SharedResult) Release() {
	if r == nil {
		return
	}
	r.refs.Add(-1)
}

// RefCount returns the current number of outstanding references, for
// diagnostics only.
func (r *SharedResult) RefCount() int32 {
	if r == nil {
		return 0
	}
	return r.refs.Load()
}

// Fingerprint returns a cheap, non-cryptographic hash of the result
// contents, for debug logging only. It is never used for grouping or
// equality checks inside the coalescer.
func (r *SharedResult) Fingerprint() uint64 {
	if r == nil {
		return 0
	}
	h := xxhash.New()
	for _, rec := range r.records {
		var lenBuf [8]byte
		putUint64(lenBuf[:], uint64(len(rec)))
		_, _ = h.Write(lenBuf[:])
		if n := len(rec); n > 0 {
			sample := rec
			const maxSample = 32
			if n > maxSample {
				sample = rec[:maxSample]
			}
			_, _ = h.Write(sample)
		}
	}
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
