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
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// GroupSummary is a diagnostic, non-authoritative snapshot of a
// CoalescingGroup taken the moment it completes and is erased from the
// namespace map. It exists purely so an operator can see, after the
// fact, what a transient group did; it carries no result records and
// has no bearing on any coalescing decision.
type GroupSummary struct {
	Namespace   string    `json:"namespace"`
	Generation  uint64    `json:"generation"`
	Waiters     int       `json:"waiters"`
	MinVersion  uint64    `json:"min_version"`
	MaxVersion  uint64    `json:"max_version"`
	Status      Status    `json:"-"`
	StatusText  string    `json:"status"`
	Fingerprint uint64    `json:"fingerprint,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// diagnostics is a bounded, most-recent-first history of completed
// groups, backed by an LRU so a pathologically high namespace churn
// rate can never grow this past its configured capacity. It is a read
// side-channel for the debug API only.
type diagnostics struct {
	mu      sync.Mutex
	cache   *lru.Cache[uint64, *GroupSummary]
	seq     uint64
	enabled bool
}

func newDiagnostics(size int) *diagnostics {
	if size <= 0 {
		return &diagnostics{enabled: false}
	}
	c, err := lru.New[uint64, *GroupSummary](size)
	if err != nil {
		// size <= 0 is the only failure mode of lru.New, already guarded
		// above; treat any other failure as "diagnostics disabled"
		// rather than panicking the coalescer over a debug feature.
		return &diagnostics{enabled: false}
	}
	return &diagnostics{cache: c, enabled: true}
}

// record stores a GroupSummary. Safe for concurrent use.
func (d *diagnostics) record(s *GroupSummary) {
	if d == nil || !d.enabled {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	d.cache.Add(d.seq, s)
}

// recent returns up to the cache's capacity of GroupSummary values,
// most-recently-completed first.
func (d *diagnostics) recent() []*GroupSummary {
	if d == nil || !d.enabled {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := d.cache.Keys()
	out := make([]*GroupSummary, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if v, ok := d.cache.Peek(keys[i]); ok {
			out = append(out, v)
		}
	}
	return out
}
