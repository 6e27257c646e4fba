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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsSnapshotDerivesCoalescingRate(t *testing.T) {
	var s stats
	s.totalRequests.Store(10)
	s.coalescedRequests.Store(4)
	s.activeGroups.Store(2)

	snap := s.snapshot()
	assert.Equal(t, uint64(10), snap.TotalRequests)
	assert.Equal(t, uint64(4), snap.CoalescedRequests)
	assert.Equal(t, uint64(2), snap.ActiveGroups)
	assert.InDelta(t, 0.4, snap.CoalescingRate, 1e-9)
}

func TestStatsSnapshotWithNoRequestsHasZeroRate(t *testing.T) {
	var s stats
	assert.Equal(t, 0.0, s.snapshot().CoalescingRate)
}

func TestStatsResetZeroesCountersButNotActiveGroups(t *testing.T) {
	var s stats
	s.totalRequests.Store(5)
	s.actualQueries.Store(5)
	s.coalescedRequests.Store(3)
	s.timeoutRequests.Store(1)
	s.overflowRequests.Store(1)
	s.versionGapSkippedRequests.Store(1)
	s.activeGroups.Store(7)

	s.reset()

	snap := s.snapshot()
	assert.Equal(t, uint64(0), snap.TotalRequests)
	assert.Equal(t, uint64(0), snap.ActualQueries)
	assert.Equal(t, uint64(0), snap.CoalescedRequests)
	assert.Equal(t, uint64(0), snap.TimeoutRequests)
	assert.Equal(t, uint64(0), snap.OverflowRequests)
	assert.Equal(t, uint64(0), snap.VersionGapSkippedRequests)
	assert.Equal(t, uint64(7), snap.ActiveGroups)
}
