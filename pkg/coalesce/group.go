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
)

// groupState is the lifecycle state of a CoalescingGroup.
type groupState int

const (
	// stateForming accepts new waiters.
	stateForming groupState = iota

	// stateQuerying means the leader has released the lock and is
	// executing query_fn. The group stays in the namespace map and still
	// admits followers, which receive the result of the query already
	// in flight; admission is not limited to stateForming.
	stateQuerying

	// stateCompleted means the query returned (success or failure) and
	// the group is about to be erased after publication.
	stateCompleted
)

func (s groupState) String() string {
	switch s {
	case stateForming:
		return "Forming"
	case stateQuerying:
		return "Querying"
	case stateCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// group is a transient coordination record keyed by namespace, one per
// (namespace, active generation). It is only ever accessed while
// holding the owning Coalescer's mutex.
type group struct {
	// cond rendezvouses goroutines waiting on this group. Its lock is
	// the owning Coalescer's single coordination mutex, so Wait()
	// releases that same mutex while parked, and Broadcast() only wakes
	// the goroutines parked on this particular group.
	cond *sync.Cond

	namespace  string
	generation uint64

	minVersion uint64
	maxVersion uint64

	state groupState

	waiters []*waiter

	result *SharedResult
	err    error

	createdAt time.Time
}

func newGroup(mu *sync.Mutex, namespace string, generation uint64, requestVersion uint64, now time.Time) *group {
	return &group{
		cond:       sync.NewCond(mu),
		namespace:  namespace,
		generation: generation,
		minVersion: requestVersion,
		maxVersion: requestVersion,
		state:      stateForming,
		createdAt:  now,
	}
}

// versionGap returns the tentative max-min spread if requestVersion
// were admitted into this group, without mutating it.
func (g *group) versionGap(requestVersion uint64) uint64 {
	min, max := g.minVersion, g.maxVersion
	if requestVersion < min {
		min = requestVersion
	}
	if requestVersion > max {
		max = requestVersion
	}
	return max - min
}

// admit appends w as a waiter and widens the version range. Callers
// must have already checked the waiter cap and the version-gap cap.
func (g *group) admit(w *waiter) {
	if w.requestedVersion < g.minVersion {
		g.minVersion = w.requestedVersion
	}
	if w.requestedVersion > g.maxVersion {
		g.maxVersion = w.requestedVersion
	}
	g.waiters = append(g.waiters, w)
}

// publish writes result/err and done to every waiter in the group, in
// list order, and wakes everyone parked on g.cond. It must be called
// exactly once per group, with the Coalescer's mutex held.
func (g *group) publish(result *SharedResult, err error) {
	g.state = stateCompleted
	g.result = result
	g.err = err

	for _, w := range g.waiters {
		if err != nil {
			w.err = err
		} else {
			result.acquire()
			w.result = result
		}
		w.done = true
	}

	g.cond.Broadcast()
}
