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

// Package coalesce implements a request coalescer for chunk-map lookups
// against the config server catalog. When many mongos routers ask about
// the same namespace within a short window, it arranges for exactly one
// of them, the leader, to run the underlying catalog query, and fans the
// result out to the rest, the followers, without re-querying.
//
// It is not a cache: a group exists only for the lifetime of one query
// and is erased the moment it publishes. No result record is ever kept
// past the call that produced it; the bounded debug history recorded by
// the diagnostics side-channel keeps group summaries, never records.
package coalesce

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kacheio/configsrv-coalescer/pkg/utils/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// QueryFunc executes the underlying, uncoalesced catalog query for a
// namespace. It is supplied by the caller (typically pkg/dispatch,
// backed by pkg/catalog) and is opaque to the coalescer: the coalescer
// never inspects, retries, or reorders it.
type QueryFunc func() ([]Record, error)

// metrics holds the coalescer's Prometheus instruments. They mirror the
// stats counters exactly; the counters remain the source of truth for
// GetStats, the Prometheus instruments exist for scraping.
type metrics struct {
	totalRequests    prometheus.Counter
	actualQueries    prometheus.Counter
	coalesced        prometheus.Counter
	timeouts         prometheus.Counter
	overflows        prometheus.Counter
	versionGapSkips  prometheus.Counter
	activeGroups     prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		totalRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "coalescer_total_requests_total",
			Help: "Total number of Coalesce calls.",
		}),
		actualQueries: f.NewCounter(prometheus.CounterOpts{
			Name: "coalescer_actual_queries_total",
			Help: "Total number of underlying catalog queries actually executed.",
		}),
		coalesced: f.NewCounter(prometheus.CounterOpts{
			Name: "coalescer_coalesced_requests_total",
			Help: "Total number of requests that joined an existing group as a follower.",
		}),
		timeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "coalescer_timeout_requests_total",
			Help: "Total number of follower requests that exceeded max_wait_time.",
		}),
		overflows: f.NewCounter(prometheus.CounterOpts{
			Name: "coalescer_overflow_requests_total",
			Help: "Total number of requests that bypassed coalescing because a group's waiter cap was reached.",
		}),
		versionGapSkips: f.NewCounter(prometheus.CounterOpts{
			Name: "coalescer_version_gap_skipped_requests_total",
			Help: "Total number of requests that bypassed coalescing because admission would exceed max_version_gap.",
		}),
		activeGroups: f.NewGauge(prometheus.GaugeOpts{
			Name: "coalescer_active_groups",
			Help: "Current number of in-flight coalescing groups.",
		}),
	}
}

// Coalescer is the request coalescer. The zero value is not usable; use
// New. A Coalescer is safe for concurrent use by multiple goroutines.
type Coalescer struct {
	// mu is the single coordination mutex guarding groups, generation,
	// and shutdown. Every group's sync.Cond is built over this same
	// mutex, so a goroutine parked in cond.Wait releases mu for other
	// namespaces to make progress.
	mu     sync.Mutex
	groups map[string]*group

	// generation is a monotonic counter; each new group for a namespace
	// is stamped with the next value so a follower waking from a timed
	// wait can tell whether "its" group was replaced out from under it.
	generation uint64

	cfg atomic.Pointer[Config]

	clock clock.TimeSource
	stats stats
	diag  *diagnostics
	m     *metrics

	shutdown bool
}

// New constructs a Coalescer. reg may be nil, in which case its metrics
// are registered against prometheus.DefaultRegisterer.
func New(cfg Config, reg prometheus.Registerer) *Coalescer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Coalescer{
		groups: make(map[string]*group),
		clock:  clock.NewSystemTimeSource(),
		diag:   newDiagnostics(cfg.DiagnosticHistorySize),
		m:      newMetrics(reg),
	}
	c.cfg.Store(&cfg)
	return c
}

// SetClock overrides the coalescer's time source. Intended for tests.
func (c *Coalescer) SetClock(ts clock.TimeSource) {
	c.clock = ts
}

// UpdateConfig atomically swaps the coalescer's admission policy. Safe
// to call concurrently with Coalesce. Each Coalesce call loads the
// policy once on entry: calls already in flight keep the window and
// wait bound they loaded, while every later call, including one joining
// an existing group, is admitted under the new policy.
func (c *Coalescer) UpdateConfig(cfg Config) {
	c.cfg.Store(&cfg)
}

// Config returns the coalescer's current admission policy.
func (c *Coalescer) Config() Config {
	return *c.cfg.Load()
}

// Coalesce resolves a single (namespace, requestVersion) lookup,
// transparently joining an in-flight group for namespace when one
// exists and admits the request, or becoming the leader and invoking
// query when none does. The returned *SharedResult, on success, is
// shared with every other waiter the leader published to; callers
// should treat it as read-only and call Release when done with it.
func (c *Coalescer) Coalesce(namespace string, requestVersion uint64, query QueryFunc) (*SharedResult, error) {
	reqID := uuid.NewString()
	cfg := c.Config()

	c.stats.totalRequests.Add(1)
	c.m.totalRequests.Inc()

	if !cfg.Enabled {
		return c.runDirect(query)
	}

	c.mu.Lock()

	if c.shutdown {
		c.mu.Unlock()
		return nil, newShutdownError()
	}

	g, existed := c.groups[namespace]

	if existed {
		// A group is only ever visible in c.groups while Forming or
		// Querying; publish and removal happen atomically under c.mu.
		// So a follower may join a leader that is already mid-query,
		// which is the common case under real thundering-herd load.
		switch {
		case len(g.waiters) >= cfg.MaxWaitersPerGroup:
			c.mu.Unlock()
			c.stats.overflowRequests.Add(1)
			c.m.overflows.Inc()
			return c.runDirectCounted(query)

		case g.versionGap(requestVersion) > cfg.MaxVersionGap:
			c.mu.Unlock()
			c.stats.versionGapSkippedRequests.Add(1)
			c.m.versionGapSkips.Inc()
			return c.runDirectCounted(query)
		}

		// Follower path: admit and wait for the leader to publish.
		w := &waiter{requestedVersion: requestVersion, reqID: reqID}
		g.admit(w)
		c.stats.coalescedRequests.Add(1)
		c.m.coalesced.Inc()
		result, err := c.waitForPublication(g, w, cfg.MaxWaitTime)
		c.mu.Unlock()
		return result, err
	}

	// Leader path: form a new group and become its sole member.
	c.generation++
	gen := c.generation
	g = newGroup(&c.mu, namespace, gen, requestVersion, c.clock.Now())
	c.groups[namespace] = g
	c.stats.activeGroups.Add(1)
	c.m.activeGroups.Inc()

	w := &waiter{requestedVersion: requestVersion, reqID: reqID}
	g.admit(w)

	if cfg.WindowDuration > 0 {
		c.awaitWindow(g, cfg.WindowDuration)
		if c.shutdown {
			// Abort before ever calling query: release any followers that
			// joined during the window and erase the group so it cannot
			// strand a namespace forever.
			g.publish(nil, newShutdownError())
			delete(c.groups, namespace)
			c.stats.activeGroups.Add(-1)
			c.m.activeGroups.Dec()
			c.mu.Unlock()
			return nil, newShutdownError()
		}
	}

	g.state = stateQuerying
	c.mu.Unlock()

	records, queryErr := query()

	c.mu.Lock()
	c.stats.actualQueries.Add(1)
	c.m.actualQueries.Inc()

	var result *SharedResult
	var pubErr error
	if queryErr != nil {
		pubErr = newQueryError(queryErr)
	} else {
		result = NewSharedResult(records)
	}

	g.publish(result, pubErr)
	c.recordCompletion(g)
	delete(c.groups, namespace)
	c.stats.activeGroups.Add(-1)
	c.m.activeGroups.Dec()

	// The leader is itself the first waiter admitted above; its result
	// is already in w, published by g.publish.
	myResult, myErr := w.result, w.err
	c.mu.Unlock()

	return myResult, myErr
}

// awaitWindow blocks the leader for the admission window, reusing the
// group's own condition variable so a concurrent Shutdown can wake it
// early via Broadcast. Must be called with c.mu held; returns with
// c.mu held.
func (c *Coalescer) awaitWindow(g *group, d time.Duration) {
	deadline := false
	timer := time.AfterFunc(d, func() {
		c.mu.Lock()
		deadline = true
		g.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	for !deadline && !c.shutdown {
		g.cond.Wait()
	}
}

// waitForPublication parks w's caller until the leader publishes, the
// generation is superseded, the wait exceeds maxWait, or shutdown
// begins. Must be called with c.mu held; returns with c.mu held.
func (c *Coalescer) waitForPublication(g *group, w *waiter, maxWait time.Duration) (*SharedResult, error) {
	timedOut := false
	var timer *time.Timer
	if maxWait > 0 {
		timer = time.AfterFunc(maxWait, func() {
			c.mu.Lock()
			timedOut = true
			g.cond.Broadcast()
			c.mu.Unlock()
		})
		defer timer.Stop()
	}

	for {
		if w.done {
			return w.result, w.err
		}
		if c.shutdown {
			return nil, newShutdownError()
		}
		// The group this waiter joined may have already been replaced
		// by a newer generation for the same namespace if this waiter
		// woke spuriously after the map entry changed; re-check by
		// generation rather than by pointer identity.
		if current, ok := c.groups[g.namespace]; !ok || current.generation != g.generation {
			if !w.done {
				// The group vanished without publishing to us: treat as
				// a timeout rather than hanging forever.
				timedOut = true
			}
		}
		if timedOut {
			c.stats.timeoutRequests.Add(1)
			c.m.timeouts.Inc()
			log.Debug().
				Str("req_id", w.reqID).
				Str("namespace", g.namespace).
				Uint64("generation", g.generation).
				Msg("follower wait timed out")
			return nil, newTimeoutError()
		}
		g.cond.Wait()
	}
}

// runDirect executes query with no coalescing bookkeeping at all, for
// the Enabled=false fast path. It still counts as an actual query but
// is not included in total_requests bookkeeping beyond the increment
// already done by the caller.
func (c *Coalescer) runDirect(query QueryFunc) (*SharedResult, error) {
	c.stats.actualQueries.Add(1)
	c.m.actualQueries.Inc()
	records, err := query()
	if err != nil {
		return nil, newQueryError(err)
	}
	return NewSharedResult(records), nil
}

// runDirectCounted is runDirect for the overflow and version-gap-skip
// paths, which bypass an existing group but are still part of an
// otherwise-enabled coalescer.
func (c *Coalescer) runDirectCounted(query QueryFunc) (*SharedResult, error) {
	return c.runDirect(query)
}

// recordCompletion appends a diagnostic summary for g. Must be called
// with c.mu held, after g.publish and before the group is erased from
// the map.
func (c *Coalescer) recordCompletion(g *group) {
	status := StatusOK
	var fp uint64
	if g.err != nil {
		if ce, ok := g.err.(*CoalesceError); ok {
			status = ce.Status
		} else {
			status = StatusQueryFailed
		}
	} else if g.result != nil {
		fp = g.result.Fingerprint()
	}

	now := c.clock.Now()
	c.diag.record(&GroupSummary{
		Namespace:   g.namespace,
		Generation:  g.generation,
		Waiters:     len(g.waiters),
		MinVersion:  g.minVersion,
		MaxVersion:  g.maxVersion,
		Status:      status,
		StatusText:  status.String(),
		Fingerprint: fp,
		CompletedAt: now,
		Duration:    now.Sub(g.createdAt),
	})

	log.Debug().
		Str("namespace", g.namespace).
		Uint64("generation", g.generation).
		Int("waiters", len(g.waiters)).
		Str("status", status.String()).
		Dur("duration", now.Sub(g.createdAt)).
		Msg("coalescing group completed")
}

// GetStats returns a point-in-time snapshot of the coalescer's counters.
func (c *Coalescer) GetStats() CoalescerStats {
	return c.stats.snapshot()
}

// ResetStats zeroes the coalescer's cumulative counters. ActiveGroups,
// a live gauge rather than a cumulative total, is left untouched: it
// keeps reflecting however many groups genuinely exist right now.
func (c *Coalescer) ResetStats() {
	c.stats.reset()
}

// Recent returns up to the configured diagnostic history size of
// GroupSummary values for recently completed groups, most recent first.
func (c *Coalescer) Recent() []*GroupSummary {
	return c.diag.recent()
}

// Shutdown marks the coalescer as shut down, wakes every goroutine
// currently parked waiting on a group, each of which then returns
// ErrShutdownInProgress, and clears the namespace map. It is
// idempotent: calling it more than once,
// or concurrently, is safe and a no-op after the first call completes.
// Shutdown does not wait for in-flight query_fn invocations to return;
// those leaders will still publish, but every reader has already moved
// on with a shutdown error.
func (c *Coalescer) Shutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	for ns, g := range c.groups {
		g.cond.Broadcast()
		delete(c.groups, ns)
	}
	c.mu.Unlock()

	log.Info().Msg("coalescer shutdown")
}

// IsShutdown reports whether Shutdown has been called.
func (c *Coalescer) IsShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}
