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

import "time"

// Config holds the coalescer's runtime-mutable admission policy. It is
// read fresh on every admission decision (via Coalescer.Config, backed
// by an atomic.Pointer), never cached by a caller, so an operator can
// flip Enabled off during an incident without restarting the process.
type Config struct {
	// Enabled controls whether calls are coalesced at all. When false,
	// every call degenerates into a direct query_fn invocation.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// WindowDuration is the leader's pre-query wait: the only point
	// where the leader pauses before executing query_fn, giving
	// concurrent followers a chance to join. Zero means no wait.
	WindowDuration time.Duration `yaml:"window_duration" json:"window_duration"`

	// MaxWaitTime bounds a follower's total wait for publication.
	MaxWaitTime time.Duration `yaml:"max_wait_time" json:"max_wait_time"`

	// MaxWaitersPerGroup caps the size of a group's waiter list. A
	// request that would exceed the cap overflows: it runs its own
	// query_fn instead of joining the group.
	MaxWaitersPerGroup int `yaml:"max_waiters_per_group" json:"max_waiters_per_group"`

	// MaxVersionGap caps the spread between a group's min and max
	// requested_version. A request whose admission would exceed the
	// cap is skipped: it runs its own query_fn instead of joining.
	MaxVersionGap uint64 `yaml:"max_version_gap" json:"max_version_gap"`

	// DiagnosticHistorySize bounds the number of completed-group
	// summaries retained for the debug API. Zero disables the history.
	DiagnosticHistorySize int `yaml:"diagnostic_history_size" json:"diagnostic_history_size"`
}

// DefaultConfig returns the coalescer's documented defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		WindowDuration:        5 * time.Millisecond,
		MaxWaitTime:           100 * time.Millisecond,
		MaxWaitersPerGroup:    1000,
		MaxVersionGap:         500,
		DiagnosticHistorySize: 128,
	}
}
