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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupVersionGapWidensWithAdmission(t *testing.T) {
	var mu sync.Mutex
	g := newGroup(&mu, "db.coll", 1, 10, time.Now())

	assert.Equal(t, uint64(0), g.versionGap(10))
	assert.Equal(t, uint64(5), g.versionGap(15))
	assert.Equal(t, uint64(3), g.versionGap(7))

	g.admit(&waiter{requestedVersion: 15})
	assert.Equal(t, uint64(10), g.minVersion)
	assert.Equal(t, uint64(15), g.maxVersion)

	g.admit(&waiter{requestedVersion: 7})
	assert.Equal(t, uint64(7), g.minVersion)
	assert.Equal(t, uint64(15), g.maxVersion)
}

func TestGroupPublishWakesAndFillsEveryWaiter(t *testing.T) {
	var mu sync.Mutex
	g := newGroup(&mu, "db.coll", 1, 1, time.Now())

	w1 := &waiter{requestedVersion: 1}
	w2 := &waiter{requestedVersion: 1}
	g.admit(w1)
	g.admit(w2)

	result := NewSharedResult([]Record{[]byte("x")})
	mu.Lock()
	g.publish(result, nil)
	mu.Unlock()

	require.True(t, w1.done)
	require.True(t, w2.done)
	assert.Same(t, result, w1.result)
	assert.Same(t, result, w2.result)
	assert.Equal(t, int32(2), result.RefCount())
	assert.Equal(t, stateCompleted, g.state)
}

func TestGroupPublishErrorPropagatesToEveryWaiter(t *testing.T) {
	var mu sync.Mutex
	g := newGroup(&mu, "db.coll", 1, 1, time.Now())

	w1 := &waiter{requestedVersion: 1}
	w2 := &waiter{requestedVersion: 1}
	g.admit(w1)
	g.admit(w2)

	wantErr := errors.New("boom")
	mu.Lock()
	g.publish(nil, wantErr)
	mu.Unlock()

	assert.Same(t, wantErr, w1.err)
	assert.Same(t, wantErr, w2.err)
	assert.Nil(t, w1.result)
}

func TestGroupStateString(t *testing.T) {
	assert.Equal(t, "Forming", stateForming.String())
	assert.Equal(t, "Querying", stateQuerying.String())
	assert.Equal(t, "Completed", stateCompleted.String())
	assert.Equal(t, "Unknown", groupState(99).String())
}
