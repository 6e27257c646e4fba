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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnosticsDisabledAtZeroSize(t *testing.T) {
	d := newDiagnostics(0)
	d.record(&GroupSummary{Namespace: "db.coll"})
	assert.Nil(t, d.recent())
}

func TestDiagnosticsRecentIsMostRecentFirstAndBounded(t *testing.T) {
	d := newDiagnostics(3)
	for i := 0; i < 5; i++ {
		d.record(&GroupSummary{Namespace: fmt.Sprintf("db.coll%d", i)})
	}

	recent := d.recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "db.coll4", recent[0].Namespace)
	assert.Equal(t, "db.coll3", recent[1].Namespace)
	assert.Equal(t, "db.coll2", recent[2].Namespace)
}

func TestDiagnosticsNilReceiverIsSafe(t *testing.T) {
	var d *diagnostics
	assert.Nil(t, d.recent())
	d.record(&GroupSummary{}) // must not panic
}
