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

package api

import (
	"encoding/json"
	"net/http"

	"github.com/kacheio/configsrv-coalescer/pkg/coalesce"
)

// coalescerHandlers exposes the coalescer's debug/control surface:
// read its stats, reset the cumulative counters, inspect recently
// completed groups, or trigger a shutdown.
type coalescerHandlers struct {
	coalescer *coalesce.Coalescer
}

func (h *coalescerHandlers) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.coalescer.GetStats())
}

func (h *coalescerHandlers) resetStats(w http.ResponseWriter, r *http.Request) {
	h.coalescer.ResetStats()
	w.WriteHeader(http.StatusNoContent)
}

func (h *coalescerHandlers) recent(w http.ResponseWriter, r *http.Request) {
	recent := h.coalescer.Recent()
	if recent == nil {
		recent = []*coalesce.GroupSummary{}
	}
	writeJSON(w, recent)
}

func (h *coalescerHandlers) shutdown(w http.ResponseWriter, r *http.Request) {
	h.coalescer.Shutdown()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
