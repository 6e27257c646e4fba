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
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/kacheio/configsrv-coalescer/pkg/coalesce"
	"github.com/kacheio/configsrv-coalescer/pkg/config"
	"github.com/kacheio/configsrv-coalescer/pkg/utils/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// API is the root API structure. It exposes the operator-facing debug
// and control surface: coalescer stats, the diagnostic group history,
// a shutdown trigger, Prometheus scraping, and pprof.
type API struct {
	config config.API

	router *mux.Router

	filter *IPFilter
}

// New creates a new API bound to coalescer for the stats/reset/shutdown
// /recent routes. coalescer may be nil in tests that only exercise
// routes unrelated to it.
func New(cfg config.API, coalescer *coalesce.Coalescer) (*API, error) {
	filter, err := NewIPFilter(cfg.ACL)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	a := &API{
		config: cfg,
		router: mux.NewRouter(),
		filter: filter,
	}
	a.createRoutes(coalescer)

	if cfg.Debug {
		DebugHandler{}.Append(a.router)
	}

	return a, nil
}

// Run starts the API server on the configured port. Blocks until the
// server stops or fails.
func (a *API) Run() {
	addr := fmt.Sprintf(":%d", a.config.Port)
	log.Debug().Str("addr", addr).Str("prefix", a.config.GetPrefix()).Msg("starting API server")

	if err := http.ListenAndServe(addr, a); err != nil {
		log.Fatal().Err(err).Msg("API server exited")
	}
}

// ServeHTTP serves the API requests.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// RegisterRoute registers a new handler at the given path, method, and
// applies the configured IP filter.
func (a *API) RegisterRoute(method string, path string, handler http.HandlerFunc) {
	a.router.HandleFunc(path, a.filter.Wrap(handler)).Methods(method)
}

func (a *API) createRoutes(c *coalesce.Coalescer) {
	prefix := a.config.GetPrefix()

	a.RegisterRoute(http.MethodGet, "/version", version.Handler)
	a.RegisterRoute(http.MethodGet, "/metrics", promhttp.Handler().ServeHTTP)

	if c != nil {
		h := &coalescerHandlers{coalescer: c}
		a.RegisterRoute(http.MethodGet, prefix+"/coalescer/stats", h.stats)
		a.RegisterRoute(http.MethodPost, prefix+"/coalescer/stats/reset", h.resetStats)
		a.RegisterRoute(http.MethodGet, prefix+"/coalescer/recent", h.recent)
		a.RegisterRoute(http.MethodPost, prefix+"/coalescer/shutdown", h.shutdown)
	}
}
