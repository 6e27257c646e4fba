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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kacheio/configsrv-coalescer/pkg/coalesce"
	"github.com/kacheio/configsrv-coalescer/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIPrefix(t *testing.T) {
	a, err := New(config.API{
		Prefix: "/test-api",
	}, nil)
	require.NoError(t, err)

	a.RegisterRoute("GET", "/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cases := []struct {
		name   string
		path   string
		status int
	}{
		{"Valid path", "/healthz", 200},
		{"Unknown path", "/invalid/healthz", 404},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req, err := http.NewRequest("GET", c.path, nil)
			require.NoError(t, err)

			a.ServeHTTP(rr, req)

			assert.Equal(t, c.status, rr.Result().StatusCode)
		})
	}
}

func TestAPIAccessControl(t *testing.T) {
	a, err := New(config.API{
		ACL: "192.0.2.1",
	}, nil)
	require.NoError(t, err)

	a.RegisterRoute("GET", "/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cases := []struct {
		name   string
		addr   string
		status int
	}{
		{"Access granted", "192.0.2.1:6087", 200},
		{"Access denied", "192.0.20.1:6087", 401},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req, err := http.NewRequest("GET", "/healthz", nil)
			require.NoError(t, err)
			req.RemoteAddr = c.addr

			a.ServeHTTP(rr, req)

			assert.Equal(t, c.status, rr.Result().StatusCode)
		})
	}
}

func TestAPICoalescerRoutes(t *testing.T) {
	co := coalesce.New(coalesce.DefaultConfig(), prometheus.NewRegistry())
	a, err := New(config.API{Prefix: "/api"}, co)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/api/coalescer/stats", nil)
	require.NoError(t, err)
	a.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Result().StatusCode)

	rr = httptest.NewRecorder()
	req, err = http.NewRequest(http.MethodGet, "/api/coalescer/recent", nil)
	require.NoError(t, err)
	a.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Result().StatusCode)
	assert.JSONEq(t, "[]", rr.Body.String())

	rr = httptest.NewRecorder()
	req, err = http.NewRequest(http.MethodPost, "/api/coalescer/stats/reset", nil)
	require.NoError(t, err)
	a.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Result().StatusCode)

	rr = httptest.NewRecorder()
	req, err = http.NewRequest(http.MethodPost, "/api/coalescer/shutdown", nil)
	require.NoError(t, err)
	a.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Result().StatusCode)
	assert.True(t, co.IsShutdown())
}
