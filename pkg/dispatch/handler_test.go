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

package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kacheio/configsrv-coalescer/pkg/coalesce"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func newTestHandler(build QueryBuilder) *CommandHandler {
	c := coalesce.New(coalesce.DefaultConfig(), prometheus.NewRegistry())
	return &CommandHandler{Coalescer: c, Build: build}
}

func TestCommandHandlerJSONRoundTrip(t *testing.T) {
	build := func(ns string, version uint64) coalesce.QueryFunc {
		return func() ([]coalesce.Record, error) {
			assert.Equal(t, "db.coll", ns)
			assert.Equal(t, uint64(7), version)
			return []coalesce.Record{[]byte("a"), []byte("b")}, nil
		}
	}
	h := newTestHandler(build)

	body := strings.NewReader(`{"ns":"db.coll","requestVersion":7}`)
	req := httptest.NewRequest(http.MethodPost, "/find", body)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out findResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out.Records, 2)
}

func TestCommandHandlerBSONRequest(t *testing.T) {
	build := func(ns string, version uint64) coalesce.QueryFunc {
		return func() ([]coalesce.Record, error) {
			assert.Equal(t, "db.coll2", ns)
			assert.Equal(t, uint64(99), version)
			return nil, nil
		}
	}
	h := newTestHandler(build)

	raw, err := bson.Marshal(findRequest{Namespace: "db.coll2", RequestVersion: 99})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/find", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/bson")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCommandHandlerRejectsEmptyNamespace(t *testing.T) {
	h := newTestHandler(func(string, uint64) coalesce.QueryFunc {
		t.Fatal("query should not run for an invalid request")
		return nil
	})

	body := strings.NewReader(`{"ns":"","requestVersion":1}`)
	req := httptest.NewRequest(http.MethodPost, "/find", body)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommandHandlerPropagatesQueryFailureStatus(t *testing.T) {
	build := func(string, uint64) coalesce.QueryFunc {
		return func() ([]coalesce.Record, error) {
			return nil, assert.AnError
		}
	}
	h := newTestHandler(build)

	body := strings.NewReader(`{"ns":"db.coll","requestVersion":1}`)
	req := httptest.NewRequest(http.MethodPost, "/find", body)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCommandHandlerRejectsNonPost(t *testing.T) {
	h := newTestHandler(func(string, uint64) coalesce.QueryFunc { return nil })

	req := httptest.NewRequest(http.MethodGet, "/find", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
