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
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kacheio/configsrv-coalescer/pkg/coalesce"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
)

// findRequest mirrors the fields of a mongos find-command filter that
// this repository's coalescer actually cares about: the target
// namespace and the router's own last-known chunk epoch. Everything
// else a real find command carries (projection, sort, limit, batch
// size) is irrelevant to coalescing and is dropped on the floor here;
// a production dispatcher would forward it straight to pkg/catalog.
type findRequest struct {
	Namespace      string `json:"ns" bson:"ns"`
	RequestVersion uint64 `json:"requestVersion" bson:"requestVersion"`
}

// findResponse is the wire shape of a successful reply: the records the
// coalescer produced. Failures are written by writeCoalesceError as
// plain-text HTTP errors, not in this shape.
type findResponse struct {
	Records [][]byte `json:"records"`
}

// QueryBuilder constructs the coalesce.QueryFunc for one find request.
// pkg/app supplies a closure over pkg/catalog.Client.QueryFunc;
// handlers in tests supply a fake.
type QueryBuilder func(namespace string, requestVersion uint64) coalesce.QueryFunc

// CommandHandler is the find-command HTTP entry point. It decodes
// (namespace, request_version) out of the request body, builds the
// query_fn closure, and hands both to the coalescer. Every invariant
// the coalescer provides is exercised through this one handler in
// production; nothing here contributes invariants of its own.
type CommandHandler struct {
	Coalescer *coalesce.Coalescer
	Build     QueryBuilder
}

// ServeHTTP implements http.Handler.
func (h *CommandHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := decodeFindRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Namespace == "" {
		http.Error(w, "ns must not be empty", http.StatusBadRequest)
		return
	}

	query := h.Build(req.Namespace, req.RequestVersion)
	result, err := h.Coalescer.Coalesce(req.Namespace, req.RequestVersion, query)
	if err != nil {
		writeCoalesceError(w, err)
		return
	}
	defer result.Release()

	writeFindResponse(w, result)
}

// decodeFindRequest decodes the request body as BSON when the request
// declares application/bson (the real mongos wire format), and falls
// back to JSON otherwise, since this repository's dispatcher is an
// HTTP-facing redesign of a binary wire-protocol command.
func decodeFindRequest(r *http.Request) (findRequest, error) {
	var req findRequest

	if r.Header.Get("Content-Type") == "application/bson" {
		raw, err := bson.NewFromIOReader(r.Body)
		if err != nil {
			return req, err
		}
		if err := bson.Unmarshal(raw, &req); err != nil {
			return req, err
		}
		return req, nil
	}

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

func writeFindResponse(w http.ResponseWriter, result *coalesce.SharedResult) {
	records := result.Records()
	out := make([][]byte, len(records))
	for i, rec := range records {
		out[i] = rec
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(findResponse{Records: out}); err != nil {
		log.Error().Err(err).Msg("dispatch: failed to encode find response")
	}
}

func writeCoalesceError(w http.ResponseWriter, err error) {
	var ce *coalesce.CoalesceError
	status := http.StatusInternalServerError

	if errors.As(err, &ce) {
		switch ce.Status {
		case coalesce.StatusShutdown:
			status = http.StatusServiceUnavailable
		case coalesce.StatusTimeout:
			status = http.StatusGatewayTimeout
		case coalesce.StatusQueryFailed:
			status = http.StatusBadGateway
		}
	}

	http.Error(w, err.Error(), status)
}
