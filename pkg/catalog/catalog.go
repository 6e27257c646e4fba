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

// Package catalog implements the underlying, uncoalesced query against
// the config server's chunk catalog: the thing pkg/coalesce's
// QueryFunc closures actually call. It is a caller of pkg/coalesce,
// never the reverse, and nothing in here is covered by the coalescer's
// invariants. A query is wrapped in a retry loop and a circuit
// breaker, both of which treat the coalescer as just another caller:
// a tripped breaker or an exhausted retry budget surfaces as a single
// query failure, which the coalescer then fans out to every waiter in
// the group exactly as it would any other query_fn error.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kacheio/configsrv-coalescer/pkg/coalesce"
	"github.com/kacheio/configsrv-coalescer/pkg/config"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// chunkFinder is the subset of *mongo.Collection the client needs.
// Narrowing to an interface lets tests substitute a fake collection
// without standing up a real MongoDB deployment.
type chunkFinder interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// Client runs the find-command's underlying query against a
// MongoDB-backed chunk collection: the repository's stand-in for the
// config server's config.chunks namespace. It is the query_fn
// constructor handed to coalesce.Coalescer.Coalesce; it is not itself
// coalescing-aware.
type Client struct {
	mongoClient *mongo.Client
	collection  chunkFinder

	queryTimeout time.Duration

	retry   backoff.BackOff
	breaker *gobreaker.CircuitBreaker[[]coalesce.Record]
}

// NewClient dials cfg.URI and returns a Client bound to
// cfg.Database/cfg.Collection. The dial itself is subject to
// cfg.DialTimeout; it does not retry.
func NewClient(ctx context.Context, cfg *config.CatalogConfig) (*Client, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	mc, err := mongo.Connect(dialCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("catalog: connecting to %s: %w", cfg.URI, err)
	}
	if err := mc.Ping(dialCtx, nil); err != nil {
		return nil, fmt.Errorf("catalog: pinging %s: %w", cfg.URI, err)
	}

	coll := mc.Database(cfg.Database).Collection(cfg.Collection)
	return newClient(mc, coll, cfg), nil
}

// newClient builds a Client around an already-connected finder,
// letting tests supply a fake chunkFinder in place of a real
// *mongo.Collection.
func newClient(mc *mongo.Client, coll chunkFinder, cfg *config.CatalogConfig) *Client {
	queryTimeout := cfg.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = 2 * time.Second
	}

	maxElapsed := cfg.RetryMaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Second
	}
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 10 * time.Millisecond
	retry.MaxElapsedTime = maxElapsed

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[[]coalesce.Record](gobreaker.Settings{
		Name:    "catalog",
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("catalog: circuit breaker state change")
		},
	})

	return &Client{
		mongoClient:  mc,
		collection:   coll,
		queryTimeout: queryTimeout,
		retry:        retry,
		breaker:      breaker,
	}
}

// Close disconnects the underlying MongoDB client.
func (c *Client) Close(ctx context.Context) error {
	if c.mongoClient == nil {
		return nil
	}
	return c.mongoClient.Disconnect(ctx)
}

// QueryFunc returns a coalesce.QueryFunc closed over namespace and
// minVersion, suitable to hand directly to
// coalesce.Coalescer.Coalesce. It is the bridge between pkg/dispatch
// (which knows about HTTP requests) and the coalescer (which knows
// nothing about MongoDB).
func (c *Client) QueryFunc(ctx context.Context, namespace string, minVersion uint64) coalesce.QueryFunc {
	return func() ([]coalesce.Record, error) {
		return c.query(ctx, namespace, minVersion)
	}
}

// query runs the retry-and-breaker-wrapped find against the chunk
// collection, marshaling each returned document into an opaque
// coalesce.Record. It is invoked at most once per coalescing group,
// by whichever caller happens to be elected leader.
func (c *Client) query(ctx context.Context, namespace string, minVersion uint64) ([]coalesce.Record, error) {
	result, err := c.breaker.Execute(func() ([]coalesce.Record, error) {
		var records []coalesce.Record
		op := func() error {
			recs, err := c.find(ctx, namespace, minVersion)
			if err != nil {
				return err
			}
			records = recs
			return nil
		}
		if err := backoff.Retry(op, c.retry); err != nil {
			return nil, err
		}
		return records, nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: query %s: %w", namespace, err)
	}
	return result, nil
}

// find runs a single, unretried Find against the chunk collection,
// filtering by namespace and, as a coarse server-side optimization, by
// a lower bound on the chunk epoch. It does not know about
// coalescing; it is called once per retry attempt.
func (c *Client) find(ctx context.Context, namespace string, minVersion uint64) ([]coalesce.Record, error) {
	queryCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	filter := bson.M{
		"ns": namespace,
		"lastmodEpoch": bson.M{
			"$gte": minVersion,
		},
	}

	cur, err := c.collection.Find(queryCtx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(queryCtx)

	var records []coalesce.Record
	for cur.Next(queryCtx) {
		// cur.Current is only valid until the next Next/Close call, so
		// it must be copied before the record outlives this iteration.
		rec := make(coalesce.Record, len(cur.Current))
		copy(rec, cur.Current)
		records = append(records, rec)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	return records, nil
}
