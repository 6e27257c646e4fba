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
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kacheio/configsrv-coalescer/pkg/config"
	"github.com/rs/zerolog/log"
)

// Listener is the find-command entry point's HTTP listen server. There
// is exactly one per process: mongos routers all dial the same address.
type Listener struct {
	listener   net.Listener
	httpServer *http.Server
	grace      time.Duration
}

// NewListener binds cfg.Addr and wraps handler in a *http.Server tuned
// by cfg's timeouts.
func NewListener(cfg *config.DispatchConfig, handler http.Handler) (*Listener, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("error building listener: %w", err)
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 5 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}

	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  30 * time.Second,
	}

	return &Listener{listener: ln, httpServer: server, grace: grace}, nil
}

// Addr returns the bound network address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Start serves the listener until Shutdown is called. Intended to be
// run in its own goroutine.
func (l *Listener) Start(ctx context.Context) {
	logger := log.Ctx(ctx)
	logger.Debug().Msgf("dispatch: listening on %v", l.listener.Addr())
	err := l.httpServer.Serve(l.listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("dispatch: listener exited with error")
	}
}

// Shutdown gracefully drains in-flight requests for up to the
// configured grace period, then forcibly closes the listener.
func (l *Listener) Shutdown(ctx context.Context) {
	logger := log.Ctx(ctx)

	ctx, cancel := context.WithTimeout(ctx, l.grace)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		err := l.httpServer.Shutdown(ctx)
		if err == nil {
			return
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Debug().Err(err).Msg("dispatch: shutdown grace period exceeded, closing")
		} else {
			logger.Error().Err(err).Msg("dispatch: failed to shut down listener gracefully")
		}
		if err := l.httpServer.Close(); err != nil {
			logger.Error().Err(err).Send()
		}
	}()

	wg.Wait()
}
