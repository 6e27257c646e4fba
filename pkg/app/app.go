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

// Package app wires the coalescer, its catalog client, the
// find-command dispatcher, and the operator-facing API into a single
// runnable process, the way pkg/kache.Kache wires kache's cache,
// provider, and server together.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kacheio/configsrv-coalescer/pkg/api"
	"github.com/kacheio/configsrv-coalescer/pkg/catalog"
	"github.com/kacheio/configsrv-coalescer/pkg/coalesce"
	"github.com/kacheio/configsrv-coalescer/pkg/config"
	"github.com/kacheio/configsrv-coalescer/pkg/dispatch"
	"github.com/kacheio/configsrv-coalescer/pkg/utils/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// App is the root data structure for the coalescer daemon.
type App struct {
	Config *config.Configuration
	loader *config.Loader

	Registerer prometheus.Registerer

	Coalescer *coalesce.Coalescer
	Catalog   *catalog.Client
	Listener  *dispatch.Listener
	API       *api.API
}

// New builds an App from a config.Loader, connecting to the catalog,
// binding the dispatch listener, and building the API server. It does
// not start serving; call Run for that.
func New(ctx context.Context, loader *config.Loader, registerer prometheus.Registerer) (*App, error) {
	a := &App{
		loader:     loader,
		Config:     loader.Config(),
		Registerer: registerer,
	}

	if err := a.setupModules(ctx); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *App) setupModules(ctx context.Context) error {
	type initFn func(context.Context) error
	modules := [...]struct {
		Name string
		Init initFn
	}{
		{"Coalescer", a.initCoalescer},
		{"Catalog", a.initCatalog},
		{"Dispatch", a.initDispatch},
		{"API", a.initAPI},
	}

	for _, m := range modules {
		log.Debug().Msgf("initializing %s", m.Name)
		if err := m.Init(ctx); err != nil {
			return fmt.Errorf("app: initializing %s: %w", m.Name, err)
		}
	}
	return nil
}

func (a *App) initCoalescer(context.Context) error {
	cfg := coalesce.Config{
		Enabled:               a.Config.Coalescer.Enabled,
		WindowDuration:        a.Config.Coalescer.WindowDuration,
		MaxWaitTime:           a.Config.Coalescer.MaxWaitTime,
		MaxWaitersPerGroup:    a.Config.Coalescer.MaxWaitersPerGroup,
		MaxVersionGap:         a.Config.Coalescer.MaxVersionGap,
		DiagnosticHistorySize: a.Config.Coalescer.DiagnosticHistorySize,
	}
	a.Coalescer = coalesce.New(cfg, a.Registerer)
	return nil
}

func (a *App) initCatalog(ctx context.Context) error {
	c, err := catalog.NewClient(ctx, a.Config.Catalog)
	if err != nil {
		return err
	}
	a.Catalog = c
	return nil
}

func (a *App) initDispatch(context.Context) error {
	handler := &dispatch.CommandHandler{
		Coalescer: a.Coalescer,
		Build: func(namespace string, requestVersion uint64) coalesce.QueryFunc {
			return a.Catalog.QueryFunc(context.Background(), namespace, requestVersion)
		},
	}

	ln, err := dispatch.NewListener(a.Config.Dispatch, handler)
	if err != nil {
		return err
	}
	a.Listener = ln
	return nil
}

func (a *App) initAPI(context.Context) error {
	srv, err := api.New(*a.Config.API, a.Coalescer)
	if err != nil {
		return err
	}
	a.API = srv
	return nil
}

// reloadConfig reloads the config, triggered by SIGHUP. Only the
// coalescer's admission policy is hot-reloaded; the catalog connection
// and listen address require a restart to change.
func (a *App) reloadConfig(ctx context.Context) error {
	reloaded, err := a.loader.Load(ctx)
	if err != nil {
		return err
	}
	if !reloaded {
		log.Info().Msg("config not reloaded, no changes detected")
		return nil
	}
	a.applyConfig()
	log.Info().Msg("config reloaded")
	return nil
}

func (a *App) applyConfig() {
	a.Config = a.loader.Config()
	a.Coalescer.UpdateConfig(coalesce.Config{
		Enabled:               a.Config.Coalescer.Enabled,
		WindowDuration:        a.Config.Coalescer.WindowDuration,
		MaxWaitTime:           a.Config.Coalescer.MaxWaitTime,
		MaxWaitersPerGroup:    a.Config.Coalescer.MaxWaitersPerGroup,
		MaxVersionGap:         a.Config.Coalescer.MaxVersionGap,
		DiagnosticHistorySize: a.Config.Coalescer.DiagnosticHistorySize,
	})
}

// Run starts the dispatch listener and API server and blocks until a
// shutdown signal is received.
func (a *App) Run() error {
	if a.loader.AutoReload() {
		if err := a.loader.Watch(context.Background()); err != nil {
			return err
		}
		defer a.loader.Close()
		go func() {
			for changed := range a.loader.Events {
				if !changed {
					continue
				}
				log.Info().Msg("config file changed, reloading config")
				a.applyConfig()
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case s := <-signals:
				if s == syscall.SIGHUP {
					log.Info().Msg("received SIGHUP, reloading config")
					if err := a.reloadConfig(context.Background()); err != nil {
						log.Error().Err(err).Msg("error reloading config")
					}
				}
			case <-stop:
				return
			}
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go a.API.Run()
	go a.Listener.Start(ctx)

	log.Info().Str("version", version.Info()).Msg("coalescer just started")

	<-ctx.Done()

	log.Info().Msg("shutting down")
	a.Coalescer.Shutdown()
	a.Listener.Shutdown(context.Background())
	if a.Catalog != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Catalog.Close(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error closing catalog client")
		}
	}

	return nil
}
