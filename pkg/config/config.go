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

package config

import (
	"errors"
	"time"
)

var (
	errInvalidDispatchConfig = errors.New("invalid dispatch config")
	errInvalidCatalogConfig  = errors.New("invalid catalog config: uri, database, and collection are required")
)

// Configuration is the root configuration.
type Configuration struct {
	Dispatch  *DispatchConfig  `yaml:"dispatch"`
	Coalescer *CoalescerConfig `yaml:"coalescer"`
	Catalog   *CatalogConfig   `yaml:"catalog"`

	API *API `yaml:"api"`
	Log *Log `yaml:"logging"`
}

// Validate validates the configuration and fills coalescer defaults.
// Enabled is not defaulted: a config that omits the coalescer section,
// or its enabled key, leaves coalescing disabled.
func (c *Configuration) Validate() error {
	if c.Dispatch == nil || c.Dispatch.Addr == "" {
		return errInvalidDispatchConfig
	}
	if c.Catalog == nil || c.Catalog.URI == "" || c.Catalog.Database == "" || c.Catalog.Collection == "" {
		return errInvalidCatalogConfig
	}
	if c.Coalescer == nil {
		c.Coalescer = &CoalescerConfig{}
	}
	applyCoalescerDefaults(c.Coalescer)
	return nil
}

// applyCoalescerDefaults fills unset (zero) CoalescerConfig tuning
// fields with coalesce.DefaultConfig's values, so an operator's YAML only
// needs to name the settings they want to override. Enabled is left as
// decoded.
func applyCoalescerDefaults(cc *CoalescerConfig) {
	if cc.WindowDuration <= 0 {
		cc.WindowDuration = 5 * time.Millisecond
	}
	if cc.MaxWaitTime <= 0 {
		cc.MaxWaitTime = 100 * time.Millisecond
	}
	if cc.MaxWaitersPerGroup <= 0 {
		cc.MaxWaitersPerGroup = 1000
	}
	if cc.MaxVersionGap == 0 {
		cc.MaxVersionGap = 500
	}
	if cc.DiagnosticHistorySize <= 0 {
		cc.DiagnosticHistorySize = 128
	}
}

// Global holds the global configuration.
type Global struct {
	ApplicationName string `yaml:"-"`
	HTTPAddr        string `yaml:"host"`
}

// DispatchConfig holds the find-command HTTP entry point config: the
// address mongos-facing clients connect to with a (namespace,
// request_version) lookup.
type DispatchConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

// CoalescerConfig is the YAML-facing mirror of coalesce.Config. It is
// decoded separately and translated, rather than embedding coalesce.Config
// directly, so the coalesce package stays free of a config-file
// dependency.
type CoalescerConfig struct {
	Enabled               bool          `yaml:"enabled"`
	WindowDuration        time.Duration `yaml:"window_duration"`
	MaxWaitTime           time.Duration `yaml:"max_wait_time"`
	MaxWaitersPerGroup    int           `yaml:"max_waiters_per_group"`
	MaxVersionGap         uint64        `yaml:"max_version_gap"`
	DiagnosticHistorySize int           `yaml:"diagnostic_history_size"`
}

// CatalogConfig configures the MongoDB-backed chunk catalog client that
// backs the coalescer's query_fn.
type CatalogConfig struct {
	URI        string        `yaml:"uri"`
	Database   string        `yaml:"database"`
	Collection string        `yaml:"collection"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// Retry governs cenkalti/backoff retries around a single query.
	RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed"`

	// Breaker governs the sony/gobreaker circuit breaker wrapping the
	// catalog client, tripped after consecutive query failures.
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout"`
}

// API holds the API configuration.
type API struct {
	Port   int    `yaml:"port"`
	Prefix string `yaml:"prefix,omitempty"`
	ACL    string `yaml:"acl,omitempty"`
	Debug  bool   `yaml:"debug,omitempty"`
}

// GetPrefix returns the API prefix as specified
// in the configuration. Default prefix is 'api'.
func (a *API) GetPrefix() string {
	prefix := "/api"
	if len(a.Prefix) > 0 {
		prefix = a.Prefix
	}
	return prefix
}

// Log holds the logger configuration.
type Log struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
	Color  bool   `yaml:"color,omitempty"`

	FilePath   string `yaml:"file,omitempty"`
	MaxSize    int    `yaml:"max_size,omitempty"`
	MaxAge     int    `yaml:"max_age,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}
