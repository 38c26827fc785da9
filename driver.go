/*
 * Copyright (c) "BoltGraph"
 * BoltGraph Authors
 *
 * This file is part of graphdb-go-driver.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */

// Package graphdb is the public surface of the driver: Driver and Session
// construction, bookmarks, configuration and error types. It owns no wire
// protocol of its own — everything below internal/db.Opener is a
// collaborator this package is handed at construction time.
package graphdb

import (
	"context"

	"github.com/boltgraph/graphdb-go-driver/internal/address"
	"github.com/boltgraph/graphdb-go-driver/internal/db"
	"github.com/boltgraph/graphdb-go-driver/internal/log"
	"github.com/boltgraph/graphdb-go-driver/internal/metrics"
	"github.com/boltgraph/graphdb-go-driver/internal/pool"
	"github.com/boltgraph/graphdb-go-driver/internal/router"
)

// Driver is the top-level, thread-safe entry point: one per application
// process per cluster, sharing a single connection pool and routing table
// across every Session it hands out. It does not parse a connection URI or
// negotiate TLS/credentials — those belong to the Opener it is constructed
// with (SPEC_FULL §1's collaborator boundary).
type Driver struct {
	config  *Config
	router  *router.Router
	log     log.Logger
	metrics *metrics.Registry
	closed  bool
}

// NewDriver builds a Driver against initialRouters using opener to dial new
// connections and resolver to resolve router hostnames during rediscovery.
// A nil resolver defaults to address.Identity(); a nil logger defaults to
// log.Nop(); a nil metrics registry defaults to metrics.Nop().
func NewDriver(initialRouters []address.Address, opener db.Opener, resolver address.Resolver, logger log.Logger, m *metrics.Registry, cfg Config) (*Driver, error) {
	if len(initialRouters) == 0 {
		return nil, &UsageError{Message: "at least one initial router address is required"}
	}
	if opener == nil {
		return nil, &UsageError{Message: "an Opener is required"}
	}
	var err error
	cfg, err = cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = log.Nop()
	}
	if m == nil {
		m = metrics.Nop()
	}

	p := pool.New(pool.Config{
		MaxSize:           cfg.Pool.MaxConnectionPoolSize,
		MaxConnectionAge:  cfg.Pool.MaxConnectionLifetime,
		ConnectionTimeout: cfg.Pool.ConnectionTimeout,
	}, opener, logger, m)

	r := router.New(router.Config{
		InitialRouters:            initialRouters,
		RoutingTablePurge:         cfg.Routing.RoutingTablePurgeDelay,
		AcquisitionTimeout:        cfg.Pool.ConnectionAcquisitionTimeout,
		UpdateRoutingTableTimeout: cfg.Pool.UpdateRoutingTableTimeout,
	}, resolver, p, logger, m)

	return &Driver{
		config:  &cfg,
		router:  r,
		log:     logger,
		metrics: m,
	}, nil
}

// NewSession creates a Session scoped to sessConfig. Sessions are cheap and
// meant to be short-lived: one per logical unit of work, not pooled
// themselves (the connection pool underneath is what is actually reused).
func (d *Driver) NewSession(sessConfig SessionConfig) Session {
	return newSession(d.config, sessConfig, d.router, d.log, d.metrics)
}

// VerifyConnectivity borrows and immediately releases one connection,
// surfacing any cluster-wide connectivity failure eagerly instead of
// leaving a caller to discover it on first real use.
func (d *Driver) VerifyConnectivity(ctx context.Context) error {
	conn, err := d.router.Acquire(ctx, db.ReadMode, db.DefaultDatabase, "", nil,
		d.config.Pool.SessionConnectionTimeout, d.config.Pool.LivenessCheckTimeout)
	if err != nil {
		return wrapError(err)
	}
	d.router.Release(ctx, conn)
	return nil
}

// Close releases every pooled connection. Safe to call more than once.
func (d *Driver) Close(ctx context.Context) error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.router.Close(ctx)
	return nil
}
