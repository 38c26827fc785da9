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

// Package metrics exposes the pool and router's operational counters as
// prometheus collectors. It is an ambient concern the spec does not name,
// but the pack's connection-pool services (db-bouncer, the RDS pooling
// proxy) all instrument their pools this way, so this module does too,
// wiring them rather than leaving them as dead weight in go.mod.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every collector this driver emits. It is constructed once
// per Driver and threaded explicitly into pool.New/router.New instead of
// registering against the global prometheus.DefaultRegisterer, so that
// multiple drivers (and every unit test) can coexist without collector
// collisions.
type Registry struct {
	InUseConnections   *prometheus.GaugeVec
	IdleConnections    *prometheus.GaugeVec
	AcquireWaitSeconds prometheus.Histogram
	AcquireTimeouts    prometheus.Counter
	ConnectionsOpened  *prometheus.CounterVec
	ConnectionsClosed  *prometheus.CounterVec
	RoutingRefreshes   *prometheus.CounterVec
	RoutingFailures    prometheus.Counter
	RetryAttempts      prometheus.Counter
	RetryGivenUp       prometheus.Counter

	registerer prometheus.Registerer
}

// New builds a Registry and registers all of its collectors against reg.
// Pass prometheus.NewRegistry() in tests to keep metrics isolated.
func New(reg prometheus.Registerer, namespace string) *Registry {
	r := &Registry{
		registerer: reg,
		InUseConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "in_use_connections",
			Help: "Connections currently checked out, by server address.",
		}, []string{"address"}),
		IdleConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "idle_connections",
			Help: "Connections sitting idle in the pool, by server address.",
		}, []string{"address"}),
		AcquireWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pool", Name: "acquire_wait_seconds",
			Help:    "Time spent waiting for Pool.Acquire to return.",
			Buckets: prometheus.DefBuckets,
		}),
		AcquireTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "acquire_timeouts_total",
			Help: "Acquire calls that gave up with PoolAcquisitionTimeout.",
		}),
		ConnectionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "connections_opened_total",
			Help: "Connections successfully opened, by server address.",
		}, []string{"address"}),
		ConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "connections_closed_total",
			Help: "Connections closed (evicted, deactivated, or drained), by reason.",
		}, []string{"reason"}),
		RoutingRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "refreshes_total",
			Help: "Routing table refresh attempts, by outcome.",
		}, []string{"outcome"}),
		RoutingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "discovery_exhausted_total",
			Help: "Times every router was exhausted without a usable routing table.",
		}),
		RetryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retry", Name: "attempts_total",
			Help: "Managed transaction attempts, including the first.",
		}),
		RetryGivenUp: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retry", Name: "given_up_total",
			Help: "Managed transaction retry loops that exhausted their budget.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			r.InUseConnections, r.IdleConnections, r.AcquireWaitSeconds, r.AcquireTimeouts,
			r.ConnectionsOpened, r.ConnectionsClosed, r.RoutingRefreshes, r.RoutingFailures,
			r.RetryAttempts, r.RetryGivenUp,
		)
	}
	return r
}

// Nop returns a Registry backed by a private, never-exposed prometheus
// registry, so callers (chiefly unit tests) can record metrics without any
// global state or collector name collisions.
func Nop() *Registry {
	return New(prometheus.NewRegistry(), "graphdb_nop")
}
