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

// Package router implements the routing pool (C6): one RoutingTable per
// database, kept fresh by talking to the cluster's routers, and a
// least-in-use-count load balancer over the readers/writers it discovers.
// It is layered directly on top of pool.Pool and never touches a socket
// itself.
package router

import (
	"context"
	"math/rand"
	"time"

	"github.com/boltgraph/graphdb-go-driver/internal/address"
	"github.com/boltgraph/graphdb-go-driver/internal/db"
	"github.com/boltgraph/graphdb-go-driver/internal/deadline"
	"github.com/boltgraph/graphdb-go-driver/internal/log"
	"github.com/boltgraph/graphdb-go-driver/internal/metrics"
	"github.com/boltgraph/graphdb-go-driver/internal/pool"
)

// Config bundles the knobs spec.md §6 assigns to the router.
type Config struct {
	InitialRouters []address.Address

	// AcquisitionTimeout bounds only the select-then-borrow stage of
	// Acquire (the pool.Pool.Acquire call), after a fresh routing table is
	// already in hand. It does not run while a routing table is being
	// rediscovered.
	AcquisitionTimeout time.Duration

	// UpdateRoutingTableTimeout caps a single updateRoutingTable call (one
	// full pass over candidate routers), independently of whatever overall
	// deadline the caller (EnsureFreshRoutingTable/Acquire) is already
	// carrying. Zero means no extra cap beyond the caller's own deadline.
	UpdateRoutingTableTimeout time.Duration

	RoutingTablePurge time.Duration
	Now               func() time.Time
}

// Router owns every database's RoutingTable and the single pool beneath
// them. refresh_lock (§5) is the deadlineMutex below; it is always taken
// before the pool's own lock, never while holding it. Acquire releases it
// before borrowing the connection it hands out; routing-table rediscovery
// holds it while borrowing, using and releasing the ROUTE connection.
type Router struct {
	cfg      Config
	resolver address.Resolver
	pool     *pool.Pool
	log      log.Logger
	m        *metrics.Registry

	refreshLock deadlineMutex
	tables      map[string]*db.RoutingTable
}

// New builds a Router. resolver resolves router hostnames encountered while
// rediscovering a routing table; it is never consulted for readers/writers,
// which a ROUTE response already reports as dialable endpoints.
func New(cfg Config, resolver address.Resolver, p *pool.Pool, logger log.Logger, m *metrics.Registry) *Router {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if resolver == nil {
		resolver = address.Identity()
	}
	if logger == nil {
		logger = log.Nop()
	}
	r := &Router{
		cfg:         cfg,
		resolver:    resolver,
		pool:        p,
		log:         logger,
		m:           m,
		refreshLock: newDeadlineMutex(),
		tables:      make(map[string]*db.RoutingTable),
	}
	r.tables[db.DefaultDatabase] = db.NewRoutingTable(db.DefaultDatabase, cfg.InitialRouters)
	return r
}

// RoutingRefreshTimeoutError means the refresh_lock could not be acquired
// before dl expired — some other goroutine was already rediscovering the
// same (or another) database's routing table for too long.
type RoutingRefreshTimeoutError struct{}

func (e *RoutingRefreshTimeoutError) Error() string { return "router: timed out waiting for refresh lock" }
func (e *RoutingRefreshTimeoutError) IsRetryable() bool { return true }

func toResolved(a address.Address) address.ResolvedAddress {
	return address.ResolvedAddress{Unresolved: a, IP: a.Host, Port: a.Port}
}

// timeoutDeadline treats a non-positive timeout as "unbounded" (deadline.None)
// rather than "expires immediately", matching this driver's convention for
// every duration knob that doubles as a wait cap (§6).
func timeoutDeadline(timeout time.Duration, now deadline.Clock) (deadline.Deadline, error) {
	if timeout <= 0 {
		return deadline.None, nil
	}
	return deadline.FromTimeout(timeout, now)
}

// lockRefresh acquires refresh_lock, honouring dl. Callers must call the
// returned unlock func exactly once, however they leave the critical
// section.
func (r *Router) lockRefresh(ctx context.Context, dl deadline.Deadline) (func(), error) {
	timeout, hasDeadline := dl.ToTimeout(r.cfg.Now)
	if hasDeadline && timeout == 0 {
		// An expired deadline only takes a lock that is free right now;
		// TryLock would read a zero timeout as "block indefinitely".
		select {
		case <-r.refreshLock:
			return r.refreshLock.Unlock, nil
		default:
			return nil, &RoutingRefreshTimeoutError{}
		}
	}
	if !r.refreshLock.TryLock(ctx, timeout) {
		return nil, &RoutingRefreshTimeoutError{}
	}
	return r.refreshLock.Unlock, nil
}

// tableFor returns database's table, creating one seeded from the driver's
// bootstrap router list if this is the first time database is seen.
func (r *Router) tableFor(database string) *db.RoutingTable {
	t, ok := r.tables[database]
	if !ok {
		t = db.NewRoutingTable(database, r.cfg.InitialRouters)
		r.tables[database] = t
	}
	return t
}

// EnsureFreshRoutingTable guarantees database's table is fresh for mode
// before returning, rediscovering it (and purging other stale tables) if
// not. Must be called without holding refresh_lock.
func (r *Router) EnsureFreshRoutingTable(ctx context.Context, mode db.AccessMode, database string, bookmarks []string, impersonatedUser string, dl deadline.Deadline) error {
	unlock, err := r.lockRefresh(ctx, dl)
	if err != nil {
		return err
	}
	defer unlock()

	t := r.tableFor(database)
	if t.Fresh(mode == db.ReadMode, r.cfg.Now) {
		return nil
	}
	if err := r.updateRoutingTable(ctx, database, impersonatedUser, bookmarks, dl, nil); err != nil {
		return err
	}
	r.purgeStaleTables()
	return nil
}

func (r *Router) purgeStaleTables() {
	for name, t := range r.tables {
		// The default-database key is checked by name too: home-database
		// resolution can set that table's Database to the resolved name.
		if name != db.DefaultDatabase && t.ShouldPurge(r.cfg.RoutingTablePurge, r.cfg.Now) {
			delete(r.tables, name)
		}
	}
}

// updateRoutingTable runs the R0-aware router rotation policy from §4.3.
// Must be called with refresh_lock held. The fetch deadline used for every
// ROUTE attempt below is dl capped by UpdateRoutingTableTimeout, so one slow
// refresh cannot silently run for as long as the caller's entire overall
// deadline allows.
func (r *Router) updateRoutingTable(ctx context.Context, database, impersonatedUser string, bookmarks []string, dl deadline.Deadline, databaseCallback func(string)) error {
	t := r.tableFor(database)

	if len(r.cfg.InitialRouters) == 0 {
		return &db.ServiceUnavailableError{Message: "router: no initial routers configured"}
	}
	r0 := r.cfg.InitialRouters[0]

	refreshCap, err := timeoutDeadline(r.cfg.UpdateRoutingTableTimeout, r.cfg.Now)
	if err != nil {
		return err
	}
	fetchDl := deadline.Merge(dl, refreshCap)

	triedR0 := false
	if t.InitializedWithoutWriters {
		fresh, err := r.tryResolveAndFetch(ctx, r0, database, impersonatedUser, bookmarks, fetchDl, databaseCallback)
		triedR0 = true
		if err != nil {
			return err
		}
		if fresh != nil {
			return r.commitFreshTable(ctx, t, fresh)
		}
	}

	tried := map[address.Address]bool{r0: triedR0}
	for _, router := range t.Routers {
		if tried[router] {
			continue
		}
		tried[router] = true
		fresh, err := r.tryResolveAndFetch(ctx, router, database, impersonatedUser, bookmarks, fetchDl, databaseCallback)
		if err != nil {
			return err
		}
		if fresh != nil {
			return r.commitFreshTable(ctx, t, fresh)
		}
	}

	if !tried[r0] {
		tried[r0] = true
		fresh, err := r.tryResolveAndFetch(ctx, r0, database, impersonatedUser, bookmarks, fetchDl, databaseCallback)
		if err != nil {
			return err
		}
		if fresh != nil {
			return r.commitFreshTable(ctx, t, fresh)
		}
	}

	for router := range tried {
		r.pool.Deactivate(ctx, router)
	}
	r.m.RoutingRefreshes.WithLabelValues("failed").Inc()
	r.m.RoutingFailures.Inc()
	return &db.ServiceUnavailableError{Message: "router: unable to retrieve routing table for database " + database + " from any known router"}
}

// commitFreshTable installs fresh as t's new view and evicts any pooled
// connection to a server that fell out of every tracked database's
// routers/readers/writers set as a result, per spec.md §4.3 step 4's
// update_connection_pool.
func (r *Router) commitFreshTable(ctx context.Context, t *db.RoutingTable, fresh *db.RoutingTable) error {
	t.Update(fresh, r.cfg.Now)
	r.updateConnectionPool(ctx)
	r.m.RoutingRefreshes.WithLabelValues("success").Inc()
	return nil
}

// updateConnectionPool closes every idle pooled connection whose address is
// no longer present in any database's current routing table, now that one
// of those tables just changed.
func (r *Router) updateConnectionPool(ctx context.Context) {
	keep := make(map[address.Address]bool)
	for _, t := range r.tables {
		for _, a := range t.Routers {
			keep[a] = true
		}
		for _, a := range t.Readers {
			keep[a] = true
		}
		for _, a := range t.Writers {
			keep[a] = true
		}
	}
	r.pool.UpdateConnectionPool(ctx, func(a address.Address) bool { return keep[a] })
}

// tryResolveAndFetch resolves router into its concrete endpoints and tries
// each in order, stopping at the first that returns a usable table. A nil,
// nil result means every endpoint recoverably failed; the caller should
// move on to the next router in the list.
func (r *Router) tryResolveAndFetch(ctx context.Context, router address.Address, database, impersonatedUser string, bookmarks []string, dl deadline.Deadline, databaseCallback func(string)) (*db.RoutingTable, error) {
	resolved, err := r.resolver.Resolve(ctx, router)
	if err != nil {
		r.log.Debugf(log.Router, router.String(), "could not resolve router: %v", err)
		return nil, nil
	}
	for _, endpoint := range resolved {
		fresh, err := r.fetchRoutingTable(ctx, endpoint, database, impersonatedUser, bookmarks, dl)
		if err != nil {
			return nil, err
		}
		if fresh != nil {
			if databaseCallback != nil {
				databaseCallback(fresh.Database)
			}
			return fresh, nil
		}
	}
	return nil, nil
}

// fetchRoutingTable borrows a connection to endpoint, sends ROUTE, and
// validates the result per §4.3: at least one router and one reader, an
// empty writer set tolerated. A nil, nil result means a recoverable
// failure (service unavailable, session expired, or a structurally unusable
// table); a non-nil error means discovery must abort immediately.
func (r *Router) fetchRoutingTable(ctx context.Context, endpoint address.ResolvedAddress, database, impersonatedUser string, bookmarks []string, dl deadline.Deadline) (*db.RoutingTable, error) {
	conn, err := r.pool.Acquire(ctx, endpoint, dl, 0)
	if err != nil {
		r.log.Debugf(log.Router, endpoint.String(), "could not acquire connection for routing: %v", err)
		return nil, nil
	}
	defer r.pool.Release(ctx, conn)

	var rt *db.RoutingTable
	err = deadline.WithConnection(conn, dl, func() error {
		var routeErr error
		rt, routeErr = conn.Route(ctx, database, impersonatedUser, bookmarks)
		return routeErr
	})
	if err != nil {
		if db.FatalDuringDiscovery(err) {
			return nil, err
		}
		r.log.Debugf(log.Router, endpoint.String(), "route request failed: %v", err)
		return nil, nil
	}
	if rt == nil || len(rt.Routers) == 0 || len(rt.Readers) == 0 {
		r.log.Warnf(log.Router, endpoint.String(), "discarding routing table missing routers or readers")
		return nil, nil
	}
	return rt, nil
}

// selectAddress picks one address serving mode in database's routing table,
// favouring whichever has the fewest in-use connections, breaking ties
// uniformly at random. Must be called with refresh_lock held by the caller
// (Acquire holds it for the selection only and releases it before borrowing
// from the pool).
func (r *Router) selectAddress(mode db.AccessMode, database string) (address.Address, error) {
	t, ok := r.tables[database]
	if !ok {
		return address.Address{}, &db.SessionExpiredError{Message: "router: no routing table for database " + database}
	}
	candidates := t.RoleSet(mode)
	if len(candidates) == 0 {
		return address.Address{}, &db.SessionExpiredError{Message: "router: no " + mode.String() + " servers available for database " + database}
	}

	best := make([]address.Address, 0, len(candidates))
	minCount := -1
	for _, a := range candidates {
		n := r.pool.InUseCount(toResolved(a))
		switch {
		case minCount < 0 || n < minCount:
			minCount = n
			best = best[:0]
			best = append(best, a)
		case n == minCount:
			best = append(best, a)
		}
	}
	return best[rand.Intn(len(best))], nil
}

// Acquire implements §4.3's combined ensure-fresh + select + borrow
// operation: it guarantees a fresh routing table, then tries addresses until
// one connection is obtained or timeout is exhausted. An address whose
// borrow fails with service-unavailable or session-expired is deactivated
// and another is selected from the same table; routing-table discovery is
// not rerun, so once no candidate is left selectAddress's error is returned.
//
// livenessCheckTimeout is passed straight through to pool.Pool.Acquire and
// controls whether an idle-long-enough candidate gets a Reset probe before
// being handed back. Per §4.4, the ordinary session connect path must pass 0
// (skip the check entirely) — only VerifyConnectivity, which wants an eager,
// synchronous health signal, passes the real configured value. Routing-table
// fetches borrow from the pool directly with 0.
func (r *Router) Acquire(ctx context.Context, mode db.AccessMode, database, impersonatedUser string, bookmarks []string, timeout time.Duration, livenessCheckTimeout time.Duration) (db.Connection, error) {
	dl, err := timeoutDeadline(timeout, r.cfg.Now)
	if err != nil {
		return nil, err
	}

	if err := r.EnsureFreshRoutingTable(ctx, mode, database, bookmarks, impersonatedUser, dl); err != nil {
		return nil, err
	}

	// The acquisition timeout's clock starts now, after the (potentially
	// slow) routing refresh above, so that time is not billed against it.
	acqDl, err := timeoutDeadline(r.cfg.AcquisitionTimeout, r.cfg.Now)
	if err != nil {
		return nil, err
	}
	dl = deadline.Merge(dl, acqDl)

	for {
		unlock, err := r.lockRefresh(ctx, dl)
		if err != nil {
			return nil, err
		}
		addr, err := r.selectAddress(mode, database)
		unlock()
		if err != nil {
			return nil, err
		}

		conn, err := r.pool.Acquire(ctx, toResolved(addr), dl, livenessCheckTimeout)
		if err == nil {
			return conn, nil
		}
		if !isServiceUnavailableOrSessionExpired(err) {
			return nil, err
		}
		r.Deactivate(ctx, addr)

		if dl.Expired(r.cfg.Now) {
			return nil, err
		}
	}
}

func isServiceUnavailableOrSessionExpired(err error) bool {
	switch err.(type) {
	case *db.ServiceUnavailableError, *db.SessionExpiredError:
		return true
	default:
		return false
	}
}

// ResolveHomeDatabase runs a routing-table update for the default database
// purely to learn which concrete database name the server resolves the
// (possibly impersonated) user's home database to, per SPEC_FULL §9's
// home-database discovery feature. It does not change which table
// subsequent reads/writes for db.DefaultDatabase use.
func (r *Router) ResolveHomeDatabase(ctx context.Context, impersonatedUser string, bookmarks []string, dl deadline.Deadline) (string, error) {
	unlock, err := r.lockRefresh(ctx, dl)
	if err != nil {
		return "", err
	}
	defer unlock()

	var reported string
	if err := r.updateRoutingTable(ctx, db.DefaultDatabase, impersonatedUser, bookmarks, dl, func(name string) { reported = name }); err != nil {
		return "", err
	}
	if reported == "" {
		reported = db.DefaultDatabase
	}
	return reported, nil
}

// Deactivate removes addr from every database's routing table and from the
// pool. Overrides the naive "just tell the pool" behaviour because a single
// bad server can appear in more than one database's table at once.
func (r *Router) Deactivate(ctx context.Context, addr address.Address) {
	unlock, _ := r.lockRefresh(ctx, deadline.None)
	if unlock != nil {
		for _, t := range r.tables {
			t.RemoveAddress(addr, true, true, true)
		}
		unlock()
	}
	r.pool.Deactivate(ctx, addr)
}

// OnWriteFailure removes addr from every database's writer set only,
// per §4.3: a server that rejected a write because it lost leadership is
// still a perfectly good router and reader.
func (r *Router) OnWriteFailure(ctx context.Context, addr address.Address) {
	unlock, err := r.lockRefresh(ctx, deadline.None)
	if err != nil {
		return
	}
	defer unlock()
	for _, t := range r.tables {
		t.RemoveAddress(addr, false, false, true)
	}
}

// Release returns conn to the pool beneath this router. Every connection
// obtained from Acquire must eventually reach either Release or Deactivate
// (via a failure path) — calling Close directly on it would discard it
// instead of returning it to the pool.
func (r *Router) Release(ctx context.Context, conn db.Connection) {
	r.pool.Release(ctx, conn)
}

// Close closes the pool beneath this router.
func (r *Router) Close(ctx context.Context) {
	r.pool.Close(ctx)
}
