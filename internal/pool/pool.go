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

// Package pool implements the per-address bounded connection pool (C5):
// reservations, waiters, liveness checks, mark-stale, deactivate, and
// release-with-reset. It knows nothing about routing tables or databases —
// that is the router package's job, layered on top.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/boltgraph/graphdb-go-driver/internal/address"
	"github.com/boltgraph/graphdb-go-driver/internal/db"
	"github.com/boltgraph/graphdb-go-driver/internal/deadline"
	"github.com/boltgraph/graphdb-go-driver/internal/log"
	"github.com/boltgraph/graphdb-go-driver/internal/metrics"
	"github.com/boltgraph/graphdb-go-driver/internal/racing"
)

// Unbounded is the MaxSize sentinel meaning "no per-address cap".
const Unbounded = -1

// TimeoutError is raised when Acquire's condition wait expires with no
// usable connection and no free slot.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pool: timed out waiting %s for a connection", e.Timeout)
}

func (e *TimeoutError) IsRetryable() bool { return false }

// Config bundles the knobs spec.md §6 assigns to the pool.
type Config struct {
	MaxSize           int
	MaxConnectionAge  time.Duration // 0 disables lifetime-based staleness
	ConnectionTimeout time.Duration
	Now               func() time.Time
}

// pooledConn pairs a connection with the time it was opened, so the pool can
// enforce Config.MaxConnectionAge without db.Connection itself needing to
// expose a creation time.
type pooledConn struct {
	conn      db.Connection
	createdAt time.Time
}

type entry struct {
	conns        []pooledConn
	reservations int
}

// Pool is a per-address bounded pool of db.Connection, safe for concurrent
// use by many goroutines, as required by §5.
type Pool struct {
	cfg    Config
	opener db.Opener
	log    log.Logger
	m      *metrics.Registry

	mu      sync.Mutex
	cond    *sync.Cond
	entries map[string]*entry
	closed  bool
}

// New builds a Pool. opener, logger and m must be non-nil; a nil Config.Now
// defaults to time.Now.
func New(cfg Config, opener db.Opener, logger log.Logger, m *metrics.Registry) *Pool {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	p := &Pool{
		cfg:     cfg,
		opener:  opener,
		log:     logger,
		m:       m,
		entries: make(map[string]*entry),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *Pool) entryFor(key string) *entry {
	e, ok := p.entries[key]
	if !ok {
		e = &entry{}
		p.entries[key] = e
	}
	return e
}

// eligibleForReuse implements §3's definition: not closed, not defunct, not
// stale, not in use.
func eligibleForReuse(c db.Connection) bool {
	return !c.IsClosed() && !c.IsDefunct() && !c.IsStale() && !c.IsInUse()
}

func isServiceUnavailable(err error) bool {
	_, ok := err.(*db.ServiceUnavailableError)
	return ok
}

// Acquire returns a reusable or newly opened connection to addr, honouring
// dl and, if set, probing connections idle at least livenessCheckTimeout
// with a Reset before trusting them.
func (p *Pool) Acquire(ctx context.Context, addr address.ResolvedAddress, dl deadline.Deadline, livenessCheckTimeout time.Duration) (db.Connection, error) {
	start := p.cfg.Now()
	defer func() { p.m.AcquireWaitSeconds.Observe(p.cfg.Now().Sub(start).Seconds()) }()

	key := addr.Key()
	for {
		if p.isClosed() {
			return nil, &db.ServiceUnavailableError{Message: "pool: closed"}
		}

		// §4.2: scan for a reusable connection, health-checking any that
		// have been idle past livenessCheckTimeout. Found is non-nil iff a
		// connection was handed back; evicted is true if the scan closed a
		// dead connection and should restart from scratch before falling
		// through to slot admission.
		found, evicted := p.scanForReusable(ctx, key, dl, livenessCheckTimeout)
		if found != nil {
			p.gauge(key)
			return found, nil
		}
		if evicted {
			continue
		}

		conn, admitted, err := p.tryAdmitNewConnection(ctx, addr, dl)
		if err != nil {
			return nil, err
		}
		if admitted {
			return conn, nil
		}

		// No reusable connection, no free slot: wait for a release.
		timeout, hasDeadline := dl.ToTimeout(p.cfg.Now)
		if hasDeadline && timeout == 0 {
			p.m.AcquireTimeouts.Inc()
			return nil, &TimeoutError{Timeout: p.cfg.Now().Sub(start)}
		}
		<-p.waitOnCond(timeout, hasDeadline)
		// loop around: rescan from scratch, spurious or real wake-up alike.
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// scanForReusable looks for one eligible connection to key, health-checking
// any idle past livenessCheckTimeout. It acquires p.mu itself and never
// holds it across the Reset probe I/O, per §5.
func (p *Pool) scanForReusable(ctx context.Context, key string, dl deadline.Deadline, livenessCheckTimeout time.Duration) (found db.Connection, evicted bool) {
	p.mu.Lock()
	e := p.entryFor(key)
	var candidate db.Connection
	var candidateCreatedAt time.Time
	candidateIdx := -1
	for i, pc := range e.conns {
		if eligibleForReuse(pc.conn) {
			candidate = pc.conn
			candidateCreatedAt = pc.createdAt
			candidateIdx = i
			break
		}
	}
	if candidate == nil {
		p.mu.Unlock()
		return nil, false
	}

	// §6: connections older than MaxConnectionAge become stale at health
	// check — evict immediately rather than handing one back or spending a
	// liveness probe on it.
	if p.cfg.MaxConnectionAge > 0 && p.cfg.Now().Sub(candidateCreatedAt) >= p.cfg.MaxConnectionAge {
		e.conns = removeAt(e.conns, candidateIdx)
		p.mu.Unlock()
		candidate.Close(ctx)
		p.m.ConnectionsClosed.WithLabelValues("max_lifetime_exceeded").Inc()
		p.gauge(key)
		return nil, true
	}

	needsCheck := livenessCheckTimeout > 0 && candidate.IdleDuration() >= livenessCheckTimeout
	// The candidate stays in e.conns, marked in use, so it keeps counting
	// against MaxSize and no other scan picks it while the probe runs.
	candidate.SetInUse(true)
	p.mu.Unlock()
	if !needsCheck {
		return candidate, false
	}

	timeout, _ := dl.ToTimeout(p.cfg.Now)
	probeCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		probeCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	probeDeadline, _ := deadline.FromTimeout(timeout, p.cfg.Now)
	if timeout == 0 {
		probeDeadline = deadline.None
	}
	err := deadline.WithConnection(candidate, probeDeadline, func() error {
		return racing.Go(probeCtx, func() error { return candidate.Reset(probeCtx) })
	})
	if cancel != nil {
		cancel()
	}
	if err != nil {
		p.log.Debugf(log.Pool, key, "liveness check failed, evicting: %v", err)
		candidate.Close(ctx)
		p.removeClosed(candidate)
		p.m.ConnectionsClosed.WithLabelValues("liveness_check_failed").Inc()
		p.gauge(key)
		return nil, true
	}
	return candidate, false
}

// tryAdmitNewConnection reserves a slot and opens a new connection to addr
// if the pool has room, outside the pool lock. admitted is false (with a
// nil error) when the pool is already full and the caller should wait.
func (p *Pool) tryAdmitNewConnection(ctx context.Context, addr address.ResolvedAddress, dl deadline.Deadline) (conn db.Connection, admitted bool, err error) {
	key := addr.Key()

	p.mu.Lock()
	e := p.entryFor(key)
	poolSize := len(e.conns) + e.reservations
	if !(p.cfg.MaxSize < 0 || poolSize < p.cfg.MaxSize) {
		p.mu.Unlock()
		return nil, false, nil
	}
	e.reservations++
	p.mu.Unlock()

	timeout, _ := dl.ToTimeout(p.cfg.Now)
	openTimeout := p.cfg.ConnectionTimeout
	if timeout > 0 && (openTimeout == 0 || timeout < openTimeout) {
		openTimeout = timeout
	}
	opened, openErr := p.opener.Open(ctx, &addr, openTimeout)

	p.mu.Lock()
	e = p.entryFor(key)
	e.reservations--
	p.mu.Unlock()
	p.cond.Broadcast()

	if openErr != nil {
		if isServiceUnavailable(openErr) {
			p.Deactivate(ctx, addr.Unresolved)
		}
		return nil, false, openErr
	}

	p.mu.Lock()
	e = p.entryFor(key)
	e.conns = append(e.conns, pooledConn{conn: opened, createdAt: p.cfg.Now()})
	opened.SetInUse(true)
	p.mu.Unlock()
	p.m.ConnectionsOpened.WithLabelValues(key).Inc()
	p.gauge(key)
	return opened, true, nil
}

// waitOnCond blocks until the next Release broadcast, or until timeout
// elapses if hasDeadline. sync.Cond has no native timeout, so a timer is
// used to force a spurious broadcast; the caller always rescans afterwards
// regardless of why it woke, per §4.2's "on spurious wake-up, restart the
// scan".
func (p *Pool) waitOnCond(timeout time.Duration, hasDeadline bool) <-chan struct{} {
	done := make(chan struct{})
	var timer *time.Timer
	if hasDeadline {
		timer = time.AfterFunc(timeout, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
	}
	go func() {
		p.mu.Lock()
		p.cond.Wait()
		p.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		close(done)
	}()
	return done
}

func removeAt(conns []pooledConn, i int) []pooledConn {
	out := make([]pooledConn, 0, len(conns)-1)
	out = append(out, conns[:i]...)
	out = append(out, conns[i+1:]...)
	return out
}

// Release returns conns to the pool, resetting any that have not already
// been reset, and wakes every waiter. A connection already closed or
// defunct is simply dropped (not re-added). Calling Release twice on the
// same connection is a no-op the second time: a connection that is not in
// use is skipped, so it is neither reset nor touched again.
func (p *Pool) Release(ctx context.Context, conns ...db.Connection) {
	for _, c := range conns {
		if c == nil {
			continue
		}
		if c.IsClosed() || c.IsDefunct() {
			p.removeClosed(c)
			continue
		}
		if !c.IsInUse() {
			continue
		}
		if err := c.Reset(ctx); err != nil {
			p.log.Warnf(log.Pool, "release", "reset on release failed: %v", err)
		}
		c.SetInUse(false)
	}
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// removeClosed drops an already-closed/defunct connection from its entry's
// slice so a future scan never looks at it again.
func (p *Pool) removeClosed(c db.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		for i, pc := range e.conns {
			if pc.conn == c {
				e.conns = removeAt(e.conns, i)
				p.cond.Broadcast()
				return
			}
		}
	}
}

// MarkAllStale flags every pooled connection as stale; a subsequent Acquire
// will discard rather than reuse them. Used when the driver learns a
// server's identity changed underneath an existing connection (e.g. a
// leader election) without knowing precisely which connections are bad.
func (p *Pool) MarkAllStale(becauseOf func(db.Connection) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		for _, pc := range e.conns {
			if becauseOf == nil || becauseOf(pc.conn) {
				markStaleIfPossible(pc.conn)
			}
		}
	}
}

// markStaleIfPossible is indirected through a var so tests can fake a
// Connection that does not otherwise expose a setter (the db.Connection
// interface intentionally has no SetStale — staleness is meant to be a
// pool-internal concern signalled to the connection via Reset/Close, not a
// public mutator). Implementations used in production wire a connection
// type whose IsStale honours an internal flag set here through a narrower
// interface.
var markStaleIfPossible = func(c db.Connection) {
	if s, ok := c.(interface{ MarkStale() }); ok {
		s.MarkStale()
	}
}

// Deactivate removes and closes every idle (not in-use) connection to addr.
// An entry is matched through a connection that exposes an
// Unresolved() address.Address method; entries whose connections expose no
// such method are left untouched.
// It is idempotent: a second call finds nothing left to do. If the
// resolved-address entries for addr become empty, the bookkeeping entry is
// dropped so it does not grow the map forever (the "empty ⇒ removed"
// invariant from spec.md §9).
func (p *Pool) Deactivate(ctx context.Context, addr address.Address) {
	p.evictIdleWhere(ctx, func(a address.Address) bool { return a == addr }, "deactivated")
}

// UpdateConnectionPool evicts every idle pooled connection whose unresolved
// address keep reports false for. Called after a routing table refresh
// succeeds, so a server dropped from the cluster's routers/readers/writers
// set does not keep its idle connections around forever (spec.md §4.3 step
// 4). In-use connections are left alone; they are dropped on their next
// Release instead of being torn down mid-flight.
func (p *Pool) UpdateConnectionPool(ctx context.Context, keep func(address.Address) bool) {
	p.evictIdleWhere(ctx, func(a address.Address) bool { return !keep(a) }, "removed_from_routing_table")
}

// evictIdleWhere closes every idle connection whose inferred unresolved
// address satisfies shouldEvict, and drops bookkeeping entries left empty.
// Entries with no connections cannot be matched this way (there is nothing
// to infer an unresolved address from) and are left alone; they stay in the
// map until Close.
func (p *Pool) evictIdleWhere(ctx context.Context, shouldEvict func(address.Address) bool, metricReason string) {
	p.mu.Lock()
	var toClose []db.Connection
	for key, e := range p.entries {
		addr, ok := unresolvedAddressOf(e)
		if !ok || !shouldEvict(addr) {
			continue
		}
		kept := e.conns[:0:0]
		for _, pc := range e.conns {
			if !pc.conn.IsInUse() {
				toClose = append(toClose, pc.conn)
			} else {
				kept = append(kept, pc)
			}
		}
		e.conns = kept
		if len(e.conns) == 0 && e.reservations == 0 {
			delete(p.entries, key)
		}
	}
	p.mu.Unlock()

	for _, c := range toClose {
		c.Close(ctx)
	}
	p.m.ConnectionsClosed.WithLabelValues(metricReason).Add(float64(len(toClose)))
	p.cond.Broadcast()
}

// unresolvedAddressOf infers an entry's unresolved origin from any one of
// its connections, since the pool itself is keyed by resolved address.
func unresolvedAddressOf(e *entry) (address.Address, bool) {
	for _, pc := range e.conns {
		if ra, ok := pc.conn.(interface{ Unresolved() address.Address }); ok {
			return ra.Unresolved(), true
		}
	}
	return address.Address{}, false
}

// InUseCount is the cheap counter the router's load balancer uses to pick
// the least-loaded address.
func (p *Pool) InUseCount(addr address.ResolvedAddress) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[addr.Key()]
	if !ok {
		return 0
	}
	n := 0
	for _, pc := range e.conns {
		if pc.conn.IsInUse() {
			n++
		}
	}
	return n
}

// Close drains every entry, closing every connection. Idempotent.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var all []db.Connection
	for _, e := range p.entries {
		for _, pc := range e.conns {
			all = append(all, pc.conn)
		}
	}
	p.entries = make(map[string]*entry)
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, c := range all {
		c.Close(ctx)
	}
}

func (p *Pool) gauge(key string) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		p.mu.Unlock()
		p.m.InUseConnections.WithLabelValues(key).Set(0)
		p.m.IdleConnections.WithLabelValues(key).Set(0)
		return
	}
	inUse, idle := 0, 0
	for _, pc := range e.conns {
		if pc.conn.IsInUse() {
			inUse++
		} else {
			idle++
		}
	}
	p.mu.Unlock()
	p.m.InUseConnections.WithLabelValues(key).Set(float64(inUse))
	p.m.IdleConnections.WithLabelValues(key).Set(float64(idle))
}
