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

package graphdb

import (
	"context"
	"sync"
	"time"

	"github.com/boltgraph/graphdb-go-driver/internal/address"
	"github.com/boltgraph/graphdb-go-driver/internal/db"
	"github.com/boltgraph/graphdb-go-driver/internal/deadline"
)

// fakeServerInfo is the minimal db.ServerInfo a fakeConn reports.
type fakeServerInfo struct{ addr string }

func (f fakeServerInfo) Address() string                      { return f.addr }
func (f fakeServerInfo) Agent() string                         { return "fake/1.0" }
func (f fakeServerInfo) ProtocolVersion() (major, minor int)   { return 5, 4 }

// fakeConn is a hand-rolled db.Connection whose TxBegin/TxCommit/Run/Route
// behaviour a test can script, and whose call counts a test can assert on.
type fakeConn struct {
	mu         sync.Mutex
	unresolved address.Address
	inUse      bool
	closed     bool

	routeTable *db.RoutingTable
	routeErr   error

	txBeginFailTimes int
	txBeginErr       error
	txCommitErr      error
	txRollbackErr    error
	runErr           error
	bookmark         string

	txBeginCalls   int
	commitCalls    int
	rollbackCalls  int
	runCalls       int
}

func (c *fakeConn) Route(context.Context, string, string, []string) (*db.RoutingTable, error) {
	return c.routeTable, c.routeErr
}
func (c *fakeConn) IsClosed() bool  { c.mu.Lock(); defer c.mu.Unlock(); return c.closed }
func (c *fakeConn) IsDefunct() bool { return false }
func (c *fakeConn) IsStale() bool   { return false }
func (c *fakeConn) IsInUse() bool   { c.mu.Lock(); defer c.mu.Unlock(); return c.inUse }
func (c *fakeConn) SetInUse(v bool) { c.mu.Lock(); defer c.mu.Unlock(); c.inUse = v }
func (c *fakeConn) IdleDuration() time.Duration { return 0 }
func (c *fakeConn) Reset(context.Context) error { return nil }

func (c *fakeConn) Run(context.Context, db.Command, db.TxConfig) (db.StreamHandle, error) {
	c.mu.Lock()
	c.runCalls++
	c.mu.Unlock()
	if c.runErr != nil {
		return nil, c.runErr
	}
	return "stream-handle", nil
}

func (c *fakeConn) TxBegin(context.Context, db.TxConfig) (db.TxHandle, error) {
	c.mu.Lock()
	c.txBeginCalls++
	calls := c.txBeginCalls
	c.mu.Unlock()
	if calls <= c.txBeginFailTimes {
		return nil, c.txBeginErr
	}
	return "tx-handle", nil
}

func (c *fakeConn) TxCommit(context.Context, db.TxHandle) error {
	c.mu.Lock()
	c.commitCalls++
	c.mu.Unlock()
	return c.txCommitErr
}

func (c *fakeConn) TxRollback(context.Context, db.TxHandle) error {
	c.mu.Lock()
	c.rollbackCalls++
	c.mu.Unlock()
	return c.txRollbackErr
}

func (c *fakeConn) Bookmark() string        { return c.bookmark }
func (c *fakeConn) ServerInfo() db.ServerInfo { return fakeServerInfo{addr: c.unresolved.String()} }
func (c *fakeConn) LocalPort() int           { return 0 }
func (c *fakeConn) SetDeadline(d deadline.Deadline) deadline.Deadline { return deadline.None }
func (c *fakeConn) Close(context.Context)    { c.mu.Lock(); defer c.mu.Unlock(); c.closed = true }

// fakeOpener hands out fakeConn instances pre-wired with a routing table
// that names addr itself as the sole router, reader and writer — enough for
// a session to resolve a database and run work without a separate discovery
// endpoint.
type fakeOpener struct {
	mu      sync.Mutex
	conns   map[string]*fakeConn
	openErr error
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{conns: map[string]*fakeConn{}}
}

func (o *fakeOpener) Open(_ context.Context, addr *address.ResolvedAddress, _ time.Duration) (db.Connection, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return nil, o.openErr
	}
	c := &fakeConn{
		unresolved: addr.Unresolved,
		routeTable: &db.RoutingTable{
			Routers: []address.Address{addr.Unresolved},
			Readers: []address.Address{addr.Unresolved},
			Writers: []address.Address{addr.Unresolved},
			TTL:     time.Minute,
		},
	}
	o.conns[addr.Unresolved.Host] = c
	return c, nil
}
