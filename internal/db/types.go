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

// Package db names the collaborator contracts the pool, router and session
// depend on but do not implement: a live connection to one server, and the
// routing table shape that connection's ROUTE response fills in. Wire
// encoding, the Bolt handshake and TLS are all behind Connection — this
// package only describes the surface the core needs.
package db

import (
	"context"
	"time"

	"github.com/boltgraph/graphdb-go-driver/internal/address"
	"github.com/boltgraph/graphdb-go-driver/internal/deadline"
)

// AccessMode selects whether a session routes to readers or writers.
type AccessMode int

const (
	ReadMode AccessMode = iota
	WriteMode
)

func (m AccessMode) String() string {
	if m == ReadMode {
		return "READ"
	}
	return "WRITE"
}

// DefaultDatabase is the sentinel database name meaning "let the server pick
// the user's home database".
const DefaultDatabase = ""

// Command is a single parameterised statement to run.
type Command struct {
	Text      string
	Params    map[string]any
	FetchSize int
}

// TxConfig carries the metadata threaded through BEGIN/RUN for both
// auto-commit and explicit transactions.
type TxConfig struct {
	Mode             AccessMode
	Bookmarks        []string
	Timeout          time.Duration
	Metadata         map[string]any
	ImpersonatedUser string
	DatabaseName     string
}

// TxHandle opaquely identifies a server-side transaction started by
// Connection.TxBegin; its only use is being handed back to TxCommit/TxRollback.
type TxHandle any

// StreamHandle opaquely identifies a result stream started by Connection.Run.
type StreamHandle any

// ServerInfo is what a connection can report about the peer it is talking to.
type ServerInfo interface {
	Address() string
	Agent() string
	ProtocolVersion() (major, minor int)
}

// RoutingTableGetter is implemented by connections capable of answering a
// ROUTE request (i.e. all of them, in a clustered deployment).
type RoutingTableGetter interface {
	// Route fetches a fresh routing view for database (empty string for the
	// default database) as seen by an optionally impersonated user.
	Route(ctx context.Context, database, impersonatedUser string, bookmarks []string) (*RoutingTable, error)
}

// Connection is one established, handshook link to a single server. It is
// single-user: the pool enforces this via the InUse flag, not via internal
// locking, so every method here runs un-synchronized from the connection's
// own point of view.
type Connection interface {
	RoutingTableGetter

	// Liveness flags, per §3's eligible-for-reuse definition.
	IsClosed() bool
	IsDefunct() bool
	IsStale() bool
	IsInUse() bool
	SetInUse(bool)
	IdleDuration() time.Duration

	// Reset discards any server-side transaction/result state and restores
	// the connection to a clean, reusable condition. Used both as an
	// explicit session-boundary reset and as the pool's liveness probe.
	Reset(ctx context.Context) error

	// Run/TxBegin/TxCommit/TxRollback dispatch RUN+PULL/BEGIN/COMMIT/ROLLBACK.
	Run(ctx context.Context, cmd Command, tx TxConfig) (StreamHandle, error)
	TxBegin(ctx context.Context, tx TxConfig) (TxHandle, error)
	TxCommit(ctx context.Context, tx TxHandle) error
	TxRollback(ctx context.Context, tx TxHandle) error

	// Bookmark returns the bookmark produced by the most recently completed
	// unit of work on this connection, or "" if none.
	Bookmark() string

	ServerInfo() ServerInfo
	// LocalPort reports which local ephemeral port a logical connection is
	// using; purely observational, and not read anywhere in this module.
	LocalPort() int

	// SetDeadline attaches d as the deadline for every subsequent I/O on
	// this connection until changed again, returning the previous value so
	// callers can restore it (nestable scoping, per SPEC_FULL §9).
	SetDeadline(d deadline.Deadline) deadline.Deadline

	Close(ctx context.Context)
}

// Opener is the injected collaborator that establishes a new Connection to
// address within timeout. It is the only place raw sockets, TLS and the
// Bolt handshake would be reached in a complete implementation; this
// package only names the contract.
type Opener interface {
	Open(ctx context.Context, addr *address.ResolvedAddress, timeout time.Duration) (Connection, error)
}
