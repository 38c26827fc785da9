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

	"github.com/boltgraph/graphdb-go-driver/internal/db"
)

// ManagedTransaction is the surface exposed inside an ExecuteRead/
// ExecuteWrite callback: it cannot be committed or rolled back directly,
// since the retry loop (C8) owns that decision based on whether the
// callback returned an error.
type ManagedTransaction interface {
	Run(ctx context.Context, query string, params map[string]any) (Result, error)
}

// ExplicitTransaction is returned by Session.BeginTransaction. Exactly one
// of Commit or Rollback must be called before the session can be used again.
type ExplicitTransaction interface {
	ManagedTransaction
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

// managedTransaction is the callback-scoped wrapper: it never touches
// TxCommit/TxRollback itself, matching the teacher's managedTransaction.
type managedTransaction struct {
	conn      db.Connection
	fetchSize int
	txHandle  db.TxHandle
}

func (t *managedTransaction) Run(ctx context.Context, query string, params map[string]any) (Result, error) {
	handle, err := t.conn.Run(ctx, db.Command{Text: query, Params: params, FetchSize: t.fetchSize}, db.TxConfig{})
	if err != nil {
		return nil, wrapError(err)
	}
	return newResult(ctx, handle), nil
}

// explicitTransaction is returned from BeginTransaction. onClosed runs
// exactly once, on whichever of Commit/Rollback/Close happens first, and is
// how the owning session learns to retrieve bookmarks, return the
// connection, and clear its own pending-transaction pointer.
type explicitTransaction struct {
	conn      db.Connection
	fetchSize int
	txHandle  db.TxHandle
	done      bool
	onClosed  func()
}

func (t *explicitTransaction) Run(ctx context.Context, query string, params map[string]any) (Result, error) {
	if t.done {
		return nil, &UsageError{Message: "transaction already committed, rolled back, or closed"}
	}
	handle, err := t.conn.Run(ctx, db.Command{Text: query, Params: params, FetchSize: t.fetchSize}, db.TxConfig{})
	if err != nil {
		return nil, wrapError(err)
	}
	return newResult(ctx, handle), nil
}

func (t *explicitTransaction) Commit(ctx context.Context) error {
	if t.done {
		return &UsageError{Message: "transaction already committed, rolled back, or closed"}
	}
	t.done = true
	defer t.onClosed()
	return wrapError(t.conn.TxCommit(ctx, t.txHandle))
}

func (t *explicitTransaction) Rollback(ctx context.Context) error {
	if t.done {
		return &UsageError{Message: "transaction already committed, rolled back, or closed"}
	}
	t.done = true
	defer t.onClosed()
	return wrapError(t.conn.TxRollback(ctx, t.txHandle))
}

// Close rolls back if neither Commit nor Rollback has run yet, mirroring
// the teacher's "resource not explicitly finished" cleanup-on-Close
// contract. Calling Close after Commit/Rollback is a no-op.
func (t *explicitTransaction) Close(ctx context.Context) error {
	if t.done {
		return nil
	}
	return t.Rollback(ctx)
}

// autocommitTransaction tracks the single connection an auto-commit Run
// call is using, so Session knows to finish it before starting the next
// piece of work.
type autocommitTransaction struct {
	conn     db.Connection
	res      Result
	onClosed func()
}

func (t *autocommitTransaction) done(ctx context.Context) {
	t.onClosed()
}

func (t *autocommitTransaction) discard(ctx context.Context) {
	t.onClosed()
}
